// Package config holds the JSON-on-disk configuration for a netstackd
// instance: which interfaces to address and how, reloadable without a
// restart via atomic temp-file-then-rename writes and a buffered
// change-notification channel.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// InterfaceConfig addresses one already-constructed link device (selected
// by cmd/netstackd's device flags, e.g. -loopback or -tap) with an IPv4
// unicast/netmask/broadcast triple.
type InterfaceConfig struct {
	Device    string `json:"device"`
	Unicast   string `json:"unicast"`
	Netmask   string `json:"netmask"`
	Broadcast string `json:"broadcast"`
}

// Config is the mutable, hot-reloadable stack configuration.
type Config struct {
	Interfaces    []InterfaceConfig `json:"interfaces"`
	TCPBufferSize int               `json:"tcp_buffer_size"`
	ARPCacheTTLMS int               `json:"arp_cache_ttl_ms"`

	path      string
	mu        sync.RWMutex
	changedCh chan struct{}
}

// New returns an empty Config that will persist to path on every update.
func New(path string) *Config {
	return &Config{
		path:      path,
		changedCh: make(chan struct{}, 1),
	}
}

// Load reads and decodes path into a new Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := New(path)
	if err := cfg.UpdateFromJSON(data); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	return cfg, nil
}

// UpdateFromJSON replaces the configuration from raw JSON, persists it,
// and notifies any watcher.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := json.Unmarshal(data, &c); err != nil {
		return fmt.Errorf("config: unmarshalling: %w", err)
	}
	if err := c.saveLocked(); err != nil {
		return err
	}
	c.notifyChanged()
	return nil
}

// SetInterfaces replaces the interface list, persists it, and notifies any
// watcher, whether or not the new list differs from the old one.
func (c *Config) SetInterfaces(ifaces []InterfaceConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Interfaces = ifaces
	if err := c.saveLocked(); err != nil {
		return err
	}
	c.notifyChanged()
	return nil
}

func (c *Config) notifyChanged() {
	select {
	case c.changedCh <- struct{}{}:
	default:
	}
}

// Changed returns a channel that receives a value whenever the
// configuration is updated, coalesced to one pending notification.
func (c *Config) Changed() <-chan struct{} {
	return c.changedCh
}

// InterfaceByDevice returns the addressing plan for the named device, if
// one is configured.
func (c *Config) InterfaceByDevice(name string) (InterfaceConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, ic := range c.Interfaces {
		if ic.Device == name {
			return ic, true
		}
	}
	return InterfaceConfig{}, false
}

// BufferSize returns the configured TCP per-PCB receive buffer size, or 0
// if unset (the caller should fall back to its own default).
func (c *Config) BufferSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.TCPBufferSize
}

// saveLocked assumes c.mu is held for writing.
func (c *Config) saveLocked() error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshalling: %w", err)
	}
	if c.path == "" {
		return nil
	}

	dir := filepath.Dir(c.path)
	tmp, err := os.CreateTemp(dir, ".netstackd-cfg-*.tmp")
	if err != nil {
		return fmt.Errorf("config: create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("config: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("config: close: %w", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("config: rename: %w", err)
	}
	return nil
}
