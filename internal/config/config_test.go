package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfig(t *testing.T) {
	t.Parallel()

	t.Run("Load_and_accessors", func(t *testing.T) {
		t.Parallel()
		path := writeTempConfig(t, "lo0", "10.0.0.1")

		cfg, err := Load(path)
		require.NoError(t, err)
		ic, ok := cfg.InterfaceByDevice("lo0")
		require.True(t, ok)
		require.Equal(t, "10.0.0.1", ic.Unicast)
		require.Equal(t, 4096, cfg.BufferSize())

		require.Eventually(t, func() bool {
			select {
			case <-cfg.Changed():
				return true
			default:
				return false
			}
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("SetInterfaces_writes_to_disk_and_notifies_once", func(t *testing.T) {
		t.Parallel()
		path := writeTempConfig(t, "lo0", "10.0.0.1")
		cfg, err := Load(path)
		require.NoError(t, err)

		err = cfg.SetInterfaces([]InterfaceConfig{{Device: "lo0", Unicast: "10.0.0.2", Netmask: "255.0.0.0"}})
		require.NoError(t, err)

		onDisk := readConfigFile(t, path)
		require.Len(t, onDisk.Interfaces, 1)
		require.Equal(t, "10.0.0.2", onDisk.Interfaces[0].Unicast)

		require.Eventually(t, func() bool {
			select {
			case <-cfg.Changed():
				return true
			default:
				return false
			}
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("Coalesced_notifications_buffer_1", func(t *testing.T) {
		t.Parallel()
		path := writeTempConfig(t, "lo0", "10.0.0.1")
		cfg, err := Load(path)
		require.NoError(t, err)

		require.NoError(t, cfg.SetInterfaces([]InterfaceConfig{{Device: "lo0", Unicast: "10.0.0.2"}}))
		require.NoError(t, cfg.SetInterfaces([]InterfaceConfig{{Device: "lo0", Unicast: "10.0.0.3"}}))

		require.Eventually(t, func() bool {
			select {
			case <-cfg.Changed():
				return true
			default:
				return false
			}
		}, 2*time.Second, 10*time.Millisecond)
		select {
		case <-cfg.Changed():
			t.Fatalf("expected only one coalesced signal")
		default:
		}
	})

	t.Run("Load_missing_file_returns_error", func(t *testing.T) {
		t.Parallel()
		_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
		require.Error(t, err)
	})

	t.Run("Load_malformed_json_returns_error", func(t *testing.T) {
		t.Parallel()
		p := filepath.Join(t.TempDir(), "bad.json")
		require.NoError(t, os.WriteFile(p, []byte("{not-json"), 0o644))
		_, err := Load(p)
		require.Error(t, err)
	})

	t.Run("Concurrent_readers_and_writers_accessors_safe", func(t *testing.T) {
		t.Parallel()
		path := writeTempConfig(t, "lo0", "10.0.0.1")
		cfg, err := Load(path)
		require.NoError(t, err)

		stop := make(chan struct{})
		for r := 0; r < 8; r++ {
			go func() {
				for {
					select {
					case <-stop:
						return
					default:
						_, _ = cfg.InterfaceByDevice("lo0")
						_ = cfg.BufferSize()
						time.Sleep(100 * time.Microsecond)
					}
				}
			}()
		}

		writerDone := make(chan error, 1)
		go func() {
			for i := range 100 {
				err := cfg.SetInterfaces([]InterfaceConfig{{Device: "lo0", Unicast: fmt.Sprintf("10.0.0.%d", i%255+1)}})
				if err != nil {
					writerDone <- err
					close(stop)
					return
				}
				time.Sleep(200 * time.Microsecond)
			}
			close(stop)
			writerDone <- nil
		}()

		require.NoError(t, <-writerDone)
	})
}

func writeTempConfig(t *testing.T, device, unicast string) (path string) {
	t.Helper()
	dir := t.TempDir()
	path = filepath.Join(dir, "config.json")
	b, err := json.Marshal(Config{
		Interfaces:    []InterfaceConfig{{Device: device, Unicast: unicast, Netmask: "255.0.0.0"}},
		TCPBufferSize: 4096,
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o644))
	return path
}

func readConfigFile(t *testing.T, path string) Config {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var c Config
	require.NoError(t, json.Unmarshal(b, &c))
	return c
}
