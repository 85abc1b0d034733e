package stack

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/netstackd/netstackd/internal/worker"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeDevice struct{ name string }

func (d *fakeDevice) Name() string { return d.name }

func newRunningStack(t *testing.T) (*Stack, context.Context) {
	t.Helper()
	w := worker.New(testLogger(), time.Millisecond)
	s := New(testLogger(), w)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s, ctx
}

func TestStack_RegisterProtocol_RejectsDuplicate(t *testing.T) {
	s := New(testLogger(), worker.New(testLogger(), time.Millisecond))
	require.NoError(t, s.RegisterProtocol(EtherTypeIPv4, func([]byte, Device) {}))
	require.ErrorIs(t, s.RegisterProtocol(EtherTypeIPv4, func([]byte, Device) {}), ErrProtocolRegistered)
}

func TestStack_InputHandler_DispatchesToRegisteredProtocol(t *testing.T) {
	s, _ := newRunningStack(t)

	received := make(chan []byte, 1)
	require.NoError(t, s.RegisterProtocol(EtherTypeARP, func(data []byte, dev Device) {
		received <- data
	}))

	dev := &fakeDevice{name: "eth0"}
	s.InputHandler(EtherTypeARP, []byte{1, 2, 3}, dev)

	select {
	case got := <-received:
		require.Equal(t, []byte{1, 2, 3}, got)
	case <-time.After(time.Second):
		t.Fatal("handler never invoked")
	}
}

func TestStack_InputHandler_DropsUnknownType(t *testing.T) {
	s, _ := newRunningStack(t)

	called := int32(0)
	require.NoError(t, s.RegisterProtocol(EtherTypeIPv4, func([]byte, Device) {
		atomic.AddInt32(&called, 1)
	}))

	s.InputHandler(0x9999, []byte{9}, &fakeDevice{name: "eth0"})

	time.Sleep(20 * time.Millisecond)
	require.Zero(t, atomic.LoadInt32(&called))
}

func TestStack_InputHandler_CopiesPayload(t *testing.T) {
	s, _ := newRunningStack(t)

	received := make(chan []byte, 1)
	require.NoError(t, s.RegisterProtocol(EtherTypeIPv4, func(data []byte, dev Device) {
		received <- data
	}))

	buf := []byte{1, 2, 3}
	s.InputHandler(EtherTypeIPv4, buf, &fakeDevice{name: "eth0"})
	buf[0] = 0xff // mutate the caller's slice after handing it off

	select {
	case got := <-received:
		require.Equal(t, byte(1), got[0], "InputHandler must copy, not alias, the payload")
	case <-time.After(time.Second):
		t.Fatal("handler never invoked")
	}
}

func TestStack_RegisterTimer_FiresPeriodically(t *testing.T) {
	s, _ := newRunningStack(t)

	var fires int32
	s.RegisterTimer(15*time.Millisecond, func() { atomic.AddInt32(&fires, 1) })

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&fires) >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestStack_RaiseEvent_BroadcastsToAllSubscribers(t *testing.T) {
	s, _ := newRunningStack(t)

	const n = 3
	results := make(chan any, n)
	for i := 0; i < n; i++ {
		s.Subscribe(func(arg any) { results <- arg })
	}

	s.RaiseEvent("shutdown-parkers")

	for i := 0; i < n; i++ {
		select {
		case arg := <-results:
			require.Equal(t, "shutdown-parkers", arg)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d never invoked", i)
		}
	}
}

func TestStack_RegisterDevice_Devices(t *testing.T) {
	s := New(testLogger(), worker.New(testLogger(), time.Millisecond))
	s.RegisterDevice(&fakeDevice{name: "eth0"}, 1)
	s.RegisterDevice(&fakeDevice{name: "eth1"}, 2)

	got := s.Devices()
	require.Len(t, got, 2)
	require.Equal(t, "eth0", got[0].Device.Name())
	require.Equal(t, uint(2), got[1].IRQ)
}
