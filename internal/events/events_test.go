package events

import (
	"sync"
	"testing"
	"time"
)

func TestLocalBusDeliversInstallationsChanged(t *testing.T) {
	b := NewLocalBus()
	defer b.Close()

	var mu sync.Mutex
	var got InstallationsChanged
	done := make(chan struct{})

	unsub := b.OnInstallationsChanged(func(evt InstallationsChanged) {
		mu.Lock()
		got = evt
		mu.Unlock()
		close(done)
	})
	defer unsub()

	b.PublishInstallationsChanged(InstallationsChanged{InstallationID: "abc", Reason: "launched"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for handler")
	}

	mu.Lock()
	defer mu.Unlock()
	if got.InstallationID != "abc" || got.Reason != "launched" {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func TestLocalBusUnsubscribeStopsDelivery(t *testing.T) {
	b := NewLocalBus()
	defer b.Close()

	calls := 0
	unsub := b.OnComfyExited(func(ComfyExited) { calls++ })
	unsub()

	b.PublishComfyExited(ComfyExited{InstallationID: "x", Crashed: true})
	time.Sleep(10 * time.Millisecond)

	if calls != 0 {
		t.Fatalf("expected 0 calls after unsubscribe, got %d", calls)
	}
}

func TestLocalBusFanOutToMultipleSubscribers(t *testing.T) {
	b := NewLocalBus()
	defer b.Close()

	var mu sync.Mutex
	count := 0
	for i := 0; i < 3; i++ {
		b.OnInstallationsChanged(func(InstallationsChanged) {
			mu.Lock()
			count++
			mu.Unlock()
		})
	}

	b.PublishInstallationsChanged(InstallationsChanged{Reason: "test"})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 3 {
		t.Fatalf("expected 3 deliveries, got %d", count)
	}
}
