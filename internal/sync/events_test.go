package sync

import (
	"testing"
	"time"
)

func TestBroadcasterFanOut(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()

	ch1, cancel1 := b.Subscribe()
	defer cancel1()

	ch2, cancel2 := b.Subscribe()
	defer cancel2()

	b.Publish(Event{RunID: "r1", UserID: "u1", CompletedAt: time.Now()})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.RunID != "r1" {
				t.Errorf("subscriber %d got run %s", i, ev.RunID)
			}
		default:
			t.Errorf("subscriber %d received nothing", i)
		}
	}
}

func TestBroadcasterNeverBlocksOnSlowSubscriber(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()

	_, cancel := b.Subscribe()
	defer cancel()

	// Far more events than the subscriber buffer holds; Publish must not
	// stall even though nothing drains the channel.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(Event{RunID: "r"})
		}

		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestBroadcasterCancelIsIdempotent(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster()

	ch, cancel := b.Subscribe()
	cancel()
	cancel()

	if _, open := <-ch; open {
		t.Error("channel still open after cancel")
	}

	// Publishing after cancel must not panic on the closed channel.
	b.Publish(Event{RunID: "r"})
}
