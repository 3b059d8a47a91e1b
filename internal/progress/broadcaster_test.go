package progress

import (
	"testing"
	"time"
)

func TestPublishComputesPercent(t *testing.T) {
	b := NewBroadcaster(4, nil)
	sub := b.Subscribe("doc-1")
	defer sub.Close()

	b.Publish(Event{DocumentID: "doc-1", PagesDone: 30, TotalPages: 120})

	select {
	case ev := <-sub.C:
		if ev.Percent != 25 {
			t.Errorf("percent = %d, want 25", ev.Percent)
		}
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestPublishOnlyMatchingDocument(t *testing.T) {
	b := NewBroadcaster(4, nil)
	sub1 := b.Subscribe("doc-1")
	defer sub1.Close()
	sub2 := b.Subscribe("doc-2")
	defer sub2.Close()

	b.Publish(Event{DocumentID: "doc-1", PagesDone: 1, TotalPages: 10})

	select {
	case <-sub1.C:
	case <-time.After(time.Second):
		t.Fatal("subscriber for doc-1 got nothing")
	}
	select {
	case ev := <-sub2.C:
		t.Fatalf("subscriber for doc-2 got %+v", ev)
	default:
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	b := NewBroadcaster(2, nil)
	sub := b.Subscribe("doc-1")
	defer sub.Close()

	// Publish more than the buffer holds without draining. Publish must
	// never block, and the newest events must survive.
	for i := 1; i <= 10; i++ {
		b.Publish(Event{DocumentID: "doc-1", PagesDone: i, TotalPages: 10})
	}

	var got []int
	for {
		select {
		case ev := <-sub.C:
			got = append(got, ev.PagesDone)
			continue
		default:
		}
		break
	}

	if len(got) != 2 {
		t.Fatalf("buffered %d events, want 2", len(got))
	}
	if got[len(got)-1] != 10 {
		t.Errorf("newest buffered event = %d, want 10", got[len(got)-1])
	}
}

func TestSubscriptionClose(t *testing.T) {
	b := NewBroadcaster(4, nil)
	sub := b.Subscribe("doc-1")

	if n := b.SubscriberCount("doc-1"); n != 1 {
		t.Fatalf("subscriber count = %d, want 1", n)
	}
	sub.Close()
	sub.Close() // double close is safe
	if n := b.SubscriberCount("doc-1"); n != 0 {
		t.Fatalf("subscriber count after close = %d, want 0", n)
	}

	// Publishing after close must not panic.
	b.Publish(Event{DocumentID: "doc-1", PagesDone: 1, TotalPages: 10})

	if _, open := <-sub.C; open {
		t.Error("channel still open after close")
	}
}

func TestPublishWithNoSubscribers(t *testing.T) {
	b := NewBroadcaster(4, nil)
	// Must be a no-op, not a panic or a block.
	b.Publish(Event{DocumentID: "doc-9", PagesDone: 1, TotalPages: 2})
}
