package console

import (
	"testing"
)

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker(nil)
	all := b.Subscribe("")
	onlyErrors := b.Subscribe("error")
	defer b.Unsubscribe(all)
	defer b.Unsubscribe(onlyErrors)

	b.Publish(LogEntry{Level: "log", Message: "hello"})
	b.Publish(LogEntry{Level: "error", Message: "boom"})

	if got := len(all.Ch); got != 2 {
		t.Fatalf("unfiltered subscriber expected 2 entries, got %d", got)
	}
	if got := len(onlyErrors.Ch); got != 1 {
		t.Fatalf("level-filtered subscriber expected 1 entry, got %d", got)
	}
	if e := <-onlyErrors.Ch; e.Message != "boom" {
		t.Fatalf("wrong entry delivered: %+v", e)
	}
}

func TestBrokerNeverBlocksOnSlowSubscriber(t *testing.T) {
	b := NewBroker(nil)
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	// Publish past the channel depth; the overflow is dropped, not blocked on.
	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish(LogEntry{Level: "log"})
	}

	if got := len(sub.Ch); got != subscriberBuffer {
		t.Fatalf("expected a full channel of %d entries, got %d", subscriberBuffer, got)
	}
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker(nil)
	sub := b.Subscribe("")

	b.Unsubscribe(sub)
	if _, open := <-sub.Ch; open {
		t.Fatal("expected channel closed after unsubscribe")
	}

	// Idempotent, and publishes after unsubscribe are safe.
	b.Unsubscribe(sub)
	b.Publish(LogEntry{Level: "log"})
	if b.SubscriberCount() != 0 {
		t.Fatalf("expected no subscribers, got %d", b.SubscriberCount())
	}
}
