package eventbus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	t.Parallel()

	bus := New()
	ch := bus.Subscribe("catalog.book_upserted")

	bus.Publish("catalog.book_upserted", "book-1")

	select {
	case evt := <-ch:
		if evt.Topic != "catalog.book_upserted" {
			t.Errorf("unexpected topic %q", evt.Topic)
		}
		if evt.Payload != "book-1" {
			t.Errorf("unexpected payload %v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublish_NoSubscribersIsNoop(t *testing.T) {
	t.Parallel()

	bus := New()
	// Must not panic or block.
	bus.Publish("nobody.listening", 42)
}

func TestPublish_MultipleSubscribersAllReceive(t *testing.T) {
	t.Parallel()

	bus := New()
	a := bus.Subscribe("t")
	b := bus.Subscribe("t")

	bus.Publish("t", "x")

	for i, ch := range []<-chan Event{a, b} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d did not receive event", i)
		}
	}
}

func TestPublish_DropsWhenBufferFull(t *testing.T) {
	t.Parallel()

	bus := NewWithBuffer(1)
	ch := bus.Subscribe("t")

	bus.Publish("t", 1)
	bus.Publish("t", 2) // dropped — subscriber has not consumed yet

	first := <-ch
	if first.Payload != 1 {
		t.Errorf("expected first event, got %v", first.Payload)
	}

	select {
	case evt := <-ch:
		t.Errorf("expected second event dropped, got %v", evt.Payload)
	default:
	}
}
