package realtime

import (
	"context"
	"testing"
	"time"
)

func TestDispatcherPublishesToSubscriber(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "doc-1")
	defer cleanup()

	dispatcher.Publish(Message{
		DocumentID:   "doc-1",
		EventType:    EventAnnotationSaved,
		AnnotationID: "ann-1",
		ActorID:      "user-dana",
		Timestamp:    time.Now().UTC(),
	})

	select {
	case received := <-stream:
		if received.EventType != EventAnnotationSaved {
			t.Fatalf("expected event %s, got %s", EventAnnotationSaved, received.EventType)
		}
		if received.AnnotationID != "ann-1" {
			t.Fatalf("unexpected annotation id %q", received.AnnotationID)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected realtime message within deadline")
	}
}

func TestDispatcherIsolatedByDocument(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	docStream, cleanup := dispatcher.Subscribe(ctx, "doc-1")
	defer cleanup()
	otherStream, otherCleanup := dispatcher.Subscribe(ctx, "doc-2")
	defer otherCleanup()

	dispatcher.Publish(Message{
		DocumentID: "doc-2",
		EventType:  EventLockChanged,
		ActorID:    "user-lee",
		Timestamp:  time.Now().UTC(),
	})

	select {
	case <-docStream:
		t.Fatal("did not expect a message for an unrelated document")
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case msg := <-otherStream:
		if msg.DocumentID != "doc-2" {
			t.Fatalf("expected doc-2, received %s", msg.DocumentID)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected a message for the subscribed document")
	}
}

func TestDispatcherUnsubscribeOnContextCancel(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	stream, cleanup := dispatcher.Subscribe(ctx, "doc-1")
	defer cleanup()
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for {
		dispatcher.mu.RLock()
		remaining := len(dispatcher.subscribers["doc-1"])
		dispatcher.mu.RUnlock()
		if remaining == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expected the subscriber to be removed after cancel")
		}
		time.Sleep(time.Millisecond)
	}

	dispatcher.Publish(Message{
		DocumentID: "doc-1",
		EventType:  EventAnnotationDeleted,
		ActorID:    "user-dana",
		Timestamp:  time.Now().UTC(),
	})
	select {
	case _, ok := <-stream:
		if ok {
			t.Fatal("did not expect delivery after unsubscribe")
		}
	case <-time.After(100 * time.Millisecond):
	}
}
