// Package realtime fans annotation events out to the other open viewers of
// the same document.
package realtime

import (
	"context"
	"sync"
	"time"
)

const (
	// EventAnnotationSaved announces a created or updated annotation.
	EventAnnotationSaved = "annotation-saved"
	// EventAnnotationDeleted announces a removed annotation.
	EventAnnotationDeleted = "annotation-deleted"
	// EventLockChanged announces lock acquisition or release.
	EventLockChanged = "lock-changed"
)

// Message is one document-scoped event.
type Message struct {
	DocumentID   string    `json:"document_id"`
	EventType    string    `json:"event"`
	AnnotationID string    `json:"annotation_id,omitempty"`
	ActorID      string    `json:"actor_id"`
	Timestamp    time.Time `json:"timestamp"`
}

// Dispatcher delivers messages to every subscriber of a document. Slow
// subscribers drop messages rather than block the publisher.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Message
}

// NewDispatcher constructs an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  16,
	}
}

// Subscribe registers for a document's events until the context is done or
// the returned cleanup runs.
func (d *Dispatcher) Subscribe(ctx context.Context, documentID string) (<-chan Message, func()) {
	if documentID == "" {
		ch := make(chan Message)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan Message, d.bufferSize),
	}
	d.register(documentID, sub)
	cleanup := func() {
		d.unregister(documentID, sub.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish delivers the message to the document's current subscribers.
func (d *Dispatcher) Publish(message Message) {
	if message.DocumentID == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.DocumentID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*subscriber, 0, len(subscribers))
	for _, sub := range subscribers {
		copies = append(copies, sub)
	}
	d.mu.RUnlock()
	for _, sub := range copies {
		select {
		case sub.stream <- message:
		default:
		}
	}
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) register(documentID string, sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[documentID]; !ok {
		d.subscribers[documentID] = make(map[int64]*subscriber)
	}
	d.subscribers[documentID][sub.id] = sub
}

func (d *Dispatcher) unregister(documentID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[documentID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, documentID)
		}
	}
	d.mu.Unlock()
}
