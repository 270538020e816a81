// Package events is a small in-process pub/sub ring used to stream pipeline
// activity to the ops server. Slow subscribers drop events rather than block
// the publisher.
package events

import (
	"sync"
	"time"
)

const (
	defaultBufferSize       = 200
	defaultSubscriberBuffer = 50
)

// Event types published by the pipeline.
const (
	TypeJobCompleted     = "job.completed"
	TypeJobFailed        = "job.failed"
	TypeWebhookDelivered = "webhook.delivered"
	TypeWebhookFailed    = "webhook.failed"
)

type Event struct {
	Timestamp time.Time `json:"ts"`
	Level     string    `json:"level"`
	Type      string    `json:"type"`
	Message   string    `json:"msg"`
	JobID     int64     `json:"job_id,omitempty"`
	UserID    int64     `json:"user_id,omitempty"`
	TaskID    int64     `json:"task_id,omitempty"`
	Platform  string    `json:"platform,omitempty"`
	WorkerID  string    `json:"worker_id,omitempty"`
}

type Publisher interface {
	Publish(Event)
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(Event) {}

type Broker struct {
	mu        sync.RWMutex
	subs      map[int]chan Event
	nextID    int
	buffer    []Event
	bufferCap int
}

func NewBroker(bufferSize int) *Broker {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Broker{
		subs:      map[int]chan Event{},
		bufferCap: bufferSize,
	}
}

func (b *Broker) Publish(event Event) {
	if b == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	b.mu.Lock()
	if b.bufferCap > 0 {
		if len(b.buffer) < b.bufferCap {
			b.buffer = append(b.buffer, event)
		} else {
			copy(b.buffer, b.buffer[1:])
			b.buffer[len(b.buffer)-1] = event
		}
	}
	subs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe returns a live channel, a cancel func, and a snapshot of the
// buffered history so a new subscriber catches up before tailing.
func (b *Broker) Subscribe() (<-chan Event, func(), []Event) {
	if b == nil {
		return nil, func() {}, nil
	}
	ch := make(chan Event, defaultSubscriberBuffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	snapshot := append([]Event(nil), b.buffer...)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
	return ch, cancel, snapshot
}
