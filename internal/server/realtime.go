package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	StreamEventTimelineChanged = "timeline-change"
	streamEventHeartbeat       = "heartbeat"
	streamSource               = "requests-timeline"
	streamBufferSize           = 16
)

// StreamMessage is one change fanned out to the streams of a topic.
type StreamMessage struct {
	Topic     string
	EventType string
	RequestID string
	ParentID  string
	Reason    string
	EventIDs  []string
	Timestamp time.Time
}

// StreamDispatcher fans timeline changes out to the SSE clients watching a
// request. Slow subscribers drop messages instead of blocking the publisher.
type StreamDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]*streamSubscriber
	clients     int
	onClients   func(int)
}

type streamSubscriber struct {
	id     string
	stream chan StreamMessage
}

// NewStreamDispatcher builds a dispatcher. onClients, when set, receives the
// number of connected subscribers after every change.
func NewStreamDispatcher(onClients func(int)) *StreamDispatcher {
	return &StreamDispatcher{
		subscribers: make(map[string]map[string]*streamSubscriber),
		onClients:   onClients,
	}
}

// streamTopic scopes streams to one user viewing one request.
func streamTopic(userID, requestID string) string {
	return userID + "|" + requestID
}

// Subscribe registers a stream for topic until ctx ends or cleanup is called.
func (d *StreamDispatcher) Subscribe(ctx context.Context, topic string) (<-chan StreamMessage, func()) {
	if topic == "" {
		ch := make(chan StreamMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &streamSubscriber{
		id:     uuid.NewString(),
		stream: make(chan StreamMessage, streamBufferSize),
	}
	d.register(topic, subscriber)

	var once sync.Once
	cleanup := func() {
		once.Do(func() { d.unregister(topic, subscriber.id) })
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers message to every subscriber of its topic.
func (d *StreamDispatcher) Publish(message StreamMessage) {
	if message.Topic == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.Topic]
	copies := make([]*streamSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()

	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// Clients returns the number of connected subscribers.
func (d *StreamDispatcher) Clients() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.clients
}

func (d *StreamDispatcher) register(topic string, subscriber *streamSubscriber) {
	d.mu.Lock()
	if _, ok := d.subscribers[topic]; !ok {
		d.subscribers[topic] = make(map[string]*streamSubscriber)
	}
	d.subscribers[topic][subscriber.id] = subscriber
	d.clients++
	count := d.clients
	d.mu.Unlock()
	d.report(count)
}

func (d *StreamDispatcher) unregister(topic, subscriberID string) {
	d.mu.Lock()
	subscribers := d.subscribers[topic]
	if _, ok := subscribers[subscriberID]; !ok {
		d.mu.Unlock()
		return
	}
	delete(subscribers, subscriberID)
	if len(subscribers) == 0 {
		delete(d.subscribers, topic)
	}
	d.clients--
	count := d.clients
	d.mu.Unlock()
	d.report(count)
}

func (d *StreamDispatcher) report(count int) {
	if d.onClients != nil {
		d.onClients(count)
	}
}
