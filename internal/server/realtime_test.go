package server

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestStreamDispatcherPublishesToSubscriber(t *testing.T) {
	dispatcher := NewStreamDispatcher(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	topic := streamTopic("user-1", "req-1")
	stream, cleanup := dispatcher.Subscribe(ctx, topic)
	defer cleanup()

	dispatcher.Publish(StreamMessage{
		Topic:     topic,
		EventType: StreamEventTimelineChanged,
		RequestID: "req-1",
		Reason:    "refresh",
		EventIDs:  []string{"e1", "e2"},
		Timestamp: time.Now().UTC(),
	})

	select {
	case received := <-stream:
		if received.EventType != StreamEventTimelineChanged {
			t.Fatalf("expected event type %s, got %s", StreamEventTimelineChanged, received.EventType)
		}
		if len(received.EventIDs) != 2 {
			t.Fatalf("expected 2 event ids, got %d", len(received.EventIDs))
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected stream message within deadline")
	}
}

func TestStreamDispatcherIsolatesTopics(t *testing.T) {
	dispatcher := NewStreamDispatcher(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	own, cleanup := dispatcher.Subscribe(ctx, streamTopic("user-1", "req-1"))
	defer cleanup()
	other, otherCleanup := dispatcher.Subscribe(ctx, streamTopic("user-2", "req-1"))
	defer otherCleanup()

	dispatcher.Publish(StreamMessage{Topic: streamTopic("user-2", "req-1"), EventType: StreamEventTimelineChanged})

	select {
	case <-own:
		t.Fatal("expected no message for another user's topic")
	case <-time.After(100 * time.Millisecond):
	}
	select {
	case <-other:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected message on the published topic")
	}
}

func TestStreamDispatcherReportsClientCount(t *testing.T) {
	var last atomic.Int64
	dispatcher := NewStreamDispatcher(func(count int) { last.Store(int64(count)) })
	ctx, cancel := context.WithCancel(context.Background())

	_, cleanupFirst := dispatcher.Subscribe(ctx, "topic")
	_, _ = dispatcher.Subscribe(ctx, "topic")
	if last.Load() != 2 || dispatcher.Clients() != 2 {
		t.Fatalf("expected 2 clients, got %d", last.Load())
	}

	cleanupFirst()
	cleanupFirst()
	if dispatcher.Clients() != 1 {
		t.Fatalf("expected double cleanup to count once, got %d clients", dispatcher.Clients())
	}

	cancel()
	deadline := time.Now().Add(time.Second)
	for last.Load() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected context cancellation to drop the subscriber")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if dispatcher.Clients() != 0 {
		t.Fatalf("expected no clients, got %d", dispatcher.Clients())
	}
}

func TestStreamDispatcherIgnoresEmptyTopic(t *testing.T) {
	dispatcher := NewStreamDispatcher(nil)
	stream, cleanup := dispatcher.Subscribe(context.Background(), "")
	defer cleanup()
	if _, ok := <-stream; ok {
		t.Fatalf("expected closed stream for empty topic")
	}
}
