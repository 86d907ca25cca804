package pubsub

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryPubSub_PublishSubscribe(t *testing.T) {
	ps := NewMemoryPubSub()
	defer ps.Close()

	topic := Topics.User("cavity")
	received := make(chan *Message, 1)

	sub, err := ps.Subscribe(context.Background(), topic, func(ctx context.Context, msg *Message) {
		received <- msg
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	payload, _ := json.Marshal(map[string]string{"body": "hi"})
	msg := &Message{
		Topic:   topic,
		Type:    "message.new",
		Payload: payload,
	}

	if err := ps.Publish(context.Background(), topic, msg); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case got := <-received:
		if got.Type != msg.Type {
			t.Errorf("got type %q, want %q", got.Type, msg.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestMemoryPubSub_MultipleSubscribers(t *testing.T) {
	ps := NewMemoryPubSub()
	defer ps.Close()

	topic := Topics.Feed()
	var count atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 3; i++ {
		wg.Add(1)
		sub, err := ps.Subscribe(context.Background(), topic, func(ctx context.Context, msg *Message) {
			count.Add(1)
			wg.Done()
		})
		if err != nil {
			t.Fatalf("Subscribe %d failed: %v", i, err)
		}
		defer sub.Unsubscribe()
	}

	ps.Publish(context.Background(), topic, &Message{Topic: topic, Type: "feed.new"})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if count.Load() != 3 {
			t.Errorf("got %d deliveries, want 3", count.Load())
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout: only got %d deliveries", count.Load())
	}
}

func TestMemoryPubSub_Unsubscribe(t *testing.T) {
	ps := NewMemoryPubSub()
	defer ps.Close()

	topic := "unsub-test"
	received := make(chan struct{}, 10)

	sub, _ := ps.Subscribe(context.Background(), topic, func(ctx context.Context, msg *Message) {
		received <- struct{}{}
	})

	ps.Publish(context.Background(), topic, &Message{Topic: topic, Type: "test"})
	select {
	case <-received:
		// ok
	case <-time.After(time.Second):
		t.Fatal("first message not received")
	}

	sub.Unsubscribe()

	// Give goroutines time to complete
	time.Sleep(50 * time.Millisecond)

	ps.Publish(context.Background(), topic, &Message{Topic: topic, Type: "test"})

	select {
	case <-received:
		t.Error("received message after unsubscribe")
	case <-time.After(100 * time.Millisecond):
		// ok - no message received
	}
}

func TestMemoryPubSub_Close(t *testing.T) {
	ps := NewMemoryPubSub()

	topic := "close-test"
	ps.Subscribe(context.Background(), topic, func(ctx context.Context, msg *Message) {})

	if ps.TopicCount() != 1 {
		t.Errorf("expected 1 topic, got %d", ps.TopicCount())
	}

	ps.Close()

	if ps.TopicCount() != 0 {
		t.Errorf("expected 0 topics after close, got %d", ps.TopicCount())
	}

	if err := ps.Publish(context.Background(), topic, &Message{}); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	if _, err := ps.Subscribe(context.Background(), topic, func(ctx context.Context, msg *Message) {}); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestMemoryPubSub_NoSubscribers(t *testing.T) {
	ps := NewMemoryPubSub()
	defer ps.Close()

	// Publishing with the partner offline is a normal outcome
	if err := ps.Publish(context.Background(), Topics.User("cingam"), &Message{Type: "letter.new"}); err != nil {
		t.Errorf("publish to empty topic failed: %v", err)
	}
}

func TestTopicBuilder(t *testing.T) {
	tests := []struct {
		name   string
		method func() string
		want   string
	}{
		{"User", func() string { return Topics.User("cavity") }, "user:cavity"},
		{"Feed", Topics.Feed, "feed"},
		{"Presence", Topics.Presence, "presence"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.method(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
