package eventbus

import (
	"context"
	"testing"
)

type ping struct{ n int }

func TestPublishFansOutInOrder(t *testing.T) {
	topic := NewTopic[ping]("ping", nil)
	var order []string
	topic.Subscribe(func(_ context.Context, e ping) { order = append(order, "a") })
	topic.Subscribe(func(_ context.Context, e ping) { order = append(order, "b") })

	if got := topic.Publish(context.Background(), ping{n: 1}); got != 2 {
		t.Fatalf("expected 2 deliveries, got %d", got)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("unexpected delivery order %v", order)
	}
}

func TestUnsubscribe(t *testing.T) {
	topic := NewTopic[ping]("ping", nil)
	calls := 0
	unsubscribe := topic.Subscribe(func(context.Context, ping) { calls++ })
	unsubscribe()
	unsubscribe()

	topic.Publish(context.Background(), ping{})
	if calls != 0 {
		t.Fatalf("unsubscribed handler ran %d times", calls)
	}
	if topic.Subscribers() != 0 {
		t.Fatalf("expected no subscribers, got %d", topic.Subscribers())
	}
}

func TestPanickingSubscriberDoesNotStopOthers(t *testing.T) {
	var panicked any
	topic := NewTopic[ping]("ping", func(_ string, r any) { panicked = r })
	got := 0
	topic.Subscribe(func(context.Context, ping) { panic("boom") })
	topic.Subscribe(func(_ context.Context, e ping) { got = e.n })

	if delivered := topic.Publish(context.Background(), ping{n: 7}); delivered != 1 {
		t.Fatalf("expected 1 successful delivery, got %d", delivered)
	}
	if got != 7 {
		t.Fatalf("second subscriber did not receive event")
	}
	if panicked != "boom" {
		t.Fatalf("expected panic hook to see boom, got %v", panicked)
	}
}

func TestNilTopicDrops(t *testing.T) {
	var topic *Topic[ping]
	if topic.Publish(context.Background(), ping{}) != 0 {
		t.Fatal("nil topic should drop events")
	}
}
