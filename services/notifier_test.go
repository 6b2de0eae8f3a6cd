package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap/zaptest"

	"rentgidi-chat/services"
)

type sinkFunc func(ctx context.Context, n services.Notification) error

func (f sinkFunc) Notify(ctx context.Context, n services.Notification) error { return f(ctx, n) }

func TestDispatcherDeliversAndSurvivesFailures(t *testing.T) {
	var mu sync.Mutex
	var delivered []string
	sink := sinkFunc(func(_ context.Context, n services.Notification) error {
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, n.MessageID)
		if n.MessageID == "boom" {
			return errors.New("push provider down")
		}
		if n.MessageID == "panic" {
			panic("bad sink")
		}
		return nil
	})

	d := services.NewDispatcher(sink, 2, 16, zaptest.NewLogger(t))
	for _, id := range []string{"m1", "boom", "panic", "m2"} {
		if !d.Dispatch(services.Notification{MessageID: id, RecipientID: "l1"}) {
			t.Fatalf("dispatch %s rejected", id)
		}
	}
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 4 {
		t.Fatalf("expected 4 delivery attempts, got %v", delivered)
	}
	if d.Dispatch(services.Notification{MessageID: "late"}) {
		t.Fatalf("expected dispatch after close to be rejected")
	}
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	sink := sinkFunc(func(context.Context, services.Notification) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})

	d := services.NewDispatcher(sink, 1, 1, zaptest.NewLogger(t))
	d.Dispatch(services.Notification{MessageID: "busy"})
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker never started")
	}
	if !d.Dispatch(services.Notification{MessageID: "queued"}) {
		t.Fatalf("expected second notification to be queued")
	}

	done := make(chan bool, 1)
	go func() { done <- d.Dispatch(services.Notification{MessageID: "dropped"}) }()
	select {
	case accepted := <-done:
		if accepted {
			t.Fatalf("expected notification to be dropped when queue is full")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Dispatch blocked on a full queue")
	}

	close(release)
	d.Close()
}

func TestRedisNotifierPushesJSON(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	n := services.NewRedisNotifier(client, "notifications:messages")
	err := n.Notify(context.Background(), services.Notification{RecipientID: "l1", MessageID: "m1", Preview: "Is this still available?"})
	if err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	items, err := mr.List("notifications:messages")
	if err != nil {
		t.Fatalf("failed to read list: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 queued notification, got %d", len(items))
	}
	var got services.Notification
	if err := json.Unmarshal([]byte(items[0]), &got); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if got.RecipientID != "l1" || got.MessageID != "m1" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}
