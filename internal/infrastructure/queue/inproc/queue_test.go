package inproc

import (
	"context"
	"testing"
	"time"

	"github.com/kirillkom/docextract/internal/core/domain"
)

func TestAcceptedEventsReachSubscriber(t *testing.T) {
	q := New(4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 2)
	done := make(chan error, 1)
	go func() {
		done <- q.SubscribeSessionAccepted(ctx, func(_ context.Context, id string) error {
			got <- id
			return nil
		})
	}()

	for _, id := range []string{"s-1", "s-2"} {
		if err := q.PublishSessionAccepted(ctx, id); err != nil {
			t.Fatalf("PublishSessionAccepted(%s) error = %v", id, err)
		}
	}
	for _, want := range []string{"s-1", "s-2"} {
		select {
		case id := <-got:
			if id != want {
				t.Fatalf("expected %s, got %s", want, id)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("subscribe returned %v", err)
	}
}

func TestPublishFailsWhenFull(t *testing.T) {
	q := New(1, nil)
	if err := q.PublishSessionAccepted(context.Background(), "s-1"); err != nil {
		t.Fatalf("first publish error = %v", err)
	}
	if err := q.PublishSessionAccepted(context.Background(), "s-2"); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
}

func TestPublishAfterCloseFails(t *testing.T) {
	q := New(1, nil)
	q.Close()
	if err := q.PublishSessionAccepted(context.Background(), "s-1"); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
}

func TestAbortFansOut(t *testing.T) {
	q := New(1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan string, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_ = q.SubscribeSessionAbort(ctx, func(_ context.Context, id string) error {
				got <- id
				return nil
			})
		}()
	}

	deadline := time.Now().Add(time.Second)
	for {
		q.mu.Lock()
		n := len(q.aborts)
		q.mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("subscribers did not register")
		}
		time.Sleep(time.Millisecond)
	}

	if err := q.PublishSessionAbort(ctx, "s-9"); err != nil {
		t.Fatalf("PublishSessionAbort() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		select {
		case id := <-got:
			if id != "s-9" {
				t.Fatalf("unexpected abort id %s", id)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d did not receive abort", i)
		}
	}
}
