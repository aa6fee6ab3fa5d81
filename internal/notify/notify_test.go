package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chat-platform/internal/events"
	"chat-platform/pkg/logger"
)

func TestQueue_DropsWhenFull(t *testing.T) {
	q := NewQueue(NewMemoryStore(10), 2, logger.Discard())

	for i := 0; i < 2; i++ {
		if !q.Enqueue(Notification{UserID: "u", Type: events.CallInvitation}) {
			t.Fatalf("enqueue %d should fit", i)
		}
	}
	if q.Enqueue(Notification{UserID: "u", Type: events.CallInvitation}) {
		t.Fatalf("expected drop on full queue")
	}
	if q.Dropped() != 1 || q.Len() != 2 {
		t.Fatalf("dropped=%d len=%d", q.Dropped(), q.Len())
	}
}

func TestQueue_RejectsIncomplete(t *testing.T) {
	q := NewQueue(NewMemoryStore(10), 4, logger.Discard())
	if q.Enqueue(Notification{Type: events.CallEnded}) || q.Enqueue(Notification{UserID: "u"}) {
		t.Fatalf("expected incomplete notifications to be refused")
	}
}

func TestQueue_RunStoresAndFlushesOnShutdown(t *testing.T) {
	store := NewMemoryStore(10)
	q := NewQueue(store, 8, logger.Discard())

	q.Enqueue(Notification{UserID: "u", Type: events.CallInvitation, CallID: "c1"})
	q.Enqueue(Notification{UserID: "u", Type: events.CallEnded, CallID: "c1"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	got, _ := store.List(context.Background(), "u", 0)
	if len(got) != 2 {
		t.Fatalf("expected both notifications flushed, got %d", len(got))
	}
	if got[0].Type != events.CallEnded || got[0].ID == "" || got[0].CreatedAt.IsZero() {
		t.Fatalf("expected newest first with id and timestamp, got %+v", got[0])
	}
}

func TestQueue_RefusesAfterStop(t *testing.T) {
	store := NewMemoryStore(10)
	q := NewQueue(store, 8, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = q.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	if q.Enqueue(Notification{UserID: "u", Type: events.CallEnded, CallID: "c1"}) {
		t.Fatalf("stopped queue must refuse notifications")
	}
	if q.Dropped() != 1 || q.Len() != 0 {
		t.Fatalf("expected refusal counted as drop, dropped=%d len=%d", q.Dropped(), q.Len())
	}
	if got, _ := store.List(context.Background(), "u", 0); len(got) != 0 {
		t.Fatalf("nothing should be stored, got %d", len(got))
	}
}

type panicStore struct {
	mu    sync.Mutex
	calls int
}

func (p *panicStore) Save(ctx context.Context, n Notification) error {
	p.mu.Lock()
	p.calls++
	c := p.calls
	p.mu.Unlock()
	if c == 1 {
		panic("boom")
	}
	return errors.New("down")
}

func (p *panicStore) List(context.Context, string, int) ([]Notification, error) { return nil, nil }

func TestQueue_WorkerSurvivesStoreFailures(t *testing.T) {
	store := &panicStore{}
	q := NewQueue(store, 4, logger.Discard())
	q.Enqueue(Notification{UserID: "u", Type: events.CallEnded})
	q.Enqueue(Notification{UserID: "u", Type: events.CallEnded})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = q.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for q.Failed() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if q.Failed() != 2 {
		t.Fatalf("expected 2 failures recorded, got %d", q.Failed())
	}
}

func TestMemoryStore_CapsPerUser(t *testing.T) {
	s := NewMemoryStore(2)
	for _, id := range []string{"1", "2", "3"} {
		_ = s.Save(context.Background(), Notification{ID: id, UserID: "u", Type: events.CallEnded})
	}
	got, _ := s.List(context.Background(), "u", 0)
	if len(got) != 2 || got[0].ID != "3" || got[1].ID != "2" {
		t.Fatalf("unexpected list %+v", got)
	}
}
