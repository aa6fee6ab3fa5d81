// Package notify records call notifications for every affected user,
// whether or not they were online when the event happened.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"chat-platform/internal/events"
	"chat-platform/pkg/logger"

	"github.com/google/uuid"
)

type Notification struct {
	ID      string      `json:"id"`
	UserID  string      `json:"user_id"`
	Type    events.Type `json:"type"`
	CallID  string      `json:"call_id,omitempty"`
	ActorID string      `json:"actor_id,omitempty"`
	// Delivered is true when the event also reached a live connection.
	Delivered bool      `json:"delivered"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists notifications per user.
type Store interface {
	Save(ctx context.Context, n Notification) error
	List(ctx context.Context, userID string, limit int) ([]Notification, error)
}

var ErrInvalidNotification = errors.New("notify: invalid notification")

// Queue is a bounded buffer in front of a Store, drained by a single worker.
// Enqueue never blocks: when the buffer is full the notification is dropped
// and counted.
type Queue struct {
	ch    chan Notification
	store Store
	log   *slog.Logger
	clock func() time.Time

	saveTimeout time.Duration
	dropped     atomic.Int64
	failed      atomic.Int64

	// stopMu orders Enqueue against the final flush.
	stopMu  sync.RWMutex
	stopped bool
}

func NewQueue(store Store, size int, log *slog.Logger) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{
		ch:          make(chan Notification, size),
		store:       store,
		log:         logger.Component(log, "notify"),
		clock:       time.Now,
		saveTimeout: 5 * time.Second,
	}
}

// Enqueue reports whether n was accepted into the buffer. Once Run has
// returned every notification is refused and counted as dropped.
func (q *Queue) Enqueue(n Notification) bool {
	if n.UserID == "" || n.Type == "" {
		return false
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = q.clock().UTC()
	}

	q.stopMu.RLock()
	defer q.stopMu.RUnlock()
	if q.stopped {
		q.dropped.Add(1)
		q.log.Warn("notification dropped, queue stopped", "user_id", n.UserID, "type", n.Type, "call_id", n.CallID)
		return false
	}
	select {
	case q.ch <- n:
		return true
	default:
		q.dropped.Add(1)
		q.log.Warn("notification dropped, queue full", "user_id", n.UserID, "type", n.Type, "call_id", n.CallID)
		return false
	}
}

// Run drains the queue until ctx is cancelled, then stops accepting and
// flushes whatever is still buffered. Cancel ctx only after every producer
// has finished. It always returns nil so it can sit in an errgroup next to
// the HTTP server without tearing it down.
func (q *Queue) Run(ctx context.Context) error {
	q.log.Info("notify worker started", "capacity", cap(q.ch))
	for {
		select {
		case <-ctx.Done():
			q.stopMu.Lock()
			q.stopped = true
			q.stopMu.Unlock()
			q.flush()
			q.log.Info("notify worker stopped", "dropped", q.dropped.Load(), "failed", q.failed.Load())
			return nil
		case n := <-q.ch:
			q.save(context.Background(), n)
		}
	}
}

func (q *Queue) flush() {
	for {
		select {
		case n := <-q.ch:
			q.save(context.Background(), n)
		default:
			return
		}
	}
}

// save never lets a store panic take down the worker.
func (q *Queue) save(parent context.Context, n Notification) {
	defer func() {
		if p := recover(); p != nil {
			q.failed.Add(1)
			q.log.Error("notification store panicked", "user_id", n.UserID, "panic", fmt.Sprint(p))
		}
	}()

	ctx, cancel := context.WithTimeout(parent, q.saveTimeout)
	defer cancel()
	if err := q.store.Save(ctx, n); err != nil {
		q.failed.Add(1)
		q.log.Error("notification store failed", "user_id", n.UserID, "type", n.Type, "err", err)
	}
}

func (q *Queue) Dropped() int64 { return q.dropped.Load() }

func (q *Queue) Failed() int64 { return q.failed.Load() }

// Len is the number of notifications waiting in the buffer.
func (q *Queue) Len() int { return len(q.ch) }
