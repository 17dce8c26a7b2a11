// Package presence tracks which viewers are connected to each live.
//
// Counts are advisory. Membership changes mark a live dirty and a
// background notifier recomputes and reports the count, so callers on the
// gift path never wait on viewer bookkeeping.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/susu3304/amanteslive/internal/logging"
)

type Member struct {
	LiveID      string    `json:"live_id"`
	UserID      string    `json:"user_id"`
	Connections int       `json:"connections"`
	JoinedAt    time.Time `json:"joined_at"`
	LastSeen    time.Time `json:"last_seen"`
}

// Backend stores membership. A user watching from several connections is
// one member: Add counts a connection and reports whether the user is new,
// Remove drops one and reports whether it was the last. Expire removes
// members last seen before the cutoff, whatever their connection count,
// and returns them.
type Backend interface {
	Add(ctx context.Context, m Member) (bool, error)
	Remove(ctx context.Context, liveID, userID string) (bool, error)
	Touch(ctx context.Context, liveID, userID string, at time.Time) (bool, error)
	Count(ctx context.Context, liveID string) (int, error)
	Members(ctx context.Context, liveID string) ([]Member, error)
	Expire(ctx context.Context, cutoff time.Time) ([]Member, error)
	Clear(ctx context.Context, liveID string) error
}

// ChangeFunc receives the recomputed viewer count of a live.
type ChangeFunc func(ctx context.Context, liveID string, count int)

// LeaveFunc is called when a member leaves or times out.
type LeaveFunc func(liveID, userID string)

type Tracker struct {
	backend Backend
	timeout time.Duration
	log     *logrus.Entry
	now     func() time.Time

	mu       sync.Mutex
	dirty    map[string]struct{}
	onChange []ChangeFunc
	onLeave  []LeaveFunc

	wake chan struct{}
}

func NewTracker(backend Backend, timeout time.Duration) *Tracker {
	return &Tracker{
		backend: backend,
		timeout: timeout,
		log:     logging.Component("presence"),
		now:     time.Now,
		dirty:   make(map[string]struct{}),
		wake:    make(chan struct{}, 1),
	}
}

func (t *Tracker) OnChange(fn ChangeFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = append(t.onChange, fn)
}

func (t *Tracker) OnLeave(fn LeaveFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onLeave = append(t.onLeave, fn)
}

// Join adds one connection of a viewer. Further connections of the same
// viewer only refresh the heartbeat.
func (t *Tracker) Join(ctx context.Context, liveID, userID string) error {
	now := t.now()
	added, err := t.backend.Add(ctx, Member{LiveID: liveID, UserID: userID, JoinedAt: now, LastSeen: now})
	if err != nil {
		return err
	}
	if added {
		t.markDirty(liveID)
	}
	return nil
}

// Leave drops one connection. The viewer leaves when the last one closes.
func (t *Tracker) Leave(ctx context.Context, liveID, userID string) error {
	removed, err := t.backend.Remove(ctx, liveID, userID)
	if err != nil {
		return err
	}
	if removed {
		t.markDirty(liveID)
		t.left(liveID, userID)
	}
	return nil
}

// Heartbeat keeps a viewer alive. A heartbeat for an expired member re-adds it.
func (t *Tracker) Heartbeat(ctx context.Context, liveID, userID string) error {
	ok, err := t.backend.Touch(ctx, liveID, userID, t.now())
	if err != nil {
		return err
	}
	if !ok {
		return t.Join(ctx, liveID, userID)
	}
	return nil
}

func (t *Tracker) Count(ctx context.Context, liveID string) (int, error) {
	return t.backend.Count(ctx, liveID)
}

func (t *Tracker) Members(ctx context.Context, liveID string) ([]Member, error) {
	return t.backend.Members(ctx, liveID)
}

// Clear drops every member of a live, used when the live ends.
func (t *Tracker) Clear(ctx context.Context, liveID string) error {
	members, err := t.backend.Members(ctx, liveID)
	if err != nil {
		return err
	}
	if err := t.backend.Clear(ctx, liveID); err != nil {
		return err
	}
	for _, m := range members {
		t.left(liveID, m.UserID)
	}
	return nil
}

// Sweep expires members whose last heartbeat is older than the timeout.
func (t *Tracker) Sweep(ctx context.Context) error {
	expired, err := t.backend.Expire(ctx, t.now().Add(-t.timeout))
	if err != nil {
		return err
	}
	for _, m := range expired {
		t.log.WithFields(logrus.Fields{"live_id": m.LiveID, "user_id": m.UserID}).Debug("viewer timed out")
		t.markDirty(m.LiveID)
		t.left(m.LiveID, m.UserID)
	}
	return nil
}

// Run reaps stale members and delivers coalesced count changes until ctx ends.
func (t *Tracker) Run(ctx context.Context) {
	interval := t.timeout / 3
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.Sweep(ctx); err != nil {
				t.log.WithError(err).Warn("failed to sweep presence")
			}
			t.Flush(ctx)
		case <-t.wake:
			t.Flush(ctx)
		}
	}
}

// Flush reports the current count of every live changed since the last flush.
func (t *Tracker) Flush(ctx context.Context) {
	t.mu.Lock()
	dirty := t.dirty
	t.dirty = make(map[string]struct{})
	listeners := append([]ChangeFunc(nil), t.onChange...)
	t.mu.Unlock()

	for liveID := range dirty {
		n, err := t.backend.Count(ctx, liveID)
		if err != nil {
			t.log.WithError(err).WithField("live_id", liveID).Warn("failed to count viewers")
			continue
		}
		for _, fn := range listeners {
			fn(ctx, liveID, n)
		}
	}
}

func (t *Tracker) markDirty(liveID string) {
	t.mu.Lock()
	t.dirty[liveID] = struct{}{}
	t.mu.Unlock()
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Tracker) left(liveID, userID string) {
	t.mu.Lock()
	listeners := append([]LeaveFunc(nil), t.onLeave...)
	t.mu.Unlock()
	for _, fn := range listeners {
		fn(liveID, userID)
	}
}
