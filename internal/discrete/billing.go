// Package discrete bills viewers per minute while discrete mode is on.
//
// Each activation owns a ticker goroutine bound to a cancellable context.
// Deactivation, leaving the live, the live ending and exhausted funds all
// cancel it; an exhausted activation is terminal and a new one needs a
// fresh sufficiency check.
package discrete

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/susu3304/amanteslive/internal/ledger"
	"github.com/susu3304/amanteslive/internal/live"
	"github.com/susu3304/amanteslive/internal/logging"
	"github.com/susu3304/amanteslive/internal/metrics"
	"github.com/susu3304/amanteslive/internal/model"
)

var ErrAlreadyActive = errors.New("discrete mode already active")

type NoticeKind string

const (
	NoticeActivated NoticeKind = "activated"
	NoticeCharged   NoticeKind = "charged"
	NoticeExhausted NoticeKind = "exhausted"
	NoticeFailed    NoticeKind = "failed"
	NoticeStopped   NoticeKind = "stopped"
)

// Notice reports a billing state change to the viewer.
type Notice struct {
	Kind     NoticeKind `json:"kind"`
	ViewerID string     `json:"viewer_id"`
	LiveID   string     `json:"live_id"`
	Cost     int64      `json:"cost"`
	Balance  int64      `json:"balance"`
	Error    string     `json:"error,omitempty"`
}

type NoticeFunc func(n Notice)

// Lives looks up sessions being billed.
type Lives interface {
	Get(ctx context.Context, id string) (*live.Session, error)
}

type key struct {
	viewerID string
	liveID   string
}

type activation struct {
	creatorID string
	cancel    context.CancelFunc
	done      chan struct{}
}

type Biller struct {
	ledger   *ledger.Manager
	lives    Lives
	cost     int64
	interval time.Duration
	log      *logrus.Entry

	mu      sync.Mutex
	active  map[key]*activation
	notices []NoticeFunc
}

func NewBiller(ledgerMgr *ledger.Manager, lives Lives, costPerMinute int64, interval time.Duration) *Biller {
	return &Biller{
		ledger:   ledgerMgr,
		lives:    lives,
		cost:     costPerMinute,
		interval: interval,
		log:      logging.Component("discrete"),
		active:   make(map[key]*activation),
	}
}

func (b *Biller) Cost() int64 { return b.cost }

func (b *Biller) OnNotice(fn NoticeFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notices = append(b.notices, fn)
}

// Activate starts billing viewerID for liveID. The balance must cover at
// least one interval.
func (b *Biller) Activate(ctx context.Context, viewerID, liveID string) error {
	sess, err := b.lives.Get(ctx, liveID)
	if err != nil {
		return err
	}
	if !sess.IsActive() {
		return live.ErrNotActive
	}
	if sess.StreamerID == viewerID {
		return ledger.ErrSelfAttribution
	}
	if err := b.ledger.EnsureFunds(ctx, viewerID, b.cost); err != nil {
		return err
	}

	k := key{viewerID: viewerID, liveID: liveID}
	b.mu.Lock()
	if _, ok := b.active[k]; ok {
		b.mu.Unlock()
		return ErrAlreadyActive
	}
	runCtx, cancel := context.WithCancel(context.Background())
	a := &activation{creatorID: sess.StreamerID, cancel: cancel, done: make(chan struct{})}
	b.active[k] = a
	metrics.SetDiscreteActive(len(b.active))
	b.mu.Unlock()

	go b.run(runCtx, k, a)
	b.log.WithFields(logrus.Fields{"viewer_id": viewerID, "live_id": liveID}).Info("discrete mode activated")
	b.emit(Notice{Kind: NoticeActivated, ViewerID: viewerID, LiveID: liveID, Cost: b.cost})
	return nil
}

// Deactivate stops billing. It reports whether an activation was running
// and returns once its goroutine has exited.
func (b *Biller) Deactivate(viewerID, liveID string) bool {
	a := b.remove(key{viewerID: viewerID, liveID: liveID}, nil)
	if a == nil {
		return false
	}
	a.cancel()
	<-a.done
	b.emit(Notice{Kind: NoticeStopped, ViewerID: viewerID, LiveID: liveID, Cost: b.cost})
	return true
}

// StopLive ends every activation billing liveID.
func (b *Biller) StopLive(liveID string) {
	b.mu.Lock()
	var viewers []string
	for k := range b.active {
		if k.liveID == liveID {
			viewers = append(viewers, k.viewerID)
		}
	}
	b.mu.Unlock()
	for _, v := range viewers {
		b.Deactivate(v, liveID)
	}
}

// Stop ends all activations, used on shutdown.
func (b *Biller) Stop() {
	b.mu.Lock()
	keys := make([]key, 0, len(b.active))
	for k := range b.active {
		keys = append(keys, k)
	}
	b.mu.Unlock()
	for _, k := range keys {
		b.Deactivate(k.viewerID, k.liveID)
	}
}

func (b *Biller) Active(viewerID, liveID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.active[key{viewerID: viewerID, liveID: liveID}]
	return ok
}

func (b *Biller) run(ctx context.Context, k key, a *activation) {
	defer close(a.done)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !b.charge(ctx, k, a) {
				return
			}
		}
	}
}

// charge performs one debit and reports whether billing continues.
func (b *Biller) charge(ctx context.Context, k key, a *activation) bool {
	// The live may have been ended by another instance.
	sess, err := b.lives.Get(ctx, k.liveID)
	switch {
	case errors.Is(err, live.ErrNotFound), err == nil && !sess.IsActive():
		if b.remove(k, a) != nil {
			a.cancel()
			b.log.WithFields(logrus.Fields{"viewer_id": k.viewerID, "live_id": k.liveID}).Info("discrete mode stopped, live ended")
			b.emit(Notice{Kind: NoticeStopped, ViewerID: k.viewerID, LiveID: k.liveID, Cost: b.cost})
		}
		return false
	case err != nil:
		if ctx.Err() != nil {
			return false
		}
		// Unverified lives are not billed; retry on the next tick.
		b.log.WithError(err).WithField("live_id", k.liveID).Warn("live lookup failed, skipping charge")
		return true
	}

	tx, err := b.ledger.Debit(ctx, model.Transaction{
		UserID:    k.viewerID,
		CreatorID: a.creatorID,
		LiveID:    k.liveID,
		Kind:      model.KindDiscrete,
		Gross:     b.cost,
		Reference: "discrete:" + k.liveID,
	})
	if err == nil {
		b.emit(Notice{Kind: NoticeCharged, ViewerID: k.viewerID, LiveID: k.liveID, Cost: b.cost, Balance: tx.BalanceAfter})
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	// Only the goroutine that still owns the slot reports the outcome.
	if b.remove(k, a) == nil {
		return false
	}
	a.cancel()

	fields := logrus.Fields{"viewer_id": k.viewerID, "live_id": k.liveID}
	if errors.Is(err, ledger.ErrInsufficientBalance) {
		b.log.WithFields(fields).Info("discrete mode exhausted")
		bal, _ := b.ledger.Balance(context.Background(), k.viewerID)
		b.emit(Notice{Kind: NoticeExhausted, ViewerID: k.viewerID, LiveID: k.liveID, Cost: b.cost, Balance: bal})
		return false
	}
	b.log.WithFields(fields).WithError(err).Error("discrete billing failed")
	b.emit(Notice{Kind: NoticeFailed, ViewerID: k.viewerID, LiveID: k.liveID, Cost: b.cost, Error: err.Error()})
	return false
}

// remove deletes k if it still maps to want (or to anything when want is nil).
func (b *Biller) remove(k key, want *activation) *activation {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.active[k]
	if !ok || (want != nil && a != want) {
		return nil
	}
	delete(b.active, k)
	metrics.SetDiscreteActive(len(b.active))
	return a
}

func (b *Biller) emit(n Notice) {
	b.mu.Lock()
	fns := append([]NoticeFunc(nil), b.notices...)
	b.mu.Unlock()
	for _, fn := range fns {
		fn(n)
	}
}
