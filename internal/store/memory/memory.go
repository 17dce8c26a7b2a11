// Package memory is an in-process store used for local development and tests.
// A single mutex serializes every operation, which makes each method atomic.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/susu3304/amanteslive/internal/chat"
	"github.com/susu3304/amanteslive/internal/ledger"
	"github.com/susu3304/amanteslive/internal/live"
	"github.com/susu3304/amanteslive/internal/market"
	"github.com/susu3304/amanteslive/internal/model"
)

type liveRecord struct {
	session live.Session
	seq     int64
	events  []chat.Event
}

type Store struct {
	mu            sync.Mutex
	now           func() time.Time
	profiles      map[string]*model.Profile
	transactions  []model.Transaction
	lives         map[string]*liveRecord
	products      map[string]*model.Product
	purchases     []model.Purchase
	packages      map[string]model.Package
	subscriptions []*model.Subscription
}

func New() *Store {
	s := &Store{
		now:      time.Now,
		profiles: make(map[string]*model.Profile),
		lives:    make(map[string]*liveRecord),
		products: make(map[string]*model.Product),
		packages: make(map[string]model.Package),
	}
	for _, p := range market.DefaultPackages() {
		s.packages[p.ID] = p
	}
	return s
}

// Accounts

func (s *Store) CreateProfileIfMissing(_ context.Context, p model.Profile) (model.Profile, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.profiles[p.ID]; ok {
		return *cur, false, nil
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	s.profiles[p.ID] = &p
	return p, true, nil
}

func (s *Store) GetProfile(_ context.Context, id string) (model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return model.Profile{}, ledger.ErrAccountNotFound
	}
	return *p, nil
}

// Ledger

func (s *Store) ApplyDebit(_ context.Context, tx model.Transaction) (model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[tx.UserID]
	if !ok {
		return model.Transaction{}, ledger.ErrAccountNotFound
	}
	if p.Balance < tx.Gross {
		return model.Transaction{}, ledger.ErrInsufficientBalance
	}
	p.Balance -= tx.Gross
	return s.recordLocked(tx, p.Balance), nil
}

func (s *Store) ApplyCredit(_ context.Context, tx model.Transaction) (model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[tx.UserID]
	if !ok {
		return model.Transaction{}, ledger.ErrAccountNotFound
	}
	if tx.Gross > ledger.MaxBalance-p.Balance {
		return model.Transaction{}, ledger.ErrBalanceOverflow
	}
	p.Balance += tx.Gross
	return s.recordLocked(tx, p.Balance), nil
}

func (s *Store) recordLocked(tx model.Transaction, balance int64) model.Transaction {
	tx.ID = uuid.New().String()
	tx.BalanceAfter = balance
	tx.CreatedAt = s.now().UTC()
	s.transactions = append(s.transactions, tx)
	return tx
}

func (s *Store) Balance(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return 0, ledger.ErrAccountNotFound
	}
	return p.Balance, nil
}

// Transactions returns the newest records first.
func (s *Store) Transactions(_ context.Context, userID string, limit int) ([]model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Transaction
	for i := len(s.transactions) - 1; i >= 0 && len(out) < limit; i-- {
		if s.transactions[i].UserID == userID {
			out = append(out, s.transactions[i])
		}
	}
	return out, nil
}

func (s *Store) Earnings(_ context.Context, creatorID string) (model.Earnings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := model.Earnings{CreatorID: creatorID, ByKind: make(map[model.TxKind]int64)}
	for _, tx := range s.transactions {
		if tx.CreatorID != creatorID || tx.Direction != model.DirectionDebit {
			continue
		}
		e.Total += tx.CreatorShare
		e.PlatformTotal += tx.PlatformShare
		e.ByKind[tx.Kind] += tx.CreatorShare
	}
	return e, nil
}

// Lives

func (s *Store) CreateLive(_ context.Context, sess *live.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lives[sess.ID] = &liveRecord{session: *sess}
	return nil
}

func (s *Store) GetLive(_ context.Context, id string) (*live.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.lives[id]
	if !ok {
		return nil, live.ErrNotFound
	}
	sess := r.session
	return &sess, nil
}

func (s *Store) ListLives(_ context.Context, f live.ListFilter) ([]*live.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*live.Session
	for _, r := range s.lives {
		sess := r.session
		if f.ActiveOnly && !sess.IsActive() {
			continue
		}
		if f.StreamerID != "" && sess.StreamerID != f.StreamerID {
			continue
		}
		if f.Category != "" && !sess.HasCategory(f.Category) {
			continue
		}
		out = append(out, &sess)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ViewersCount != out[j].ViewersCount {
			return out[i].ViewersCount > out[j].ViewersCount
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) EndLive(_ context.Context, id, streamerID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.lives[id]
	if !ok {
		return live.ErrNotFound
	}
	return r.session.End(streamerID, at)
}

func (s *Store) SetViewers(_ context.Context, id string, n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.lives[id]
	if !ok {
		return live.ErrNotFound
	}
	if !r.session.IsActive() {
		return live.ErrNotActive
	}
	r.session.SetViewers(n)
	return nil
}
