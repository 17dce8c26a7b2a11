// Package gifting sends mimos and CRISEX to streamers during a live.
//
// A live gift is one unit of work in storage: the sender's debit, the
// transaction record crediting the streamer's share, the chat gift event
// and the goal increment commit together or not at all.
package gifting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/susu3304/amanteslive/internal/catalog"
	"github.com/susu3304/amanteslive/internal/chat"
	"github.com/susu3304/amanteslive/internal/ledger"
	"github.com/susu3304/amanteslive/internal/live"
	"github.com/susu3304/amanteslive/internal/logging"
	"github.com/susu3304/amanteslive/internal/metrics"
	"github.com/susu3304/amanteslive/internal/model"
)

var ErrSelfGift = errors.New("streamers cannot gift their own live")

// Gift is a fully priced gift ready to apply.
type Gift struct {
	LiveID     string
	SenderID   string
	SenderName string
	Kind       model.TxKind
	Reference  string
	Amount     int64
	Icon       string
	Message    string
	At         time.Time
}

// Receipt is what a committed gift produced.
type Receipt struct {
	Event       chat.Event        `json:"event"`
	Live        live.Session      `json:"live"`
	Transaction model.Transaction `json:"transaction"`
	Balance     int64             `json:"balance"`
	GoalAdded   int64             `json:"goal_added"`
	GoalReached bool              `json:"goal_reached"`
}

// Store applies a gift atomically. It must lock the live, fail with
// live.ErrNotActive when it is not broadcasting, fail with
// ledger.ErrInsufficientBalance without side effects when the sender is
// short, and assign the chat event the live's next seq. The transaction
// record carries the streamer as creator.
type Store interface {
	ApplyGift(ctx context.Context, g Gift, split func(streamerID string) (model.Transaction, error)) (Receipt, error)
}

// Publisher receives chat events committed by a gift.
type Publisher interface {
	Publish(e chat.Event)
}

type Hook func(ctx context.Context, r Receipt)

type Service struct {
	store   Store
	ledger  *ledger.Manager
	catalog *catalog.Catalog
	chat    Publisher
	log     *logrus.Entry
	now     func() time.Time

	mu          sync.RWMutex
	onGift      []Hook
	onGoalReach []Hook
}

func NewService(store Store, ledgerMgr *ledger.Manager, cat *catalog.Catalog, chat Publisher) *Service {
	return &Service{
		store:   store,
		ledger:  ledgerMgr,
		catalog: cat,
		chat:    chat,
		log:     logging.Component("gifting"),
		now:     time.Now,
	}
}

// OnGift registers a hook run after every committed live gift.
func (s *Service) OnGift(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onGift = append(s.onGift, h)
}

// OnGoalReached registers a hook run when a gift completes a live's goal.
func (s *Service) OnGoalReached(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onGoalReach = append(s.onGoalReach, h)
}

func (s *Service) SendMimo(ctx context.Context, senderID, senderName, liveID, mimoID, message string) (Receipt, error) {
	m, err := s.catalog.Mimo(mimoID)
	if err != nil {
		return Receipt{}, err
	}
	text := message
	if text == "" {
		text = fmt.Sprintf("enviou %s %s", m.Name, m.Icon)
	}
	return s.apply(ctx, Gift{
		LiveID:     liveID,
		SenderID:   senderID,
		SenderName: senderName,
		Kind:       model.KindMimo,
		Reference:  m.ID,
		Amount:     m.Price,
		Icon:       m.Icon,
		Message:    text,
	})
}

func (s *Service) SendCrisex(ctx context.Context, senderID, senderName, liveID string, amount int64) (Receipt, error) {
	if err := s.catalog.CheckCrisexAmount(amount); err != nil {
		return Receipt{}, err
	}
	return s.apply(ctx, Gift{
		LiveID:     liveID,
		SenderID:   senderID,
		SenderName: senderName,
		Kind:       model.KindCrisex,
		Reference:  "crisex",
		Amount:     amount,
		Icon:       s.catalog.CrisexGiftIcon,
		Message:    fmt.Sprintf("enviou %d CRISEX", amount),
	})
}

// TipReel sends a mimo to a reel's creator. There is no live, so only the
// ledger is involved.
func (s *Service) TipReel(ctx context.Context, senderID, creatorID, reelID, mimoID string) (model.Transaction, error) {
	m, err := s.catalog.Mimo(mimoID)
	if err != nil {
		return model.Transaction{}, err
	}
	return s.ledger.Debit(ctx, model.Transaction{
		UserID:    senderID,
		CreatorID: creatorID,
		Kind:      model.KindReelMimo,
		Gross:     m.Price,
		Reference: reelID + ":" + m.ID,
	})
}

func (s *Service) apply(ctx context.Context, g Gift) (Receipt, error) {
	g.At = s.now().UTC()
	split := func(streamerID string) (model.Transaction, error) {
		if streamerID == g.SenderID {
			return model.Transaction{}, ErrSelfGift
		}
		return ledger.Prepare(model.Transaction{
			UserID:    g.SenderID,
			CreatorID: streamerID,
			LiveID:    g.LiveID,
			Kind:      g.Kind,
			Gross:     g.Amount,
			Reference: g.Reference,
		})
	}

	r, err := s.store.ApplyGift(ctx, g, split)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientBalance) {
			metrics.RecordRejection("insufficient_balance")
		}
		return Receipt{}, err
	}

	s.log.WithFields(logrus.Fields{
		"live_id":   g.LiveID,
		"sender_id": g.SenderID,
		"kind":      g.Kind,
		"amount":    g.Amount,
		"seq":       r.Event.Seq,
	}).Debug("gift applied")

	metrics.RecordDebit(string(g.Kind), g.Amount)
	s.chat.Publish(r.Event)
	s.ledger.Announce(g.SenderID, r.Balance)

	s.mu.RLock()
	onGift := append([]Hook(nil), s.onGift...)
	onGoal := append([]Hook(nil), s.onGoalReach...)
	s.mu.RUnlock()

	hookCtx := context.WithoutCancel(ctx)
	for _, h := range onGift {
		h(hookCtx, r)
	}
	if r.GoalReached && r.GoalAdded > 0 {
		for _, h := range onGoal {
			h(hookCtx, r)
		}
	}
	return r, nil
}
