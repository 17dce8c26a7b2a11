package memory

import (
	"context"

	"github.com/google/uuid"
	"github.com/susu3304/amanteslive/internal/chat"
	"github.com/susu3304/amanteslive/internal/gifting"
	"github.com/susu3304/amanteslive/internal/ledger"
	"github.com/susu3304/amanteslive/internal/live"
	"github.com/susu3304/amanteslive/internal/model"
)

func (s *Store) AppendMessage(_ context.Context, liveID, senderID, senderName, text string) (chat.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.lives[liveID]
	if !ok {
		return chat.Event{}, live.ErrNotFound
	}
	if !r.session.IsActive() {
		return chat.Event{}, live.ErrNotActive
	}
	return s.appendLocked(r, senderID, senderName, chat.PlainMessage{Message: text}), nil
}

func (s *Store) appendLocked(r *liveRecord, senderID, senderName string, body chat.Body) chat.Event {
	r.seq++
	e := chat.Event{
		ID:         uuid.New().String(),
		LiveID:     r.session.ID,
		Seq:        r.seq,
		SenderID:   senderID,
		SenderName: senderName,
		Body:       body,
		CreatedAt:  s.now().UTC(),
	}
	r.events = append(r.events, e)
	return e
}

func (s *Store) History(_ context.Context, liveID string, limit int) ([]chat.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.lives[liveID]
	if !ok {
		return nil, live.ErrNotFound
	}
	events := r.events
	if len(events) > limit {
		events = events[len(events)-limit:]
	}
	return append([]chat.Event(nil), events...), nil
}

func (s *Store) Since(_ context.Context, liveID string, afterSeq int64, limit int) ([]chat.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.lives[liveID]
	if !ok {
		return nil, live.ErrNotFound
	}
	var out []chat.Event
	for _, e := range r.events {
		if e.Seq > afterSeq {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// ApplyGift validates everything before mutating, so a failed gift leaves
// no trace.
func (s *Store) ApplyGift(_ context.Context, g gifting.Gift, split func(streamerID string) (model.Transaction, error)) (gifting.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.lives[g.LiveID]
	if !ok {
		return gifting.Receipt{}, live.ErrNotFound
	}
	if !r.session.IsActive() {
		return gifting.Receipt{}, live.ErrNotActive
	}
	tx, err := split(r.session.StreamerID)
	if err != nil {
		return gifting.Receipt{}, err
	}
	p, ok := s.profiles[g.SenderID]
	if !ok {
		return gifting.Receipt{}, ledger.ErrAccountNotFound
	}
	if p.Balance < g.Amount {
		return gifting.Receipt{}, ledger.ErrInsufficientBalance
	}
	next := r.session
	added, err := next.ApplyGift(g.Amount)
	if err != nil {
		return gifting.Receipt{}, err
	}

	p.Balance -= g.Amount
	recorded := s.recordLocked(tx, p.Balance)
	r.session = next
	e := s.appendLocked(r, g.SenderID, g.SenderName, chat.GiftMessage{Message: g.Message, Icon: g.Icon, Amount: g.Amount})

	return gifting.Receipt{
		Event:       e,
		Live:        r.session,
		Transaction: recorded,
		Balance:     p.Balance,
		GoalAdded:   added,
		GoalReached: r.session.GoalReached(),
	}, nil
}
