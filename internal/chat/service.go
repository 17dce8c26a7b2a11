package chat

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/susu3304/amanteslive/internal/logging"
)

const (
	HistoryLimit     = 50
	MaxMessageLength = 500
)

var (
	ErrEmptyMessage    = errors.New("message is empty")
	ErrMessageTooLong  = errors.New("message is too long")
	ErrMessageRejected = errors.New("message rejected by moderation")
)

// Store appends plain messages and reads the log back. AppendMessage must
// fail with live.ErrNotActive for lives that are not broadcasting.
type Store interface {
	AppendMessage(ctx context.Context, liveID, senderID, senderName, text string) (Event, error)
	History(ctx context.Context, liveID string, limit int) ([]Event, error)
	Since(ctx context.Context, liveID string, afterSeq int64, limit int) ([]Event, error)
}

// Moderator screens chat text before it is stored.
type Moderator interface {
	Flagged(ctx context.Context, text string) (bool, error)
}

type Service struct {
	store     Store
	hub       *Hub
	moderator Moderator
	log       *logrus.Entry
}

// NewService builds the chat service. moderator may be nil.
func NewService(store Store, hub *Hub, moderator Moderator) *Service {
	return &Service{
		store:     store,
		hub:       hub,
		moderator: moderator,
		log:       logging.Component("chat"),
	}
}

func (s *Service) Hub() *Hub { return s.hub }

// Send appends a plain message and fans it out locally.
func (s *Service) Send(ctx context.Context, liveID, senderID, senderName, text string) (Event, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Event{}, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return Event{}, ErrMessageTooLong
	}
	if s.moderator != nil {
		flagged, err := s.moderator.Flagged(ctx, text)
		if err != nil {
			// Moderation outages do not block chat.
			s.log.WithError(err).Warn("moderation unavailable")
		} else if flagged {
			return Event{}, ErrMessageRejected
		}
	}

	e, err := s.store.AppendMessage(ctx, liveID, senderID, senderName, text)
	if err != nil {
		return Event{}, err
	}
	s.hub.Publish(e)
	return e, nil
}

// History returns the newest events in ascending seq order.
func (s *Service) History(ctx context.Context, liveID string, limit int) ([]Event, error) {
	if limit <= 0 || limit > 200 {
		limit = HistoryLimit
	}
	return s.store.History(ctx, liveID, limit)
}

// Since returns events after seq, for clients resuming after a reconnect.
func (s *Service) Since(ctx context.Context, liveID string, afterSeq int64, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	return s.store.Since(ctx, liveID, afterSeq, limit)
}

// Publish hands an event appended elsewhere (the gift unit) to local subscribers.
func (s *Service) Publish(e Event) {
	s.hub.Publish(e)
}

// Follow subscribes to a live and returns the backlog the caller must send
// before draining the subscription. With afterSeq < 0 the backlog is the
// recent history window; otherwise it is everything after afterSeq.
// Subscribing first means nothing committed in between is missed; callers
// skip subscription events with seq <= the last backlog seq.
func (s *Service) Follow(ctx context.Context, liveID string, afterSeq int64) (*Subscription, []Event, error) {
	sub := s.hub.Subscribe(liveID)
	var (
		backlog []Event
		err     error
	)
	if afterSeq < 0 {
		backlog, err = s.History(ctx, liveID, HistoryLimit)
	} else {
		backlog, err = s.Since(ctx, liveID, afterSeq, 500)
	}
	if err != nil {
		sub.Close()
		return nil, nil, err
	}
	seed := afterSeq
	if len(backlog) > 0 {
		seed = backlog[len(backlog)-1].Seq
	}
	if seed < 0 {
		seed = 0
	}
	s.hub.Seed(liveID, seed)
	return sub, backlog, nil
}
