package live

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/susu3304/amanteslive/internal/logging"
)

var ErrStreamerBusy = errors.New("streamer already has an active live")

type ListFilter struct {
	Category   Category
	StreamerID string
	ActiveOnly bool
	Limit      int
}

// Store persists sessions. EndLive must only succeed for an active session
// owned by streamerID.
type Store interface {
	CreateLive(ctx context.Context, s *Session) error
	GetLive(ctx context.Context, id string) (*Session, error)
	ListLives(ctx context.Context, f ListFilter) ([]*Session, error)
	EndLive(ctx context.Context, id, streamerID string, at time.Time) error
	SetViewers(ctx context.Context, id string, n int64) error
}

// Hook runs after a lifecycle transition has been persisted.
type Hook func(ctx context.Context, s *Session)

type StartRequest struct {
	Title        string   `json:"title"`
	Categories   []string `json:"categories"`
	MetaGoal     int64    `json:"meta_goal"`
	ThumbnailURL string   `json:"thumbnail_url"`
}

type Service struct {
	store       Store
	defaultGoal int64
	log         *logrus.Entry
	now         func() time.Time

	mu      sync.RWMutex
	onStart []Hook
	onEnd   []Hook
}

func NewService(store Store, defaultGoal int64) *Service {
	return &Service{
		store:       store,
		defaultGoal: defaultGoal,
		log:         logging.Component("live"),
		now:         time.Now,
	}
}

func (s *Service) OnStart(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStart = append(s.onStart, h)
}

func (s *Service) OnEnd(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEnd = append(s.onEnd, h)
}

func (s *Service) Start(ctx context.Context, streamerID string, req StartRequest) (*Session, error) {
	cats, err := ParseCategories(req.Categories)
	if err != nil {
		return nil, err
	}
	goal := req.MetaGoal
	if goal == 0 {
		goal = s.defaultGoal
	}

	sess := &Session{
		ID:           uuid.New().String(),
		StreamerID:   streamerID,
		ThumbnailURL: req.ThumbnailURL,
	}
	if err := sess.Start(req.Title, cats, goal, s.now().UTC()); err != nil {
		return nil, err
	}

	current, err := s.store.ListLives(ctx, ListFilter{StreamerID: streamerID, ActiveOnly: true, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(current) > 0 {
		return nil, ErrStreamerBusy
	}

	if err := s.store.CreateLive(ctx, sess); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"live_id": sess.ID, "streamer_id": streamerID}).Info("live started")
	s.run(ctx, s.hooks(true), sess)
	return sess, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	return s.store.GetLive(ctx, id)
}

// List returns sessions ordered by viewer count, highest first.
func (s *Service) List(ctx context.Context, f ListFilter) ([]*Session, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}
	return s.store.ListLives(ctx, f)
}

// End terminates a live on behalf of its streamer and fires the end hooks,
// which stop billing and presence for the session.
func (s *Service) End(ctx context.Context, id, streamerID string) (*Session, error) {
	sess, err := s.store.GetLive(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if err := sess.End(streamerID, now); err != nil {
		return nil, err
	}
	if err := s.store.EndLive(ctx, id, streamerID, now); err != nil {
		return nil, err
	}
	s.log.WithField("live_id", id).Info("live ended")
	s.run(ctx, s.hooks(false), sess)
	return sess, nil
}

// UpdateViewers stores the presence-derived count. Ended or unknown lives are ignored.
func (s *Service) UpdateViewers(ctx context.Context, id string, n int) error {
	err := s.store.SetViewers(ctx, id, int64(n))
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotActive) {
		return nil
	}
	return err
}

func (s *Service) hooks(start bool) []Hook {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if start {
		return append([]Hook(nil), s.onStart...)
	}
	return append([]Hook(nil), s.onEnd...)
}

func (s *Service) run(ctx context.Context, hooks []Hook, sess *Session) {
	ctx = context.WithoutCancel(ctx)
	for _, h := range hooks {
		snapshot := *sess
		h(ctx, &snapshot)
	}
}
