package account

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/susu3304/amanteslive/internal/logging"
	"github.com/susu3304/amanteslive/internal/model"
)

type Store interface {
	CreateProfileIfMissing(ctx context.Context, p model.Profile) (model.Profile, bool, error)
	GetProfile(ctx context.Context, id string) (model.Profile, error)
}

// Service creates profiles on first login with the starting grant.
type Service struct {
	store Store
	grant int64
	log   *logrus.Entry
}

func NewService(store Store, startingGrant int64) *Service {
	return &Service{store: store, grant: startingGrant, log: logging.Component("account")}
}

// Ensure returns the user's profile, creating it with the starting grant
// the first time the user is seen. Later logins never grant again.
func (s *Service) Ensure(ctx context.Context, id, username, avatarURL string) (model.Profile, error) {
	p, created, err := s.store.CreateProfileIfMissing(ctx, model.Profile{
		ID:          id,
		Username:    strings.TrimSpace(username),
		DisplayName: strings.TrimSpace(username),
		AvatarURL:   avatarURL,
		Balance:     s.grant,
	})
	if err != nil {
		return model.Profile{}, err
	}
	if created {
		s.log.WithFields(logrus.Fields{"user_id": id, "grant": s.grant}).Info("profile created")
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, id string) (model.Profile, error) {
	return s.store.GetProfile(ctx, id)
}
