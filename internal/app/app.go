// Package app assembles the services and connects their lifecycle hooks.
package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/susu3304/amanteslive/internal/account"
	"github.com/susu3304/amanteslive/internal/api"
	"github.com/susu3304/amanteslive/internal/catalog"
	"github.com/susu3304/amanteslive/internal/chat"
	"github.com/susu3304/amanteslive/internal/config"
	"github.com/susu3304/amanteslive/internal/discrete"
	"github.com/susu3304/amanteslive/internal/gifting"
	"github.com/susu3304/amanteslive/internal/jobs"
	"github.com/susu3304/amanteslive/internal/ledger"
	"github.com/susu3304/amanteslive/internal/live"
	"github.com/susu3304/amanteslive/internal/logging"
	"github.com/susu3304/amanteslive/internal/market"
	"github.com/susu3304/amanteslive/internal/presence"
)

// Store is everything the services persist.
type Store interface {
	account.Store
	ledger.Store
	live.Store
	chat.Store
	gifting.Store
	market.Store
}

// Announcer receives go-live and goal notifications.
type Announcer interface {
	LiveStarted(ctx context.Context, s *live.Session)
	GoalReached(ctx context.Context, r gifting.Receipt)
}

// Options are the optional collaborators. Nil fields fall back to
// in-process defaults or disable the feature.
type Options struct {
	Presence  presence.Backend
	Listener  chat.Listener
	Moderator chat.Moderator
	Announcer Announcer
	Health    func(ctx context.Context) error
}

type App struct {
	Config   *config.Config
	Catalog  *catalog.Catalog
	Accounts *account.Service
	Ledger   *ledger.Manager
	Lives    *live.Service
	Chat     *chat.Service
	Gifts    *gifting.Service
	Market   *market.Service
	Discrete *discrete.Biller
	Presence *presence.Tracker
	API      *api.API

	relay *chat.Relay
	jobs  *jobs.Scheduler
	log   *logrus.Entry
}

func New(cfg *config.Config, store Store, cat *catalog.Catalog, opts Options) (*App, error) {
	log := logging.Component("app")

	ledgerMgr := ledger.NewManager(store)
	hub := chat.NewHub()
	backend := opts.Presence
	if backend == nil {
		backend = presence.NewMemoryBackend()
	}

	a := &App{
		Config:   cfg,
		Catalog:  cat,
		Accounts: account.NewService(store, cfg.StartingGrant),
		Ledger:   ledgerMgr,
		Lives:    live.NewService(store, cfg.DefaultMetaGoal),
		Chat:     chat.NewService(store, hub, opts.Moderator),
		Market:   market.NewService(store, ledgerMgr, cfg.PlatformAccountID),
		Presence: presence.NewTracker(backend, cfg.PresenceTimeout),
		jobs:     jobs.NewScheduler(),
		log:      log,
	}
	a.Gifts = gifting.NewService(store, ledgerMgr, cat, a.Chat)
	a.Discrete = discrete.NewBiller(ledgerMgr, a.Lives, cfg.DiscreteCostPerMinute, cfg.DiscreteInterval)
	if opts.Listener != nil {
		a.relay = chat.NewRelay(hub, store, opts.Listener)
	}

	a.API = api.New(cfg, api.Services{
		Accounts: a.Accounts,
		Ledger:   a.Ledger,
		Catalog:  cat,
		Lives:    a.Lives,
		Chat:     a.Chat,
		Gifts:    a.Gifts,
		Market:   a.Market,
		Discrete: a.Discrete,
		Presence: a.Presence,
		Health:   opts.Health,
	})

	a.wire(opts.Announcer)

	if err := a.jobs.Add(jobs.ExpireSubscriptions(a.Market.ExpireSubscriptions)); err != nil {
		return nil, err
	}
	if err := a.jobs.Add(jobs.Job{
		Name:     "prune-rate-limiters",
		Schedule: "@every 10m",
		Run: func(context.Context) error {
			a.API.Limiter().Cleanup(30 * time.Minute)
			return nil
		},
	}); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) wire(announcer Announcer) {
	a.Ledger.OnBalance(a.API.PushBalance)
	a.Discrete.OnNotice(a.API.PushDiscrete)

	// Leaving a live (or timing out) ends discrete billing for that viewer.
	a.Presence.OnLeave(func(liveID, userID string) {
		a.Discrete.Deactivate(userID, liveID)
	})
	a.Presence.OnChange(func(ctx context.Context, liveID string, count int) {
		if err := a.Lives.UpdateViewers(ctx, liveID, count); err != nil {
			a.log.WithError(err).WithField("live_id", liveID).Warn("failed to store viewer count")
		}
		a.API.PushViewers(liveID, count)
	})

	a.Lives.OnEnd(func(ctx context.Context, s *live.Session) {
		a.Discrete.StopLive(s.ID)
		if err := a.Presence.Clear(ctx, s.ID); err != nil {
			a.log.WithError(err).WithField("live_id", s.ID).Warn("failed to clear presence")
		}
		a.Chat.Hub().CloseLive(s.ID)
	})

	if a.relay != nil {
		a.relay.OnEnded(func(ctx context.Context, liveID string) {
			a.Discrete.StopLive(liveID)
			if err := a.Presence.Clear(ctx, liveID); err != nil {
				a.log.WithError(err).WithField("live_id", liveID).Warn("failed to clear presence")
			}
		})
	}

	if announcer != nil {
		a.Lives.OnStart(announcer.LiveStarted)
		a.Gifts.OnGoalReached(announcer.GoalReached)
	}
}

// Run starts the background workers and the HTTP server, and shuts
// everything down when ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.Presence.Run(ctx)
	}()
	if a.relay != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.relay.Run(ctx)
		}()
	}
	a.jobs.Start()

	errCh := make(chan error, 1)
	go func() { errCh <- a.API.Start() }()

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}

	a.log.Info("shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if serr := a.API.Shutdown(shutdownCtx); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
		a.log.WithError(serr).Warn("http shutdown failed")
	}
	cancel()
	a.jobs.Stop()
	a.Discrete.Stop()
	wg.Wait()
	return err
}
