package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"github.com/susu3304/amanteslive/internal/account"
	"github.com/susu3304/amanteslive/internal/catalog"
	"github.com/susu3304/amanteslive/internal/chat"
	"github.com/susu3304/amanteslive/internal/config"
	"github.com/susu3304/amanteslive/internal/discrete"
	"github.com/susu3304/amanteslive/internal/gifting"
	"github.com/susu3304/amanteslive/internal/ledger"
	"github.com/susu3304/amanteslive/internal/live"
	"github.com/susu3304/amanteslive/internal/logging"
	"github.com/susu3304/amanteslive/internal/market"
	"github.com/susu3304/amanteslive/internal/metrics"
	"github.com/susu3304/amanteslive/internal/presence"
	"golang.org/x/oauth2"
)

// Services are the domain services the HTTP layer drives.
type Services struct {
	Accounts *account.Service
	Ledger   *ledger.Manager
	Catalog  *catalog.Catalog
	Lives    *live.Service
	Chat     *chat.Service
	Gifts    *gifting.Service
	Market   *market.Service
	Discrete *discrete.Biller
	Presence *presence.Tracker
	// Health reports storage reachability for /healthz. Optional.
	Health func(ctx context.Context) error
}

type API struct {
	router      *mux.Router
	config      *config.Config
	oauthConfig *oauth2.Config
	jwtSecret   []byte
	svc         Services
	limiter     *RateLimiter
	upgrader    websocket.Upgrader
	log         *logrus.Entry

	mu      sync.RWMutex
	clients map[*client]struct{}

	server *http.Server
}

func New(cfg *config.Config, svc Services) *API {
	api := &API{
		router:    mux.NewRouter(),
		config:    cfg,
		jwtSecret: []byte(cfg.JWTSecret),
		svc:       svc,
		limiter:   NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log:     logging.Component("api"),
		clients: make(map[*client]struct{}),
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.OAuthClientID,
			ClientSecret: cfg.OAuthClientSecret,
			RedirectURL:  cfg.OAuthRedirectURI,
			Scopes:       []string{"openid", "profile"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.OAuthAuthURL,
				TokenURL: cfg.OAuthTokenURL,
			},
		},
	}

	api.setupRoutes()
	return api
}

func (a *API) setupRoutes() {
	a.router.Use(metrics.InstrumentHandler)

	// Auth endpoints
	a.router.HandleFunc("/api/auth/login", a.handleLogin).Methods("GET")
	a.router.HandleFunc("/api/auth/callback", a.handleCallback).Methods("GET")
	a.router.HandleFunc("/api/auth/logout", a.handleLogout).Methods("POST")

	// Public endpoints
	a.router.HandleFunc("/api/catalog", a.handleCatalog).Methods("GET")
	a.router.HandleFunc("/api/lives", a.handleListLives).Methods("GET")
	a.router.HandleFunc("/api/lives/{id}", a.handleGetLive).Methods("GET")
	a.router.HandleFunc("/api/lives/{id}/qrcode.png", a.handleLiveQRCode).Methods("GET")
	a.router.HandleFunc("/api/packages", a.handleListPackages).Methods("GET")
	a.router.HandleFunc("/api/products", a.handleListProducts).Methods("GET")
	a.router.Handle("/metrics", metrics.Handler()).Methods("GET")
	a.router.HandleFunc("/healthz", a.handleHealth).Methods("GET")

	// Protected endpoints
	protected := a.router.PathPrefix("/api").Subrouter()
	protected.Use(a.authMiddleware)
	protected.Use(a.limiter.Handler)

	protected.HandleFunc("/wallet", a.handleWallet).Methods("GET")
	protected.HandleFunc("/wallet/transactions", a.handleTransactions).Methods("GET")
	protected.HandleFunc("/wallet/recharge", a.handleRecharge).Methods("POST")
	protected.HandleFunc("/wallet/earnings", a.handleEarnings).Methods("GET")

	protected.HandleFunc("/lives", a.handleStartLive).Methods("POST")
	protected.HandleFunc("/lives/{id}/end", a.handleEndLive).Methods("POST")
	protected.HandleFunc("/lives/{id}/messages", a.handleListMessages).Methods("GET")
	protected.HandleFunc("/lives/{id}/messages", a.handleSendMessage).Methods("POST")
	protected.HandleFunc("/lives/{id}/mimos", a.handleSendMimo).Methods("POST")
	protected.HandleFunc("/lives/{id}/crisex", a.handleSendCrisex).Methods("POST")
	protected.HandleFunc("/lives/{id}/discrete", a.handleActivateDiscrete).Methods("POST")
	protected.HandleFunc("/lives/{id}/discrete", a.handleDeactivateDiscrete).Methods("DELETE")
	protected.HandleFunc("/lives/{id}/ws", a.handleLiveSocket).Methods("GET")
	protected.HandleFunc("/reels/{id}/mimos", a.handleTipReel).Methods("POST")

	protected.HandleFunc("/products", a.handleCreateProduct).Methods("POST")
	protected.HandleFunc("/products/{id}/purchase", a.handlePurchase).Methods("POST")
	protected.HandleFunc("/purchases", a.handleListPurchases).Methods("GET")
	protected.HandleFunc("/packages/{id}/subscribe", a.handleSubscribe).Methods("POST")
	protected.HandleFunc("/subscriptions", a.handleListSubscriptions).Methods("GET")
}

// Handler is the router wrapped with CORS.
func (a *API) Handler() http.Handler {
	// When AllowedOrigins is "*", AllowCredentials must be false
	corsOptions := cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	}
	return cors.New(corsOptions).Handler(a.router)
}

func (a *API) Start() error {
	a.server = &http.Server{
		Addr:              a.config.WebBind,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.log.Infof("API server listening on http://%s", a.config.WebBind)
	return a.server.ListenAndServe()
}

// Shutdown stops accepting requests and closes open sockets.
func (a *API) Shutdown(ctx context.Context) error {
	a.closeClients()
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}
