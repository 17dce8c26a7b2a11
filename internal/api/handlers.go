package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/susu3304/amanteslive/internal/chat"
	"github.com/susu3304/amanteslive/internal/live"
	"github.com/susu3304/amanteslive/internal/market"
	"github.com/susu3304/amanteslive/internal/model"
)

// Wallet

// maxRecharge caps a single recharge request.
const maxRecharge int64 = 1_000_000

func (a *API) handleWallet(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	profile, err := a.svc.Accounts.Get(r.Context(), claims.UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (a *API) handleTransactions(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	txs, err := a.svc.Ledger.Transactions(r.Context(), claims.UserID, int(queryInt(r, "limit", 50)))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

func (a *API) handleRecharge(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	var req struct {
		Amount    int64  `json:"amount"`
		Reference string `json:"reference"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Amount <= 0 {
		http.Error(w, "amount must be positive", http.StatusBadRequest)
		return
	}
	if req.Amount > maxRecharge {
		http.Error(w, "amount exceeds the recharge limit", http.StatusBadRequest)
		return
	}
	tx, err := a.svc.Ledger.Credit(r.Context(), claims.UserID, req.Amount, model.KindRecharge, req.Reference)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (a *API) handleEarnings(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	e, err := a.svc.Ledger.Earnings(r.Context(), claims.UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (a *API) handleCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Catalog)
}

// Lives

func (a *API) handleListLives(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := live.ListFilter{
		Category:   live.Category(q.Get("category")),
		StreamerID: q.Get("streamer_id"),
		ActiveOnly: q.Get("all") != "true",
		Limit:      int(queryInt(r, "limit", 50)),
	}
	lives, err := a.svc.Lives.List(r.Context(), f)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if lives == nil {
		lives = []*live.Session{}
	}
	writeJSON(w, http.StatusOK, lives)
}

func (a *API) handleGetLive(w http.ResponseWriter, r *http.Request) {
	sess, err := a.svc.Lives.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (a *API) handleStartLive(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	var req live.StartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	sess, err := a.svc.Lives.Start(r.Context(), claims.UserID, req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (a *API) handleEndLive(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	sess, err := a.svc.Lives.End(r.Context(), mux.Vars(r)["id"], claims.UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Chat

func (a *API) handleListMessages(w http.ResponseWriter, r *http.Request) {
	liveID := mux.Vars(r)["id"]
	limit := int(queryInt(r, "limit", chat.HistoryLimit))

	var events []chat.Event
	var err error
	if since := queryInt(r, "since", -1); since >= 0 {
		events, err = a.svc.Chat.Since(r.Context(), liveID, since, limit)
	} else {
		events, err = a.svc.Chat.History(r.Context(), liveID, limit)
	}
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []chat.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (a *API) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	var req struct {
		Message string `json:"message"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	e, err := a.svc.Chat.Send(r.Context(), mux.Vars(r)["id"], claims.UserID, claims.Username, req.Message)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// Gifts

func (a *API) handleSendMimo(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	var req struct {
		MimoID  string `json:"mimo_id"`
		Message string `json:"message"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	receipt, err := a.svc.Gifts.SendMimo(r.Context(), claims.UserID, claims.Username, mux.Vars(r)["id"], req.MimoID, req.Message)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (a *API) handleSendCrisex(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	receipt, err := a.svc.Gifts.SendCrisex(r.Context(), claims.UserID, claims.Username, mux.Vars(r)["id"], req.Amount)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (a *API) handleTipReel(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	var req struct {
		MimoID    string `json:"mimo_id"`
		CreatorID string `json:"creator_id"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	tx, err := a.svc.Gifts.TipReel(r.Context(), claims.UserID, req.CreatorID, mux.Vars(r)["id"], req.MimoID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// Discrete mode

func (a *API) handleActivateDiscrete(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	liveID := mux.Vars(r)["id"]
	if err := a.svc.Discrete.Activate(r.Context(), claims.UserID, liveID); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active":          true,
		"cost_per_minute": a.svc.Discrete.Cost(),
	})
}

func (a *API) handleDeactivateDiscrete(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	stopped := a.svc.Discrete.Deactivate(claims.UserID, mux.Vars(r)["id"])
	writeJSON(w, http.StatusOK, map[string]bool{"active": false, "stopped": stopped})
}

// Market

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	products, err := a.svc.Market.ListProducts(r.Context(), model.ProductType(q.Get("type")), q.Get("creator_id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if products == nil {
		products = []model.Product{}
	}
	writeJSON(w, http.StatusOK, products)
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	var req market.NewProduct
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	p, err := a.svc.Market.CreateProduct(r.Context(), claims.UserID, req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) handlePurchase(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	purchase, balance, err := a.svc.Market.Purchase(r.Context(), claims.UserID, mux.Vars(r)["id"])
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"purchase": purchase,
		"balance":  balance,
	})
}

func (a *API) handleListPurchases(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	purchases, err := a.svc.Market.Purchases(r.Context(), claims.UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if purchases == nil {
		purchases = []model.Purchase{}
	}
	writeJSON(w, http.StatusOK, purchases)
}

func (a *API) handleListPackages(w http.ResponseWriter, r *http.Request) {
	pkgs, err := a.svc.Market.Packages(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pkgs)
}

func (a *API) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	sub, err := a.svc.Market.Subscribe(r.Context(), claims.UserID, mux.Vars(r)["id"])
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (a *API) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	subs, err := a.svc.Market.Subscriptions(r.Context(), claims.UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if subs == nil {
		subs = []model.Subscription{}
	}
	writeJSON(w, http.StatusOK, subs)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if a.svc.Health != nil {
		if err := a.svc.Health(r.Context()); err != nil {
			http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
