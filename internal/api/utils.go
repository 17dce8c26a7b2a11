package api

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/susu3304/amanteslive/internal/catalog"
	"github.com/susu3304/amanteslive/internal/chat"
	"github.com/susu3304/amanteslive/internal/discrete"
	"github.com/susu3304/amanteslive/internal/gifting"
	"github.com/susu3304/amanteslive/internal/ledger"
	"github.com/susu3304/amanteslive/internal/live"
	"github.com/susu3304/amanteslive/internal/market"
)

func generateRandomString(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	encoded := base64.URLEncoding.EncodeToString(b)
	return encoded[:length], nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	return dec.Decode(v)
}

func queryInt(r *http.Request, key string, def int64) int64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, live.ErrNotFound),
		errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, market.ErrProductNotFound),
		errors.Is(err, market.ErrPackageNotFound),
		errors.Is(err, catalog.ErrUnknownMimo):
		return http.StatusNotFound
	case errors.Is(err, live.ErrNotActive),
		errors.Is(err, live.ErrAlreadyStarted),
		errors.Is(err, live.ErrStreamerBusy),
		errors.Is(err, market.ErrAlreadySubscribed),
		errors.Is(err, discrete.ErrAlreadyActive):
		return http.StatusConflict
	case errors.Is(err, live.ErrNotOwner),
		errors.Is(err, gifting.ErrSelfGift),
		errors.Is(err, ledger.ErrSelfAttribution),
		errors.Is(err, market.ErrOwnProduct),
		errors.Is(err, chat.ErrMessageRejected):
		return http.StatusForbidden
	case errors.Is(err, live.ErrTitleRequired),
		errors.Is(err, live.ErrCategoryRequired),
		errors.Is(err, live.ErrInvalidCategory),
		errors.Is(err, live.ErrInvalidGoal),
		errors.Is(err, live.ErrInvalidGift),
		errors.Is(err, catalog.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrMissingCreator),
		errors.Is(err, ledger.ErrBalanceOverflow),
		errors.Is(err, market.ErrInvalidProduct),
		errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrMessageTooLong):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		a.log.WithField("path", r.URL.Path).WithError(err).Error("request failed")
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}
