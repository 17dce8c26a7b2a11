// Package commission splits gross CRISEX amounts between creator and platform.
package commission

import (
	"errors"

	"github.com/shopspring/decimal"
)

// CreatorRate is the creator's share of every monetized transaction.
var CreatorRate = decimal.RequireFromString("0.70")

var ErrNegativeAmount = errors.New("commission: negative amount")

type Split struct {
	Gross         int64 `json:"gross_amount"`
	CreatorShare  int64 `json:"creator_share"`
	PlatformShare int64 `json:"platform_share"`
}

// Apply computes floor(gross*0.70) for the creator and gives the remainder to the platform.
func Apply(gross int64) (Split, error) {
	if gross < 0 {
		return Split{}, ErrNegativeAmount
	}
	creator := decimal.NewFromInt(gross).Mul(CreatorRate).Floor().IntPart()
	return Split{
		Gross:         gross,
		CreatorShare:  creator,
		PlatformShare: gross - creator,
	}, nil
}

// MustApply is Apply for amounts already validated as non-negative.
func MustApply(gross int64) Split {
	s, err := Apply(gross)
	if err != nil {
		panic(err)
	}
	return s
}
