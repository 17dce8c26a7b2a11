package memory

import (
	"github.com/susu3304/amanteslive/internal/account"
	"github.com/susu3304/amanteslive/internal/chat"
	"github.com/susu3304/amanteslive/internal/gifting"
	"github.com/susu3304/amanteslive/internal/ledger"
	"github.com/susu3304/amanteslive/internal/live"
	"github.com/susu3304/amanteslive/internal/market"
)

var (
	_ account.Store = (*Store)(nil)
	_ ledger.Store  = (*Store)(nil)
	_ live.Store    = (*Store)(nil)
	_ chat.Store    = (*Store)(nil)
	_ gifting.Store = (*Store)(nil)
	_ market.Store  = (*Store)(nil)
)
