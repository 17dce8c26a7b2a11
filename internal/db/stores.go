package db

import (
	"github.com/susu3304/amanteslive/internal/account"
	"github.com/susu3304/amanteslive/internal/chat"
	"github.com/susu3304/amanteslive/internal/gifting"
	"github.com/susu3304/amanteslive/internal/ledger"
	"github.com/susu3304/amanteslive/internal/live"
	"github.com/susu3304/amanteslive/internal/market"
)

var (
	_ account.Store = (*DB)(nil)
	_ ledger.Store  = (*DB)(nil)
	_ live.Store    = (*DB)(nil)
	_ chat.Store    = (*DB)(nil)
	_ chat.Listener = (*DB)(nil)
	_ gifting.Store = (*DB)(nil)
	_ market.Store  = (*DB)(nil)
)
