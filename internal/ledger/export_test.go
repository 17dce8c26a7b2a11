package ledger

import "time"

func (m *Manager) SetRefundBackoff(d time.Duration) { m.refundBackoff = d }
