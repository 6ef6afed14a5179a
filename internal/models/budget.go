package models

import (
	"time"

	"github.com/market-sync/internal/types"
)

// BudgetWindow is the per-provider, per-hour rate allowance row.
// A fresh row is created lazily when the hour rolls over; tokens never
// carry across windows.
type BudgetWindow struct {
	Provider    types.Provider `json:"provider" db:"provider"`
	WindowStart time.Time      `json:"windowStart" db:"window_start"`
	RateLimit   int            `json:"rateLimit" db:"rate_limit"`
	Used        int            `json:"used" db:"used"`
}

// Remaining returns the tokens left in the window.
func (b *BudgetWindow) Remaining() int {
	remaining := b.RateLimit - b.Used
	if remaining < 0 {
		return 0
	}
	return remaining
}
