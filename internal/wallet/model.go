package wallet

import (
	"time"

	"github.com/congo-pay/walletcore/internal/money"
)

// DefaultInitialBalance is credited to accounts opened without an explicit
// starting balance.
const DefaultInitialBalance = money.Amount(1_000_000)

// Balance is the displayed balance of an account. Stale is set when the
// store was unreachable and the value comes from the last-known cache.
type Balance struct {
	AccountID string       `json:"account_id"`
	Amount    money.Amount `json:"balance"`
	AsOf      time.Time    `json:"as_of"`
	Stale     bool         `json:"stale"`
}

// OpenInput captures the details of a newly onboarded account holder.
type OpenInput struct {
	DisplayName    string        `validate:"required,max=80"`
	Phone          string        `validate:"required"`
	InitialBalance *money.Amount `validate:"omitempty"`
}
