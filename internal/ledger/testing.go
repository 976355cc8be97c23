package ledger

import "github.com/congo-pay/walletcore/internal/money"

// SeedBalance is a test helper that overwrites the balance of an account held
// by the in-memory store.
func SeedBalance(s Store, id string, amount money.Amount) {
	if mem, ok := s.(*inMemoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		if account, exists := mem.accounts[id]; exists {
			account.Balance = amount
			account.Version++
			mem.accounts[id] = account
		}
	}
}

// ForceConflicts makes the next n commits of an in-memory store fail with
// ErrConflict, emulating a store that keeps losing write races.
func ForceConflicts(s Store, n int) {
	if mem, ok := s.(*inMemoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.forcedConflicts = n
	}
}
