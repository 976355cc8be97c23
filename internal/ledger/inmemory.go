package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/congo-pay/walletcore/internal/money"
)

// inMemoryLedger is an optimistic-concurrency store: units run without holding
// the store lock and are validated against the versions they read at commit.
type inMemoryLedger struct {
	mu        sync.RWMutex
	accounts  map[string]Account
	handles   map[string]string
	entries   map[string][]Entry
	lastStamp time.Time
	lastSeq   int64
	now       func() time.Time

	// forcedConflicts makes the next n commits fail with ErrConflict (tests).
	forcedConflicts int
}

// NewInMemory creates a concurrency-safe in-memory store useful for unit tests
// and local development.
func NewInMemory() Store {
	return &inMemoryLedger{
		accounts: make(map[string]Account),
		handles:  make(map[string]string),
		entries:  make(map[string][]Entry),
		now:      time.Now,
	}
}

func (l *inMemoryLedger) CreateAccount(_ context.Context, account Account) error {
	if account.ID == "" {
		return fmt.Errorf("create account: %w", ErrInvalidRecipient)
	}
	if account.Balance < 0 {
		return fmt.Errorf("create account: %w", ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.accounts[account.ID]; exists {
		return ErrAccountExists
	}
	if account.Handle != "" {
		if _, taken := l.handles[account.Handle]; taken {
			return ErrHandleTaken
		}
		l.handles[account.Handle] = account.ID
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = l.now().UTC()
	}
	account.Version = 1
	l.accounts[account.ID] = account
	return nil
}

func (l *inMemoryLedger) GetAccount(_ context.Context, id string) (Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	account, ok := l.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (l *inMemoryLedger) GetAccountByHandle(_ context.Context, handle string) (Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.handles[handle]
	if !ok || handle == "" {
		return Account{}, ErrAccountNotFound
	}
	return l.accounts[id], nil
}

func (l *inMemoryLedger) History(_ context.Context, accountID string, q HistoryQuery) ([]Entry, error) {
	q = q.Normalize()

	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.accounts[accountID]; !ok {
		return nil, ErrAccountNotFound
	}
	all := l.entries[accountID]
	out := make([]Entry, 0, min(q.Limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < q.Limit; i-- {
		if !q.Before.IsZero() && !q.Before.Older(all[i]) {
			continue
		}
		out = append(out, all[i])
	}
	return out, nil
}

func (l *inMemoryLedger) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx := &memTx{
		store:    l,
		reads:    make(map[string]Account),
		balances: make(map[string]money.Amount),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.commit(tx)
}

func (l *inMemoryLedger) commit(tx *memTx) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.forcedConflicts > 0 {
		l.forcedConflicts--
		return ErrConflict
	}

	for id, seen := range tx.reads {
		current, ok := l.accounts[id]
		if !ok {
			return ErrAccountNotFound
		}
		if current.Version != seen.Version {
			return ErrConflict
		}
	}
	for _, balance := range tx.balances {
		if balance < 0 {
			return ErrInsufficientFunds
		}
	}

	for id, balance := range tx.balances {
		account := l.accounts[id]
		account.Balance = balance
		account.Version++
		l.accounts[id] = account
	}
	for _, entry := range tx.entries {
		entry.CreatedAt = l.nextStamp()
		l.lastSeq++
		entry.Seq = l.lastSeq
		l.entries[entry.AccountID] = append(l.entries[entry.AccountID], entry)
	}
	return nil
}

// nextStamp returns a commit timestamp strictly after every previous one.
// Callers hold l.mu.
func (l *inMemoryLedger) nextStamp() time.Time {
	stamp := l.now().UTC()
	if !stamp.After(l.lastStamp) {
		stamp = l.lastStamp.Add(time.Microsecond)
	}
	l.lastStamp = stamp
	return stamp
}

type memTx struct {
	store    *inMemoryLedger
	reads    map[string]Account
	balances map[string]money.Amount
	entries  []Entry
}

func (t *memTx) GetAccount(_ context.Context, id string) (Account, error) {
	account, seen := t.reads[id]
	if !seen {
		var err error
		account, err = t.store.GetAccount(context.Background(), id)
		if err != nil {
			return Account{}, err
		}
		t.reads[id] = account
	}
	if balance, written := t.balances[id]; written {
		account.Balance = balance
	}
	return account, nil
}

func (t *memTx) UpdateBalance(_ context.Context, id string, balance money.Amount) error {
	if _, seen := t.reads[id]; !seen {
		return fmt.Errorf("update balance of %s: account not read in this unit", id)
	}
	if balance < 0 {
		return ErrInsufficientFunds
	}
	t.balances[id] = balance
	return nil
}

func (t *memTx) AppendEntry(_ context.Context, entry Entry) error {
	if _, seen := t.reads[entry.AccountID]; !seen {
		return fmt.Errorf("append entry for %s: account not read in this unit", entry.AccountID)
	}
	if !entry.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	t.entries = append(t.entries, entry)
	return nil
}
