package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/congo-pay/walletcore/internal/money"
)

// Direction tells which side of a transfer an entry records.
type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

// EntryStatus is the settlement state of a ledger entry. The transfer engine
// only ever writes EntryStatusCompleted; the other states belong to
// asynchronous settlement flows.
type EntryStatus string

const (
	EntryStatusCompleted EntryStatus = "completed"
	EntryStatusPending   EntryStatus = "pending"
	EntryStatusFailed    EntryStatus = "failed"
)

const (
	// MaxMemoLength bounds the free-text note stored on entries, in runes.
	MaxMemoLength = 140
	// DefaultHistoryLimit is used when a history query does not set a page size.
	DefaultHistoryLimit = 20
	// MaxHistoryLimit caps a single history page.
	MaxHistoryLimit = 100
)

// Account is the balance record of one account holder.
type Account struct {
	ID          string
	Handle      string
	DisplayName string
	Balance     money.Amount
	Version     int64
	CreatedAt   time.Time
}

// Label is the text other parties see for this account in their history.
func (a Account) Label() string {
	if name := strings.TrimSpace(a.DisplayName); name != "" {
		return name
	}
	return a.Handle
}

// Entry is one side of a completed transfer, recorded against one account.
type Entry struct {
	ID                string
	TransferID        string
	AccountID         string
	Direction         Direction
	Amount            money.Amount
	CounterpartyID    string
	CounterpartyLabel string
	Memo              string
	Status            EntryStatus
	CreatedAt         time.Time
	// Seq is assigned by the store in insertion order and breaks CreatedAt ties.
	Seq int64
}

// Signed returns the entry amount with the sign it has on the owner's balance.
func (e Entry) Signed() money.Amount {
	if e.Direction == DirectionDebit {
		return -e.Amount
	}
	return e.Amount
}

const cursorSep = "~"

// Cursor is a keyset position in an account's history. Entries are ordered by
// (CreatedAt, Seq) descending.
type Cursor struct {
	At  time.Time
	Seq int64
}

// CursorOf returns the position of e.
func CursorOf(e Entry) Cursor { return Cursor{At: e.CreatedAt, Seq: e.Seq} }

// IsZero reports whether the cursor is unset.
func (c Cursor) IsZero() bool { return c.At.IsZero() }

// Older reports whether e sorts strictly after c in newest-first order.
func (c Cursor) Older(e Entry) bool {
	if e.CreatedAt.Equal(c.At) {
		return e.Seq < c.Seq
	}
	return e.CreatedAt.Before(c.At)
}

// String encodes the cursor as "<RFC 3339 timestamp>~<seq>".
func (c Cursor) String() string {
	return c.At.UTC().Format(time.RFC3339Nano) + cursorSep + strconv.FormatInt(c.Seq, 10)
}

// ParseCursor decodes a cursor produced by Cursor.String. A bare RFC 3339
// timestamp selects entries strictly older than it.
func ParseCursor(raw string) (Cursor, error) {
	stamp, seq, hasSeq := strings.Cut(raw, cursorSep)
	at, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	c := Cursor{At: at.UTC()}
	if hasSeq {
		c.Seq, err = strconv.ParseInt(seq, 10, 64)
		if err != nil || c.Seq < 0 {
			return Cursor{}, ErrInvalidCursor
		}
	}
	return c, nil
}

// HistoryQuery selects a page of entries, most recent first.
type HistoryQuery struct {
	Limit int
	// Before, when set, restricts the page to entries strictly older than it.
	Before Cursor
}

// Normalize clamps the page size into [1, MaxHistoryLimit].
func (q HistoryQuery) Normalize() HistoryQuery {
	switch {
	case q.Limit <= 0:
		q.Limit = DefaultHistoryLimit
	case q.Limit > MaxHistoryLimit:
		q.Limit = MaxHistoryLimit
	}
	return q
}

// Tx is the view of the store available inside one atomic unit. Reads observe
// the state the unit will be validated against; writes become visible only
// when the unit commits.
type Tx interface {
	GetAccount(ctx context.Context, id string) (Account, error)
	UpdateBalance(ctx context.Context, id string, balance money.Amount) error
	AppendEntry(ctx context.Context, entry Entry) error
}

// Store is the contract implemented by account + ledger backends (in-memory,
// Postgres).
type Store interface {
	CreateAccount(ctx context.Context, account Account) error
	GetAccount(ctx context.Context, id string) (Account, error)
	GetAccountByHandle(ctx context.Context, handle string) (Account, error)
	// RunTransaction executes fn as one atomic unit, exactly once. It returns
	// ErrConflict when the unit lost a write race; retrying is up to the caller.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	History(ctx context.Context, accountID string, q HistoryQuery) ([]Entry, error)
}

// NormalizeHandle strips everything but digits from a phone-style handle.
func NormalizeHandle(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
