package ledger

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/congo-pay/walletcore/internal/money"
)

//go:embed schema.sql
var schemaSQL string

const (
	accountColumns = `id, handle, display_name, balance, version, created_at`
	entryColumns   = `seq, id, transfer_id, account_id, direction, amount, counterparty_id,
        counterparty_label, memo, status, created_at`
)

// Postgres SQLSTATE codes the store translates into ledger errors.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeCheckViolation       = "23514"
	codeUniqueViolation      = "23505"
)

type scanner interface {
	Scan(dest ...any) error
}

// Migrate applies the embedded schema. Statements are idempotent.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply ledger schema: %w", classify(err))
	}
	return nil
}

// PostgresLedger persists accounts and ledger entries in PostgreSQL. Every
// atomic unit runs in a SERIALIZABLE transaction with row locks on the
// accounts it touches.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgres constructs a Postgres-backed store.
func NewPostgres(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// CreateAccount inserts an onboarded account.
func (l *PostgresLedger) CreateAccount(ctx context.Context, account Account) error {
	id, err := uuid.Parse(account.ID)
	if err != nil {
		return fmt.Errorf("create account: %w", ErrInvalidRecipient)
	}
	if account.Balance < 0 {
		return fmt.Errorf("create account: %w", ErrInvalidAmount)
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	var handle *string
	if account.Handle != "" {
		handle = &account.Handle
	}
	_, err = l.db.Exec(ctx, `INSERT INTO accounts (id, handle, display_name, balance, version, created_at)
        VALUES ($1, $2, $3, $4, 1, $5)`, id, handle, account.DisplayName, account.Balance.Minor(), account.CreatedAt.UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
			if pgErr.ConstraintName == "accounts_handle_key" {
				return ErrHandleTaken
			}
			return ErrAccountExists
		}
		return fmt.Errorf("create account: %w", classify(err))
	}
	return nil
}

// GetAccount fetches an account by id outside of any atomic unit.
func (l *PostgresLedger) GetAccount(ctx context.Context, id string) (Account, error) {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return Account{}, ErrAccountNotFound
	}
	row := l.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)
	account, err := scanAccount(row)
	if err != nil {
		return Account{}, fmt.Errorf("get account: %w", classify(err))
	}
	return account, nil
}

// GetAccountByHandle looks an account up by its normalized handle. More than
// one match means the handle index is inconsistent and yields
// ErrHandleAmbiguous.
func (l *PostgresLedger) GetAccountByHandle(ctx context.Context, handle string) (Account, error) {
	if handle == "" {
		return Account{}, ErrAccountNotFound
	}
	rows, err := l.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE handle = $1 LIMIT 2`, handle)
	if err != nil {
		return Account{}, fmt.Errorf("get account by handle: %w", classify(err))
	}
	defer rows.Close()

	var matches []Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return Account{}, fmt.Errorf("get account by handle: scan: %w", classify(err))
		}
		matches = append(matches, account)
	}
	if err := rows.Err(); err != nil {
		return Account{}, fmt.Errorf("get account by handle: %w", classify(err))
	}
	switch len(matches) {
	case 0:
		return Account{}, ErrAccountNotFound
	case 1:
		return matches[0], nil
	default:
		return Account{}, fmt.Errorf("get account by handle %s: %w", handle, ErrHandleAmbiguous)
	}
}

// RunTransaction executes fn inside one SERIALIZABLE transaction.
func (l *PostgresLedger) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin: %w", classify(err))
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", classify(err))
	}
	return nil
}

// History returns the newest entries of an account first.
func (l *PostgresLedger) History(ctx context.Context, accountID string, q HistoryQuery) ([]Entry, error) {
	q = q.Normalize()
	if _, err := l.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}

	var before *time.Time
	if !q.Before.IsZero() {
		b := q.Before.At.UTC()
		before = &b
	}
	rows, err := l.db.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries
        WHERE account_id = $1 AND ($2::timestamptz IS NULL OR (created_at, seq) < ($2::timestamptz, $3::bigint))
        ORDER BY created_at DESC, seq DESC
        LIMIT $4`, uuid.MustParse(accountID), before, q.Before.Seq, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("history: %w", classify(err))
	}
	defer rows.Close()

	entries := make([]Entry, 0, q.Limit)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("history: scan: %w", classify(err))
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: %w", classify(err))
	}
	return entries, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) GetAccount(ctx context.Context, id string) (Account, error) {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return Account{}, ErrAccountNotFound
	}
	row := t.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, accountID)
	account, err := scanAccount(row)
	if err != nil {
		return Account{}, classify(err)
	}
	return account, nil
}

func (t *pgTx) UpdateBalance(ctx context.Context, id string, balance money.Amount) error {
	if balance < 0 {
		return ErrInsufficientFunds
	}
	accountID, err := uuid.Parse(id)
	if err != nil {
		return ErrAccountNotFound
	}
	cmd, err := t.tx.Exec(ctx, `UPDATE accounts SET balance = $1, version = version + 1 WHERE id = $2`, balance.Minor(), accountID)
	if err != nil {
		return classify(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (t *pgTx) AppendEntry(ctx context.Context, entry Entry) error {
	if !entry.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	ids := make([]uuid.UUID, 4)
	for i, raw := range []string{entry.ID, entry.TransferID, entry.AccountID, entry.CounterpartyID} {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("append entry: invalid id %q: %w", raw, err)
		}
		ids[i] = parsed
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO ledger_entries
        (id, transfer_id, account_id, direction, amount, counterparty_id, counterparty_label, memo, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ids[0], ids[1], ids[2], string(entry.Direction), entry.Amount.Minor(), ids[3],
		entry.CounterpartyLabel, entry.Memo, string(entry.Status))
	if err != nil {
		return classify(err)
	}
	return nil
}

func scanAccount(s scanner) (Account, error) {
	var (
		id      uuid.UUID
		handle  *string
		balance int64
		account Account
	)
	if err := s.Scan(&id, &handle, &account.DisplayName, &balance, &account.Version, &account.CreatedAt); err != nil {
		return Account{}, err
	}
	account.ID = id.String()
	if handle != nil {
		account.Handle = *handle
	}
	account.Balance = money.FromMinor(balance)
	account.CreatedAt = account.CreatedAt.UTC()
	return account, nil
}

func scanEntry(s scanner) (Entry, error) {
	var (
		id, transferID, accountID, counterpartyID uuid.UUID
		direction, status                         string
		amount                                    int64
		entry                                     Entry
	)
	if err := s.Scan(&entry.Seq, &id, &transferID, &accountID, &direction, &amount, &counterpartyID,
		&entry.CounterpartyLabel, &entry.Memo, &status, &entry.CreatedAt); err != nil {
		return Entry{}, err
	}
	entry.ID = id.String()
	entry.TransferID = transferID.String()
	entry.AccountID = accountID.String()
	entry.CounterpartyID = counterpartyID.String()
	entry.Direction = Direction(direction)
	entry.Status = EntryStatus(status)
	entry.Amount = money.FromMinor(amount)
	entry.CreatedAt = entry.CreatedAt.UTC()
	return entry, nil
}

// classify maps driver errors onto ledger errors. Errors that are already
// ledger errors, and errors it does not recognize, pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrAccountNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
		case codeCheckViolation:
			if pgErr.ConstraintName == "accounts_balance_check" {
				return ErrInsufficientFunds
			}
		}
		return err
	}

	var connectErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connectErr) || errors.As(err, &netErr) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}
