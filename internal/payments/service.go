package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/congo-pay/walletcore/internal/ledger"
	"github.com/congo-pay/walletcore/internal/logging"
	"github.com/congo-pay/walletcore/internal/lookup"
	"github.com/congo-pay/walletcore/internal/money"
	"github.com/congo-pay/walletcore/internal/notification"
)

// FallbackSenderLabel is shown to a recipient when the sender has neither a
// display name nor a handle.
const FallbackSenderLabel = "Wallet user"

// RetryPolicy bounds how often a conflicting atomic unit is re-executed.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is used when no policy is configured.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 5, BaseDelay: 10 * time.Millisecond, MaxDelay: 250 * time.Millisecond}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOffContext {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultRetryPolicy.BaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay * 16
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.BaseDelay
	eb.MaxInterval = p.MaxDelay
	eb.MaxElapsedTime = 0
	eb.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1)), ctx)
}

// Service moves funds between two accounts as one atomic unit and records
// the paired ledger entries.
type Service struct {
	store    ledger.Store
	resolver *lookup.Resolver
	notifier notification.Notifier
	logger   *slog.Logger
	retry    RetryPolicy
}

// NewService constructs the transfer engine.
func NewService(store ledger.Store, resolver *lookup.Resolver, notifier notification.Notifier, logger *slog.Logger, retry RetryPolicy) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, resolver: resolver, notifier: notifier, logger: logger, retry: retry}
}

// TransferInput captures the data needed to move funds. The caller id comes
// from the authenticated session, never from the request body.
type TransferInput struct {
	CallerAccountID string
	Recipient       lookup.Ref
	Amount          money.Amount
	Memo            string
}

// TransferResult describes the committed outcome of a transfer.
type TransferResult struct {
	TransferID       string
	SenderBalance    money.Amount
	RecipientBalance money.Amount
	DebitEntryID     string
	CreditEntryID    string
	Recipient        lookup.Recipient
	Attempts         int
	CompletedAt      time.Time
}

// plan is everything an attempt needs; it is fixed before the first attempt
// so every retry writes the same ids.
type plan struct {
	transferID    string
	debitEntryID  string
	creditEntryID string
	senderID      string
	recipient     lookup.Recipient
	amount        money.Amount
	memo          string
}

// Validate checks the input without touching storage.
func (in TransferInput) Validate() error {
	if in.CallerAccountID == "" {
		return ledger.ErrMissingCaller
	}
	if !in.Amount.IsPositive() {
		return ledger.ErrInvalidAmount
	}
	if utf8.RuneCountInString(in.Memo) > ledger.MaxMemoLength {
		return ledger.ErrMemoTooLong
	}
	return in.Recipient.Check()
}

// Transfer validates, resolves and executes a transfer. Conflicting attempts
// are retried with exponential backoff; once the budget is spent it returns
// ErrRetryExhausted and nothing was written.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (TransferResult, error) {
	log := logging.FromContextOr(ctx, s.logger).With("caller", input.CallerAccountID, "amount", input.Amount.String())
	state := StateValidating
	log.DebugContext(ctx, "transfer state", "state", state)

	if err := input.Validate(); err != nil {
		return s.abort(ctx, log, state, err)
	}
	recipient, err := s.resolver.Resolve(ctx, input.CallerAccountID, input.Recipient)
	if err != nil {
		return s.abort(ctx, log, state, err)
	}

	p := plan{
		transferID:    uuid.NewString(),
		debitEntryID:  uuid.NewString(),
		creditEntryID: uuid.NewString(),
		senderID:      input.CallerAccountID,
		recipient:     recipient,
		amount:        input.Amount,
		memo:          input.Memo,
	}
	log = log.With("transfer_id", p.transferID, "recipient", recipient.AccountID)

	state = StateExecuting
	log.DebugContext(ctx, "transfer state", "state", state)

	var (
		result   TransferResult
		attempts int
	)
	operation := func() error {
		attempts++
		err := s.store.RunTransaction(ctx, func(ctx context.Context, tx ledger.Tx) error {
			var err error
			result, err = execute(ctx, tx, p)
			return err
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ledger.ErrConflict):
			return err
		default:
			return backoff.Permanent(err)
		}
	}
	onRetry := func(err error, wait time.Duration) {
		log.DebugContext(ctx, "transfer conflicted, retrying", "attempt", attempts, "wait", wait, "error", err)
	}

	if err := backoff.RetryNotify(operation, s.retry.backOff(ctx), onRetry); err != nil {
		if errors.Is(err, ledger.ErrConflict) {
			err = fmt.Errorf("%w after %d attempts", ledger.ErrRetryExhausted, attempts)
		}
		return s.abort(ctx, log.With("attempts", attempts), state, err)
	}

	state = StateCommitted
	result.Attempts = attempts
	result.CompletedAt = time.Now().UTC()
	log.InfoContext(ctx, "transfer committed", "state", state, "attempts", attempts,
		"sender_balance", result.SenderBalance.String())

	s.notify(ctx, log, p, result)
	return result, nil
}

func (s *Service) abort(ctx context.Context, log *slog.Logger, from State, err error) (TransferResult, error) {
	level := slog.LevelWarn
	if !isExpected(err) {
		level = slog.LevelError
	}
	log.Log(ctx, level, "transfer aborted", "state", StateAborted, "from", from, "error", err)
	return TransferResult{}, err
}

func isExpected(err error) bool {
	return errors.Is(err, ledger.ErrValidation) ||
		errors.Is(err, ledger.ErrInsufficientFunds) ||
		errors.Is(err, ledger.ErrRecipientNotFound) ||
		errors.Is(err, ledger.ErrRetryExhausted) ||
		errors.Is(err, context.Canceled)
}

// execute is the atomic unit. It depends only on what it reads through tx,
// so re-running it after a conflict is safe.
func execute(ctx context.Context, tx ledger.Tx, p plan) (TransferResult, error) {
	first, second := p.senderID, p.recipient.AccountID
	if second < first {
		first, second = second, first
	}
	accounts := make(map[string]ledger.Account, 2)
	for _, id := range []string{first, second} {
		account, err := tx.GetAccount(ctx, id)
		if err != nil {
			return TransferResult{}, err
		}
		accounts[id] = account
	}
	sender, recipient := accounts[p.senderID], accounts[p.recipient.AccountID]

	if sender.Balance < p.amount {
		return TransferResult{}, ledger.ErrInsufficientFunds
	}
	senderBalance, err := sender.Balance.Sub(p.amount)
	if err != nil {
		return TransferResult{}, ledger.ErrInvalidAmount
	}
	recipientBalance, err := recipient.Balance.Add(p.amount)
	if err != nil {
		return TransferResult{}, ledger.ErrInvalidAmount
	}
	if senderBalance < 0 || recipientBalance < 0 {
		return TransferResult{}, ledger.ErrInsufficientFunds
	}

	if err := tx.UpdateBalance(ctx, sender.ID, senderBalance); err != nil {
		return TransferResult{}, err
	}
	if err := tx.UpdateBalance(ctx, recipient.ID, recipientBalance); err != nil {
		return TransferResult{}, err
	}

	recipientLabel := p.recipient.DisplayName
	if recipientLabel == "" {
		recipientLabel = recipient.Label()
	}
	senderLabel := sender.Label()
	if senderLabel == "" {
		senderLabel = FallbackSenderLabel
	}
	if err := tx.AppendEntry(ctx, ledger.Entry{
		ID:                p.debitEntryID,
		TransferID:        p.transferID,
		AccountID:         sender.ID,
		Direction:         ledger.DirectionDebit,
		Amount:            p.amount,
		CounterpartyID:    recipient.ID,
		CounterpartyLabel: recipientLabel,
		Memo:              p.memo,
		Status:            ledger.EntryStatusCompleted,
	}); err != nil {
		return TransferResult{}, err
	}
	if err := tx.AppendEntry(ctx, ledger.Entry{
		ID:                p.creditEntryID,
		TransferID:        p.transferID,
		AccountID:         recipient.ID,
		Direction:         ledger.DirectionCredit,
		Amount:            p.amount,
		CounterpartyID:    sender.ID,
		CounterpartyLabel: senderLabel,
		Memo:              p.memo,
		Status:            ledger.EntryStatusCompleted,
	}); err != nil {
		return TransferResult{}, err
	}

	return TransferResult{
		TransferID:       p.transferID,
		SenderBalance:    senderBalance,
		RecipientBalance: recipientBalance,
		DebitEntryID:     p.debitEntryID,
		CreditEntryID:    p.creditEntryID,
		Recipient:        lookup.Recipient{AccountID: recipient.ID, DisplayName: recipientLabel},
	}, nil
}

// notify runs after commit; failures are logged and never change the outcome.
func (s *Service) notify(ctx context.Context, log *slog.Logger, p plan, res TransferResult) {
	if s.notifier == nil {
		return
	}
	messages := []notification.Message{
		{
			Kind:              notification.KindTransferDebited,
			Destination:       p.senderID,
			TransferID:        p.transferID,
			EntryID:           p.debitEntryID,
			Amount:            p.amount.String(),
			Balance:           res.SenderBalance.String(),
			CounterpartyLabel: res.Recipient.DisplayName,
			Body:              fmt.Sprintf("You sent %s to %s", p.amount, res.Recipient.DisplayName),
			At:                res.CompletedAt,
		},
		{
			Kind:        notification.KindTransferCredited,
			Destination: p.recipient.AccountID,
			TransferID:  p.transferID,
			EntryID:     p.creditEntryID,
			Amount:      p.amount.String(),
			Balance:     res.RecipientBalance.String(),
			Body:        fmt.Sprintf("You received %s", p.amount),
			At:          res.CompletedAt,
		},
	}
	for _, msg := range messages {
		if err := s.notifier.Send(ctx, msg); err != nil {
			log.WarnContext(ctx, "notification failed", "kind", msg.Kind, "error", err)
		}
	}
}
