package payments

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/walletcore/internal/ledger"
	"github.com/congo-pay/walletcore/internal/logging"
	"github.com/congo-pay/walletcore/internal/lookup"
	"github.com/congo-pay/walletcore/internal/money"
	"github.com/congo-pay/walletcore/internal/notification"
)

type testNotifier struct {
	mu   sync.Mutex
	sent []notification.Message
	err  error
}

func (n *testNotifier) Send(_ context.Context, msg notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

// countingStore records every store access so tests can assert that
// validation failures never reach storage.
type countingStore struct {
	ledger.Store
	calls atomic.Int64
	units atomic.Int64
}

func (s *countingStore) GetAccount(ctx context.Context, id string) (ledger.Account, error) {
	s.calls.Add(1)
	return s.Store.GetAccount(ctx, id)
}

func (s *countingStore) GetAccountByHandle(ctx context.Context, handle string) (ledger.Account, error) {
	s.calls.Add(1)
	return s.Store.GetAccountByHandle(ctx, handle)
}

func (s *countingStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	s.calls.Add(1)
	s.units.Add(1)
	return s.Store.RunTransaction(ctx, fn)
}

type harness struct {
	store    *countingStore
	svc      *Service
	notifier *testNotifier
	ana      ledger.Account
	bob      ledger.Account
}

var fastRetry = RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

func newHarness(t *testing.T, anaBalance, bobBalance string) *harness {
	t.Helper()
	h := &harness{
		store:    &countingStore{Store: ledger.NewInMemory()},
		notifier: &testNotifier{},
		ana:      ledger.Account{ID: uuid.NewString(), Handle: "0991112222", DisplayName: "Ana Souza", Balance: mustAmount(t, anaBalance)},
		bob:      ledger.Account{ID: uuid.NewString(), Handle: "0993334444", DisplayName: "Bob Lima", Balance: mustAmount(t, bobBalance)},
	}
	for _, a := range []ledger.Account{h.ana, h.bob} {
		require.NoError(t, h.store.Store.CreateAccount(context.Background(), a))
	}
	h.svc = NewService(h.store, lookup.NewResolver(h.store), h.notifier, logging.Discard(), fastRetry)
	return h
}

func mustAmount(t *testing.T, s string) money.Amount {
	t.Helper()
	a, err := money.Parse(s)
	require.NoError(t, err)
	return a
}

func (h *harness) balance(t *testing.T, id string) money.Amount {
	t.Helper()
	a, err := h.store.Store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return a.Balance
}

func (h *harness) history(t *testing.T, id string) []ledger.Entry {
	t.Helper()
	entries, err := h.store.Store.History(context.Background(), id, ledger.HistoryQuery{Limit: ledger.MaxHistoryLimit})
	require.NoError(t, err)
	return entries
}

func TestTransferSuccess(t *testing.T) {
	h := newHarness(t, "100.00", "5.00")

	res, err := h.svc.Transfer(context.Background(), TransferInput{
		CallerAccountID: h.ana.ID,
		Recipient:       lookup.Ref{Handle: "099-333-4444"},
		Amount:          mustAmount(t, "40.00"),
		Memo:            "lunch",
	})
	require.NoError(t, err)

	assert.Equal(t, "60.00", res.SenderBalance.String())
	assert.Equal(t, "45.00", res.RecipientBalance.String())
	assert.Equal(t, "60.00", h.balance(t, h.ana.ID).String())
	assert.Equal(t, "45.00", h.balance(t, h.bob.ID).String())
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, h.bob.ID, res.Recipient.AccountID)

	debits := h.history(t, h.ana.ID)
	credits := h.history(t, h.bob.ID)
	require.Len(t, debits, 1)
	require.Len(t, credits, 1)

	debit, credit := debits[0], credits[0]
	assert.Equal(t, res.DebitEntryID, debit.ID)
	assert.Equal(t, res.CreditEntryID, credit.ID)
	assert.Equal(t, res.TransferID, debit.TransferID)
	assert.Equal(t, res.TransferID, credit.TransferID)
	assert.Equal(t, ledger.DirectionDebit, debit.Direction)
	assert.Equal(t, ledger.DirectionCredit, credit.Direction)
	assert.Equal(t, "40.00", debit.Amount.String())
	assert.Equal(t, "40.00", credit.Amount.String())
	assert.Equal(t, "Bob Lima", debit.CounterpartyLabel)
	assert.Equal(t, "Ana Souza", credit.CounterpartyLabel)
	assert.Equal(t, "lunch", credit.Memo)
	assert.Equal(t, ledger.EntryStatusCompleted, credit.Status)

	require.Len(t, h.notifier.sent, 2)
	assert.Equal(t, notification.KindTransferDebited, h.notifier.sent[0].Kind)
	assert.Equal(t, h.ana.ID, h.notifier.sent[0].Destination)
	assert.Equal(t, notification.KindTransferCredited, h.notifier.sent[1].Kind)
	assert.Equal(t, h.bob.ID, h.notifier.sent[1].Destination)
	assert.Equal(t, "45.00", h.notifier.sent[1].Balance)
}

func TestTransferInsufficientFunds(t *testing.T) {
	h := newHarness(t, "10.00", "0")

	_, err := h.svc.Transfer(context.Background(), TransferInput{
		CallerAccountID: h.ana.ID,
		Recipient:       lookup.Ref{Handle: h.bob.Handle},
		Amount:          mustAmount(t, "25.00"),
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	assert.Equal(t, "10.00", h.balance(t, h.ana.ID).String())
	assert.Equal(t, "0.00", h.balance(t, h.bob.ID).String())
	assert.Empty(t, h.history(t, h.ana.ID))
	assert.Empty(t, h.notifier.sent)
}

func TestTransferUnknownHandle(t *testing.T) {
	h := newHarness(t, "10.00", "0")

	_, err := h.svc.Transfer(context.Background(), TransferInput{
		CallerAccountID: h.ana.ID,
		Recipient:       lookup.Ref{Handle: "099-999-9999"},
		Amount:          mustAmount(t, "1.00"),
	})
	require.ErrorIs(t, err, ledger.ErrRecipientNotFound)
	assert.Zero(t, h.store.units.Load())
}

func TestTransferValidationRejectedBeforeStoreAccess(t *testing.T) {
	h := newHarness(t, "10.00", "0")
	long := make([]rune, ledger.MaxMemoLength+1)
	for i := range long {
		long[i] = 'é'
	}

	tests := []struct {
		name  string
		input TransferInput
		want  error
	}{
		{"zero amount", TransferInput{CallerAccountID: h.ana.ID, Recipient: lookup.Ref{Handle: h.bob.Handle}, Amount: 0}, ledger.ErrInvalidAmount},
		{"negative amount", TransferInput{CallerAccountID: h.ana.ID, Recipient: lookup.Ref{Handle: h.bob.Handle}, Amount: mustAmount(t, "-5.00")}, ledger.ErrInvalidAmount},
		{"memo too long", TransferInput{CallerAccountID: h.ana.ID, Recipient: lookup.Ref{Handle: h.bob.Handle}, Amount: 100, Memo: string(long)}, ledger.ErrMemoTooLong},
		{"no recipient", TransferInput{CallerAccountID: h.ana.ID, Amount: 100}, ledger.ErrInvalidRecipient},
		{"no caller", TransferInput{Recipient: lookup.Ref{Handle: h.bob.Handle}, Amount: 100}, ledger.ErrMissingCaller},
		{"bad payload", TransferInput{CallerAccountID: h.ana.ID, Recipient: lookup.Ref{Payload: []byte(`{"accountId":"nope"}`)}, Amount: 100}, ledger.ErrInvalidRecipientPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := h.store.calls.Load()
			_, err := h.svc.Transfer(context.Background(), tt.input)
			require.ErrorIs(t, err, tt.want)
			require.ErrorIs(t, err, ledger.ErrValidation)
			assert.Equal(t, before, h.store.calls.Load(), "store must not be touched")
		})
	}
}

func TestTransferMemoAtLimitIsAccepted(t *testing.T) {
	h := newHarness(t, "10.00", "0")
	memo := make([]rune, ledger.MaxMemoLength)
	for i := range memo {
		memo[i] = 'ñ'
	}
	_, err := h.svc.Transfer(context.Background(), TransferInput{
		CallerAccountID: h.ana.ID, Recipient: lookup.Ref{Handle: h.bob.Handle}, Amount: 100, Memo: string(memo),
	})
	require.NoError(t, err)
}

func TestTransferSelfRejected(t *testing.T) {
	h := newHarness(t, "10.00", "0")

	refs := map[string]lookup.Ref{
		"handle":     {Handle: h.ana.Handle},
		"account id": {AccountID: h.ana.ID, DisplayName: "Ana"},
		"payload":    {Payload: []byte(fmt.Sprintf(`{"accountId":%q,"displayName":"Ana"}`, h.ana.ID))},
	}
	for name, ref := range refs {
		t.Run(name, func(t *testing.T) {
			_, err := h.svc.Transfer(context.Background(), TransferInput{CallerAccountID: h.ana.ID, Recipient: ref, Amount: 100})
			require.ErrorIs(t, err, ledger.ErrSelfTransfer)
			require.ErrorIs(t, err, ledger.ErrValidation)
		})
	}
	assert.Zero(t, h.store.units.Load())
	assert.Equal(t, "10.00", h.balance(t, h.ana.ID).String())
	assert.Empty(t, h.history(t, h.ana.ID))
}

func TestTransferRacingRequestsNeverOverdraw(t *testing.T) {
	for round := 0; round < 20; round++ {
		h := newHarness(t, "100.00", "0")
		carl := ledger.Account{ID: uuid.NewString(), Handle: "0995556666", Balance: 0}
		require.NoError(t, h.store.Store.CreateAccount(context.Background(), carl))

		amount := mustAmount(t, "60.00")
		start := make(chan struct{})
		results := make([]error, 2)
		var wg sync.WaitGroup
		for i, handle := range []string{h.bob.Handle, carl.Handle} {
			wg.Add(1)
			go func(i int, handle string) {
				defer wg.Done()
				<-start
				_, results[i] = h.svc.Transfer(context.Background(), TransferInput{
					CallerAccountID: h.ana.ID,
					Recipient:       lookup.Ref{Handle: handle},
					Amount:          amount,
				})
			}(i, handle)
		}
		close(start)
		wg.Wait()

		var ok, insufficient int
		for _, err := range results {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ledger.ErrInsufficientFunds):
				insufficient++
			default:
				t.Fatalf("round %d: unexpected error %v", round, err)
			}
		}
		require.Equal(t, 1, ok, "round %d", round)
		require.Equal(t, 1, insufficient, "round %d", round)
		require.Equal(t, "40.00", h.balance(t, h.ana.ID).String())
		total := h.balance(t, h.bob.ID) + h.balance(t, carl.ID)
		require.Equal(t, "60.00", total.String())
	}
}

func TestTransferConservationAndPairingUnderLoad(t *testing.T) {
	store := ledger.NewInMemory()
	svc := NewService(store, lookup.NewResolver(store), nil, logging.Discard(),
		RetryPolicy{MaxAttempts: 50, BaseDelay: 100 * time.Microsecond, MaxDelay: 2 * time.Millisecond})

	const (
		accounts  = 4
		workers   = 8
		perWorker = 10
	)
	ids := make([]string, accounts)
	opening := make(map[string]money.Amount, accounts)
	var initial money.Amount
	for i := range ids {
		ids[i] = uuid.NewString()
		bal := money.FromMinor(int64(5_000 * (i + 1)))
		opening[ids[i]] = bal
		initial += bal
		require.NoError(t, store.CreateAccount(context.Background(), ledger.Account{ID: ids[i], Balance: bal}))
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		committed = make(map[string]money.Amount)
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for n := 0; n < perWorker; n++ {
				from := rng.Intn(accounts)
				to := (from + 1 + rng.Intn(accounts-1)) % accounts
				amount := money.FromMinor(int64(rng.Intn(3_000) + 1))
				res, err := svc.Transfer(context.Background(), TransferInput{
					CallerAccountID: ids[from],
					Recipient:       lookup.Ref{AccountID: ids[to], DisplayName: "peer"},
					Amount:          amount,
				})
				switch {
				case err == nil:
					mu.Lock()
					committed[res.TransferID] = amount
					mu.Unlock()
				case errors.Is(err, ledger.ErrInsufficientFunds), errors.Is(err, ledger.ErrRetryExhausted):
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}
		}(int64(w))
	}
	wg.Wait()

	var total money.Amount
	sides := make(map[string][]ledger.Entry)
	for _, id := range ids {
		account, err := store.GetAccount(context.Background(), id)
		require.NoError(t, err)
		require.GreaterOrEqual(t, int64(account.Balance), int64(0))
		total += account.Balance

		entries, err := store.History(context.Background(), id, ledger.HistoryQuery{Limit: ledger.MaxHistoryLimit})
		require.NoError(t, err)
		require.Less(t, len(entries), ledger.MaxHistoryLimit)
		var net money.Amount
		for _, e := range entries {
			net += e.Signed()
			sides[e.TransferID] = append(sides[e.TransferID], e)
		}
		assert.Equal(t, account.Balance-opening[id], net)
	}
	assert.Equal(t, initial, total)

	require.Len(t, sides, len(committed))
	for transferID, amount := range committed {
		entries := sides[transferID]
		require.Len(t, entries, 2, "transfer %s", transferID)
		assert.Equal(t, amount, entries[0].Amount)
		assert.Equal(t, amount, entries[1].Amount)
		assert.NotEqual(t, entries[0].Direction, entries[1].Direction)
	}
}

func TestTransferRetryExhaustedThenRetrySucceeds(t *testing.T) {
	h := newHarness(t, "100.00", "0")
	ledger.ForceConflicts(h.store.Store, fastRetry.MaxAttempts)

	input := TransferInput{CallerAccountID: h.ana.ID, Recipient: lookup.Ref{Handle: h.bob.Handle}, Amount: mustAmount(t, "30.00")}
	_, err := h.svc.Transfer(context.Background(), input)
	require.ErrorIs(t, err, ledger.ErrRetryExhausted)
	assert.Equal(t, int64(fastRetry.MaxAttempts), h.store.units.Load())
	assert.Equal(t, "100.00", h.balance(t, h.ana.ID).String())
	assert.Empty(t, h.history(t, h.ana.ID))
	assert.Empty(t, h.notifier.sent)

	res, err := h.svc.Transfer(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, "70.00", res.SenderBalance.String())
	assert.Len(t, h.history(t, h.ana.ID), 1)
	assert.Equal(t, "30.00", h.balance(t, h.bob.ID).String())
}

func TestTransferRetriesTransientConflicts(t *testing.T) {
	h := newHarness(t, "100.00", "0")
	ledger.ForceConflicts(h.store.Store, 2)

	res, err := h.svc.Transfer(context.Background(), TransferInput{
		CallerAccountID: h.ana.ID, Recipient: lookup.Ref{Handle: h.bob.Handle}, Amount: mustAmount(t, "1.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Len(t, h.history(t, h.bob.ID), 1)
}

func TestTransferCancelledContextStopsRetrying(t *testing.T) {
	h := newHarness(t, "100.00", "0")
	h.svc.retry = RetryPolicy{MaxAttempts: 100, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}
	ledger.ForceConflicts(h.store.Store, 100)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := h.svc.Transfer(ctx, TransferInput{
		CallerAccountID: h.ana.ID, Recipient: lookup.Ref{Handle: h.bob.Handle}, Amount: 100,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "100.00", h.balance(t, h.ana.ID).String())
}

func TestTransferNotificationFailureDoesNotChangeOutcome(t *testing.T) {
	h := newHarness(t, "100.00", "0")
	h.notifier.err = errors.New("broker down")

	res, err := h.svc.Transfer(context.Background(), TransferInput{
		CallerAccountID: h.ana.ID, Recipient: lookup.Ref{Handle: h.bob.Handle}, Amount: 100,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.TransferID)
	assert.Len(t, h.notifier.sent, 2)
}

func TestTransferCreditOverflowIsInvalidAmount(t *testing.T) {
	h := newHarness(t, "100.00", "0")
	ledger.SeedBalance(h.store.Store, h.bob.ID, money.FromMinor(math.MaxInt64))

	_, err := h.svc.Transfer(context.Background(), TransferInput{
		CallerAccountID: h.ana.ID, Recipient: lookup.Ref{Handle: h.bob.Handle}, Amount: 1,
	})
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)
	assert.Equal(t, "100.00", h.balance(t, h.ana.ID).String())
}

// vanishingStore hides one account inside atomic units, as if it had been
// removed after resolution.
type vanishingStore struct {
	ledger.Store
	hidden string
	units  atomic.Int64
}

type vanishingTx struct {
	ledger.Tx
	hidden string
}

func (t vanishingTx) GetAccount(ctx context.Context, id string) (ledger.Account, error) {
	if id == t.hidden {
		return ledger.Account{}, ledger.ErrAccountNotFound
	}
	return t.Tx.GetAccount(ctx, id)
}

func (s *vanishingStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	s.units.Add(1)
	return s.Store.RunTransaction(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return fn(ctx, vanishingTx{Tx: tx, hidden: s.hidden})
	})
}

func TestTransferAccountVanishedIsNotRetried(t *testing.T) {
	h := newHarness(t, "100.00", "0")
	store := &vanishingStore{Store: h.store.Store, hidden: h.bob.ID}
	svc := NewService(store, lookup.NewResolver(store), nil, logging.Discard(), fastRetry)

	_, err := svc.Transfer(context.Background(), TransferInput{
		CallerAccountID: h.ana.ID, Recipient: lookup.Ref{Handle: h.bob.Handle}, Amount: 100,
	})
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)
	assert.Equal(t, int64(1), store.units.Load())
	assert.Equal(t, "100.00", h.balance(t, h.ana.ID).String())
}
