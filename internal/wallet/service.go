package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/congo-pay/walletcore/internal/ledger"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Service exposes the read surfaces of an account plus the onboarding helper.
type Service struct {
	store   ledger.Store
	cache   BalanceCache
	logger  *slog.Logger
	maxPage int
	now     func() time.Time
}

// NewService builds a wallet service instance. cache may be nil.
func NewService(store ledger.Store, cache BalanceCache, logger *slog.Logger, maxPage int) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if maxPage <= 0 || maxPage > ledger.MaxHistoryLimit {
		maxPage = ledger.MaxHistoryLimit
	}
	return &Service{store: store, cache: cache, logger: logger, maxPage: maxPage, now: time.Now}
}

// Balance returns the current balance. When the store is unavailable it
// falls back to the last-known cached value, flagged as stale.
func (s *Service) Balance(ctx context.Context, accountID string) (Balance, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err == nil {
		b := Balance{AccountID: account.ID, Amount: account.Balance, AsOf: s.now().UTC()}
		if s.cache != nil {
			if cerr := s.cache.Put(ctx, b); cerr != nil {
				s.logger.WarnContext(ctx, "balance cache write failed", "account_id", accountID, "error", cerr)
			}
		}
		return b, nil
	}
	if !errors.Is(err, ledger.ErrStoreUnavailable) || s.cache == nil {
		return Balance{}, err
	}

	cached, ok, cerr := s.cache.Get(ctx, accountID)
	if cerr != nil {
		s.logger.WarnContext(ctx, "balance cache read failed", "account_id", accountID, "error", cerr)
	}
	if !ok {
		return Balance{}, err
	}
	s.logger.InfoContext(ctx, "serving stale balance", "account_id", accountID, "as_of", cached.AsOf)
	cached.Stale = true
	return cached, nil
}

// History returns up to pageSize entries, most recent first, strictly older
// than before when it is set.
func (s *Service) History(ctx context.Context, accountID string, pageSize int, before ledger.Cursor) ([]ledger.Entry, error) {
	if pageSize > s.maxPage {
		pageSize = s.maxPage
	}
	return s.store.History(ctx, accountID, ledger.HistoryQuery{Limit: pageSize, Before: before})
}

// Open onboards a new account holder. Production onboarding belongs to the
// registration service; this exists for seeding and local development.
func (s *Service) Open(ctx context.Context, input OpenInput) (ledger.Account, error) {
	input.DisplayName = strings.TrimSpace(input.DisplayName)
	if err := validate.Struct(input); err != nil {
		return ledger.Account{}, fmt.Errorf("%w: %v", ledger.ErrInvalidAccount, err)
	}
	handle := ledger.NormalizeHandle(input.Phone)
	if handle == "" {
		return ledger.Account{}, fmt.Errorf("%w: phone has no digits", ledger.ErrInvalidAccount)
	}

	balance := DefaultInitialBalance
	if input.InitialBalance != nil {
		balance = *input.InitialBalance
	}
	if balance < 0 {
		return ledger.Account{}, ledger.ErrInvalidAmount
	}

	account := ledger.Account{
		ID:          uuid.NewString(),
		Handle:      handle,
		DisplayName: input.DisplayName,
		Balance:     balance,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return ledger.Account{}, err
	}
	account.Version = 1
	s.logger.InfoContext(ctx, "account opened", "account_id", account.ID, "balance", balance.String())
	return account, nil
}
