package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/congo-pay/walletcore/internal/ledger"
)

// MaxDisplayNameLength bounds the display name carried by a scanned payload.
const MaxDisplayNameLength = 80

var validate = validator.New(validator.WithRequiredStructEnabled())

// AccountReader is the read-only slice of the account store the resolver needs.
type AccountReader interface {
	GetAccount(ctx context.Context, id string) (ledger.Account, error)
	GetAccountByHandle(ctx context.Context, handle string) (ledger.Account, error)
}

// Ref names a recipient in exactly one of three ways: a typed phone-style
// handle, raw bytes from a scanned code, or an already decoded account id.
type Ref struct {
	Handle      string
	Payload     []byte
	AccountID   string
	DisplayName string
}

// Payload is the structure encoded in a scanned recipient code.
type Payload struct {
	AccountID   string `json:"accountId" validate:"required,uuid"`
	DisplayName string `json:"displayName" validate:"required,max=80"`
}

// Recipient is a resolved, existing account other than the caller.
type Recipient struct {
	AccountID   string
	DisplayName string
}

// Check verifies the shape of the reference without touching storage.
func (r Ref) Check() error {
	forms := 0
	if strings.TrimSpace(r.Handle) != "" {
		forms++
	}
	if len(r.Payload) > 0 {
		forms++
	}
	if r.AccountID != "" {
		forms++
	}
	if forms != 1 {
		return ledger.ErrInvalidRecipient
	}
	if r.Handle != "" && ledger.NormalizeHandle(r.Handle) == "" {
		return ledger.ErrInvalidRecipient
	}
	if r.AccountID != "" {
		if err := validate.Struct(Payload{AccountID: r.AccountID, DisplayName: r.DisplayName}); err != nil {
			return fmt.Errorf("%w: %s", ledger.ErrInvalidRecipientPayload, describe(err))
		}
	}
	return nil
}

// DecodePayload parses and validates scanned code bytes.
func DecodePayload(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("%w: not a recipient code", ledger.ErrInvalidRecipientPayload)
	}
	p.DisplayName = strings.TrimSpace(p.DisplayName)
	if err := validate.Struct(p); err != nil {
		return Payload{}, fmt.Errorf("%w: %s", ledger.ErrInvalidRecipientPayload, describe(err))
	}
	return p, nil
}

// Resolver maps recipient references onto accounts.
type Resolver struct {
	accounts AccountReader
}

// NewResolver builds a resolver over the given account store.
func NewResolver(accounts AccountReader) *Resolver {
	return &Resolver{accounts: accounts}
}

// Resolve turns ref into an existing account distinct from callerID. It never
// mutates state.
func (r *Resolver) Resolve(ctx context.Context, callerID string, ref Ref) (Recipient, error) {
	if err := ref.Check(); err != nil {
		return Recipient{}, err
	}

	var (
		account  ledger.Account
		fallback string
		err      error
	)
	switch {
	case ref.Handle != "":
		handle := ledger.NormalizeHandle(ref.Handle)
		account, err = r.accounts.GetAccountByHandle(ctx, handle)
		fallback = handle
	case len(ref.Payload) > 0:
		var p Payload
		p, err = DecodePayload(ref.Payload)
		if err != nil {
			return Recipient{}, err
		}
		if p.AccountID == callerID {
			return Recipient{}, ledger.ErrSelfTransfer
		}
		account, err = r.accounts.GetAccount(ctx, p.AccountID)
		fallback = p.DisplayName
	default:
		if ref.AccountID == callerID {
			return Recipient{}, ledger.ErrSelfTransfer
		}
		account, err = r.accounts.GetAccount(ctx, ref.AccountID)
		fallback = ref.DisplayName
	}
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrHandleAmbiguous):
			return Recipient{}, err
		case errors.Is(err, ledger.ErrAccountNotFound):
			return Recipient{}, ledger.ErrRecipientNotFound
		}
		return Recipient{}, fmt.Errorf("resolve recipient: %w", err)
	}

	if account.ID == callerID {
		return Recipient{}, ledger.ErrSelfTransfer
	}
	name := account.Label()
	if name == "" {
		name = fallback
	}
	return Recipient{AccountID: account.ID, DisplayName: name}, nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}
