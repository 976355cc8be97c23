package payments

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletcore/internal/apperror"
	"github.com/congo-pay/walletcore/internal/auth"
	"github.com/congo-pay/walletcore/internal/ledger"
	"github.com/congo-pay/walletcore/internal/lookup"
	"github.com/congo-pay/walletcore/internal/money"
)

// Handler exposes payment endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type recipientRequest struct {
	Handle      string `json:"handle"`
	Payload     string `json:"payload"`
	AccountID   string `json:"account_id"`
	DisplayName string `json:"display_name"`
}

func (r recipientRequest) ref() lookup.Ref {
	ref := lookup.Ref{Handle: r.Handle, AccountID: r.AccountID, DisplayName: r.DisplayName}
	if r.Payload != "" {
		ref.Payload = []byte(r.Payload)
	}
	return ref
}

type transferRequest struct {
	Recipient recipientRequest `json:"recipient"`
	Amount    json.RawMessage  `json:"amount"`
	Memo      string           `json:"memo"`
}

type recipientResponse struct {
	AccountID   string `json:"account_id"`
	DisplayName string `json:"display_name"`
}

type transferResponse struct {
	TransferID    string            `json:"transfer_id"`
	Status        string            `json:"status"`
	Amount        money.Amount      `json:"amount"`
	SenderBalance money.Amount      `json:"sender_balance"`
	Recipient     recipientResponse `json:"recipient"`
	DebitEntryID  string            `json:"debit_entry_id"`
	CreditEntryID string            `json:"credit_entry_id"`
	CompletedAt   time.Time         `json:"completed_at"`
}

// parseAmount accepts a JSON string or number with at most two decimals.
func parseAmount(raw json.RawMessage) (money.Amount, error) {
	if len(raw) == 0 {
		return 0, ledger.ErrInvalidAmount
	}
	var amount money.Amount
	if err := amount.UnmarshalJSON(raw); err != nil {
		return 0, ledger.ErrInvalidAmount
	}
	return amount, nil
}

// Transfer moves funds from the authenticated caller to a recipient.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return apperror.ErrInvalidRequest
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return err
	}

	res, err := h.service.Transfer(c.UserContext(), TransferInput{
		CallerAccountID: auth.CallerID(c),
		Recipient:       req.Recipient.ref(),
		Amount:          amount,
		Memo:            req.Memo,
	})
	if err != nil {
		return err
	}

	return c.Status(http.StatusCreated).JSON(transferResponse{
		TransferID:    res.TransferID,
		Status:        string(ledger.EntryStatusCompleted),
		Amount:        amount,
		SenderBalance: res.SenderBalance,
		Recipient:     recipientResponse{AccountID: res.Recipient.AccountID, DisplayName: res.Recipient.DisplayName},
		DebitEntryID:  res.DebitEntryID,
		CreditEntryID: res.CreditEntryID,
		CompletedAt:   res.CompletedAt,
	})
}
