package wallet

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletcore/internal/apperror"
	"github.com/congo-pay/walletcore/internal/auth"
	"github.com/congo-pay/walletcore/internal/ledger"
	"github.com/congo-pay/walletcore/internal/money"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
	issuer  *auth.Issuer
	// allowInitialBalance lets Open honour a client-chosen starting balance.
	allowInitialBalance bool
}

// NewHandler builds a wallet HTTP handler. issuer is only needed by Open.
// allowInitialBalance must stay false wherever Open is publicly reachable
// outside development.
func NewHandler(service *Service, issuer *auth.Issuer, allowInitialBalance bool) *Handler {
	return &Handler{service: service, issuer: issuer, allowInitialBalance: allowInitialBalance}
}

type entryResponse struct {
	ID             string       `json:"id"`
	TransferID     string       `json:"transfer_id"`
	Direction      string       `json:"direction"`
	Amount         money.Amount `json:"amount"`
	CounterpartyID string       `json:"counterparty_id"`
	Counterparty   string       `json:"counterparty"`
	Memo           string       `json:"memo,omitempty"`
	Status         string       `json:"status"`
	CreatedAt      time.Time    `json:"created_at"`
}

type historyResponse struct {
	Entries    []entryResponse `json:"entries"`
	NextBefore string          `json:"next_before,omitempty"`
}

// Balance returns the caller's balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	balance, err := h.service.Balance(c.UserContext(), auth.CallerID(c))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(balance)
}

// History returns a page of the caller's ledger entries.
func (h *Handler) History(c *fiber.Ctx) error {
	limit := ledger.DefaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return apperror.New(http.StatusBadRequest, apperror.ErrValidationFailed.Code, "limit must be a positive integer")
		}
		limit = n
	}
	var before ledger.Cursor
	if raw := c.Query("before"); raw != "" {
		cursor, err := ledger.ParseCursor(raw)
		if err != nil {
			return apperror.New(http.StatusBadRequest, apperror.ErrValidationFailed.Code, "before must be a cursor from next_before or an RFC 3339 timestamp")
		}
		before = cursor
	}

	entries, err := h.service.History(c.UserContext(), auth.CallerID(c), limit, before)
	if err != nil {
		return err
	}
	resp := historyResponse{Entries: make([]entryResponse, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, entryResponse{
			ID:             e.ID,
			TransferID:     e.TransferID,
			Direction:      string(e.Direction),
			Amount:         e.Amount,
			CounterpartyID: e.CounterpartyID,
			Counterparty:   e.CounterpartyLabel,
			Memo:           e.Memo,
			Status:         string(e.Status),
			CreatedAt:      e.CreatedAt,
		})
	}
	if n := len(entries); n > 0 && n >= min(limit, h.service.maxPage) {
		resp.NextBefore = ledger.CursorOf(entries[n-1]).String()
	}
	return c.JSON(resp)
}

type openRequest struct {
	DisplayName    string          `json:"display_name"`
	Phone          string          `json:"phone"`
	InitialBalance json.RawMessage `json:"initial_balance"`
}

// Open onboards an account and returns an access token for it.
func (h *Handler) Open(c *fiber.Ctx) error {
	var req openRequest
	if err := c.BodyParser(&req); err != nil {
		return apperror.ErrInvalidRequest
	}
	input := OpenInput{DisplayName: req.DisplayName, Phone: req.Phone}
	if len(req.InitialBalance) > 0 && string(req.InitialBalance) != "null" {
		if !h.allowInitialBalance {
			return apperror.New(http.StatusBadRequest, apperror.ErrValidationFailed.Code, "initial_balance is not accepted")
		}
		var amount money.Amount
		if err := amount.UnmarshalJSON(req.InitialBalance); err != nil {
			return ledger.ErrInvalidAmount
		}
		input.InitialBalance = &amount
	}

	account, err := h.service.Open(c.UserContext(), input)
	if err != nil {
		return err
	}
	resp := fiber.Map{
		"account_id":   account.ID,
		"handle":       account.Handle,
		"display_name": account.DisplayName,
		"balance":      account.Balance,
	}
	if h.issuer != nil {
		token, exp, err := h.issuer.Issue(account.ID, account.Handle)
		if err != nil {
			return err
		}
		resp["access_token"] = token
		resp["expires_at"] = exp.UTC()
	}
	return c.Status(http.StatusCreated).JSON(resp)
}

// Summary returns per-day spending and income for the caller's last days.
func (h *Handler) Summary(c *fiber.Ctx) error {
	days := DefaultSummaryDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > MaxSummaryDays {
			return apperror.New(http.StatusBadRequest, apperror.ErrValidationFailed.Code,
				fmt.Sprintf("days must be between 1 and %d", MaxSummaryDays))
		}
		days = n
	}
	summary, err := h.service.Summary(c.UserContext(), auth.CallerID(c), days)
	if err != nil {
		return err
	}
	return c.JSON(summary)
}
