package lookup

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletcore/internal/apperror"
	"github.com/congo-pay/walletcore/internal/auth"
)

// Handler exposes recipient resolution so clients can confirm a recipient
// before sending.
type Handler struct {
	resolver *Resolver
}

// NewHandler constructs a lookup handler.
func NewHandler(resolver *Resolver) *Handler {
	return &Handler{resolver: resolver}
}

type resolveRequest struct {
	Handle  string `json:"handle"`
	Payload string `json:"payload"`
}

// Resolve handles POST /recipients/resolve.
func (h *Handler) Resolve(c *fiber.Ctx) error {
	var req resolveRequest
	if err := c.BodyParser(&req); err != nil {
		return apperror.ErrInvalidRequest
	}
	ref := Ref{Handle: req.Handle}
	if req.Payload != "" {
		ref.Payload = []byte(req.Payload)
	}
	recipient, err := h.resolver.Resolve(c.UserContext(), auth.CallerID(c), ref)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"account_id":   recipient.AccountID,
		"display_name": recipient.DisplayName,
	})
}
