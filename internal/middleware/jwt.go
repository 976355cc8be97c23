package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletcore/internal/apperror"
	"github.com/congo-pay/walletcore/internal/auth"
)

// JWTAuth validates bearer access tokens and exposes the caller's account id
// to handlers. The sender of a transfer is never taken from the request body.
func JWTAuth(issuer *auth.Issuer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return apperror.ErrMissingToken
		}
		tokenStr := strings.TrimSpace(authz[len("Bearer "):])
		claims, err := issuer.Parse(tokenStr)
		if err != nil {
			return apperror.ErrInvalidToken
		}

		c.Locals(auth.LocalsAccountID, claims.AccountID)
		return c.Next()
	}
}
