package middleware

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletcore/internal/apperror"
	"github.com/congo-pay/walletcore/internal/auth"
	"github.com/congo-pay/walletcore/internal/logging"
)

func TestJWTAuth(t *testing.T) {
	issuer := auth.NewIssuer("test-secret", time.Minute)
	app := fiber.New(fiber.Config{ErrorHandler: apperror.Handler(logging.Discard())})
	app.Get("/me", JWTAuth(issuer), func(c *fiber.Ctx) error {
		return c.SendString(auth.CallerID(c))
	})

	token, _, err := issuer.Issue("acct-42", "0991234567")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", fiber.StatusUnauthorized},
		{"not bearer", "Basic abc", fiber.StatusUnauthorized},
		{"garbage", "Bearer not-a-token", fiber.StatusUnauthorized},
		{"valid", "Bearer " + token, fiber.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set(fiber.HeaderAuthorization, tc.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tc.status {
				t.Fatalf("expected %d got %d", tc.status, resp.StatusCode)
			}
			if tc.status == fiber.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				if string(body) != "acct-42" {
					t.Fatalf("expected caller acct-42, got %q", body)
				}
			}
		})
	}
}
