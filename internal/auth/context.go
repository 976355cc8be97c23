package auth

import "github.com/gofiber/fiber/v2"

// LocalsAccountID is the fiber.Ctx locals key holding the caller's account id.
const LocalsAccountID = "account_id"

// CallerID returns the authenticated account id, or "" when absent.
func CallerID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalsAccountID).(string)
	return id
}
