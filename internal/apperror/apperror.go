package apperror

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletcore/internal/ledger"
)

// RetryAfterSeconds is advertised to clients whose transfer ran out of retries.
const RetryAfterSeconds = "1"

// AppError is an error with a stable client-facing code.
type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

// New builds an ad-hoc application error.
func New(status int, code, message string) *AppError {
	return &AppError{Status: status, Code: code, Message: message}
}

var (
	ErrMissingToken          = &AppError{http.StatusUnauthorized, "MISSING_TOKEN", "Authorization header required"}
	ErrInvalidToken          = &AppError{http.StatusUnauthorized, "INVALID_TOKEN", "Token is invalid or expired"}
	ErrInvalidRequest        = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed      = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrInvalidAmount         = &AppError{http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be positive with at most 2 decimal places"}
	ErrInvalidPayload        = &AppError{http.StatusBadRequest, "INVALID_RECIPIENT_PAYLOAD", "Recipient code is not valid"}
	ErrSelfTransfer          = &AppError{http.StatusUnprocessableEntity, "SELF_TRANSFER_REJECTED", "Cannot transfer to your own account"}
	ErrRecipientNotFound     = &AppError{http.StatusNotFound, "RECIPIENT_NOT_FOUND", "Recipient not found"}
	ErrInsufficientFunds     = &AppError{http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS", "Insufficient funds"}
	ErrAccountNotFound       = &AppError{http.StatusNotFound, "ACCOUNT_NOT_FOUND", "Account not found"}
	ErrAccountExists         = &AppError{http.StatusConflict, "ACCOUNT_ALREADY_EXISTS", "Account already exists"}
	ErrHandleTaken           = &AppError{http.StatusConflict, "HANDLE_TAKEN", "Phone number already registered"}
	ErrRetryExhausted        = &AppError{http.StatusConflict, "RETRY_EXHAUSTED", "Transfer could not be completed, please retry"}
	ErrStoreUnavailable      = &AppError{http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Service temporarily unavailable"}
	ErrMissingIdempotencyKey = &AppError{http.StatusBadRequest, "MISSING_IDEMPOTENCY_KEY", "Idempotency-Key header is required"}
	ErrRequestInProgress     = &AppError{http.StatusConflict, "REQUEST_IN_PROGRESS", "A request with this Idempotency-Key is in progress"}
	ErrRateLimited           = &AppError{http.StatusTooManyRequests, "RATE_LIMITED", "Too many transfers, slow down"}
	ErrInternalError         = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}
)

// FromError maps domain errors onto application errors. Unknown errors
// become ErrInternalError.
func FromError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return &AppError{Status: fiberErr.Code, Code: http.StatusText(fiberErr.Code), Message: fiberErr.Message}
	}

	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		return ErrInvalidAmount
	case errors.Is(err, ledger.ErrInvalidRecipientPayload):
		return ErrInvalidPayload
	case errors.Is(err, ledger.ErrSelfTransfer):
		return ErrSelfTransfer
	case errors.Is(err, ledger.ErrValidation):
		return &AppError{Status: http.StatusBadRequest, Code: ErrValidationFailed.Code, Message: err.Error()}
	case errors.Is(err, ledger.ErrRecipientNotFound):
		return ErrRecipientNotFound
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return ErrInsufficientFunds
	case errors.Is(err, ledger.ErrAccountNotFound):
		return ErrAccountNotFound
	case errors.Is(err, ledger.ErrHandleTaken):
		return ErrHandleTaken
	case errors.Is(err, ledger.ErrAccountExists):
		return ErrAccountExists
	case errors.Is(err, ledger.ErrRetryExhausted):
		return ErrRetryExhausted
	case errors.Is(err, ledger.ErrStoreUnavailable):
		return ErrStoreUnavailable
	default:
		return ErrInternalError
	}
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Handler returns a fiber.ErrorHandler writing {"error":{"code","message"}}.
func Handler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		appErr := FromError(err)
		if appErr.Status >= http.StatusInternalServerError {
			logger.Error("request failed", "path", c.Path(), "status", appErr.Status, "error", err)
		}
		if appErr == ErrRetryExhausted {
			c.Set(fiber.HeaderRetryAfter, RetryAfterSeconds)
		}
		var body errorBody
		body.Error.Code = appErr.Code
		body.Error.Message = appErr.Message
		return c.Status(appErr.Status).JSON(body)
	}
}
