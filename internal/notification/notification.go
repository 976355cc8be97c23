package notification

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	// KindTransferDebited is sent to the sender once a transfer committed.
	KindTransferDebited = "transfer.debited"
	// KindTransferCredited is sent to the recipient once a transfer committed.
	KindTransferCredited = "transfer.credited"
)

// Message describes a post-commit event for one account holder.
type Message struct {
	Kind              string    `json:"kind"`
	Destination       string    `json:"account_id"`
	TransferID        string    `json:"transfer_id,omitempty"`
	EntryID           string    `json:"entry_id,omitempty"`
	Amount            string    `json:"amount,omitempty"`
	Balance           string    `json:"balance,omitempty"`
	CounterpartyLabel string    `json:"counterparty,omitempty"`
	Body              string    `json:"body,omitempty"`
	At                time.Time `json:"at"`
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(ctx context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.InfoContext(ctx, "notification",
		"kind", message.Kind,
		"account_id", message.Destination,
		"transfer_id", message.TransferID,
		"amount", message.Amount,
		"body", message.Body,
	)
	return nil
}

// Multi fans a message out to every notifier, joining their errors.
type Multi []Notifier

// Send delivers to all notifiers even when some fail.
func (m Multi) Send(ctx context.Context, message Message) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Send(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
