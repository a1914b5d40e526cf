package notification

import (
	"context"
	"log/slog"
)

const (
	// KindCardIssued is sent once a virtual card exists for a funding.
	KindCardIssued = "card_issued"
	// KindFundingCleared is sent when a simulated purchase has cleared.
	KindFundingCleared = "funding_cleared"
)

// Message describes a notification payload.
type Message struct {
	Kind      string
	FundingID string
	// Destination is the payer address when known.
	Destination string
	Body        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(ctx context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.InfoContext(ctx, "notification",
		slog.String("kind", message.Kind),
		slog.String("funding_id", message.FundingID),
		slog.String("destination", message.Destination),
		slog.String("body", message.Body),
	)
	return nil
}
