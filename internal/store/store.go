package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"price-target-alerts/internal/alert"
)

var (
	// ErrNotConfigured indicates the backing pool was not initialised.
	ErrNotConfigured = errors.New("store: pool not configured")
	// ErrDuplicateNotification indicates a second Sent record for one alert.
	ErrDuplicateNotification = errors.New("store: notification already sent for alert")
)

// NotificationOutcome records whether a dispatch attempt succeeded.
type NotificationOutcome string

const (
	OutcomeSent       NotificationOutcome = "sent"
	OutcomeSendFailed NotificationOutcome = "failed"
)

// NotificationRecord audits one notification dispatch attempt. At most one
// Sent record may exist per alert.
type NotificationRecord struct {
	AlertID uuid.UUID
	SentAt  time.Time
	Outcome NotificationOutcome
}

// AlertStore is the durable record of alerts. It owns concurrency control
// over individual alert records; TransitionStatus is the single atomic
// primitive guarding terminal state changes.
type AlertStore interface {
	Create(ctx context.Context, a alert.Alert) error
	GetOwned(ctx context.Context, id, ownerID uuid.UUID) (alert.Alert, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]alert.Alert, error)
	ListActive(ctx context.Context) ([]alert.Alert, error)
	DeleteOwned(ctx context.Context, id, ownerID uuid.UUID) error

	// RecordEvaluation updates the failure counter and the last-evaluated
	// timestamp after an evaluation attempt, success or failure.
	RecordEvaluation(ctx context.Context, id uuid.UUID, consecutiveFailures int, at time.Time) error

	// TransitionStatus performs a compare-and-swap on the alert status. It
	// returns false when the alert was not in the expected prior state,
	// which is how a concurrent sweep's earlier transition is detected.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to alert.Status) (bool, error)

	InsertNotification(ctx context.Context, rec NotificationRecord) error
}
