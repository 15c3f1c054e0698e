package alert

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidThreshold rejects alerts created with a non-positive target price.
	ErrInvalidThreshold = errors.New("alert: target price must be greater than zero")
	// ErrEmptyQuery rejects alerts created without a product query.
	ErrEmptyQuery = errors.New("alert: product query must not be empty")
	// ErrNotFound covers both missing alerts and alerts owned by someone else.
	ErrNotFound = errors.New("alert: not found")
)

// Status is the lifecycle state of an alert. Fulfilled and Failed are terminal.
type Status string

const (
	StatusActive    Status = "active"
	StatusFulfilled Status = "fulfilled"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further evaluation attempts may occur.
func (s Status) Terminal() bool {
	return s == StatusFulfilled || s == StatusFailed
}

// Alert is a stored request to be notified when a product's price falls to or
// below a target. Status is written exclusively by the evaluator.
type Alert struct {
	ID                  uuid.UUID
	OwnerID             uuid.UUID
	ProductQuery        string
	TargetPrice         decimal.Decimal
	Status              Status
	ConsecutiveFailures int
	LastEvaluatedAt     *time.Time
	CreatedAt           time.Time
}

// New validates the creation contract and returns an Active alert.
func New(ownerID uuid.UUID, productQuery string, targetPrice decimal.Decimal) (Alert, error) {
	productQuery = strings.TrimSpace(productQuery)
	if productQuery == "" {
		return Alert{}, ErrEmptyQuery
	}
	if !targetPrice.IsPositive() {
		return Alert{}, ErrInvalidThreshold
	}

	return Alert{
		ID:           uuid.New(),
		OwnerID:      ownerID,
		ProductQuery: productQuery,
		TargetPrice:  targetPrice,
		Status:       StatusActive,
		CreatedAt:    time.Now().UTC(),
	}, nil
}
