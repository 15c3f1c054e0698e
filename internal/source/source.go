package source

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Typed query failures. Adapters map every upstream condition onto one of
// these; callers match with errors.Is.
var (
	ErrTimeout           = errors.New("source: query timed out")
	ErrNotFound          = errors.New("source: no listings matched")
	ErrRateLimited       = errors.New("source: rate limited by upstream")
	ErrUnreachable       = errors.New("source: upstream unreachable")
	ErrMalformedResponse = errors.New("source: malformed upstream response")
)

// Quote is a single transient price observation for a product query. It is
// never persisted beyond the evaluation cycle that produced it.
type Quote struct {
	ProductLabel string
	Price        decimal.Decimal
	Currency     string
	SourceURL    string
	ObservedAt   time.Time
}

// Source queries an external marketplace for the current best price of a
// product query string. Implementations are stateless and safe for concurrent
// use; every call is individually time-bounded and returns either a quote or
// a typed error, never a panic.
type Source interface {
	Query(ctx context.Context, productQuery string) (Quote, error)
}
