// Package notify delivers fulfillment notifications. Deduplication is not
// handled here: the CAS-guarded state transition upstream guarantees at most
// one dispatch attempt per alert fulfillment.
package notify

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"price-target-alerts/internal/alert"
	"price-target-alerts/internal/source"
)

var (
	// ErrChannelUnavailable marks a transient delivery failure worth one retry.
	ErrChannelUnavailable = errors.New("notify: channel unavailable")
	// ErrInvalidRecipient marks an address the channel refuses to deliver to.
	ErrInvalidRecipient = errors.New("notify: invalid recipient")
	// ErrRejected marks a permanent refusal by the channel.
	ErrRejected = errors.New("notify: rejected by channel")
)

// Notifier sends one notification through some channel. Implementations are
// stateless and safe for concurrent use by multiple sweep workers.
type Notifier interface {
	Notify(ctx context.Context, recipient string, a alert.Alert, quote source.Quote) error
}

// Dispatcher wraps a Notifier with the delivery policy: a single retry on a
// transient ErrChannelUnavailable, every other outcome surfaced to the caller
// as a typed error rather than aborting anything.
type Dispatcher struct {
	notifier Notifier
	logger   zerolog.Logger
}

// NewDispatcher builds a dispatcher around the given channel.
func NewDispatcher(notifier Notifier, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		notifier: notifier,
		logger:   logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch attempts delivery, retrying once when the channel reports a
// transient outage.
func (d *Dispatcher) Dispatch(ctx context.Context, recipient string, a alert.Alert, quote source.Quote) error {
	err := d.notifier.Notify(ctx, recipient, a, quote)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrChannelUnavailable) {
		return err
	}

	d.logger.Warn().Err(err).Str("alert_id", a.ID.String()).Msg("channel unavailable, retrying once")
	return d.notifier.Notify(ctx, recipient, a, quote)
}
