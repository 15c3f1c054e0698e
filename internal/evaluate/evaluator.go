// Package evaluate reconciles stored alert targets against freshly fetched
// marketplace quotes and drives the one-shot fulfillment state machine.
package evaluate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"price-target-alerts/internal/alert"
	"price-target-alerts/internal/notify"
	"price-target-alerts/internal/source"
	"price-target-alerts/internal/store"
)

// DefaultFailureThreshold is the consecutive-failure count at which an alert
// is abandoned as Failed.
const DefaultFailureThreshold = 5

// RecipientResolver maps an alert owner to a notification recipient address.
type RecipientResolver interface {
	EmailFor(ctx context.Context, ownerID uuid.UUID) (string, error)
}

// Outcome summarises one evaluation attempt for sweep aggregation.
type Outcome int

const (
	// OutcomeUnchanged means the alert stays Active (no match, tolerated
	// failure, or a concurrent sweep already owned the transition).
	OutcomeUnchanged Outcome = iota
	// OutcomeFulfilled means this attempt won the Active->Fulfilled CAS.
	OutcomeFulfilled
	// OutcomeFailed means this attempt won the Active->Failed CAS.
	OutcomeFailed
	// OutcomeSkipped means the alert was already terminal when picked up.
	OutcomeSkipped
)

// Options tune evaluator behaviour.
type Options struct {
	FailureThreshold int
}

// Evaluator runs one evaluation attempt per alert per sweep. All per-alert
// errors are absorbed into the failure counter; only AlertStore errors
// propagate, since losing the store invalidates the whole sweep.
type Evaluator struct {
	source     source.Source
	store      store.AlertStore
	dispatcher *notify.Dispatcher
	recipients RecipientResolver
	threshold  int
	logger     zerolog.Logger
	now        func() time.Time
}

// NewEvaluator wires the evaluator's collaborators.
func NewEvaluator(src source.Source, st store.AlertStore, dispatcher *notify.Dispatcher, recipients RecipientResolver, opts Options, logger zerolog.Logger) *Evaluator {
	threshold := opts.FailureThreshold
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}

	return &Evaluator{
		source:     src,
		store:      st,
		dispatcher: dispatcher,
		recipients: recipients,
		threshold:  threshold,
		logger:     logger.With().Str("component", "evaluator").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate runs the query -> compare -> CAS-transition -> notify sequence for
// a single alert. The returned error is reserved for store failures; query,
// parse, and notification failures never produce one.
func (e *Evaluator) Evaluate(ctx context.Context, a alert.Alert) (Outcome, error) {
	if a.Status != alert.StatusActive {
		return OutcomeSkipped, nil
	}

	quote, queryErr := e.source.Query(ctx, a.ProductQuery)
	at := e.now()

	if queryErr != nil {
		return e.recordFailure(ctx, a, at, queryErr)
	}

	if err := e.store.RecordEvaluation(ctx, a.ID, 0, at); err != nil {
		return OutcomeUnchanged, fmt.Errorf("record evaluation: %w", err)
	}

	// Inclusive comparison: hitting the target exactly counts as a match.
	if quote.Price.GreaterThan(a.TargetPrice) {
		e.logger.Debug().Str("alert_id", a.ID.String()).
			Str("price", quote.Price.String()).
			Str("target", a.TargetPrice.String()).
			Msg("target not reached")
		return OutcomeUnchanged, nil
	}

	won, err := e.store.TransitionStatus(ctx, a.ID, alert.StatusActive, alert.StatusFulfilled)
	if err != nil {
		return OutcomeUnchanged, fmt.Errorf("fulfill transition: %w", err)
	}
	if !won {
		// A concurrent sweep already fulfilled this alert and owns the
		// notification.
		e.logger.Debug().Str("alert_id", a.ID.String()).Msg("lost fulfillment race")
		return OutcomeUnchanged, nil
	}

	e.notifyFulfilled(ctx, a, quote)
	return OutcomeFulfilled, nil
}

func (e *Evaluator) recordFailure(ctx context.Context, a alert.Alert, at time.Time, cause error) (Outcome, error) {
	failures := a.ConsecutiveFailures + 1
	if err := e.store.RecordEvaluation(ctx, a.ID, failures, at); err != nil {
		return OutcomeUnchanged, fmt.Errorf("record evaluation: %w", err)
	}

	if failures < e.threshold {
		// Retries happen in later sweeps; the sweep interval is the backoff.
		e.logger.Debug().Err(cause).Str("alert_id", a.ID.String()).
			Int("consecutive_failures", failures).
			Msg("query failed, alert stays active")
		return OutcomeUnchanged, nil
	}

	won, err := e.store.TransitionStatus(ctx, a.ID, alert.StatusActive, alert.StatusFailed)
	if err != nil {
		return OutcomeUnchanged, fmt.Errorf("fail transition: %w", err)
	}
	if !won {
		return OutcomeUnchanged, nil
	}

	e.logger.Warn().Err(cause).Str("alert_id", a.ID.String()).
		Int("consecutive_failures", failures).
		Msg("alert abandoned after repeated failures")
	return OutcomeFailed, nil
}

// notifyFulfilled delivers the notification after a won CAS. Delivery failure
// does not roll the alert back to Active; the outcome is recorded for
// visibility instead.
func (e *Evaluator) notifyFulfilled(ctx context.Context, a alert.Alert, quote source.Quote) {
	if e.dispatcher == nil || e.recipients == nil {
		e.logger.Warn().Str("alert_id", a.ID.String()).Msg("no notification channel configured")
		return
	}

	outcome := store.OutcomeSent
	recipient, err := e.recipients.EmailFor(ctx, a.OwnerID)
	if err == nil {
		err = e.dispatcher.Dispatch(ctx, recipient, a, quote)
	}
	if err != nil {
		outcome = store.OutcomeSendFailed
		e.logger.Error().Err(err).Str("alert_id", a.ID.String()).Msg("notification dispatch failed")
	}

	rec := store.NotificationRecord{AlertID: a.ID, SentAt: e.now(), Outcome: outcome}
	if err := e.store.InsertNotification(ctx, rec); err != nil {
		e.logger.Error().Err(err).Str("alert_id", a.ID.String()).Msg("failed to record notification outcome")
	}
}
