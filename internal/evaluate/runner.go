package evaluate

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"price-target-alerts/internal/alert"
	"price-target-alerts/internal/store"
)

// DefaultWorkers bounds the evaluation pool when no count is configured.
const DefaultWorkers = 4

// Result lists the alerts that reached a terminal state during one sweep.
type Result struct {
	Fulfilled []uuid.UUID `json:"fulfilled"`
	Failed    []uuid.UUID `json:"failed"`
}

// RunnerOptions tune sweep concurrency and upstream politeness.
type RunnerOptions struct {
	Workers int
	// SourcePerSecond caps marketplace queries across all workers; zero
	// disables limiting.
	SourcePerSecond float64
	SourceBurst     int
}

// Runner executes evaluation sweeps: it fetches the Active set once, fans the
// alerts out over a bounded worker pool, and aggregates terminal transitions.
// Alerts are an embarrassingly parallel batch; only the initial fetch blocks
// the sweep as a whole.
type Runner struct {
	store   store.AlertStore
	eval    *Evaluator
	workers int
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewRunner constructs a sweep runner.
func NewRunner(st store.AlertStore, eval *Evaluator, opts RunnerOptions, logger zerolog.Logger) *Runner {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	var limiter *rate.Limiter
	if opts.SourcePerSecond > 0 {
		burst := opts.SourceBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.SourcePerSecond), burst)
	}

	return &Runner{
		store:   st,
		eval:    eval,
		workers: workers,
		limiter: limiter,
		logger:  logger.With().Str("component", "runner").Logger(),
	}
}

// Sweep evaluates every currently Active alert once. It fails as a whole only
// when the store cannot deliver the alert set; per-alert failures are isolated
// inside the evaluator. Cancelling ctx abandons pending alerts cleanly: they
// simply stay Active for the next sweep.
func (r *Runner) Sweep(ctx context.Context) (Result, error) {
	alerts, err := r.store.ListActive(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list active alerts: %w", err)
	}

	result := Result{Fulfilled: make([]uuid.UUID, 0), Failed: make([]uuid.UUID, 0)}
	if len(alerts) == 0 {
		return result, nil
	}

	jobs := make(chan alert.Alert)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for a := range jobs {
				select {
				case <-ctx.Done():
					// Abandon cleanly: the alert stays Active and is
					// re-evaluated on a later sweep.
					return
				default:
				}
				if r.limiter != nil {
					if err := r.limiter.Wait(ctx); err != nil {
						return
					}
				}

				outcome, evalErr := r.eval.Evaluate(ctx, a)
				if evalErr != nil {
					// Store hiccup on a single record; the sibling
					// alerts still get their attempt.
					r.logger.Error().Err(evalErr).Str("alert_id", a.ID.String()).Msg("evaluation aborted")
					continue
				}

				mu.Lock()
				switch outcome {
				case OutcomeFulfilled:
					result.Fulfilled = append(result.Fulfilled, a.ID)
				case OutcomeFailed:
					result.Failed = append(result.Failed, a.ID)
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for _, a := range alerts {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- a:
		}
	}
	close(jobs)
	wg.Wait()

	r.logger.Info().Int("evaluated", len(alerts)).
		Int("fulfilled", len(result.Fulfilled)).
		Int("failed", len(result.Failed)).
		Msg("sweep complete")
	return result, ctx.Err()
}
