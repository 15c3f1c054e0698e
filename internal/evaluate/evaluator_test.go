package evaluate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-target-alerts/internal/alert"
	"price-target-alerts/internal/notify"
	"price-target-alerts/internal/source"
	"price-target-alerts/internal/store"
)

type stubSource struct {
	mu     sync.Mutex
	queues map[string][]any // per-query FIFO of decimal.Decimal or error
	sticky map[string]any   // fallback once the queue drains
}

func newStubSource() *stubSource {
	return &stubSource{queues: make(map[string][]any), sticky: make(map[string]any)}
}

func (s *stubSource) push(query string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[query] = append(s.queues[query], v)
}

func (s *stubSource) set(query string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sticky[query] = v
}

func (s *stubSource) Query(_ context.Context, productQuery string) (source.Quote, error) {
	s.mu.Lock()
	var next any
	if queue := s.queues[productQuery]; len(queue) > 0 {
		next = queue[0]
		s.queues[productQuery] = queue[1:]
	} else if v, ok := s.sticky[productQuery]; ok {
		next = v
	}
	s.mu.Unlock()

	if next == nil {
		return source.Quote{}, source.ErrNotFound
	}
	if err, ok := next.(error); ok {
		return source.Quote{}, err
	}
	price := next.(decimal.Decimal)
	return source.Quote{
		ProductLabel: productQuery,
		Price:        price,
		Currency:     "BRL",
		SourceURL:    "https://produto.mercadolivre.com.br/item",
	}, nil
}

type countingNotifier struct {
	calls atomic.Int32
	err   error
}

func (n *countingNotifier) Notify(context.Context, string, alert.Alert, source.Quote) error {
	n.calls.Add(1)
	return n.err
}

type staticResolver struct{ email string }

func (r staticResolver) EmailFor(context.Context, uuid.UUID) (string, error) {
	return r.email, nil
}

type fixture struct {
	store    *store.Memory
	src      *stubSource
	notifier *countingNotifier
	eval     *Evaluator
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	st := store.NewMemory()
	src := newStubSource()
	notifier := &countingNotifier{}
	dispatcher := notify.NewDispatcher(notifier, zerolog.Nop())
	eval := NewEvaluator(src, st, dispatcher, staticResolver{"owner@example.com"}, opts, zerolog.Nop())
	return &fixture{store: st, src: src, notifier: notifier, eval: eval}
}

func (f *fixture) createAlert(t *testing.T, query string, target int64) alert.Alert {
	t.Helper()
	a, err := alert.New(uuid.New(), query, decimal.NewFromInt(target))
	if err != nil {
		t.Fatalf("alert.New: %v", err)
	}
	if err := f.store.Create(context.Background(), a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return a
}

func (f *fixture) reload(t *testing.T, a alert.Alert) alert.Alert {
	t.Helper()
	got, err := f.store.GetOwned(context.Background(), a.ID, a.OwnerID)
	if err != nil {
		t.Fatalf("GetOwned: %v", err)
	}
	return got
}

// Sweep 1 sees 599 for a 500 target (no match), sweep 2 sees 450 (match):
// one fulfillment, one notification.
func TestEvaluateCrossingFulfillsOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, Options{})
	a := f.createAlert(t, "Kindle", 500)

	f.src.push("Kindle", decimal.RequireFromString("599.00"))
	f.src.push("Kindle", decimal.RequireFromString("450.00"))

	outcome, err := f.eval.Evaluate(ctx, a)
	if err != nil || outcome != OutcomeUnchanged {
		t.Fatalf("sweep 1: outcome=%v err=%v, want unchanged", outcome, err)
	}
	if got := f.notifier.calls.Load(); got != 0 {
		t.Fatalf("no notification expected yet, got %d", got)
	}

	outcome, err = f.eval.Evaluate(ctx, f.reload(t, a))
	if err != nil || outcome != OutcomeFulfilled {
		t.Fatalf("sweep 2: outcome=%v err=%v, want fulfilled", outcome, err)
	}
	if got := f.notifier.calls.Load(); got != 1 {
		t.Fatalf("exactly one notification expected, got %d", got)
	}

	final := f.reload(t, a)
	if final.Status != alert.StatusFulfilled {
		t.Fatalf("final status = %s, want fulfilled", final.Status)
	}

	recs := f.store.Notifications()
	if len(recs) != 1 || recs[0].Outcome != store.OutcomeSent {
		t.Fatalf("expected one Sent record, got %+v", recs)
	}
}

func TestEvaluateEqualPriceMatches(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	a := f.createAlert(t, "Kindle", 500)
	f.src.push("Kindle", decimal.RequireFromString("500.00"))

	outcome, err := f.eval.Evaluate(context.Background(), a)
	if err != nil || outcome != OutcomeFulfilled {
		t.Fatalf("equality should match: outcome=%v err=%v", outcome, err)
	}
}

func TestEvaluateSkipsTerminalAlert(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	a := f.createAlert(t, "Kindle", 500)
	a.Status = alert.StatusFulfilled

	outcome, err := f.eval.Evaluate(context.Background(), a)
	if err != nil || outcome != OutcomeSkipped {
		t.Fatalf("terminal alert should be skipped: outcome=%v err=%v", outcome, err)
	}
	if got := f.notifier.calls.Load(); got != 0 {
		t.Fatalf("terminal alert must not notify, got %d calls", got)
	}
}

// Five consecutive timeouts escalate to Failed; a success mid-streak resets
// the counter and prevents escalation.
func TestEvaluateFailureEscalationAndReset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, Options{FailureThreshold: 5})
	a := f.createAlert(t, "Kindle", 100)

	for i := 1; i <= 4; i++ {
		f.src.push("Kindle", source.ErrTimeout)
		outcome, err := f.eval.Evaluate(ctx, f.reload(t, a))
		if err != nil || outcome != OutcomeUnchanged {
			t.Fatalf("failure %d: outcome=%v err=%v", i, outcome, err)
		}
	}
	if got := f.reload(t, a).ConsecutiveFailures; got != 4 {
		t.Fatalf("failures = %d, want 4", got)
	}

	// A successful (non-matching) quote resets the counter.
	f.src.push("Kindle", decimal.RequireFromString("999.00"))
	if _, err := f.eval.Evaluate(ctx, f.reload(t, a)); err != nil {
		t.Fatalf("reset sweep: %v", err)
	}
	if got := f.reload(t, a).ConsecutiveFailures; got != 0 {
		t.Fatalf("failures after success = %d, want 0", got)
	}

	// Five fresh consecutive failures now reach the threshold.
	for i := 1; i <= 5; i++ {
		f.src.push("Kindle", source.ErrTimeout)
		outcome, err := f.eval.Evaluate(ctx, f.reload(t, a))
		if err != nil {
			t.Fatalf("failure %d: %v", i, err)
		}
		if i < 5 && outcome != OutcomeUnchanged {
			t.Fatalf("failure %d: outcome=%v, want unchanged", i, outcome)
		}
		if i == 5 && outcome != OutcomeFailed {
			t.Fatalf("failure 5: outcome=%v, want failed", outcome)
		}
	}

	final := f.reload(t, a)
	if final.Status != alert.StatusFailed {
		t.Fatalf("final status = %s, want failed", final.Status)
	}
	if final.LastEvaluatedAt == nil {
		t.Fatal("lastEvaluatedAt should be set on failure attempts")
	}
	if got := f.notifier.calls.Load(); got != 0 {
		t.Fatalf("failed alert must not notify, got %d calls", got)
	}
}

// Parse-level breakage from the source counts as a failure, same as a query
// error, and never crashes the attempt.
func TestEvaluateMalformedResponseCountsAsFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	a := f.createAlert(t, "Kindle", 100)
	f.src.push("Kindle", source.ErrMalformedResponse)

	outcome, err := f.eval.Evaluate(context.Background(), a)
	if err != nil || outcome != OutcomeUnchanged {
		t.Fatalf("outcome=%v err=%v, want unchanged", outcome, err)
	}
	if got := f.reload(t, a).ConsecutiveFailures; got != 1 {
		t.Fatalf("failures = %d, want 1", got)
	}
}

// A failed dispatch leaves the alert Fulfilled and records the failed outcome;
// it never rolls the state back to Active.
func TestEvaluateNotificationFailureKeepsFulfilled(t *testing.T) {
	t.Parallel()

	f := newFixture(t, Options{})
	f.notifier.err = notify.ErrRejected
	a := f.createAlert(t, "Kindle", 500)
	f.src.push("Kindle", decimal.RequireFromString("450.00"))

	outcome, err := f.eval.Evaluate(context.Background(), a)
	if err != nil || outcome != OutcomeFulfilled {
		t.Fatalf("outcome=%v err=%v, want fulfilled", outcome, err)
	}

	if got := f.reload(t, a).Status; got != alert.StatusFulfilled {
		t.Fatalf("status = %s, want fulfilled despite dispatch failure", got)
	}

	recs := f.store.Notifications()
	if len(recs) != 1 || recs[0].Outcome != store.OutcomeSendFailed {
		t.Fatalf("expected one failed-dispatch record, got %+v", recs)
	}
}
