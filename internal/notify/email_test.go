package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-target-alerts/internal/alert"
	"price-target-alerts/internal/source"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testAlert(t *testing.T) alert.Alert {
	t.Helper()
	a, err := alert.New(uuid.New(), "kindle paperwhite", decimal.NewFromInt(500))
	if err != nil {
		t.Fatalf("alert.New: %v", err)
	}
	return a
}

func testQuote() source.Quote {
	return source.Quote{
		ProductLabel: "Kindle Paperwhite",
		Price:        decimal.RequireFromString("450.00"),
		Currency:     "BRL",
		SourceURL:    "https://produto.mercadolivre.com.br/kindle",
		ObservedAt:   time.Now().UTC(),
	}
}

func newTestEmail(baseURL string) *EmailNotifier {
	return NewEmailNotifier(EmailOptions{
		BaseURL:     baseURL,
		APIKey:      "key",
		FromAddress: "alerts@pricewatch.dev",
		FromName:    "pricewatch",
		Timeout:     time.Second,
	}, testLogger())
}

func TestEmailNotifySuccess(t *testing.T) {
	var received mailPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "mail/send") {
			t.Fatalf("path should end in mail/send, got %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Fatalf("missing bearer auth, got %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	if err := newTestEmail(srv.URL).Notify(context.Background(), "user@example.com", testAlert(t), testQuote()); err != nil {
		t.Fatalf("Notify returned error: %v", err)
	}

	if len(received.Personalizations) != 1 || received.Personalizations[0].To[0].Email != "user@example.com" {
		t.Fatalf("recipient not set: %+v", received)
	}
	if len(received.Content) == 0 || !strings.Contains(received.Content[0].Value, "450.00") {
		t.Fatalf("body should contain quote price: %+v", received.Content)
	}
}

func TestEmailNotifyInvalidRecipient(t *testing.T) {
	n := newTestEmail("http://unused.invalid")
	err := n.Notify(context.Background(), "not-an-address", testAlert(t), testQuote())
	if !errors.Is(err, ErrInvalidRecipient) {
		t.Fatalf("expected ErrInvalidRecipient, got %v", err)
	}
}

func TestEmailNotifyStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, ErrInvalidRecipient},
		{http.StatusTooManyRequests, ErrChannelUnavailable},
		{http.StatusInternalServerError, ErrChannelUnavailable},
		{http.StatusUnauthorized, ErrRejected},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		err := newTestEmail(srv.URL).Notify(context.Background(), "user@example.com", testAlert(t), testQuote())
		srv.Close()
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
	}
}

type flakyNotifier struct {
	calls    atomic.Int32
	failures int32
	err      error
}

func (f *flakyNotifier) Notify(context.Context, string, alert.Alert, source.Quote) error {
	if f.calls.Add(1) <= f.failures {
		return f.err
	}
	return nil
}

func TestDispatcherRetriesOnceOnUnavailable(t *testing.T) {
	t.Parallel()

	flaky := &flakyNotifier{failures: 1, err: ErrChannelUnavailable}
	d := NewDispatcher(flaky, testLogger())

	if err := d.Dispatch(context.Background(), "user@example.com", testAlert(t), testQuote()); err != nil {
		t.Fatalf("retry should have recovered: %v", err)
	}
	if got := flaky.calls.Load(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestDispatcherNoRetryOnRejected(t *testing.T) {
	t.Parallel()

	flaky := &flakyNotifier{failures: 2, err: ErrRejected}
	d := NewDispatcher(flaky, testLogger())

	if err := d.Dispatch(context.Background(), "user@example.com", testAlert(t), testQuote()); !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if got := flaky.calls.Load(); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}

func TestDispatcherSurfacesSecondFailure(t *testing.T) {
	t.Parallel()

	flaky := &flakyNotifier{failures: 2, err: ErrChannelUnavailable}
	d := NewDispatcher(flaky, testLogger())

	if err := d.Dispatch(context.Background(), "user@example.com", testAlert(t), testQuote()); !errors.Is(err, ErrChannelUnavailable) {
		t.Fatalf("expected ErrChannelUnavailable, got %v", err)
	}
	if got := flaky.calls.Load(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}
