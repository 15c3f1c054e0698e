package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"price-target-alerts/internal/alert"
	"price-target-alerts/internal/source"
)

const mailSendPath = "/v3/mail/send"

// EmailOptions parameterise the transactional email channel.
type EmailOptions struct {
	BaseURL     string
	APIKey      string
	FromAddress string
	FromName    string
	Timeout     time.Duration
}

// EmailNotifier delivers fulfillment notices through a transactional email
// delivery API (SendGrid v3 wire format).
type EmailNotifier struct {
	opts    EmailOptions
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

// NewEmailNotifier constructs the email channel.
func NewEmailNotifier(opts EmailOptions, logger zerolog.Logger) *EmailNotifier {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.sendgrid.com"
	}

	return &EmailNotifier{
		opts:    opts,
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		logger:  logger.With().Str("component", "email_notifier").Logger(),
	}
}

type mailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type mailPayload struct {
	Personalizations []struct {
		To []mailAddress `json:"to"`
	} `json:"personalizations"`
	From    mailAddress `json:"from"`
	Subject string      `json:"subject"`
	Content []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"content"`
}

// Notify posts one message to the delivery API. The recipient is validated
// before any network call; delivery API outcomes map onto the typed error set.
func (n *EmailNotifier) Notify(ctx context.Context, recipient string, a alert.Alert, quote source.Quote) error {
	addr, err := mail.ParseAddress(recipient)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidRecipient, recipient)
	}

	payload := mailPayload{
		From:    mailAddress{Email: n.opts.FromAddress, Name: n.opts.FromName},
		Subject: fmt.Sprintf("Price alert: %s", a.ProductQuery),
	}
	payload.Personalizations = make([]struct {
		To []mailAddress `json:"to"`
	}, 1)
	payload.Personalizations[0].To = []mailAddress{{Email: addr.Address}}
	payload.Content = []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	}{{Type: "text/plain", Value: renderMessage(a, quote)}}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal mail payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+mailSendPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create mail request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+n.opts.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: delivery api status %d", ErrInvalidRecipient, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("%w: delivery api status %d", ErrChannelUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("%w: delivery api status %d", ErrRejected, resp.StatusCode)
	}

	n.logger.Info().Str("alert_id", a.ID.String()).
		Str("recipient", addr.Address).
		Msg("notification sent")
	return nil
}

func renderMessage(a alert.Alert, quote source.Quote) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("Your price target for %q was reached.\n\n", a.ProductQuery))
	builder.WriteString(fmt.Sprintf("Listing: %s\n", quote.ProductLabel))
	builder.WriteString(fmt.Sprintf("Current price: %s %s\n", quote.Currency, quote.Price.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Your target: %s\n", a.TargetPrice.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Observed at: %s UTC\n", quote.ObservedAt.UTC().Format(time.RFC3339)))
	if quote.SourceURL != "" {
		builder.WriteString(fmt.Sprintf("Link: %s\n", quote.SourceURL))
	}
	return builder.String()
}

var _ Notifier = (*EmailNotifier)(nil)
