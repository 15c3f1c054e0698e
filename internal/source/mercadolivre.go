package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-target-alerts/internal/pricing"
)

const defaultSiteID = "MLB"

// MercadoLivreOptions parameterise the Mercado Livre search adapter.
type MercadoLivreOptions struct {
	BaseURL     string
	SiteID      string
	ResultLimit int
	Timeout     time.Duration
	UserAgent   string
}

// MercadoLivre fetches quotes from the Mercado Livre public search API.
type MercadoLivre struct {
	opts    MercadoLivreOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewMercadoLivre constructs a Mercado Livre price source.
func NewMercadoLivre(opts MercadoLivreOptions, logger zerolog.Logger) *MercadoLivre {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.SiteID == "" {
		opts.SiteID = defaultSiteID
	}
	if opts.ResultLimit <= 0 {
		opts.ResultLimit = 5
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.mercadolibre.com"
	}

	return &MercadoLivre{
		opts:    opts,
		logger:  logger.With().Str("component", "mercadolivre_source").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

type searchResult struct {
	Title      string          `json:"title"`
	Price      json.RawMessage `json:"price"`
	CurrencyID string          `json:"currency_id"`
	Permalink  string          `json:"permalink"`
}

// Query searches the configured site and returns the best (first) listing as
// a quote. Non-200 responses and empty result arrays map onto the typed error
// set; a slow upstream is cut off by the client timeout.
func (m *MercadoLivre) Query(ctx context.Context, productQuery string) (Quote, error) {
	endpoint := fmt.Sprintf("%s/sites/%s/search?q=%s&limit=%d",
		m.baseURL, m.opts.SiteID, url.QueryEscape(productQuery), m.opts.ResultLimit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(m.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return Quote{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return Quote{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Quote{}, ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return Quote{}, ErrRateLimited
	case resp.StatusCode != http.StatusOK:
		return Quote{}, fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	var search searchResponse
	if err := json.Unmarshal(payload, &search); err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(search.Results) == 0 {
		return Quote{}, ErrNotFound
	}

	best := search.Results[0]
	if len(best.Price) == 0 || best.Permalink == "" {
		return Quote{}, fmt.Errorf("%w: result missing price or permalink", ErrMalformedResponse)
	}

	price, err := parsePriceField(best.Price)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	currency := best.CurrencyID
	if currency == "" {
		currency = "BRL"
	}

	m.logger.Debug().Str("query", productQuery).
		Str("price", price.String()).
		Str("currency", currency).
		Msg("quote fetched")

	return Quote{
		ProductLabel: best.Title,
		Price:        price,
		Currency:     currency,
		SourceURL:    best.Permalink,
		ObservedAt:   time.Now().UTC(),
	}, nil
}

// parsePriceField tolerates both numeric prices (599.9) and formatted string
// prices ("R$ 599,00") in the upstream payload.
func parsePriceField(raw json.RawMessage) (decimal.Decimal, error) {
	s := strings.TrimSpace(string(raw))
	if unquoted, uerr := strconv.Unquote(s); uerr == nil {
		s = unquoted
	}
	return pricing.ParsePrice(s)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

var _ Source = (*MercadoLivre)(nil)
