// Package variational fetches PAXG and XAUT perpetual quotes from the
// Variational metadata stats endpoint.
package variational

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/goldspread/internal/domain"
)

// Config configures a Client.
type Config struct {
	URL        string
	PaxgTicker string
	XautTicker string
	// QuoteSize is the preferred liquidity bucket, e.g. "size_100k". When a
	// listing lacks it the first complete bucket in key order is used.
	QuoteSize string
	Timeout   time.Duration
}

// Client is the REST client for the stats endpoint. It implements
// domain.QuoteSource.
type Client struct {
	cfg        Config
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates a new stats client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
	}
}

type statsResponse struct {
	Listings []listing `json:"listings"`
}

type listing struct {
	Ticker      string                `json:"ticker"`
	FundingRate json.RawMessage       `json:"funding_rate"`
	Quotes      map[string]quoteLevel `json:"quotes"`
}

type quoteLevel struct {
	Bid json.RawMessage `json:"bid"`
	Ask json.RawMessage `json:"ask"`
}

// FetchQuote requests the stats payload and extracts both legs. Network
// failures, 429 and 5xx responses are returned as *domain.TransientError;
// other HTTP errors and malformed payloads as *domain.FatalError.
func (c *Client) FetchQuote(ctx context.Context) (domain.Quote, error) {
	start := c.now()
	body, err := c.doGet(ctx)
	if err != nil {
		return domain.Quote{}, err
	}
	fetchedAt := c.now()

	var resp statsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Quote{}, &domain.FatalError{Op: "variational: decode stats", Err: err}
	}

	paxg, ok := findListing(resp.Listings, c.cfg.PaxgTicker)
	if !ok {
		return domain.Quote{}, &domain.FatalError{Op: "variational: find listing", Err: fmt.Errorf("%s: %w", c.cfg.PaxgTicker, domain.ErrNotFound)}
	}
	xaut, ok := findListing(resp.Listings, c.cfg.XautTicker)
	if !ok {
		return domain.Quote{}, &domain.FatalError{Op: "variational: find listing", Err: fmt.Errorf("%s: %w", c.cfg.XautTicker, domain.ErrNotFound)}
	}

	pBid, pAsk, pSize, ok := pickLevel(paxg.Quotes, c.cfg.QuoteSize)
	if !ok {
		return domain.Quote{}, &domain.FatalError{Op: "variational: extract quote", Err: fmt.Errorf("%s has no complete quote level", paxg.Ticker)}
	}
	xBid, xAsk, xSize, ok := pickLevel(xaut.Quotes, c.cfg.QuoteSize)
	if !ok {
		return domain.Quote{}, &domain.FatalError{Op: "variational: extract quote", Err: fmt.Errorf("%s has no complete quote level", xaut.Ticker)}
	}

	return domain.Quote{
		PaxgBid:       pBid,
		PaxgAsk:       pAsk,
		XautBid:       xBid,
		XautAsk:       xAsk,
		PaxgFunding:   nullNumber(paxg.FundingRate),
		XautFunding:   nullNumber(xaut.FundingRate),
		QuoteSizePaxg: pSize,
		QuoteSizeXaut: xSize,
		Latency:       fetchedAt.Sub(start),
		FetchedAt:     fetchedAt,
	}, nil
}

func findListing(listings []listing, ticker string) (listing, bool) {
	for _, l := range listings {
		if l.Ticker == ticker {
			return l, true
		}
	}
	return listing{}, false
}

// pickLevel returns the preferred bucket when it has both sides, otherwise
// the first complete bucket in lexicographic key order.
func pickLevel(quotes map[string]quoteLevel, preferred string) (bid, ask decimal.Decimal, size string, ok bool) {
	if lvl, found := quotes[preferred]; found {
		if bid, ask, ok = parseLevel(lvl); ok {
			return bid, ask, preferred, true
		}
	}
	keys := make([]string, 0, len(quotes))
	for k := range quotes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if bid, ask, ok = parseLevel(quotes[k]); ok {
			return bid, ask, k, true
		}
	}
	return decimal.Zero, decimal.Zero, "", false
}

func parseLevel(lvl quoteLevel) (bid, ask decimal.Decimal, ok bool) {
	b, okB := parseNumber(lvl.Bid)
	a, okA := parseNumber(lvl.Ask)
	return b, a, okB && okA
}

// parseNumber accepts JSON numbers and numeric strings.
func parseNumber(raw json.RawMessage) (decimal.Decimal, bool) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return decimal.Zero, false
	}
	s = strings.Trim(s, `"`)
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return v, true
}

func nullNumber(raw json.RawMessage) decimal.NullDecimal {
	if v, ok := parseNumber(raw); ok {
		return decimal.NewNullDecimal(v)
	}
	return decimal.NullDecimal{}
}

func (c *Client) doGet(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return nil, &domain.FatalError{Op: "variational: create request", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &domain.TransientError{Op: "variational: http request", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.TransientError{Op: "variational: read response", Err: err}
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

func checkHTTPStatus(code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	snippet := string(body)
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	err := fmt.Errorf("status %d: %s", code, snippet)
	if code == http.StatusTooManyRequests || code >= 500 {
		return &domain.TransientError{Op: "variational: stats", Err: err}
	}
	return &domain.FatalError{Op: "variational: stats", Err: err}
}

var _ domain.QuoteSource = (*Client)(nil)
