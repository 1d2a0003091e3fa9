package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is one snapshot of both legs as returned by the venue.
type Quote struct {
	PaxgBid     decimal.Decimal
	PaxgAsk     decimal.Decimal
	XautBid     decimal.Decimal
	XautAsk     decimal.Decimal
	PaxgFunding decimal.NullDecimal
	XautFunding decimal.NullDecimal

	// QuoteSizePaxg and QuoteSizeXaut name the liquidity bucket the
	// prices were read from, e.g. "size_100k".
	QuoteSizePaxg string
	QuoteSizeXaut string
	Latency       time.Duration
	FetchedAt     time.Time
}

// QuoteSource fetches the latest quote for both legs. Errors are classified
// as *TransientError or *FatalError.
type QuoteSource interface {
	FetchQuote(ctx context.Context) (Quote, error)
}

// Tick is an immutable observation derived from a Quote. AnnualFactor is the
// factor in force when the tick was computed, so history keeps the config it
// was observed under.
type Tick struct {
	Pair      string    `json:"pair"`
	Timestamp time.Time `json:"timestamp"`

	PaxgBid     decimal.Decimal     `json:"paxg_bid"`
	PaxgAsk     decimal.Decimal     `json:"paxg_ask"`
	XautBid     decimal.Decimal     `json:"xaut_bid"`
	XautAsk     decimal.Decimal     `json:"xaut_ask"`
	PaxgFunding decimal.NullDecimal `json:"paxg_funding"`
	XautFunding decimal.NullDecimal `json:"xaut_funding"`

	SpreadOpen        decimal.Decimal     `json:"spread_open"`
	SpreadClose       decimal.Decimal     `json:"spread_close"`
	FundingDiffRaw    decimal.NullDecimal `json:"funding_diff_raw"`
	FundingDiffAnnual decimal.NullDecimal `json:"funding_diff_annual"`
	AnnualFactor      decimal.Decimal     `json:"annual_factor"`

	QuoteSizePaxg string        `json:"quote_size_paxg"`
	QuoteSizeXaut string        `json:"quote_size_xaut"`
	Latency       time.Duration `json:"latency_ns"`
}
