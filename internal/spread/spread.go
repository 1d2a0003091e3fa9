// Package spread turns venue quotes into ticks. It is pure and does no I/O.
package spread

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/goldspread/internal/domain"
)

// DefaultPair is the pair label stamped on ticks.
const DefaultPair = "PAXG-XAUT"

// Compute derives a Tick from q using the annual factor in force now.
//
//	spread_open  = paxg_bid - xaut_ask
//	spread_close = xaut_bid - paxg_ask
//
// Funding fields are null when either leg has no funding rate.
func Compute(q domain.Quote, annualFactor decimal.Decimal) (domain.Tick, error) {
	prices := []struct {
		field string
		v     decimal.Decimal
	}{
		{"paxg_bid", q.PaxgBid},
		{"paxg_ask", q.PaxgAsk},
		{"xaut_bid", q.XautBid},
		{"xaut_ask", q.XautAsk},
	}
	for _, p := range prices {
		if !p.v.IsPositive() {
			return domain.Tick{}, &domain.ValidationError{Field: p.field, Value: p.v.String(), Reason: "price must be positive"}
		}
	}
	if annualFactor.IsNegative() {
		return domain.Tick{}, &domain.ValidationError{Field: "annual_factor", Value: annualFactor.String(), Reason: "must not be negative"}
	}

	t := domain.Tick{
		Pair:          DefaultPair,
		Timestamp:     q.FetchedAt,
		PaxgBid:       q.PaxgBid,
		PaxgAsk:       q.PaxgAsk,
		XautBid:       q.XautBid,
		XautAsk:       q.XautAsk,
		PaxgFunding:   q.PaxgFunding,
		XautFunding:   q.XautFunding,
		SpreadOpen:    q.PaxgBid.Sub(q.XautAsk),
		SpreadClose:   q.XautBid.Sub(q.PaxgAsk),
		AnnualFactor:  annualFactor,
		QuoteSizePaxg: q.QuoteSizePaxg,
		QuoteSizeXaut: q.QuoteSizeXaut,
		Latency:       q.Latency,
	}
	if q.PaxgFunding.Valid && q.XautFunding.Valid {
		raw := q.PaxgFunding.Decimal.Sub(q.XautFunding.Decimal)
		t.FundingDiffRaw = decimal.NewNullDecimal(raw)
		t.FundingDiffAnnual = decimal.NewNullDecimal(raw.Mul(annualFactor))
	}
	return t, nil
}
