package spread

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/goldspread/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func quote(pb, pa, xb, xa string) domain.Quote {
	return domain.Quote{
		PaxgBid:   d(pb),
		PaxgAsk:   d(pa),
		XautBid:   d(xb),
		XautAsk:   d(xa),
		FetchedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestComputeSpreads(t *testing.T) {
	tests := []struct {
		name      string
		q         domain.Quote
		wantOpen  string
		wantClose string
	}{
		{"paxg rich", quote("2650.40", "2650.90", "2610.10", "2610.35"), "40.05", "-40.8"},
		{"xaut rich", quote("2600.00", "2600.50", "2655.25", "2655.75"), "-55.75", "54.75"},
		{"tiny tick", quote("0.3", "0.3", "0.1", "0.2"), "0.1", "-0.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tick, err := Compute(tt.q, d("365"))
			if err != nil {
				t.Fatalf("Compute: %v", err)
			}
			if !tick.SpreadOpen.Equal(d(tt.wantOpen)) {
				t.Errorf("SpreadOpen = %s, want %s", tick.SpreadOpen, tt.wantOpen)
			}
			if !tick.SpreadClose.Equal(d(tt.wantClose)) {
				t.Errorf("SpreadClose = %s, want %s", tick.SpreadClose, tt.wantClose)
			}
			if !tick.Timestamp.Equal(tt.q.FetchedAt) {
				t.Errorf("Timestamp = %v, want %v", tick.Timestamp, tt.q.FetchedAt)
			}
		})
	}
}

func TestComputeIsStableAcrossCalls(t *testing.T) {
	q := quote("0.3", "0.7", "0.1", "0.2")
	first, err := Compute(q, d("365"))
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	for i := 0; i < 1000; i++ {
		tick, _ := Compute(q, d("365"))
		if !tick.SpreadOpen.Equal(first.SpreadOpen) || !tick.SpreadClose.Equal(first.SpreadClose) {
			t.Fatalf("call %d drifted: open=%s close=%s", i, tick.SpreadOpen, tick.SpreadClose)
		}
	}
	if first.SpreadOpen.String() != "0.1" {
		t.Fatalf("SpreadOpen = %s, want exact 0.1", first.SpreadOpen)
	}
}

func TestComputeFunding(t *testing.T) {
	q := quote("10", "11", "9", "10")
	q.PaxgFunding = decimal.NewNullDecimal(d("0.0003"))
	q.XautFunding = decimal.NewNullDecimal(d("0.0001"))

	tick, err := Compute(q, d("365"))
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if !tick.FundingDiffRaw.Valid || !tick.FundingDiffRaw.Decimal.Equal(d("0.0002")) {
		t.Errorf("FundingDiffRaw = %+v, want 0.0002", tick.FundingDiffRaw)
	}
	if !tick.FundingDiffAnnual.Valid || !tick.FundingDiffAnnual.Decimal.Equal(d("0.073")) {
		t.Errorf("FundingDiffAnnual = %+v, want 0.073", tick.FundingDiffAnnual)
	}
	if !tick.AnnualFactor.Equal(d("365")) {
		t.Errorf("AnnualFactor = %s, want 365", tick.AnnualFactor)
	}

	q.XautFunding = decimal.NullDecimal{}
	tick, err = Compute(q, d("365"))
	if err != nil {
		t.Fatalf("Compute without funding: %v", err)
	}
	if tick.FundingDiffRaw.Valid || tick.FundingDiffAnnual.Valid {
		t.Errorf("funding diff should be null when a leg is missing, got %+v", tick.FundingDiffAnnual)
	}
}

func TestComputeRejectsBadInput(t *testing.T) {
	tests := []struct {
		name   string
		q      domain.Quote
		factor string
		field  string
	}{
		{"zero bid", quote("0", "1", "1", "1"), "365", "paxg_bid"},
		{"negative ask", quote("1", "1", "1", "-2"), "365", "xaut_ask"},
		{"negative factor", quote("1", "1", "1", "1"), "-1", "annual_factor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compute(tt.q, d(tt.factor))
			var ve *domain.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want *ValidationError", err)
			}
			if ve.Field != tt.field {
				t.Errorf("Field = %q, want %q", ve.Field, tt.field)
			}
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("errors.Is(err, ErrValidation) = false")
			}
		})
	}
}
