package handler

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/goldspread/internal/domain"
	"github.com/alanyoungcy/goldspread/internal/engine"
)

// StatusHandler serves the engine snapshot shown by /status in chat.
type StatusHandler struct {
	engine    EngineView
	mode      string
	ticksOnly bool
	now       func() time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(view EngineView, mode string, ticksOnly bool) *StatusHandler {
	return &StatusHandler{engine: view, mode: mode, ticksOnly: ticksOnly, now: time.Now}
}

type lastTickResponse struct {
	Timestamp         time.Time           `json:"timestamp"`
	SpreadOpen        decimal.Decimal     `json:"spread_open"`
	SpreadClose       decimal.Decimal     `json:"spread_close"`
	FundingDiffAnnual decimal.NullDecimal `json:"funding_diff_annual"`
}

type effectFailureResponse struct {
	Effect   string    `json:"effect"`
	Ref      int64     `json:"ref"`
	Error    string    `json:"error"`
	Attempts int       `json:"attempts"`
	At       time.Time `json:"at"`
}

type statusResponse struct {
	Mode           string                        `json:"mode"`
	TicksOnly      bool                          `json:"ticks_only"`
	StartedAt      time.Time                     `json:"started_at"`
	UptimeSeconds  int64                         `json:"uptime_seconds"`
	TicksSeen      int64                         `json:"ticks_seen"`
	LastTick       *lastTickResponse             `json:"last_tick"`
	Positions      map[domain.PositionStatus]int `json:"positions"`
	ClosedSession  int                           `json:"closed_this_session"`
	NextID         int64                         `json:"next_id"`
	Policy         engine.OpenPolicy             `json:"open_policy"`
	Config         domain.RuntimeConfig          `json:"config"`
	PendingEffects int                           `json:"pending_effects"`
	FailedEffects  int64                         `json:"failed_effects"`
	RecentFailures []effectFailureResponse       `json:"recent_failures"`
}

// GetStatus returns the engine snapshot.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st := h.engine.Status()
	resp := statusResponse{
		Mode:           h.mode,
		TicksOnly:      h.ticksOnly,
		StartedAt:      st.StartedAt,
		UptimeSeconds:  int64(h.now().Sub(st.StartedAt).Seconds()),
		TicksSeen:      st.TicksSeen,
		Positions:      st.Counts,
		ClosedSession:  st.ClosedSession,
		NextID:         st.NextID,
		Policy:         st.Policy,
		Config:         st.Config,
		PendingEffects: st.PendingEffects,
		FailedEffects:  st.FailedEffects,
		RecentFailures: make([]effectFailureResponse, 0, len(st.RecentFailures)),
	}
	if st.LastTick != nil {
		resp.LastTick = &lastTickResponse{
			Timestamp:         st.LastTick.Timestamp,
			SpreadOpen:        st.LastTick.SpreadOpen,
			SpreadClose:       st.LastTick.SpreadClose,
			FundingDiffAnnual: st.LastTick.FundingDiffAnnual,
		}
	}
	for _, f := range st.RecentFailures {
		resp.RecentFailures = append(resp.RecentFailures, effectFailureResponse{
			Effect: f.Effect, Ref: f.Ref, Error: f.Err, Attempts: f.Attempts, At: f.At,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
