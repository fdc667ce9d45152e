// Package report holds the persisted result of an analysis run.
package report

import (
	"time"

	"github.com/google/uuid"

	"proxima/domain/experiment"
	"proxima/internal/decision"
	"proxima/internal/fragility"
	"proxima/internal/scoring"
)

// Kind names the operation that produced a report
type Kind string

const (
	KindFullAnalysis Kind = "full_analysis"
	KindProxyScores  Kind = "proxy_scores"
	KindFragility    Kind = "fragility"
	KindDecisions    Kind = "decision_simulation"
	KindRegret       Kind = "segment_regret"
)

// DataSummary describes the dataset and headline findings
type DataSummary struct {
	experiment.Summary
	BestProxy       string  `json:"best_proxy,omitempty"`
	BestReliability float64 `json:"best_reliability,omitempty"`
	FragilityMetric string  `json:"fragility_metric,omitempty"`
}

// Report is one analysis result. Sections absent for a kind are left empty.
type Report struct {
	ID          uuid.UUID                  `json:"id"`
	SessionID   string                     `json:"session_id"`
	Kind        Kind                       `json:"kind"`
	Metric      string                     `json:"metric,omitempty"`
	CreatedAt   time.Time                  `json:"created_at"`
	Threshold   float64                    `json:"threshold"`
	MinCount    int                        `json:"min_count,omitempty"`
	Summary     *DataSummary               `json:"data_summary,omitempty"`
	ProxyScores []scoring.ProxyScore       `json:"proxy_scores,omitempty"`
	Decisions   []decision.Result          `json:"decision_simulation,omitempty"`
	Fragility   []fragility.FragileSegment `json:"fragility_analysis,omitempty"`
	Regret      []decision.SegmentRegret   `json:"segment_regret,omitempty"`
	Warnings    []string                   `json:"warnings,omitempty"`
}

// New stamps a report with a fresh id and creation time
func New(sessionID string, kind Kind) *Report {
	return &Report{
		ID:        uuid.New(),
		SessionID: sessionID,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
}

// Header is the listing view of a stored report
type Header struct {
	ID        uuid.UUID `json:"id" db:"id"`
	SessionID string    `json:"session_id" db:"session_id"`
	Kind      Kind      `json:"kind" db:"kind"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Header returns the listing view of r
func (r *Report) Header() Header {
	return Header{ID: r.ID, SessionID: r.SessionID, Kind: r.Kind, CreatedAt: r.CreatedAt}
}
