package ports

import (
	"context"

	"proxima/domain/report"

	"github.com/google/uuid"
)

// ReportRepository persists analysis reports
type ReportRepository interface {
	// Save stores a report, replacing any report with the same id
	Save(ctx context.Context, r *report.Report) error

	// Get loads a report by id. A missing report is a NOT_FOUND error.
	Get(ctx context.Context, id uuid.UUID) (*report.Report, error)

	// List returns a session's newest reports first. An empty sessionID is INVALID_INPUT.
	List(ctx context.Context, sessionID string, limit int) ([]report.Header, error)
}
