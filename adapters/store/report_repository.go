package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"time"

	"proxima/domain/report"
	"proxima/internal/errors"
	"proxima/ports"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// DefaultListLimit caps List when the caller passes no limit.
const DefaultListLimit = 50

type reportRow struct {
	ID        string    `db:"id"`
	SessionID string    `db:"session_id"`
	Kind      string    `db:"kind"`
	CreatedAt time.Time `db:"created_at"`
	Payload   string    `db:"payload"`
}

// SQLReportRepository implements ReportRepository over sqlx
type SQLReportRepository struct {
	db *sqlx.DB
}

// NewReportRepository creates a report repository on an open, migrated database
func NewReportRepository(db *sqlx.DB) ports.ReportRepository {
	return &SQLReportRepository{db: db}
}

// Save upserts the report as a JSON payload
func (r *SQLReportRepository) Save(ctx context.Context, rep *report.Report) error {
	payload, err := json.Marshal(rep)
	if err != nil {
		return errors.Wrap(err, "failed to encode report")
	}
	row := reportRow{
		ID:        rep.ID.String(),
		SessionID: rep.SessionID,
		Kind:      string(rep.Kind),
		CreatedAt: rep.CreatedAt.UTC(),
		Payload:   string(payload),
	}

	_, err = r.db.NamedExecContext(ctx, `
		INSERT INTO analysis_reports (id, session_id, kind, created_at, payload)
		VALUES (:id, :session_id, :kind, :created_at, :payload)
		ON CONFLICT (id) DO UPDATE
		SET session_id = excluded.session_id, kind = excluded.kind,
			created_at = excluded.created_at, payload = excluded.payload
	`, row)
	if err != nil {
		return errors.WithCode(errors.CodeDatabaseError, errors.Wrap(err, "failed to save report"))
	}
	return nil
}

// Get loads and decodes one report
func (r *SQLReportRepository) Get(ctx context.Context, id uuid.UUID) (*report.Report, error) {
	var payload string
	err := r.db.GetContext(ctx, &payload, r.db.Rebind(`
		SELECT payload FROM analysis_reports WHERE id = ?
	`), id.String())
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("report " + id.String())
	}
	if err != nil {
		return nil, errors.WithCode(errors.CodeDatabaseError, errors.Wrap(err, "failed to load report"))
	}

	var rep report.Report
	if err := json.Unmarshal([]byte(payload), &rep); err != nil {
		return nil, errors.Wrap(err, "failed to decode report")
	}
	return &rep, nil
}

// List returns report headers, newest first
func (r *SQLReportRepository) List(ctx context.Context, sessionID string, limit int) ([]report.Header, error) {
	if sessionID == "" {
		return nil, errors.InvalidInput("session id is required to list reports")
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `SELECT id, session_id, kind, created_at FROM analysis_reports
		WHERE session_id = ? ORDER BY created_at DESC, id LIMIT ?`

	headers := []report.Header{}
	if err := r.db.SelectContext(ctx, &headers, r.db.Rebind(query), sessionID, limit); err != nil {
		return nil, errors.WithCode(errors.CodeDatabaseError, errors.Wrap(err, "failed to list reports"))
	}
	for i := range headers {
		headers[i].CreatedAt = headers[i].CreatedAt.UTC()
	}
	return headers, nil
}
