package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"proxima/domain/report"
	"proxima/internal/errors"
	"proxima/ports"

	"github.com/google/uuid"
)

// MemoryReportRepository keeps reports in process. Used when no database is configured.
type MemoryReportRepository struct {
	mu      sync.RWMutex
	reports map[uuid.UUID][]byte
	headers map[uuid.UUID]report.Header
}

// NewMemoryReportRepository creates an empty in-memory repository
func NewMemoryReportRepository() ports.ReportRepository {
	return &MemoryReportRepository{
		reports: make(map[uuid.UUID][]byte),
		headers: make(map[uuid.UUID]report.Header),
	}
}

// Save stores an encoded copy so later mutation of rep is not visible
func (m *MemoryReportRepository) Save(_ context.Context, rep *report.Report) error {
	payload, err := json.Marshal(rep)
	if err != nil {
		return errors.Wrap(err, "failed to encode report")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[rep.ID] = payload
	m.headers[rep.ID] = rep.Header()
	return nil
}

func (m *MemoryReportRepository) Get(_ context.Context, id uuid.UUID) (*report.Report, error) {
	m.mu.RLock()
	payload, ok := m.reports[id]
	m.mu.RUnlock()
	if !ok {
		return nil, errors.NotFound("report " + id.String())
	}
	var rep report.Report
	if err := json.Unmarshal(payload, &rep); err != nil {
		return nil, errors.Wrap(err, "failed to decode report")
	}
	return &rep, nil
}

func (m *MemoryReportRepository) List(_ context.Context, sessionID string, limit int) ([]report.Header, error) {
	if sessionID == "" {
		return nil, errors.InvalidInput("session id is required to list reports")
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	m.mu.RLock()
	headers := make([]report.Header, 0, len(m.headers))
	for _, h := range m.headers {
		if h.SessionID == sessionID {
			headers = append(headers, h)
		}
	}
	m.mu.RUnlock()

	sort.Slice(headers, func(i, j int) bool {
		if !headers[i].CreatedAt.Equal(headers[j].CreatedAt) {
			return headers[i].CreatedAt.After(headers[j].CreatedAt)
		}
		return headers[i].ID.String() < headers[j].ID.String()
	})
	if len(headers) > limit {
		headers = headers[:limit]
	}
	return headers, nil
}
