package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/packlens-labs/packlens-go/internal/repo"
)

// ReportLogStore appends generated-report events. Rows are never updated or
// deleted; the report history of a run is its full audit trail.
type ReportLogStore struct {
	db DB
}

func NewReportLogStore(db DB) *ReportLogStore {
	if db == nil {
		return nil
	}
	return &ReportLogStore{db: db}
}

func (s *ReportLogStore) Append(ctx context.Context, entry repo.ReportLogEntry) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("report log store not initialized")
	}
	if strings.TrimSpace(entry.InstanceID) == "" {
		return fmt.Errorf("instance id is required")
	}
	if err := entry.Report.Validate(); err != nil {
		return err
	}
	generatedAt := entry.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO report_log (instance_id, generated_at, generated_by, accepted, comment, report_container, report_blob_name)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		strings.TrimSpace(entry.InstanceID),
		generatedAt.UTC(),
		nullIfEmpty(entry.GeneratedBy),
		entry.Accepted,
		nullIfEmpty(entry.Comment),
		entry.Report.Container,
		entry.Report.Name,
	)
	if err != nil {
		return fmt.Errorf("append report log: %w", err)
	}
	return nil
}
