// Package repo declares the persistence contracts of the verification
// pipeline.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/packlens-labs/packlens-go/internal/domain"
)

var ErrNotFound = errors.New("not found")

// RunLogRepository persists run outcomes, one row per run identity.
// Upsert is the sole write primitive: the first write for an identity
// creates the row, every later write for the same identity fully overwrites
// the derived columns while preserving the creation metadata.
type RunLogRepository interface {
	Upsert(ctx context.Context, record domain.RunRecord) error
	Get(ctx context.Context, identity string) (domain.RunRecord, error)
}

// StageHistoryRepository records completed stage results so a replayed
// orchestration can fast-forward past stages that already ran. Record is
// insert-if-absent: the first completion of a stage wins and later attempts
// of the same stage are ignored.
type StageHistoryRepository interface {
	Record(ctx context.Context, instanceID, stage string, result json.RawMessage) error
	List(ctx context.Context, instanceID string) (map[string]json.RawMessage, error)
}

// ReportLogEntry is one generated-report event for a persisted run.
type ReportLogEntry struct {
	InstanceID  string
	GeneratedAt time.Time
	GeneratedBy string
	Accepted    bool
	Comment     string
	Report      domain.BlobRef
}

// ReportLogAppender ensures append-only report log writes.
type ReportLogAppender interface {
	Append(ctx context.Context, entry ReportLogEntry) error
}
