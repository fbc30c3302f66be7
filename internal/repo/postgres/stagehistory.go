package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// StageHistoryStore records completed stage results per run instance. The
// (instance_id, stage) key is written at most once: replays and duplicate
// deliveries hit the conflict path and keep the first recorded result, which
// is what makes replay deterministic across host restarts.
type StageHistoryStore struct {
	db DB
}

func NewStageHistoryStore(db DB) *StageHistoryStore {
	if db == nil {
		return nil
	}
	return &StageHistoryStore{db: db}
}

const insertStageResultQuery = `INSERT INTO stage_history (instance_id, stage, result, recorded_at)
	VALUES ($1, $2, $3, now())
	ON CONFLICT (instance_id, stage) DO NOTHING`

const listStageHistoryQuery = `SELECT stage, result FROM stage_history WHERE instance_id = $1`

func (s *StageHistoryStore) Record(ctx context.Context, instanceID, stage string, result json.RawMessage) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("stage history store not initialized")
	}
	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" {
		return fmt.Errorf("instance id is required")
	}
	stage = strings.TrimSpace(stage)
	if stage == "" {
		return fmt.Errorf("stage is required")
	}
	if len(result) == 0 {
		result = json.RawMessage("null")
	}

	_, err := s.db.ExecContext(
		ctx,
		insertStageResultQuery,
		instanceID,
		stage,
		[]byte(result),
	)
	if err != nil {
		return fmt.Errorf("record stage result: %w", err)
	}
	return nil
}

func (s *StageHistoryStore) List(ctx context.Context, instanceID string) (map[string]json.RawMessage, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("stage history store not initialized")
	}
	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" {
		return nil, fmt.Errorf("instance id is required")
	}

	rows, err := s.db.QueryContext(
		ctx,
		listStageHistoryQuery,
		instanceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list stage history: %w", err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var stage string
		var result []byte
		if err := rows.Scan(&stage, &result); err != nil {
			return nil, fmt.Errorf("scan stage history: %w", err)
		}
		out[stage] = json.RawMessage(result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stage history: %w", err)
	}
	return out, nil
}
