package orchestrate

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/packlens-labs/packlens-go/internal/domain"
)

// Runtime states of a hosted run.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var ErrUnknownInstance = errors.New("unknown instance")

// InstanceStatus is a point-in-time view of a hosted run.
type InstanceStatus struct {
	InstanceID string
	Status     string
	Progress   string
	Record     domain.RunRecord
	Err        error
}

// Host schedules orchestrations. Distinct identities run fully in
// parallel; resubmissions of the same identity are serialized behind a
// per-identity lock so two executions of one logical run never race.
type Host struct {
	engine *Orchestrator
	logger *slog.Logger

	mu        sync.Mutex
	locks     map[string]*sync.Mutex
	instances map[string]*InstanceStatus
	wg        sync.WaitGroup
}

func NewHost(engine *Orchestrator, logger *slog.Logger) *Host {
	return &Host{
		engine:    engine,
		logger:    logger,
		locks:     map[string]*sync.Mutex{},
		instances: map[string]*InstanceStatus{},
	}
}

// Submit starts an asynchronous execution of the run. It returns
// immediately; callers observe completion through Status. The context
// governs the whole execution, so it should outlive the request that
// triggered submission.
func (h *Host) Submit(ctx context.Context, instanceID string, input domain.RunInput) {
	h.mu.Lock()
	lock, ok := h.locks[instanceID]
	if !ok {
		lock = &sync.Mutex{}
		h.locks[instanceID] = lock
	}
	if _, ok := h.instances[instanceID]; !ok {
		h.instances[instanceID] = &InstanceStatus{InstanceID: instanceID, Status: StatusRunning}
	}
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		lock.Lock()
		defer lock.Unlock()

		// The fresh entry goes in only once the per-identity lock is held:
		// until this execution actually starts, Status keeps reporting the
		// in-flight one instead of a resubmission that has not begun.
		st := &InstanceStatus{InstanceID: instanceID, Status: StatusRunning}
		h.mu.Lock()
		h.instances[instanceID] = st
		h.mu.Unlock()

		record, err := h.engine.Execute(ctx, instanceID, input, func(marker string) {
			h.setProgress(instanceID, marker)
		})

		h.mu.Lock()
		defer h.mu.Unlock()
		if err != nil {
			st.Status = StatusFailed
			st.Err = err
			h.logger.Error("run failed", "instance", instanceID, "error", err)
			return
		}
		st.Status = StatusCompleted
		st.Record = record
	}()
}

func (h *Host) setProgress(instanceID, marker string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if st, ok := h.instances[instanceID]; ok {
		st.Progress = marker
	}
}

// Status reports the runtime view of an instance. Runs submitted before a
// host restart are not known here; callers fall back to the run log.
func (h *Host) Status(instanceID string) (InstanceStatus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.instances[instanceID]
	if !ok {
		return InstanceStatus{}, ErrUnknownInstance
	}
	return *st, nil
}

// Wait blocks until every submitted run reached a terminal state. Used by
// shutdown paths and tests.
func (h *Host) Wait() { h.wg.Wait() }
