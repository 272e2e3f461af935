package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries period maintenance that blocks posting.
	QueueCritical = "critical"

	// TaskLedgerPeriodClose closes a period and carries balances forward.
	TaskLedgerPeriodClose = "ledger:period:close"
	// TaskLedgerPeriodRebuild regenerates the balance rows of a period.
	TaskLedgerPeriodRebuild = "ledger:period:rebuild"
	// TaskLedgerIntegrity compares stored balances with posted lines.
	TaskLedgerIntegrity = "ledger:integrity:check"
	// TaskIdempotencyCleanup purges expired request keys.
	TaskIdempotencyCleanup = "ledger:idempotency:cleanup"
)

// PeriodPayload identifies one period of one company.
type PeriodPayload struct {
	CompanyID int64 `json:"company_id"`
	PeriodID  int64 `json:"period_id"`
	ActorID   int64 `json:"actor_id"`
}

func (p PeriodPayload) validate() error {
	if p.CompanyID <= 0 || p.PeriodID <= 0 || p.ActorID <= 0 {
		return fmt.Errorf("jobs: company, period and actor are required")
	}
	return nil
}

// IntegrityPayload selects the scope of an integrity check. A zero PeriodID
// checks every period of each company.
type IntegrityPayload struct {
	CompanyIDs []int64 `json:"company_ids"`
	PeriodID   int64   `json:"period_id,omitempty"`
	ActorID    int64   `json:"actor_id"`
}

// CleanupPayload sets the retention for idempotency keys.
type CleanupPayload struct {
	OlderThan time.Duration `json:"older_than"`
}

// NewPeriodCloseTask builds a close task. The task ID keeps one close per
// period in flight.
func NewPeriodCloseTask(p PeriodPayload) (*asynq.Task, error) {
	return newPeriodTask(TaskLedgerPeriodClose, p)
}

// NewPeriodRebuildTask builds a rebuild task.
func NewPeriodRebuildTask(p PeriodPayload) (*asynq.Task, error) {
	return newPeriodTask(TaskLedgerPeriodRebuild, p)
}

func newPeriodTask(typ string, p PeriodPayload) (*asynq.Task, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, data,
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(5),
		asynq.TaskID(fmt.Sprintf("%s:%d:%d", typ, p.CompanyID, p.PeriodID)),
	), nil
}

// NewIntegrityTask builds an integrity check task.
func NewIntegrityTask(p IntegrityPayload) (*asynq.Task, error) {
	if len(p.CompanyIDs) == 0 {
		return nil, fmt.Errorf("jobs: integrity check needs at least one company")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, data, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// NewIdempotencyCleanupTask builds a cleanup task.
func NewIdempotencyCleanupTask(olderThan time.Duration) (*asynq.Task, error) {
	if olderThan <= 0 {
		return nil, fmt.Errorf("jobs: retention must be positive")
	}
	data, err := json.Marshal(CleanupPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}
