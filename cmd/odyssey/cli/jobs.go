package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-gl/jobs"
)

// JobNames lists the jobs Trigger accepts.
var JobNames = []string{"close", "rebuild", "integrity"}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *jobs.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	client, err := jobs.NewClient(opts)
	if err != nil {
		return nil, err
	}
	return &JobsCLI{client: client, inspector: asynq.NewInspector(opts)}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// Trigger enqueues a supported job by name.
func (c *JobsCLI) Trigger(ctx context.Context, name string, args PeriodArgs) (*asynq.TaskInfo, error) {
	if !knownJob(name) {
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	payload := jobs.PeriodPayload{CompanyID: args.CompanyID, PeriodID: args.PeriodID, ActorID: args.ActorID}
	switch name {
	case "close":
		return c.client.EnqueuePeriodClose(ctx, payload)
	case "rebuild":
		return c.client.EnqueuePeriodRebuild(ctx, payload)
	default:
		return c.client.EnqueueIntegrity(ctx, jobs.IntegrityPayload{
			CompanyIDs: []int64{args.CompanyID},
			PeriodID:   args.PeriodID,
			ActorID:    args.ActorID,
		})
	}
}

// InspectQueue reports the ledger queue metrics.
func (c *JobsCLI) InspectQueue(ctx context.Context) ([]jobs.QueueStats, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	return jobs.InspectQueues(c.inspector)
}

func knownJob(name string) bool {
	for _, n := range JobNames {
		if n == name {
			return true
		}
	}
	return false
}
