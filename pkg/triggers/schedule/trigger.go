// Package schedule starts workflow instances on cron schedules.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowline/pkg/models"
	"github.com/robfig/cron/v3"
)

// ScheduledAtKey is the state key holding the time a scheduled instance was started.
const ScheduledAtKey = "scheduled_at"

// Starter creates workflow instances from a start node.
type Starter interface {
	Start(ctx context.Context, typeName, node string, state models.State, user *models.User) (*models.Workflow, error)
}

type ScheduleTrigger struct {
	Spec

	cron    *cron.Cron
	starter Starter
	logger  *slog.Logger
	now     func() time.Time
}

func NewScheduleTrigger(spec Spec, starter Starter, logger *slog.Logger) (*ScheduleTrigger, error) {
	trigger := &ScheduleTrigger{
		Spec:    spec,
		starter: starter,
		now:     func() time.Time { return time.Now().UTC() },
		logger: logger.With(
			"module", "schedule_trigger",
			"cron", spec.CronExpr,
			"workflow_type", spec.WorkflowType,
			"node", spec.Node,
		),
	}

	err := trigger.Validate()
	if err != nil {
		return nil, err
	}

	return trigger, nil
}

func (t *ScheduleTrigger) Validate() error {
	if t.WorkflowType == "" {
		return errors.New("schedule trigger workflow type is required")
	}

	if t.Node == "" {
		return errors.New("schedule trigger start node is required")
	}

	if t.CronExpr == "" {
		return errors.New("schedule trigger cron expression is required")
	}

	_, err := cron.ParseStandard(t.CronExpr)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	return nil
}

// Start schedules the trigger until Stop is called.
func (t *ScheduleTrigger) Start(ctx context.Context) error {
	t.logger.InfoContext(ctx, "Starting ScheduleTrigger")

	t.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	id, err := t.cron.AddFunc(t.CronExpr, func() { t.Fire(context.WithoutCancel(ctx)) })
	if err != nil {
		return fmt.Errorf("failed to add cron job for %s: %w", t.WorkflowType, err)
	}

	t.logger.DebugContext(ctx, "Added cron job for trigger", "entry_id", id)
	t.cron.Start()

	return nil
}

// Fire starts one workflow instance now.
func (t *ScheduleTrigger) Fire(ctx context.Context) {
	state := models.State{ScheduledAtKey: t.now().Format(time.RFC3339)}

	workflow, err := t.starter.Start(ctx, t.WorkflowType, t.Node, state, nil)
	if err != nil {
		t.logger.ErrorContext(ctx, "Failed to start scheduled workflow", "error", err)

		return
	}

	t.logger.InfoContext(ctx, "Started scheduled workflow", "workflow_id", workflow.ID)
}

// Stop stops scheduling and waits for a running start to finish or ctx to end.
func (t *ScheduleTrigger) Stop(ctx context.Context) error {
	t.logger.InfoContext(ctx, "Stopping ScheduleTrigger")

	if t.cron == nil {
		return nil
	}

	select {
	case <-t.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
