package schedule

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var ErrInvalidSpec = errors.New("schedule must look like type:node:cron")

// Spec names the workflow type and start node a schedule starts, and when.
type Spec struct {
	WorkflowType string
	Node         string
	CronExpr     string
}

// ParseSpec reads "type:node:cron". The cron expression may itself contain colons.
func ParseSpec(value string) (Spec, error) {
	parts := strings.SplitN(value, ":", 3)
	if len(parts) != 3 {
		return Spec{}, fmt.Errorf("%w: %q", ErrInvalidSpec, value)
	}

	return Spec{
		WorkflowType: strings.TrimSpace(parts[0]),
		Node:         strings.TrimSpace(parts[1]),
		CronExpr:     strings.TrimSpace(parts[2]),
	}, nil
}

// NewScheduleTriggers builds one trigger per spec value, failing on the first invalid one.
func NewScheduleTriggers(values []string, starter Starter, logger *slog.Logger) ([]*ScheduleTrigger, error) {
	triggers := make([]*ScheduleTrigger, 0, len(values))

	for _, value := range values {
		spec, err := ParseSpec(value)
		if err != nil {
			return nil, err
		}

		trigger, err := NewScheduleTrigger(spec, starter, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create schedule trigger: %w", err)
		}

		triggers = append(triggers, trigger)
	}

	return triggers, nil
}
