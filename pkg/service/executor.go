package service

import (
	"context"

	"github.com/hireflow/hireflow/pkg/models"
)

// LoggingExecutor is the default StepExecutor: it acknowledges every
// action and records what ran. Deployments plug in a real integration
// (AI scoring, email delivery) behind the same interface.
type LoggingExecutor struct {
	logger Logger
}

func NewLoggingExecutor(logger Logger) *LoggingExecutor {
	return &LoggingExecutor{logger: logger}
}

func (e *LoggingExecutor) Execute(ctx context.Context, instanceID string, action models.ActionDescriptor) (models.Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.logger.Infof("Executing action '%s' for instance %s", action.Type, instanceID)
	return models.Payload{action.Type: "done"}, nil
}
