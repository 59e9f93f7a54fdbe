package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// stepExecutor applies one step at a time through the resource adapter. It
// performs exactly one adapter call per step, never retries, and converts
// every failure mode, including adapter panics, into a StepError so that
// nothing raises past the engine boundary.
type stepExecutor struct {
	adapter Adapter
	logger  zerolog.Logger
}

func newStepExecutor(adapter Adapter, logger zerolog.Logger) *stepExecutor {
	return &stepExecutor{
		adapter: adapter,
		logger:  logger.With().Str("component", "executor").Logger(),
	}
}

// Execute dispatches the step to the adapter. A nil return means the step
// completed; otherwise the returned StepError carries the resource id and
// the adapter's message, uninterpreted.
func (x *stepExecutor) Execute(ctx context.Context, step Step) (stepErr *StepError) {
	defer func() {
		if r := recover(); r != nil {
			x.logger.Error().
				Str("resource_id", step.Resource.ID).
				Str("action", string(step.Action)).
				Interface("panic", r).
				Msg("Adapter panicked during step execution")
			stepErr = &StepError{
				ResourceID: step.Resource.ID,
				Message:    fmt.Sprintf("adapter panic: %v", r),
			}
		}
	}()

	var err error
	switch step.Action {
	case ActionAdd:
		err = x.adapter.Create(ctx, step.Resource)
	case ActionUpdate:
		err = x.adapter.Update(ctx, step.Resource)
	case ActionRemove:
		err = x.adapter.Remove(ctx, step.Resource.ID)
	default:
		err = fmt.Errorf("unknown step action: %s", step.Action)
	}

	if err != nil {
		x.logger.Warn().
			Err(err).
			Str("resource_id", step.Resource.ID).
			Str("action", string(step.Action)).
			Msg("Step failed")
		return &StepError{ResourceID: step.Resource.ID, Message: err.Error()}
	}

	return nil
}
