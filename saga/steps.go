package saga

import (
	"context"
	"fmt"
)

// StepStatus is the outcome of a step.
type StepStatus int

const (
	// StepPending means the step is waiting for a later message.
	StepPending StepStatus = iota
	StepCompleted
	StepFailed
)

func (s StepStatus) String() string {
	switch s {
	case StepPending:
		return "pending"
	case StepCompleted:
		return "completed"
	case StepFailed:
		return "failed"
	default:
		return fmt.Sprintf("StepStatus(%d)", int(s))
	}
}

// Step is one stage of an ordered saga pipeline.
type Step[S State, M any] struct {
	Name string
	Run  func(ctx context.Context, sc *Context[S, M]) (StepStatus, error)
}

func NewStep[S State, M any](name string, run func(ctx context.Context, sc *Context[S, M]) (StepStatus, error)) Step[S, M] {
	return Step[S, M]{Name: name, Run: run}
}

// RunSteps runs steps in order and stops at the first one that does not
// complete. An empty pipeline is completed.
func RunSteps[S State, M any](ctx context.Context, sc *Context[S, M], steps []Step[S, M]) (StepStatus, error) {
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return StepPending, err
		}

		status, err := step.Run(ctx, sc)
		if err != nil {
			return StepFailed, fmt.Errorf("step %s: %w", step.Name, err)
		}
		if status != StepCompleted {
			return status, nil
		}
	}
	return StepCompleted, nil
}
