package execution

import (
	"context"
	"errors"

	"github.com/Ramsey-B/fern/pkg/expressions"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
)

// PollResult is the outcome of polling one step.
type PollResult struct {
	Met      bool
	Attempts int
	// Last is the final attempt's result
	Last *StepResult
}

// ConditionMet reports whether the response satisfies cond. The expected value is
// placeholder-resolved; a missing notation compares as "".
func ConditionMet(cond *models.ContinueIf, result *StepResult, ec *ExecutionContext) bool {
	if cond == nil {
		return true
	}
	if result == nil || !result.OK || result.Response == nil {
		return false
	}

	expected := ec.Namespace.Replace(cond.Value)
	value, err := expressions.ValueFromNotation(result.Response.JSONOrEmpty(), cond.ResponseNotation)
	if err != nil {
		return expected == ""
	}
	return expressions.Stringify(value) == expected
}

// Poll re-issues step until its continue_if condition holds, at most polling.amount
// attempts in total. first is the attempt that was already made.
func (e *StepExecutor) Poll(ctx context.Context, step models.Step, ec *ExecutionContext, first *StepResult) (*PollResult, error) {
	poll := &PollResult{Attempts: 1, Last: first}
	if step.Polling == nil {
		poll.Met = ConditionMet(step.ContinueIf, first, ec)
		return poll, nil
	}

	interval := step.Polling.IntervalDuration()
	for {
		if ConditionMet(step.ContinueIf, poll.Last, ec) {
			poll.Met = true
			break
		}
		if poll.Attempts >= step.Polling.Amount {
			break
		}

		if err := e.sleep(ctx, interval); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return nil, err
		}

		result, err := e.RunStep(ctx, step, ec)
		if err != nil {
			return nil, err
		}
		poll.Attempts++
		poll.Last = result
	}

	metrics.RecordPolling(poll.Met, poll.Attempts)
	e.logger.WithContext(ctx).WithFields(map[string]any{
		"integration_id": ec.Integration.ID,
		"attempts":       poll.Attempts,
		"met":            poll.Met,
	}).Debug("Polling finished")

	return poll, nil
}
