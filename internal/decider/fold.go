package decider

import (
	"github.com/elifesciences/pubflow/internal/swfclient"
	"github.com/elifesciences/pubflow/internal/workflow"
)

type action int

const (
	actionScheduleStep action = iota
	actionComplete
	actionFail
	actionNone
)

type decision struct {
	action     action
	step       workflow.Step
	failReason string
	failDetail string
}

// fold examines event history and determines the last completed step,
// implementing the step-scheduling decision table:
//
//   - initial state (no activities scheduled yet): schedule step 0.
//   - last step succeeded: schedule next step; if none, complete.
//   - last step failed permanently: fail workflow.
//   - last step failed temporarily: defer to the backend's retry policy;
//     fail the workflow once retries are reported exhausted.
//   - unknown event kinds (timers, signals) are ignored.
func fold(events []swfclient.HistoryEvent, def workflow.Definition) decision {
	completed := 0
	for _, ev := range events {
		switch ev.Kind {
		case "ActivityTaskCompleted":
			completed++
		case "ActivityTaskFailed":
			if ev.FailReason == "permanent" {
				return decision{action: actionFail, failReason: "PermanentRemote", failDetail: ev.FailDetails}
			}
			// temporary: the backend's own retry policy governs the next
			// attempt; this decision task produces no action.
			return decision{action: actionNone}
		case "ActivityTaskRetriesExhausted":
			return decision{action: actionFail, failReason: "TransientRemote", failDetail: "retries exhausted"}
		default:
			// Timer fired / signal received / WorkflowExecutionStarted /
			// ActivityTaskScheduled are not used by the representative
			// workflows; ignored gracefully.
		}
	}

	step, ok := def.StepAt(completed)
	if !ok {
		return decision{action: actionComplete}
	}
	return decision{action: actionScheduleStep, step: step}
}
