package scheduler

import (
	"time"

	"github.com/outreachd/campaign-engine/internal/model"
)

// ConditionOutcome is the result of evaluating a step's branch predicate.
type ConditionOutcome int

const (
	// OutcomeExecute means the step's send action should run now.
	OutcomeExecute ConditionOutcome = iota
	// OutcomeWait means the predicate cannot be decided yet (deadline not
	// reached, qualifying event may still arrive); re-check on a later tick.
	OutcomeWait
	// OutcomeBranchFalse means the predicate is decided false; the step's
	// else branch (skip or stop) applies.
	OutcomeBranchFalse
)

// EvaluateCondition decides a step's branch predicate against the recorded
// lead event log. It is a pure function: no side effects, fully determined
// by its inputs.
//
// The deadline is anchored at the previous step's executed time (enrollment
// creation for the first step) — one consistent rule for every call site.
// events must already be filtered to the condition's event type and to
// occurrences at or after the anchor.
func EvaluateCondition(cond model.Condition, events []model.LeadEvent, anchor, now time.Time) ConditionOutcome {
	switch cond.Kind {
	case model.ConditionNone, "":
		return OutcomeExecute

	case model.ConditionEventOccurred:
		// A zero deadline means "evaluate at due time": the window closes now.
		windowEnd := now
		if cond.DeadlineMinutes > 0 {
			windowEnd = cond.Deadline(anchor)
		}
		if occurredWithin(events, anchor, windowEnd) {
			return OutcomeExecute
		}
		if cond.DeadlineMinutes > 0 && now.Before(windowEnd) {
			return OutcomeWait
		}
		return OutcomeBranchFalse

	case model.ConditionEventMissing:
		windowEnd := now
		if cond.DeadlineMinutes > 0 {
			windowEnd = cond.Deadline(anchor)
			if now.Before(windowEnd) {
				// Cannot assert absence before the window closes.
				return OutcomeWait
			}
		}
		if occurredWithin(events, anchor, windowEnd) {
			return OutcomeBranchFalse
		}
		return OutcomeExecute

	default:
		// Unknown kind is a data error; refusing to send is the safe branch.
		return OutcomeBranchFalse
	}
}

func occurredWithin(events []model.LeadEvent, from, to time.Time) bool {
	for _, ev := range events {
		if !ev.OccurredAt.Before(from) && !ev.OccurredAt.After(to) {
			return true
		}
	}
	return false
}
