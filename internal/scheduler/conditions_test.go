package scheduler

import (
	"testing"
	"time"

	"github.com/outreachd/campaign-engine/internal/model"
)

var condBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func leadEvent(at time.Time) model.LeadEvent {
	return model.LeadEvent{EventType: "email.opened", OccurredAt: at}
}

func TestEvaluateCondition_None(t *testing.T) {
	got := EvaluateCondition(model.Condition{Kind: model.ConditionNone}, nil, condBase, condBase)
	if got != OutcomeExecute {
		t.Errorf("none condition must execute, got %v", got)
	}
	// Empty kind behaves like none (legacy rows).
	got = EvaluateCondition(model.Condition{}, nil, condBase, condBase)
	if got != OutcomeExecute {
		t.Errorf("empty kind must execute, got %v", got)
	}
}

func TestEvaluateCondition_EventOccurred(t *testing.T) {
	cond := model.Condition{
		Kind:            model.ConditionEventOccurred,
		EventType:       "email.opened",
		DeadlineMinutes: 60,
		OnFalse:         model.BranchSkip,
	}

	tests := []struct {
		name   string
		events []model.LeadEvent
		now    time.Time
		want   ConditionOutcome
	}{
		{
			name:   "event inside window",
			events: []model.LeadEvent{leadEvent(condBase.Add(10 * time.Minute))},
			now:    condBase.Add(30 * time.Minute),
			want:   OutcomeExecute,
		},
		{
			name: "no event, window still open",
			now:  condBase.Add(30 * time.Minute),
			want: OutcomeWait,
		},
		{
			name: "no event, deadline passed",
			now:  condBase.Add(61 * time.Minute),
			want: OutcomeBranchFalse,
		},
		{
			name:   "event after deadline does not count",
			events: []model.LeadEvent{leadEvent(condBase.Add(90 * time.Minute))},
			now:    condBase.Add(2 * time.Hour),
			want:   OutcomeBranchFalse,
		},
		{
			name:   "event exactly at deadline counts",
			events: []model.LeadEvent{leadEvent(condBase.Add(60 * time.Minute))},
			now:    condBase.Add(60 * time.Minute),
			want:   OutcomeExecute,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EvaluateCondition(cond, tt.events, condBase, tt.now); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateCondition_EventOccurred_ZeroDeadline(t *testing.T) {
	// Zero deadline means "decide at due time": never wait.
	cond := model.Condition{
		Kind:      model.ConditionEventOccurred,
		EventType: "email.opened",
		OnFalse:   model.BranchStop,
	}
	now := condBase.Add(time.Hour)

	if got := EvaluateCondition(cond, nil, condBase, now); got != OutcomeBranchFalse {
		t.Errorf("no event at due time must branch false, got %v", got)
	}
	ev := []model.LeadEvent{leadEvent(condBase.Add(5 * time.Minute))}
	if got := EvaluateCondition(cond, ev, condBase, now); got != OutcomeExecute {
		t.Errorf("event before due time must execute, got %v", got)
	}
}

func TestEvaluateCondition_EventMissing(t *testing.T) {
	cond := model.Condition{
		Kind:            model.ConditionEventMissing,
		EventType:       "email.replied",
		DeadlineMinutes: 120,
		OnFalse:         model.BranchStop,
	}

	tests := []struct {
		name   string
		events []model.LeadEvent
		now    time.Time
		want   ConditionOutcome
	}{
		{
			name: "window open, absence cannot be asserted yet",
			now:  condBase.Add(time.Hour),
			want: OutcomeWait,
		},
		{
			name: "window closed, no event",
			now:  condBase.Add(121 * time.Minute),
			want: OutcomeExecute,
		},
		{
			name:   "window closed, event occurred inside",
			events: []model.LeadEvent{leadEvent(condBase.Add(time.Hour))},
			now:    condBase.Add(121 * time.Minute),
			want:   OutcomeBranchFalse,
		},
		{
			name:   "event outside window ignored",
			events: []model.LeadEvent{leadEvent(condBase.Add(3 * time.Hour))},
			now:    condBase.Add(4 * time.Hour),
			want:   OutcomeExecute,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EvaluateCondition(cond, tt.events, condBase, tt.now); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateCondition_UnknownKind(t *testing.T) {
	cond := model.Condition{Kind: model.ConditionKind("mystery")}
	if got := EvaluateCondition(cond, nil, condBase, condBase); got != OutcomeBranchFalse {
		t.Errorf("unknown kind must refuse to send, got %v", got)
	}
}
