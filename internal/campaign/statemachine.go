// Package campaign owns the campaign lifecycle state machine: which status
// transitions are legal, their guards, and the side effects an accepted
// transition triggers.
package campaign

import (
	"fmt"

	"github.com/outreachd/campaign-engine/internal/model"
)

// transitions is the fixed adjacency table. A campaign moves along
// draft -> pending_review -> approved -> scheduled -> active -> completed,
// with rejected reachable from review and active <-> paused.
var transitions = map[model.CampaignStatus][]model.CampaignStatus{
	model.CampaignDraft:         {model.CampaignPendingReview},
	model.CampaignPendingReview: {model.CampaignApproved, model.CampaignRejected},
	model.CampaignApproved:      {model.CampaignScheduled},
	model.CampaignScheduled:     {model.CampaignActive},
	model.CampaignActive:        {model.CampaignPaused, model.CampaignCompleted},
	model.CampaignPaused:        {model.CampaignActive, model.CampaignCompleted},
	model.CampaignCompleted:     nil,
	model.CampaignRejected:      nil,
}

// InvalidTransitionError reports a target status not reachable from the
// campaign's current status. The campaign is left untouched.
type InvalidTransitionError struct {
	From model.CampaignStatus
	To   model.CampaignStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// CanTransition reports whether target is in the adjacency set of from.
func CanTransition(from, to model.CampaignStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// NextStatuses returns the legal targets from a status (copy).
func NextStatuses(from model.CampaignStatus) []model.CampaignStatus {
	out := make([]model.CampaignStatus, len(transitions[from]))
	copy(out, transitions[from])
	return out
}

// validate returns nil when from -> to is legal.
func validate(from, to model.CampaignStatus) error {
	if !to.Valid() || !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}
