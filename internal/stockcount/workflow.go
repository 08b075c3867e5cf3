package stockcount

import (
	"fmt"
	"slices"
)

// Action is a workflow operation on a session.
type Action string

const (
	ActionGenerate Action = "generate"
	ActionSubmit   Action = "submit"
	ActionValidate Action = "validate"
	ActionApprove  Action = "approve"
	ActionRecount  Action = "recount"
	ActionReject   Action = "reject"
)

// Effect is one side effect a transition applies.
type Effect string

const (
	EffectReplaceLines     Effect = "replace_lines"
	EffectCopyReviewCounts Effect = "copy_review_counts"
	EffectStampReview      Effect = "stamp_review"
	EffectStampApproval    Effect = "stamp_approval"
	EffectScheduleFollowUp Effect = "schedule_follow_up"
	EffectStampEnd         Effect = "stamp_end"
	EffectPostReason       Effect = "post_reason"
	EffectStampRejection   Effect = "stamp_rejection"
)

// Transition describes the legal source states of an action, its target and its effects.
type Transition struct {
	Action  Action
	From    []State
	To      State
	Effects []Effect
}

// Has reports whether the transition applies the effect.
func (t Transition) Has(e Effect) bool {
	return slices.Contains(t.Effects, e)
}

var transitions = map[Action]Transition{
	ActionGenerate: {
		Action:  ActionGenerate,
		From:    []State{StateDraft, StateInProgress},
		To:      StateInProgress,
		Effects: []Effect{EffectReplaceLines},
	},
	ActionSubmit: {
		Action:  ActionSubmit,
		From:    []State{StateInProgress},
		To:      StateReview,
		Effects: []Effect{EffectCopyReviewCounts, EffectStampReview},
	},
	ActionValidate: {
		Action:  ActionValidate,
		From:    []State{StateReview},
		To:      StateApproval,
		Effects: []Effect{EffectStampApproval, EffectScheduleFollowUp},
	},
	ActionApprove: {
		Action:  ActionApprove,
		From:    []State{StateApproval},
		To:      StateDone,
		Effects: []Effect{EffectStampEnd},
	},
	ActionRecount: {
		Action:  ActionRecount,
		From:    []State{StateReview, StateApproval, StateRejected},
		To:      StateInProgress,
		Effects: []Effect{EffectPostReason},
	},
	ActionReject: {
		Action:  ActionReject,
		From:    []State{StateReview, StateApproval},
		To:      StateRejected,
		Effects: []Effect{EffectPostReason, EffectStampRejection},
	},
}

// Plan returns the transition for action from the given state.
func Plan(action Action, from State) (Transition, error) {
	t, ok := transitions[action]
	if !ok {
		return Transition{}, fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, action)
	}
	if !slices.Contains(t.From, from) {
		return Transition{}, fmt.Errorf("%w: cannot %s a session in %s", ErrInvalidTransition, action, from)
	}
	return t, nil
}

// AllowedActions lists the actions legal from a state, in workflow order.
func AllowedActions(from State) []Action {
	order := []Action{ActionGenerate, ActionSubmit, ActionValidate, ActionApprove, ActionRecount, ActionReject}
	var out []Action
	for _, a := range order {
		if slices.Contains(transitions[a].From, from) {
			out = append(out, a)
		}
	}
	return out
}

// editable reports whether header fields may change in the state.
func editable(s State) bool {
	return s == StateDraft || s == StateInProgress
}
