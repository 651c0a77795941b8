package models

// Status enumerates content item lifecycle states persisted in Postgres.
type Status string

const (
	StatusPending       Status = "pending"
	StatusProcessing    Status = "processing"
	StatusPaused        Status = "paused"
	StatusReviewPending Status = "review_pending"
	StatusDraftReady    Status = "draft_ready"
	StatusComplete      Status = "complete"
	StatusFailed        Status = "failed"
	StatusCancelled     Status = "cancelled"
)

// Terminal reports whether no further dispatch can ever happen for the status.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusCancelled
}

// Transition names a control-plane operation on a content item.
type Transition string

const (
	TransitionPause      Transition = "pause"
	TransitionResume     Transition = "resume"
	TransitionCancel     Transition = "cancel"
	TransitionRetry      Transition = "retry"
	TransitionReschedule Transition = "reschedule"
	TransitionDelete     Transition = "delete"
	TransitionApprove    Transition = "approve"
)

// allowedFrom maps each control-plane transition to the statuses it is valid
// from. The dispatcher-internal transitions (pending->processing and the
// processing->* outcomes) are enforced by compare-and-set updates in the
// store, not listed here.
var allowedFrom = map[Transition][]Status{
	TransitionPause:      {StatusPending, StatusProcessing},
	TransitionResume:     {StatusPaused},
	TransitionCancel:     {StatusPending, StatusProcessing, StatusPaused},
	TransitionRetry:      {StatusFailed},
	TransitionReschedule: {StatusPending, StatusPaused, StatusReviewPending, StatusDraftReady, StatusFailed},
	TransitionDelete:     {StatusPending, StatusPaused, StatusReviewPending, StatusDraftReady, StatusComplete, StatusFailed, StatusCancelled},
	TransitionApprove:    {StatusReviewPending, StatusDraftReady},
}

// AllowedFrom returns the set of statuses a transition may be applied from.
func AllowedFrom(t Transition) []Status {
	return allowedFrom[t]
}

// CanTransition reports whether the operation is valid from the given status.
func CanTransition(t Transition, from Status) bool {
	for _, s := range allowedFrom[t] {
		if s == from {
			return true
		}
	}
	return false
}
