package template

import (
	"fmt"

	"github.com/pushboard/pushboard-api/internal/models"
)

type Action string

const (
	ActionSubmit  Action = "submit"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// allowedFrom is the approval transition table. Submit is the only way back
// into review from a terminal status; approve and reject act on pending
// templates only.
var allowedFrom = map[Action][]models.ApprovalStatus{
	ActionSubmit:  {models.ApprovalDraft, models.ApprovalRejected, models.ApprovalExpired},
	ActionApprove: {models.ApprovalPending},
	ActionReject:  {models.ApprovalPending},
}

func canTransition(from models.ApprovalStatus, action Action) bool {
	for _, status := range allowedFrom[action] {
		if status == from {
			return true
		}
	}
	return false
}

// IllegalTransitionError reports an approval action applied in the wrong
// status.
type IllegalTransitionError struct {
	From   models.ApprovalStatus
	Action Action
}

func (e *IllegalTransitionError) Error() string {
	from := string(e.From)
	if from == "" {
		from = "DRAFT"
	}
	return fmt.Sprintf("cannot %s a template in status %s", e.Action, from)
}

// ValidationError reports invalid template input.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func validationErrorf(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}
