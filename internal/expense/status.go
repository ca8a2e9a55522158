package expense

import "errors"

var (
	// ErrNotFound indicates the expense does not exist or is not visible
	// to the caller. The two cases are deliberately indistinguishable.
	ErrNotFound = errors.New("expense: not found")
	// ErrForbidden indicates the caller is known to the organization but
	// lacks the required role.
	ErrForbidden = errors.New("expense: forbidden")
	// ErrInvalidTransition indicates a status target outside the state
	// diagram, or a target not in the enumerated status set.
	ErrInvalidTransition = errors.New("expense: invalid status transition")
	// ErrValidation indicates rejected input.
	ErrValidation = errors.New("expense: validation failed")
	// ErrConflict indicates a concurrent status change won the
	// compare-and-swap update.
	ErrConflict = errors.New("expense: concurrent status change")
)

// ParseStatus validates a raw status value against the enumerated set.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusNew, StatusAnalyzed, StatusPending, StatusApproved, StatusRejected:
		return Status(raw), nil
	}
	return "", ErrInvalidTransition
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// RequiresManager reports whether only a manager may move an expense
// into the target status.
func RequiresManager(target Status) bool {
	return target == StatusApproved || target == StatusRejected
}

// forwardTransitions is the self-service portion of the state diagram.
// Same-state and backward moves are rejected; the source's looser
// allow-lists were bugs, not intent.
var forwardTransitions = map[Status][]Status{
	StatusNew:      {StatusAnalyzed, StatusPending},
	StatusAnalyzed: {StatusPending},
}

// CanTransition reports whether the move from one status to another is
// permitted by the state diagram, ignoring who is asking. APPROVED and
// REJECTED are reachable from any non-terminal state; everything else
// must follow the forward diagram.
func CanTransition(from, to Status) bool {
	if from.Terminal() || from == to {
		return false
	}
	if RequiresManager(to) {
		return true
	}
	for _, next := range forwardTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
