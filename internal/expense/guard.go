package expense

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/expensio/expensio/internal/rbac"
)

// Capability is the level of access a caller needs on an expense.
type Capability int

const (
	// CapabilityMember allows read access: the submitter, or anyone
	// holding a role in the expense's organization.
	CapabilityMember Capability = iota
	// CapabilityOwner allows mutation of a not-yet-finalized expense:
	// the submitter only.
	CapabilityOwner
	// CapabilityManager allows approve/reject: a MANAGER in the
	// expense's organization.
	CapabilityManager
)

// Guard resolves whether an actor may act on an expense. Checks run
// against the expense row fetched in this request; nothing is cached
// between requests.
type Guard struct {
	repo RepositoryPort
}

// NewGuard constructs a Guard.
func NewGuard(repo RepositoryPort) *Guard {
	return &Guard{repo: repo}
}

// Authorize loads the expense and verifies the actor holds the required
// capability on it. Expenses the actor cannot see at all surface as
// ErrNotFound so cross-tenant probing cannot distinguish "absent" from
// "forbidden".
func (g *Guard) Authorize(ctx context.Context, actor rbac.Actor, expenseID uuid.UUID, capability Capability) (*Expense, error) {
	exp, err := g.repo.Get(ctx, expenseID)
	if err != nil {
		return nil, err
	}

	isOwner := exp.UserID == actor.UserID
	inOrg := exp.OrgID != nil && actor.IsMemberOf(*exp.OrgID)
	isManager := exp.OrgID != nil && actor.IsManagerOf(*exp.OrgID)

	if !isOwner && !inOrg {
		return nil, ErrNotFound
	}

	switch capability {
	case CapabilityMember:
		return exp, nil
	case CapabilityOwner:
		if !isOwner {
			return nil, fmt.Errorf("%w: not the submitter", ErrForbidden)
		}
		return exp, nil
	case CapabilityManager:
		if !isManager {
			return nil, fmt.Errorf("%w: manager role required", ErrForbidden)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("%w: unknown capability", ErrForbidden)
	}
}
