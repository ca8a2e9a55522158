package rbac

import "time"

// Role is a grant inside an organization.
type Role string

const (
	// RoleManager may approve or reject expenses in the organization.
	RoleManager Role = "MANAGER"
	// RoleEmployee may submit and manage their own expenses.
	RoleEmployee Role = "EMPLOYEE"
)

// Membership links a user to an organization with a role.
type Membership struct {
	OrgID     int64
	UserID    int64
	Role      Role
	CreatedAt time.Time
}

// Actor describes the authenticated caller and the role grants in effect
// for this request. It is resolved once per request from persisted state;
// authorization decisions are never cached across requests because roles
// can change between them.
type Actor struct {
	UserID int64
	roles  map[int64][]Role
}

// NewActor builds an Actor from memberships.
func NewActor(userID int64, memberships []Membership) Actor {
	roles := make(map[int64][]Role, len(memberships))
	for _, m := range memberships {
		roles[m.OrgID] = append(roles[m.OrgID], m.Role)
	}
	return Actor{UserID: userID, roles: roles}
}

// IsManagerOf reports whether the actor holds MANAGER in the organization.
func (a Actor) IsManagerOf(orgID int64) bool {
	for _, r := range a.roles[orgID] {
		if r == RoleManager {
			return true
		}
	}
	return false
}

// IsMemberOf reports whether the actor holds any role in the organization.
func (a Actor) IsMemberOf(orgID int64) bool {
	return len(a.roles[orgID]) > 0
}
