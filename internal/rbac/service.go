package rbac

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("rbac: not found")

// Service resolves role grants from the database.
type Service struct {
	pool *pgxpool.Pool
}

// NewService constructs a Service backed by the provided pool.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// Resolve loads the actor's memberships for this request.
func (s *Service) Resolve(ctx context.Context, userID int64) (Actor, error) {
	rows, err := s.pool.Query(ctx, `SELECT org_id, user_id, role, created_at
FROM org_members WHERE user_id = $1`, userID)
	if err != nil {
		return Actor{}, err
	}
	defer rows.Close()

	var memberships []Membership
	for rows.Next() {
		var m Membership
		var role string
		if err := rows.Scan(&m.OrgID, &m.UserID, &role, &m.CreatedAt); err != nil {
			return Actor{}, err
		}
		m.Role = Role(role)
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return Actor{}, err
	}
	return NewActor(userID, memberships), nil
}

// Grant assigns a role to a user within an organization.
func (s *Service) Grant(ctx context.Context, orgID, userID int64, role Role) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO org_members (org_id, user_id, role, created_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (org_id, user_id) DO UPDATE SET role = EXCLUDED.role`, orgID, userID, string(role))
	return err
}

// Revoke removes a user's membership from an organization.
func (s *Service) Revoke(ctx context.Context, orgID, userID int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM org_members WHERE org_id = $1 AND user_id = $2`, orgID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
