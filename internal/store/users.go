package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/models"
)

// FindUserByUserID looks an operator up by their stable identity.
func (s *Store) FindUserByUserID(ctx context.Context, userID string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, email, created_at FROM users WHERE user_id = $1`,
		userID).Scan(&u.ID, &u.UserID, &u.Email, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &u, nil
}

// UsageMetadata joins the owner's user record with their enrollment and
// plan. The quota path caches the result for ten minutes.
func (s *Store) UsageMetadata(ctx context.Context, ownerID string) (*models.UsageMetadata, error) {
	var m models.UsageMetadata
	var logLimit sql.NullInt64

	err := s.db.QueryRowContext(ctx, `
		SELECT u.user_id, u.email, u.created_at, p.id, p.log_limit, p.project_limit
		FROM users u
		JOIN enrollments e ON e.user_id = u.user_id
		JOIN subscription_plans p ON p.id = e.subscription_plan_id
		WHERE u.user_id = $1`,
		ownerID).Scan(&m.OwnerID, &m.Email, &m.UserCreatedAt,
		&m.SubscriptionPlanID, &logLimit, &m.ProjectLimit)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load usage metadata: %w", err)
	}

	if logLimit.Valid {
		m.LogLimit = &logLimit.Int64
	}
	return &m, nil
}
