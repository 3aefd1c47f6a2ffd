package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ChrisReeves12/keepwatch-api-sub000/pkg/models"
)

const projectColumns = `id, project_id, owner_id, users, api_keys, alarms, version, created_at, updated_at`

func (s *Store) scanProject(row *sql.Row) (*models.Project, error) {
	var p models.Project
	var usersJSON, keysJSON, alarmsJSON []byte

	err := row.Scan(&p.ID, &p.ProjectID, &p.OwnerID, &usersJSON, &keysJSON,
		&alarmsJSON, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan project: %w", err)
	}

	if err := json.Unmarshal(usersJSON, &p.Users); err != nil {
		return nil, fmt.Errorf("parse project users: %w", err)
	}
	if err := json.Unmarshal(keysJSON, &p.APIKeys); err != nil {
		return nil, fmt.Errorf("parse project api keys: %w", err)
	}
	if len(alarmsJSON) > 0 {
		if err := json.Unmarshal(alarmsJSON, &p.Alarms); err != nil {
			return nil, fmt.Errorf("parse project alarms: %w", err)
		}
	}
	return &p, nil
}

// FindProjectByProjectID looks a project up by its slug.
func (s *Store) FindProjectByProjectID(ctx context.Context, projectID string) (*models.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE project_id = $1`, projectID)
	return s.scanProject(row)
}

// FindProjectByAPIKey resolves the project owning the literal API key via a
// jsonb containment match on the api_keys column.
func (s *Store) FindProjectByAPIKey(ctx context.Context, key string) (*models.Project, error) {
	probe, err := json.Marshal([]map[string]string{{"key": key}})
	if err != nil {
		return nil, fmt.Errorf("marshal api key probe: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE api_keys @> $1::jsonb`, probe)
	return s.scanProject(row)
}

// UpdateProjectMembership writes the project's users and api_keys arrays
// with an optimistic version check. The caller re-reads and retries on
// ErrVersionConflict.
func (s *Store) UpdateProjectMembership(ctx context.Context, p *models.Project) error {
	usersJSON, err := json.Marshal(p.Users)
	if err != nil {
		return fmt.Errorf("marshal project users: %w", err)
	}
	keysJSON, err := json.Marshal(p.APIKeys)
	if err != nil {
		return fmt.Errorf("marshal project api keys: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE projects
		SET users = $1, api_keys = $2, version = version + 1, updated_at = NOW()
		WHERE id = $3 AND version = $4`,
		usersJSON, keysJSON, p.ID, p.Version)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}
	p.Version++
	return nil
}
