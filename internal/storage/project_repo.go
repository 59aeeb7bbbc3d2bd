package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"citetrail/internal/faults"
	"citetrail/internal/models"
)

type ProjectRepo struct {
	db *DB
}

func NewProjectRepo(db *DB) *ProjectRepo {
	return &ProjectRepo{db: db}
}

func (r *ProjectRepo) CreateProject(ctx context.Context, p models.Project) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO projects (project_id, name) VALUES ($1, $2)`, p.ProjectID, p.Name)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func (r *ProjectRepo) GetProject(ctx context.Context, projectID string) (models.Project, error) {
	var p models.Project
	err := r.db.Pool.QueryRow(ctx, `
SELECT project_id::text, name, created_at FROM projects WHERE project_id=$1`, projectID).
		Scan(&p.ProjectID, &p.Name, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Project{}, fmt.Errorf("get project %s: %w", projectID, faults.ErrUnknownReference)
	}
	if err != nil {
		return models.Project{}, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

func (r *ProjectRepo) ListProjects(ctx context.Context) ([]models.Project, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT project_id::text, name, created_at FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	out := make([]models.Project, 0)
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ProjectID, &p.Name, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return out, nil
}
