package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/outreachd/campaign-engine/internal/model"
)

type WorkspacesRepository interface {
	GetByAPIKey(ctx context.Context, apiKey string) (*model.Workspace, error)
	GetByID(ctx context.Context, id int64) (*model.Workspace, error)
}

type WorkspacesRepositoryImpl struct {
	db *sqlx.DB
}

func NewWorkspacesRepository(db *sqlx.DB) *WorkspacesRepositoryImpl {
	return &WorkspacesRepositoryImpl{db: db}
}

var _ WorkspacesRepository = (*WorkspacesRepositoryImpl)(nil)

func (r *WorkspacesRepositoryImpl) GetByAPIKey(ctx context.Context, apiKey string) (*model.Workspace, error) {
	var w model.Workspace
	err := r.db.GetContext(ctx, &w, `
		SELECT id, name, api_key, status, rate_limit_rps, daily_send_cap, created_at, updated_at
		  FROM workspaces
		 WHERE api_key = ? LIMIT 1
	`, apiKey)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *WorkspacesRepositoryImpl) GetByID(ctx context.Context, id int64) (*model.Workspace, error) {
	var w model.Workspace
	err := r.db.GetContext(ctx, &w, `
		SELECT id, name, api_key, status, rate_limit_rps, daily_send_cap, created_at, updated_at
		  FROM workspaces
		 WHERE id = ? LIMIT 1
	`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}
