package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-freight-overages/internal/apperrors"
	"github.com/pesio-ai/be-freight-overages/internal/database"
)

// DirectoryRepository reads the user authorization directory. The
// directory is consulted, never mutated, by this service — user
// administration lives elsewhere.
type DirectoryRepository struct {
	db *database.DB
}

// NewDirectoryRepository creates a new DirectoryRepository.
func NewDirectoryRepository(db *database.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// Resolve maps a user ID to their authorization level and optional
// plant affiliation.
func (r *DirectoryRepository) Resolve(ctx context.Context, userID string) (*Actor, error) {
	query := `
		SELECT user_id, authorization_level, plant
		FROM authorization_directory
		WHERE user_id = $1
	`

	a := &Actor{}
	err := r.db.QueryRow(ctx, query, userID).Scan(&a.ID, &a.Level, &a.Plant)
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("user", userID)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to resolve user")
	}
	return a, nil
}

// UsersAtLevel returns the user IDs holding the given authorization
// level for a plant: plant-affiliated matches plus users with no
// affiliation (cross-plant authority). These are the recipients of a
// next-approver notification.
func (r *DirectoryRepository) UsersAtLevel(ctx context.Context, level int, plant string) ([]string, error) {
	query := `
		SELECT user_id
		FROM authorization_directory
		WHERE authorization_level = $1
		  AND (plant IS NULL OR plant = $2)
		ORDER BY user_id
	`

	rows, err := r.db.Query(ctx, query, level, plant)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list users at level")
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan user")
		}
		users = append(users, id)
	}
	return users, nil
}
