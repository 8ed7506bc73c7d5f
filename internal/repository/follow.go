package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/magicliang/tiny-twitter/internal/model"
)

type followRepository struct {
	db *sqlx.DB
}

func NewFollowRepository(db *sqlx.DB) FollowRepository {
	return &followRepository{db: db}
}

// Create inserts a follow edge. The primary key on (follower_id, followee_id)
// backstops the "not already following" precondition under concurrent calls;
// the violation is reported as the same Conflict error.
func (r *followRepository) Create(ctx context.Context, followerID, followeeID int64) error {
	query := `INSERT INTO follows (follower_id, followee_id) VALUES ($1, $2)`
	_, err := r.db.ExecContext(ctx, query, followerID, followeeID)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			switch pqErr.Code {
			case "23505":
				return model.ErrAlreadyFollowing
			case "23503":
				return model.ErrUserNotFound
			}
		}
		return fmt.Errorf("failed to create follow: %w", err)
	}
	return nil
}

// Delete removes a follow edge; a missing edge is a hard error, not a no-op.
func (r *followRepository) Delete(ctx context.Context, followerID, followeeID int64) error {
	query := `DELETE FROM follows WHERE follower_id = $1 AND followee_id = $2`
	result, err := r.db.ExecContext(ctx, query, followerID, followeeID)
	if err != nil {
		return fmt.Errorf("failed to delete follow: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return model.ErrNotFollowing
	}

	return nil
}

func (r *followRepository) Exists(ctx context.Context, followerID, followeeID int64) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM follows WHERE follower_id = $1 AND followee_id = $2)`
	var exists bool
	err := r.db.GetContext(ctx, &exists, query, followerID, followeeID)
	if err != nil {
		return false, fmt.Errorf("failed to check follow existence: %w", err)
	}
	return exists, nil
}

// ListFollowers retrieves users who follow the specified user. Both
// directions are derived from the single edge set by swapping the join side.
func (r *followRepository) ListFollowers(ctx context.Context, userID int64, page model.PageRequest) ([]model.User, int64, error) {
	query := `
		SELECT u.id, u.username, u.email, u.password_hashed, u.display_name, u.bio, u.image_url, u.created_at, u.updated_at
		FROM follows f
		JOIN users u ON u.id = f.follower_id
		WHERE f.followee_id = $1
		ORDER BY f.created_at DESC
		LIMIT $2 OFFSET $3
	`

	var users []model.User
	err := r.db.SelectContext(ctx, &users, query, userID, page.Size, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get followers: %w", err)
	}

	var total int64
	err = r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM follows WHERE followee_id = $1`, userID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count followers: %w", err)
	}

	return users, total, nil
}

// ListFollowing retrieves users that the specified user follows.
func (r *followRepository) ListFollowing(ctx context.Context, userID int64, page model.PageRequest) ([]model.User, int64, error) {
	query := `
		SELECT u.id, u.username, u.email, u.password_hashed, u.display_name, u.bio, u.image_url, u.created_at, u.updated_at
		FROM follows f
		JOIN users u ON u.id = f.followee_id
		WHERE f.follower_id = $1
		ORDER BY f.created_at DESC
		LIMIT $2 OFFSET $3
	`

	var users []model.User
	err := r.db.SelectContext(ctx, &users, query, userID, page.Size, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get following: %w", err)
	}

	var total int64
	err = r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM follows WHERE follower_id = $1`, userID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count following: %w", err)
	}

	return users, total, nil
}

// CheckFollows checks which of followeeIDs the follower follows, in one
// batch query with ANY($2) rather than N+1 lookups.
func (r *followRepository) CheckFollows(ctx context.Context, followerID int64, followeeIDs []int64) (map[int64]bool, error) {
	result := make(map[int64]bool, len(followeeIDs))
	if len(followeeIDs) == 0 {
		return result, nil
	}
	for _, id := range followeeIDs {
		result[id] = false
	}

	query := `SELECT followee_id FROM follows WHERE follower_id = $1 AND followee_id = ANY($2)`
	var followedIDs []int64
	err := r.db.SelectContext(ctx, &followedIDs, query, followerID, pq.Array(followeeIDs))
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to check follows: %w", err)
	}
	for _, id := range followedIDs {
		result[id] = true
	}

	return result, nil
}

func (r *followRepository) CountFollowers(ctx context.Context, userIDs []int64) (map[int64]int64, error) {
	return r.countGrouped(ctx, `SELECT followee_id AS user_id, COUNT(*) AS count FROM follows WHERE followee_id = ANY($1) GROUP BY followee_id`, userIDs)
}

func (r *followRepository) CountFollowing(ctx context.Context, userIDs []int64) (map[int64]int64, error) {
	return r.countGrouped(ctx, `SELECT follower_id AS user_id, COUNT(*) AS count FROM follows WHERE follower_id = ANY($1) GROUP BY follower_id`, userIDs)
}

func (r *followRepository) countGrouped(ctx context.Context, query string, userIDs []int64) (map[int64]int64, error) {
	result := make(map[int64]int64, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}
	for _, id := range userIDs {
		result[id] = 0
	}

	var rows []struct {
		UserID int64 `db:"user_id"`
		Count  int64 `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(userIDs)); err != nil {
		return nil, fmt.Errorf("failed to count follow edges: %w", err)
	}
	for _, row := range rows {
		result[row.UserID] = row.Count
	}

	return result, nil
}
