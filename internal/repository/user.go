package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/magicliang/tiny-twitter/internal/model"
)

// userRepository implements UserRepository using sqlx
type userRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepository{db: db}
}

// Create inserts a new user into the database. Unique violations on the
// username/email indexes are translated to the matching Conflict error, as a
// backstop for concurrent registrations racing past the existence checks.
func (r *userRepository) Create(ctx context.Context, u *model.User) error {
	query := `
		INSERT INTO users (username, email, password_hashed, display_name, bio, image_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`

	row := r.db.QueryRowxContext(ctx, query,
		u.Username,
		u.Email,
		u.PasswordHashed,
		u.DisplayName,
		u.Bio,
		u.ImageURL,
	)

	err := row.Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			switch pqErr.Constraint {
			case "users_username_key":
				return model.ErrUsernameExists
			case "users_email_key":
				return model.ErrEmailExists
			}
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by their ID
func (r *userRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	query := `
		SELECT id, username, email, password_hashed, display_name, bio, image_url, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	var u model.User
	err := r.db.GetContext(ctx, &u, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, model.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}

	return &u, nil
}

// GetByIDs retrieves multiple users keyed by id, for batch view assembly.
func (r *userRepository) GetByIDs(ctx context.Context, ids []int64) (map[int64]model.User, error) {
	if len(ids) == 0 {
		return map[int64]model.User{}, nil
	}

	query := `
		SELECT id, username, email, password_hashed, display_name, bio, image_url, created_at, updated_at
		FROM users
		WHERE id = ANY($1)
	`

	var users []model.User
	err := r.db.SelectContext(ctx, &users, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to get users by ids: %w", err)
	}

	result := make(map[int64]model.User, len(users))
	for _, u := range users {
		result[u.ID] = u
	}
	return result, nil
}

// GetByUsernameOrEmail retrieves a user by username or email, for login.
func (r *userRepository) GetByUsernameOrEmail(ctx context.Context, usernameOrEmail string) (*model.User, error) {
	query := `
		SELECT id, username, email, password_hashed, display_name, bio, image_url, created_at, updated_at
		FROM users
		WHERE username = $1 OR email = $1
	`

	var u model.User
	err := r.db.GetContext(ctx, &u, query, usernameOrEmail)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, model.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by username or email: %w", err)
	}

	return &u, nil
}

// Exists checks if a user id is present.
func (r *userRepository) Exists(ctx context.Context, id int64) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`

	var exists bool
	err := r.db.GetContext(ctx, &exists, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}

	return exists, nil
}

// ExistsByUsername checks if a username is already taken
func (r *userRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)`

	var exists bool
	err := r.db.GetContext(ctx, &exists, query, username)
	if err != nil {
		return false, fmt.Errorf("failed to check username existence: %w", err)
	}

	return exists, nil
}

// ExistsByEmail checks if an email address is already in use
func (r *userRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`

	var exists bool
	err := r.db.GetContext(ctx, &exists, query, email)
	if err != nil {
		return false, fmt.Errorf("failed to check email existence: %w", err)
	}

	return exists, nil
}

// UpdateProfile overwrites only the non-nil fields and returns the updated row.
func (r *userRepository) UpdateProfile(ctx context.Context, userID int64, req model.UpdateProfileRequest) (*model.User, error) {
	query := `
		UPDATE users
		SET display_name = COALESCE($2, display_name),
		    bio          = COALESCE($3, bio),
		    image_url    = COALESCE($4, image_url),
		    updated_at   = NOW()
		WHERE id = $1
		RETURNING id, username, email, password_hashed, display_name, bio, image_url, created_at, updated_at
	`

	var u model.User
	err := r.db.GetContext(ctx, &u, query, userID, req.DisplayName, req.Bio, req.ImageURL)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, model.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}

	return &u, nil
}

// Search finds users whose username contains the query, most-followed first.
func (r *userRepository) Search(ctx context.Context, query string, page model.PageRequest) ([]model.User, int64, error) {
	pattern := "%" + query + "%"

	searchQuery := `
		SELECT u.id, u.username, u.email, u.password_hashed, u.display_name, u.bio, u.image_url, u.created_at, u.updated_at
		FROM users u
		WHERE u.username ILIKE $1
		ORDER BY (SELECT COUNT(*) FROM follows f WHERE f.followee_id = u.id) DESC, u.id
		LIMIT $2 OFFSET $3
	`

	var users []model.User
	err := r.db.SelectContext(ctx, &users, searchQuery, pattern, page.Size, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search users: %w", err)
	}

	var total int64
	err = r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM users WHERE username ILIKE $1`, pattern)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count user search: %w", err)
	}

	return users, total, nil
}
