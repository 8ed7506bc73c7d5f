package model

import (
	"errors"
	"time"
)

// User represents a registered account.
type User struct {
	ID             int64     `db:"id" json:"id"`
	Username       string    `db:"username" json:"username"`
	Email          string    `db:"email" json:"email"`
	PasswordHashed string    `db:"password_hashed" json:"-"` // "-" hides from JSON output
	DisplayName    *string   `db:"display_name" json:"display_name"`
	Bio            *string   `db:"bio" json:"bio"`
	ImageURL       *string   `db:"image_url" json:"image_url"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// UserSummary is the compact author shape embedded in tweet views.
type UserSummary struct {
	ID          int64   `db:"id" json:"id"`
	Username    string  `db:"username" json:"username"`
	DisplayName *string `db:"display_name" json:"display_name"`
	ImageURL    *string `db:"image_url" json:"image_url"`
}

// UserView is the externally visible profile projection: the entity plus
// derived counts and the viewer-relative follow flag. Counts are computed
// from the edge sets on every read, never stored.
type UserView struct {
	ID             int64     `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	DisplayName    *string   `json:"display_name"`
	Bio            *string   `json:"bio"`
	ImageURL       *string   `json:"image_url"`
	CreatedAt      time.Time `json:"created_at"`
	FollowerCount  int64     `json:"follower_count"`
	FollowingCount int64     `json:"following_count"`
	TweetCount     int64     `json:"tweet_count"`
	// IsFollowing is nil when there is no viewer or the viewer is the subject.
	IsFollowing *bool `json:"is_following"`
}

// RegisterRequest represents the data needed to create an account.
type RegisterRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// LoginRequest represents the data needed to log in.
// Login accepts either the username or the email address.
type LoginRequest struct {
	UsernameOrEmail string `json:"username_or_email"`
	Password        string `json:"password"`
}

// UpdateProfileRequest is field-wise: nil fields leave the stored value as is.
type UpdateProfileRequest struct {
	DisplayName *string `json:"display_name"`
	Bio         *string `json:"bio"`
	ImageURL    *string `json:"image_url"`
}

// User field limits, matching the stored column sizes.
const (
	MaxUsernameLength    = 50
	MaxDisplayNameLength = 100
	MaxBioLength         = 160
)

var (
	// ErrUserNotFound is returned when a user cannot be found
	ErrUserNotFound = errors.New("user not found")

	// ErrUsernameExists is returned when attempting to create a user with a taken username
	ErrUsernameExists = errors.New("username already exists")

	// ErrEmailExists is returned when attempting to create a user with a taken email
	ErrEmailExists = errors.New("email already in use")

	// ErrInvalidCredentials is returned when login credentials are incorrect
	ErrInvalidCredentials = errors.New("invalid credentials")
)
