package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/magicliang/tiny-twitter/internal/model"
	"github.com/magicliang/tiny-twitter/internal/repository"
)

// UserService handles registration, authentication checks and profile
// operations.
type UserService struct {
	userRepo repository.UserRepository
	views    *viewAssembler
}

func NewUserService(
	userRepo repository.UserRepository,
	tweetRepo repository.TweetRepository,
	followRepo repository.FollowRepository,
) *UserService {
	return &UserService{
		userRepo: userRepo,
		views:    newViewAssembler(tweetRepo, userRepo, followRepo),
	}
}

// Register creates a new account. Username and email are checked for
// uniqueness up front; the unique indexes catch concurrent registrations
// that race past the checks. The display name defaults to the username.
func (s *UserService) Register(ctx context.Context, req model.RegisterRequest) (*model.User, error) {
	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(req.Email)
	if username == "" || email == "" || req.Password == "" {
		return nil, fmt.Errorf("username, email and password are required")
	}
	if utf8.RuneCountInString(username) > model.MaxUsernameLength {
		return nil, fmt.Errorf("username exceeds %d characters", model.MaxUsernameLength)
	}

	taken, err := s.userRepo.ExistsByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if taken {
		return nil, model.ErrUsernameExists
	}

	taken, err = s.userRepo.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if taken {
		return nil, model.ErrEmailExists
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = username
	}

	u := &model.User{
		Username:       username,
		Email:          email,
		PasswordHashed: string(hashed),
		DisplayName:    &displayName,
	}
	if err := s.userRepo.Create(ctx, u); err != nil {
		return nil, err
	}

	log.Printf("[UserService] user registered: id=%d username=%s", u.ID, u.Username)
	return u, nil
}

// Authenticate verifies credentials and returns the account. The identifier
// may be a username or an email address; both a missing account and a wrong
// password come back as the same ErrInvalidCredentials.
func (s *UserService) Authenticate(ctx context.Context, req model.LoginRequest) (*model.User, error) {
	u, err := s.userRepo.GetByUsernameOrEmail(ctx, req.UsernameOrEmail)
	if err != nil {
		if err == model.ErrUserNotFound {
			return nil, model.ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHashed), []byte(req.Password)); err != nil {
		return nil, model.ErrInvalidCredentials
	}

	return u, nil
}

// GetByID returns the raw user entity.
func (s *UserService) GetByID(ctx context.Context, userID int64) (*model.User, error) {
	return s.userRepo.GetByID(ctx, userID)
}

// GetProfile returns the profile projection with derived counts and the
// viewer's follow flag.
func (s *UserService) GetProfile(ctx context.Context, userID int64, viewerID *int64) (*model.UserView, error) {
	u, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.views.UserView(ctx, u, viewerID)
}

// UpdateProfile overwrites only the fields present in req.
func (s *UserService) UpdateProfile(ctx context.Context, userID int64, req model.UpdateProfileRequest) (*model.User, error) {
	if req.DisplayName != nil && utf8.RuneCountInString(*req.DisplayName) > model.MaxDisplayNameLength {
		return nil, fmt.Errorf("display name exceeds %d characters", model.MaxDisplayNameLength)
	}
	if req.Bio != nil && utf8.RuneCountInString(*req.Bio) > model.MaxBioLength {
		return nil, fmt.Errorf("bio exceeds %d characters", model.MaxBioLength)
	}

	u, err := s.userRepo.UpdateProfile(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	log.Printf("[UserService] profile updated: id=%d", userID)
	return u, nil
}

// Search finds users by username substring, most-followed first.
func (s *UserService) Search(ctx context.Context, query string, page model.PageRequest, viewerID *int64) (*model.UserPage, error) {
	page = normalizePage(page)

	users, total, err := s.userRepo.Search(ctx, query, page)
	if err != nil {
		return nil, err
	}

	views, err := s.views.UserViews(ctx, users, viewerID)
	if err != nil {
		return nil, err
	}
	return &model.UserPage{
		Users:      views,
		TotalCount: total,
		Page:       page.Page,
		Size:       page.Size,
	}, nil
}
