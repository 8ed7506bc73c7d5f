package service

import (
	"context"
	"fmt"
	"log"

	"github.com/magicliang/tiny-twitter/internal/model"
	"github.com/magicliang/tiny-twitter/internal/repository"
)

// FollowService manages the directed follow edge set. Both follower and
// following listings are derived from the same edges, so the two directions
// can never disagree.
type FollowService struct {
	followRepo repository.FollowRepository
	userRepo   repository.UserRepository
	views      *viewAssembler
}

func NewFollowService(
	followRepo repository.FollowRepository,
	userRepo repository.UserRepository,
	tweetRepo repository.TweetRepository,
) *FollowService {
	return &FollowService{
		followRepo: followRepo,
		userRepo:   userRepo,
		views:      newViewAssembler(tweetRepo, userRepo, followRepo),
	}
}

func (s *FollowService) requireUser(ctx context.Context, userID int64) error {
	exists, err := s.userRepo.Exists(ctx, userID)
	if err != nil {
		return fmt.Errorf("check user exists: %w", err)
	}
	if !exists {
		return model.ErrUserNotFound
	}
	return nil
}

// Follow creates the follower -> followee edge. Self-follow is rejected
// before anything else; the edge's primary key backstops the "not already
// following" precondition under races.
func (s *FollowService) Follow(ctx context.Context, followerID, followeeID int64) error {
	if followerID == followeeID {
		return model.ErrCannotFollowSelf
	}
	if err := s.requireUser(ctx, followerID); err != nil {
		return err
	}
	if err := s.requireUser(ctx, followeeID); err != nil {
		return err
	}

	if err := s.followRepo.Create(ctx, followerID, followeeID); err != nil {
		return err
	}

	log.Printf("[FollowService] follow: %d -> %d", followerID, followeeID)
	return nil
}

// Unfollow removes the edge. Unfollowing someone never followed is a
// Conflict, not a no-op.
func (s *FollowService) Unfollow(ctx context.Context, followerID, followeeID int64) error {
	if err := s.requireUser(ctx, followerID); err != nil {
		return err
	}
	if err := s.requireUser(ctx, followeeID); err != nil {
		return err
	}

	if err := s.followRepo.Delete(ctx, followerID, followeeID); err != nil {
		return err
	}

	log.Printf("[FollowService] unfollow: %d -> %d", followerID, followeeID)
	return nil
}

// IsFollowing reports whether the follower -> followee edge exists.
func (s *FollowService) IsFollowing(ctx context.Context, followerID, followeeID int64) (bool, error) {
	return s.followRepo.Exists(ctx, followerID, followeeID)
}

// GetFollowers lists the users following userID, most recent edge first.
func (s *FollowService) GetFollowers(ctx context.Context, userID int64, page model.PageRequest, viewerID *int64) (*model.UserPage, error) {
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}
	page = normalizePage(page)

	users, total, err := s.followRepo.ListFollowers(ctx, userID, page)
	if err != nil {
		return nil, err
	}
	return s.assemblePage(ctx, users, total, page, viewerID)
}

// GetFollowing lists the users userID follows, most recent edge first.
func (s *FollowService) GetFollowing(ctx context.Context, userID int64, page model.PageRequest, viewerID *int64) (*model.UserPage, error) {
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}
	page = normalizePage(page)

	users, total, err := s.followRepo.ListFollowing(ctx, userID, page)
	if err != nil {
		return nil, err
	}
	return s.assemblePage(ctx, users, total, page, viewerID)
}

// CountFollowers returns the derived follower count for one user.
func (s *FollowService) CountFollowers(ctx context.Context, userID int64) (int64, error) {
	if err := s.requireUser(ctx, userID); err != nil {
		return 0, err
	}
	counts, err := s.followRepo.CountFollowers(ctx, []int64{userID})
	if err != nil {
		return 0, err
	}
	return counts[userID], nil
}

// CountFollowing returns the derived following count for one user.
func (s *FollowService) CountFollowing(ctx context.Context, userID int64) (int64, error) {
	if err := s.requireUser(ctx, userID); err != nil {
		return 0, err
	}
	counts, err := s.followRepo.CountFollowing(ctx, []int64{userID})
	if err != nil {
		return 0, err
	}
	return counts[userID], nil
}

func (s *FollowService) assemblePage(ctx context.Context, users []model.User, total int64, page model.PageRequest, viewerID *int64) (*model.UserPage, error) {
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
