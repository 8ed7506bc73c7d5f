package repository

import (
	"context"
	"time"

	"github.com/magicliang/tiny-twitter/internal/cache"
	"github.com/magicliang/tiny-twitter/internal/model"
)

type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByIDs(ctx context.Context, ids []int64) (map[int64]model.User, error)
	GetByUsernameOrEmail(ctx context.Context, usernameOrEmail string) (*model.User, error)
	Exists(ctx context.Context, id int64) (bool, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	// UpdateProfile overwrites only the non-nil fields of req.
	UpdateProfile(ctx context.Context, userID int64, req model.UpdateProfileRequest) (*model.User, error)
	Search(ctx context.Context, query string, page model.PageRequest) ([]model.User, int64, error)
}

type TweetRepository interface {
	// Create inserts the tweet and fills ID and timestamps. A duplicate
	// retweet hits the partial unique index and comes back as
	// model.ErrAlreadyRetweeted.
	Create(ctx context.Context, t *model.Tweet) error
	GetByID(ctx context.Context, id int64) (*model.Tweet, error)
	GetByIDs(ctx context.Context, ids []int64) (map[int64]model.Tweet, error)
	// Delete hard-deletes the tweet; replies, retweets and like edges go
	// with it via the schema's ON DELETE CASCADE.
	Delete(ctx context.Context, id int64) error
	Exists(ctx context.Context, id int64) (bool, error)

	// Listings. Each returns one page plus the total match count.
	ListByAuthor(ctx context.Context, authorID int64, page model.PageRequest) ([]model.Tweet, int64, error)
	ListReplies(ctx context.Context, parentID int64, page model.PageRequest) ([]model.Tweet, int64, error)
	ListRetweets(ctx context.Context, originalID int64, page model.PageRequest) ([]model.Tweet, int64, error)
	// ListTimeline is the fan-out-on-read union: tweets by userID and by
	// everyone userID follows, recomputed on every call.
	ListTimeline(ctx context.Context, userID int64, page model.PageRequest) ([]model.Tweet, int64, error)
	ListSince(ctx context.Context, since time.Time, page model.PageRequest) ([]model.Tweet, int64, error)
	Search(ctx context.Context, query string, page model.PageRequest) ([]model.Tweet, int64, error)
	ListLikedBy(ctx context.Context, userID int64, page model.PageRequest) ([]model.Tweet, int64, error)
	// RecentScores returns (id, created_at) pairs for warming the trending window.
	RecentScores(ctx context.Context, since time.Time, limit int) ([]cache.TweetScore, error)

	// Derived metrics, aggregated live from edges and child tweets.
	CountEngagements(ctx context.Context, tweetIDs []int64) (map[int64]model.EngagementCounts, error)
	CountByAuthors(ctx context.Context, authorIDs []int64) (map[int64]int64, error)
	CheckLiked(ctx context.Context, userID int64, tweetIDs []int64) (map[int64]bool, error)
	CheckRetweeted(ctx context.Context, userID int64, tweetIDs []int64) (map[int64]bool, error)

	// Like edges.
	Like(ctx context.Context, tweetID, userID int64) error
	Unlike(ctx context.Context, tweetID, userID int64) error
}

type FollowRepository interface {
	Create(ctx context.Context, followerID, followeeID int64) error
	Delete(ctx context.Context, followerID, followeeID int64) error
	Exists(ctx context.Context, followerID, followeeID int64) (bool, error)
	ListFollowers(ctx context.Context, userID int64, page model.PageRequest) ([]model.User, int64, error)
	ListFollowing(ctx context.Context, userID int64, page model.PageRequest) ([]model.User, int64, error)
	CheckFollows(ctx context.Context, followerID int64, followeeIDs []int64) (map[int64]bool, error)
	CountFollowers(ctx context.Context, userIDs []int64) (map[int64]int64, error)
	CountFollowing(ctx context.Context, userIDs []int64) (map[int64]int64, error)
}

type RefreshTokenRepository interface {
	Create(ctx context.Context, token *model.RefreshToken) error
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error)
	Revoke(ctx context.Context, id string, replacedBy *string) error
	RevokeAllForUser(ctx context.Context, userID int64) error
	DeleteExpired(ctx context.Context, olderThan time.Duration) (int64, error)
}
