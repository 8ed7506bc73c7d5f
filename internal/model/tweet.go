package model

import (
	"errors"
	"time"
)

// TweetType tags the variant of a tweet.
type TweetType string

const (
	TweetTypeOriginal TweetType = "ORIGINAL"
	TweetTypeRetweet  TweetType = "RETWEET"
	TweetTypeReply    TweetType = "REPLY"
)

// Tweet is the single self-referential content entity. Instead of two
// mutually exclusive nullable references, it carries one RefTweetID whose
// meaning follows the type tag: the retweeted original for RETWEET, the
// replied-to parent for REPLY, NULL for ORIGINAL. The pairing is enforced
// by a CHECK constraint in the schema, so the "retweet and reply at once"
// state cannot be stored.
//
// RefTweetID always points at an ORIGINAL tweet: creation resolves
// references to the thread base, which is what bounds projection recursion.
type Tweet struct {
	ID         int64     `db:"id" json:"id"`
	AuthorID   int64     `db:"author_id" json:"author_id"`
	Content    string    `db:"content" json:"content"`
	ImageURL   *string   `db:"image_url" json:"image_url"`
	Type       TweetType `db:"type" json:"type"`
	RefTweetID *int64    `db:"ref_tweet_id" json:"-"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// OriginalTweetID returns the retweeted tweet's id, non-nil only for retweets.
func (t *Tweet) OriginalTweetID() *int64 {
	if t.Type == TweetTypeRetweet {
		return t.RefTweetID
	}
	return nil
}

// ParentTweetID returns the replied-to tweet's id, non-nil only for replies.
func (t *Tweet) ParentTweetID() *int64 {
	if t.Type == TweetTypeReply {
		return t.RefTweetID
	}
	return nil
}

// EngagementCounts holds the derived per-tweet metrics. They are aggregated
// from the like edges and child tweets at read time and never persisted.
type EngagementCounts struct {
	Likes    int64
	Retweets int64
	Replies  int64
}

// TweetView is the externally visible tweet projection. OriginalTweet and
// ParentTweet are themselves views, assembled recursively; because stored
// references always point at an ORIGINAL tweet, nesting stops at one level.
type TweetView struct {
	ID            int64        `json:"id"`
	Content       string       `json:"content"`
	ImageURL      *string      `json:"image_url"`
	Type          TweetType    `json:"type"`
	Author        *UserSummary `json:"author"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	LikeCount     int64        `json:"like_count"`
	RetweetCount  int64        `json:"retweet_count"`
	ReplyCount    int64        `json:"reply_count"`
	IsLiked       *bool        `json:"is_liked"`     // nil when no viewer
	IsRetweeted   *bool        `json:"is_retweeted"` // nil when no viewer
	OriginalTweet *TweetView   `json:"original_tweet,omitempty"`
	ParentTweet   *TweetView   `json:"parent_tweet,omitempty"`
}

// Depth reports the nesting depth of the view (1 for a flat view).
func (v *TweetView) Depth() int {
	max := 0
	if v.OriginalTweet != nil {
		max = v.OriginalTweet.Depth()
	}
	if v.ParentTweet != nil {
		if d := v.ParentTweet.Depth(); d > max {
			max = d
		}
	}
	return max + 1
}

// CreateTweetRequest is the request body for creating an original tweet.
type CreateTweetRequest struct {
	Content  string  `json:"content"`
	ImageURL *string `json:"image_url"`
}

// CreateReplyRequest is the request body for replying to a tweet.
type CreateReplyRequest struct {
	Content string `json:"content"`
}

// CreateRetweetRequest is the request body for retweeting. Content is the
// optional quote comment; a pure retweet leaves it empty.
type CreateRetweetRequest struct {
	Content string `json:"content"`
}

// TweetPage is a paginated tweet listing with total-count metadata.
type TweetPage struct {
	Tweets     []TweetView `json:"tweets"`
	TotalCount int64       `json:"total_count"`
	Page       int         `json:"page"`
	Size       int         `json:"size"`
}

// UserPage is a paginated user listing with total-count metadata.
type UserPage struct {
	Users      []UserView `json:"users"`
	TotalCount int64      `json:"total_count"`
	Page       int        `json:"page"`
	Size       int        `json:"size"`
}

// PageRequest is a zero-based page index plus page size.
type PageRequest struct {
	Page int
	Size int
}

// Offset returns the row offset for LIMIT/OFFSET queries.
func (p PageRequest) Offset() int {
	return p.Page * p.Size
}

// Tweet constraints. Content length is counted in code points, not bytes.
const (
	MaxTweetLength = 280

	// TrendingWindow is how far back the trending listing reaches.
	TrendingWindow = 24 * time.Hour
)

// Tweet errors
var (
	ErrTweetNotFound    = errors.New("tweet not found")
	ErrNotTweetAuthor   = errors.New("not the author of this tweet")
	ErrContentRequired  = errors.New("tweet content is required")
	ErrContentTooLong   = errors.New("tweet content too long")
	ErrAlreadyLiked     = errors.New("already liked this tweet")
	ErrNotLiked         = errors.New("haven't liked this tweet")
	ErrAlreadyRetweeted = errors.New("already retweeted this tweet")
)
