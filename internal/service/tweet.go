package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/magicliang/tiny-twitter/internal/cache"
	"github.com/magicliang/tiny-twitter/internal/model"
	"github.com/magicliang/tiny-twitter/internal/repository"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	// trendingWarmLimit caps how many rows are pulled from Postgres when
	// re-warming a lost trending window.
	trendingWarmLimit = 1000
)

// errTrendingWindowOverflow means the 24h window holds at least as many
// tweets as a warm can load. A partially warmed window would under-report
// totals and drop older in-window tweets from deep pages, so the request
// is served from the store instead.
var errTrendingWindowOverflow = errors.New("trending window exceeds warm limit")

// TweetService handles tweet creation, deletion, likes and the listings
// built on top of them. All mutations are single statements with schema
// constraints as the concurrency backstop; all counts are derived at read
// time by the view assembler.
type TweetService struct {
	tweetRepo repository.TweetRepository
	userRepo  repository.UserRepository
	trending  cache.TrendingCache
	views     *viewAssembler
}

// NewTweetService creates a TweetService. trending may be nil, in which case
// the trending listing always reads from the store.
func NewTweetService(
	tweetRepo repository.TweetRepository,
	userRepo repository.UserRepository,
	followRepo repository.FollowRepository,
	trending cache.TrendingCache,
) *TweetService {
	return &TweetService{
		tweetRepo: tweetRepo,
		userRepo:  userRepo,
		trending:  trending,
		views:     newViewAssembler(tweetRepo, userRepo, followRepo),
	}
}

// normalizePage clamps page and size into the supported range.
func normalizePage(page model.PageRequest) model.PageRequest {
	if page.Page < 0 {
		page.Page = 0
	}
	if page.Size <= 0 {
		page.Size = defaultPageSize
	}
	if page.Size > maxPageSize {
		page.Size = maxPageSize
	}
	return page
}

// validateContent rejects blank (unless allowed) and over-long content.
// Length is counted in code points, not bytes.
func validateContent(content string, allowEmpty bool) error {
	if strings.TrimSpace(content) == "" {
		if allowEmpty {
			return nil
		}
		return model.ErrContentRequired
	}
	if utf8.RuneCountInString(content) > model.MaxTweetLength {
		return model.ErrContentTooLong
	}
	return nil
}

// threadBase returns the id a new reference to t must point at. References
// are resolved to the thread's ORIGINAL tweet at creation time, which is
// what keeps projection nesting at a single level.
func threadBase(t *model.Tweet) int64 {
	if t.Type == model.TweetTypeOriginal {
		return t.ID
	}
	return *t.RefTweetID
}

func (s *TweetService) requireUser(ctx context.Context, userID int64) error {
	exists, err := s.userRepo.Exists(ctx, userID)
	if err != nil {
		return fmt.Errorf("check user exists: %w", err)
	}
	if !exists {
		return model.ErrUserNotFound
	}
	return nil
}

func (s *TweetService) requireTweet(ctx context.Context, tweetID int64) error {
	exists, err := s.tweetRepo.Exists(ctx, tweetID)
	if err != nil {
		return fmt.Errorf("check tweet exists: %w", err)
	}
	if !exists {
		return model.ErrTweetNotFound
	}
	return nil
}

// addToTrending is best-effort: a cache failure never fails the write.
func (s *TweetService) addToTrending(ctx context.Context, t *model.Tweet) {
	if s.trending == nil {
		return
	}
	if err := s.trending.Add(ctx, t.ID, t.CreatedAt); err != nil {
		log.Printf("[TweetService] trending add failed: tweet=%d err=%v", t.ID, err)
	}
}

// Create posts an original tweet.
func (s *TweetService) Create(ctx context.Context, authorID int64, req model.CreateTweetRequest) (*model.TweetView, error) {
	if err := validateContent(req.Content, false); err != nil {
		return nil, err
	}
	if err := s.requireUser(ctx, authorID); err != nil {
		return nil, err
	}

	t := &model.Tweet{
		AuthorID: authorID,
		Content:  req.Content,
		ImageURL: req.ImageURL,
		Type:     model.TweetTypeOriginal,
	}
	if err := s.tweetRepo.Create(ctx, t); err != nil {
		return nil, err
	}

	s.addToTrending(ctx, t)
	log.Printf("[TweetService] tweet created: id=%d author=%d", t.ID, authorID)

	return s.views.TweetView(ctx, t, &authorID)
}

// CreateReply posts a reply. Replying to a reply or a retweet attaches the
// new tweet to the thread's original instead, so stored references only ever
// point at ORIGINAL tweets.
func (s *TweetService) CreateReply(ctx context.Context, authorID, parentID int64, req model.CreateReplyRequest) (*model.TweetView, error) {
	if err := validateContent(req.Content, false); err != nil {
		return nil, err
	}
	if err := s.requireUser(ctx, authorID); err != nil {
		return nil, err
	}

	parent, err := s.tweetRepo.GetByID(ctx, parentID)
	if err != nil {
		return nil, err
	}
	base := threadBase(parent)

	t := &model.Tweet{
		AuthorID:   authorID,
		Content:    req.Content,
		Type:       model.TweetTypeReply,
		RefTweetID: &base,
	}
	if err := s.tweetRepo.Create(ctx, t); err != nil {
		return nil, err
	}

	s.addToTrending(ctx, t)
	log.Printf("[TweetService] reply created: id=%d author=%d base=%d", t.ID, authorID, base)

	return s.views.TweetView(ctx, t, &authorID)
}

// CreateRetweet reposts a tweet, optionally with a quote comment. Retweeting
// a retweet or a reply targets the thread's original; one retweet per
// (author, original) pair is allowed.
func (s *TweetService) CreateRetweet(ctx context.Context, authorID, tweetID int64, req model.CreateRetweetRequest) (*model.TweetView, error) {
	if err := validateContent(req.Content, true); err != nil {
		return nil, err
	}
	if err := s.requireUser(ctx, authorID); err != nil {
		return nil, err
	}

	target, err := s.tweetRepo.GetByID(ctx, tweetID)
	if err != nil {
		return nil, err
	}
	base := threadBase(target)

	retweeted, err := s.tweetRepo.CheckRetweeted(ctx, authorID, []int64{base})
	if err != nil {
		return nil, fmt.Errorf("check already retweeted: %w", err)
	}
	if retweeted[base] {
		return nil, model.ErrAlreadyRetweeted
	}

	t := &model.Tweet{
		AuthorID:   authorID,
		Content:    req.Content,
		Type:       model.TweetTypeRetweet,
		RefTweetID: &base,
	}
	if err := s.tweetRepo.Create(ctx, t); err != nil {
		return nil, err
	}

	s.addToTrending(ctx, t)
	log.Printf("[TweetService] retweet created: id=%d author=%d base=%d", t.ID, authorID, base)

	return s.views.TweetView(ctx, t, &authorID)
}

// Delete hard-deletes a tweet after an ownership check. Replies, retweets
// and like edges cascade away in the store; the trending window is cleaned
// up best-effort.
func (s *TweetService) Delete(ctx context.Context, tweetID, requesterID int64) error {
	t, err := s.tweetRepo.GetByID(ctx, tweetID)
	if err != nil {
		return err
	}
	if t.AuthorID != requesterID {
		return model.ErrNotTweetAuthor
	}

	if err := s.tweetRepo.Delete(ctx, tweetID); err != nil {
		return err
	}

	if s.trending != nil {
		if err := s.trending.Remove(ctx, tweetID); err != nil {
			log.Printf("[TweetService] trending remove failed: tweet=%d err=%v", tweetID, err)
		}
	}

	log.Printf("[TweetService] tweet deleted: id=%d author=%d", tweetID, requesterID)
	return nil
}

// Like records a like edge.
func (s *TweetService) Like(ctx context.Context, tweetID, userID int64) error {
	if err := s.requireTweet(ctx, tweetID); err != nil {
		return err
	}
	if err := s.requireUser(ctx, userID); err != nil {
		return err
	}
	return s.tweetRepo.Like(ctx, tweetID, userID)
}

// Unlike removes a like edge. Unliking a tweet that was never liked is a
// Conflict, not a no-op.
func (s *TweetService) Unlike(ctx context.Context, tweetID, userID int64) error {
	if err := s.requireTweet(ctx, tweetID); err != nil {
		return err
	}
	if err := s.requireUser(ctx, userID); err != nil {
		return err
	}
	return s.tweetRepo.Unlike(ctx, tweetID, userID)
}

// GetByID returns a single tweet view.
func (s *TweetService) GetByID(ctx context.Context, tweetID int64, viewerID *int64) (*model.TweetView, error) {
	t, err := s.tweetRepo.GetByID(ctx, tweetID)
	if err != nil {
		return nil, err
	}
	return s.views.TweetView(ctx, t, viewerID)
}

func (s *TweetService) assemblePage(ctx context.Context, tweets []model.Tweet, total int64, page model.PageRequest, viewerID *int64) (*model.TweetPage, error) {
	views, err := s.views.TweetViews(ctx, tweets, viewerID)
	if err != nil {
		return nil, err
	}
	return &model.TweetPage{
		Tweets:     views,
		TotalCount: total,
		Page:       page.Page,
		Size:       page.Size,
	}, nil
}

// GetUserTweets lists a user's tweets of all types, newest first.
func (s *TweetService) GetUserTweets(ctx context.Context, userID int64, page model.PageRequest, viewerID *int64) (*model.TweetPage, error) {
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}
	page = normalizePage(page)
	tweets, total, err := s.tweetRepo.ListByAuthor(ctx, userID, page)
	if err != nil {
		return nil, err
	}
	return s.assemblePage(ctx, tweets, total, page, viewerID)
}

// GetReplies lists the replies to a tweet, oldest first. A nonexistent or
// deleted tweet id yields an empty page rather than an error.
func (s *TweetService) GetReplies(ctx context.Context, tweetID int64, page model.PageRequest, viewerID *int64) (*model.TweetPage, error) {
	page = normalizePage(page)
	tweets, total, err := s.tweetRepo.ListReplies(ctx, tweetID, page)
	if err != nil {
		return nil, err
	}
	return s.assemblePage(ctx, tweets, total, page, viewerID)
}

// GetRetweets lists the retweets of a tweet, newest first.
func (s *TweetService) GetRetweets(ctx context.Context, tweetID int64, page model.PageRequest, viewerID *int64) (*model.TweetPage, error) {
	page = normalizePage(page)
	tweets, total, err := s.tweetRepo.ListRetweets(ctx, tweetID, page)
	if err != nil {
		return nil, err
	}
	return s.assemblePage(ctx, tweets, total, page, viewerID)
}

// GetTimeline is fan-out-on-read: the union of the user's own tweets and
// their followees' tweets, recomputed from the follow edges on every call.
func (s *TweetService) GetTimeline(ctx context.Context, userID int64, page model.PageRequest) (*model.TweetPage, error) {
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}
	page = normalizePage(page)
	tweets, total, err := s.tweetRepo.ListTimeline(ctx, userID, page)
	if err != nil {
		return nil, err
	}
	return s.assemblePage(ctx, tweets, total, page, &userID)
}

// GetTrending lists tweets created inside the trending window, newest first.
// The Redis window is a read-through accelerator holding only ids and
// timestamps; on a miss it is re-warmed from the store, and on any cache
// error the listing falls back to the store directly.
func (s *TweetService) GetTrending(ctx context.Context, page model.PageRequest, viewerID *int64) (*model.TweetPage, error) {
	page = normalizePage(page)
	since := time.Now().Add(-model.TrendingWindow)

	if s.trending != nil {
		result, err := s.trendingFromCache(ctx, since, page, viewerID)
		if err == nil {
			return result, nil
		}
		log.Printf("[TweetService] trending cache miss, falling back to store: err=%v", err)
	}

	tweets, total, err := s.tweetRepo.ListSince(ctx, since, page)
	if err != nil {
		return nil, err
	}
	return s.assemblePage(ctx, tweets, total, page, viewerID)
}

func (s *TweetService) trendingFromCache(ctx context.Context, since time.Time, page model.PageRequest, viewerID *int64) (*model.TweetPage, error) {
	populated, err := s.trending.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !populated {
		scores, err := s.tweetRepo.RecentScores(ctx, since, trendingWarmLimit)
		if err != nil {
			return nil, err
		}
		if len(scores) >= trendingWarmLimit {
			return nil, errTrendingWindowOverflow
		}
		if err := s.trending.Warm(ctx, scores); err != nil {
			return nil, err
		}
	}

	ids, total, err := s.trending.Window(ctx, since, page.Offset(), page.Size)
	if err != nil {
		return nil, err
	}

	byID, err := s.tweetRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	// Preserve the window's newest-first order; ids whose tweets were
	// deleted out from under the cache are skipped.
	tweets := make([]model.Tweet, 0, len(ids))
	for _, id := range ids {
		if t, ok := byID[id]; ok {
			tweets = append(tweets, t)
		}
	}

	views, err := s.views.TweetViews(ctx, tweets, viewerID)
	if err != nil {
		return nil, err
	}
	return &model.TweetPage{
		Tweets:     views,
		TotalCount: total,
		Page:       page.Page,
		Size:       page.Size,
	}, nil
}

// Search finds tweets whose content contains the query, newest first.
func (s *TweetService) Search(ctx context.Context, query string, page model.PageRequest, viewerID *int64) (*model.TweetPage, error) {
	page = normalizePage(page)
	tweets, total, err := s.tweetRepo.Search(ctx, query, page)
	if err != nil {
		return nil, err
	}
	return s.assemblePage(ctx, tweets, total, page, viewerID)
}

// GetLikedTweets lists the tweets a user has liked, ordered by the tweets'
// creation time.
func (s *TweetService) GetLikedTweets(ctx context.Context, userID int64, page model.PageRequest, viewerID *int64) (*model.TweetPage, error) {
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}
	page = normalizePage(page)
	tweets, total, err := s.tweetRepo.ListLikedBy(ctx, userID, page)
	if err != nil {
		return nil, err
	}
	return s.assemblePage(ctx, tweets, total, page, viewerID)
}

// CountLikes returns the number of likes on a tweet, derived from the edges.
func (s *TweetService) CountLikes(ctx context.Context, tweetID int64) (int64, error) {
	counts, err := s.countOne(ctx, tweetID)
	if err != nil {
		return 0, err
	}
	return counts.Likes, nil
}

// CountRetweets returns the number of retweets of a tweet.
func (s *TweetService) CountRetweets(ctx context.Context, tweetID int64) (int64, error) {
	counts, err := s.countOne(ctx, tweetID)
	if err != nil {
		return 0, err
	}
	return counts.Retweets, nil
}

// CountReplies returns the number of replies to a tweet.
func (s *TweetService) CountReplies(ctx context.Context, tweetID int64) (int64, error) {
	counts, err := s.countOne(ctx, tweetID)
	if err != nil {
		return 0, err
	}
	return counts.Replies, nil
}

// CountTweets returns how many tweets a user has authored, of any type.
func (s *TweetService) CountTweets(ctx context.Context, userID int64) (int64, error) {
	if err := s.requireUser(ctx, userID); err != nil {
		return 0, err
	}
	counts, err := s.tweetRepo.CountByAuthors(ctx, []int64{userID})
	if err != nil {
		return 0, err
	}
	return counts[userID], nil
}

func (s *TweetService) countOne(ctx context.Context, tweetID int64) (model.EngagementCounts, error) {
	if err := s.requireTweet(ctx, tweetID); err != nil {
		return model.EngagementCounts{}, err
	}
	counts, err := s.tweetRepo.CountEngagements(ctx, []int64{tweetID})
	if err != nil {
		return model.EngagementCounts{}, err
	}
	return counts[tweetID], nil
}

// IsLikedBy reports whether userID has liked the tweet. A nil userID means
// no viewer, which is never a like.
func (s *TweetService) IsLikedBy(ctx context.Context, tweetID int64, userID *int64) (bool, error) {
	if userID == nil {
		return false, nil
	}
	liked, err := s.tweetRepo.CheckLiked(ctx, *userID, []int64{tweetID})
	if err != nil {
		return false, err
	}
	return liked[tweetID], nil
}

// IsRetweetedBy reports whether userID has retweeted the tweet.
func (s *TweetService) IsRetweetedBy(ctx context.Context, tweetID int64, userID *int64) (bool, error) {
	if userID == nil {
		return false, nil
	}
	retweeted, err := s.tweetRepo.CheckRetweeted(ctx, *userID, []int64{tweetID})
	if err != nil {
		return false, err
	}
	return retweeted[tweetID], nil
}
