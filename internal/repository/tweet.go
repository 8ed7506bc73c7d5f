package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/magicliang/tiny-twitter/internal/cache"
	"github.com/magicliang/tiny-twitter/internal/model"
)

const tweetColumns = `id, author_id, content, image_url, type, ref_tweet_id, created_at, updated_at`

type tweetRepository struct {
	db *sqlx.DB
}

func NewTweetRepository(db *sqlx.DB) TweetRepository {
	return &tweetRepository{db: db}
}

// Create inserts a tweet and fills ID and timestamps. The partial unique
// index on (author_id, ref_tweet_id) for retweets is the concurrency
// backstop for the "not already retweeted" precondition; a violation is
// reported as the same Conflict error the precondition check raises.
func (r *tweetRepository) Create(ctx context.Context, t *model.Tweet) error {
	query := `
		INSERT INTO tweets (author_id, content, image_url, type, ref_tweet_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`

	row := r.db.QueryRowxContext(ctx, query, t.AuthorID, t.Content, t.ImageURL, t.Type, t.RefTweetID)
	err := row.Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return translateTweetInsertError(err)
	}

	return nil
}

// translateTweetInsertError maps constraint violations from the tweet
// insert onto domain errors. On a 23503 the violated constraint tells which
// row vanished between check and write: the author or the referenced tweet.
func translateTweetInsertError(err error) error {
	if pqErr, ok := err.(*pq.Error); ok {
		switch pqErr.Code {
		case "23505":
			return model.ErrAlreadyRetweeted
		case "23503":
			if pqErr.Constraint == "tweets_author_id_fkey" {
				return model.ErrUserNotFound
			}
			return model.ErrTweetNotFound
		}
	}
	return fmt.Errorf("insert tweet: %w", err)
}

func (r *tweetRepository) GetByID(ctx context.Context, id int64) (*model.Tweet, error) {
	query := `SELECT ` + tweetColumns + ` FROM tweets WHERE id = $1`

	var t model.Tweet
	err := r.db.GetContext(ctx, &t, query, id)
	if err == sql.ErrNoRows {
		return nil, model.ErrTweetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tweet: %w", err)
	}

	return &t, nil
}

// GetByIDs retrieves multiple tweets keyed by id, for hydrating references
// during view assembly.
func (r *tweetRepository) GetByIDs(ctx context.Context, ids []int64) (map[int64]model.Tweet, error) {
	if len(ids) == 0 {
		return map[int64]model.Tweet{}, nil
	}

	query := `SELECT ` + tweetColumns + ` FROM tweets WHERE id = ANY($1)`

	var tweets []model.Tweet
	err := r.db.SelectContext(ctx, &tweets, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("get tweets by ids: %w", err)
	}

	result := make(map[int64]model.Tweet, len(tweets))
	for _, t := range tweets {
		result[t.ID] = t
	}
	return result, nil
}

// Delete removes the tweet. Replies, retweets and like edges are removed
// transitively by the schema's ON DELETE CASCADE.
func (r *tweetRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM tweets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete tweet: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return model.ErrTweetNotFound
	}
	return nil
}

func (r *tweetRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM tweets WHERE id = $1)`, id)
	if err != nil {
		return false, fmt.Errorf("check tweet exists: %w", err)
	}
	return exists, nil
}

// listPage runs a listing query plus its COUNT twin with shared arguments.
// query must end without LIMIT/OFFSET; those are appended here so every
// listing keeps the same (page, size, total) contract.
func (r *tweetRepository) listPage(ctx context.Context, query, countQuery string, page model.PageRequest, args ...interface{}) ([]model.Tweet, int64, error) {
	paged := fmt.Sprintf("%s LIMIT %d OFFSET %d", query, page.Size, page.Offset())

	var tweets []model.Tweet
	if err := r.db.SelectContext(ctx, &tweets, paged, args...); err != nil {
		return nil, 0, fmt.Errorf("list tweets: %w", err)
	}

	var total int64
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count tweets: %w", err)
	}

	return tweets, total, nil
}

func (r *tweetRepository) ListByAuthor(ctx context.Context, authorID int64, page model.PageRequest) ([]model.Tweet, int64, error) {
	return r.listPage(ctx,
		`SELECT `+tweetColumns+` FROM tweets WHERE author_id = $1 ORDER BY created_at DESC, id DESC`,
		`SELECT COUNT(*) FROM tweets WHERE author_id = $1`,
		page, authorID)
}

// ListReplies is the one ascending listing: conversations read oldest-first.
func (r *tweetRepository) ListReplies(ctx context.Context, parentID int64, page model.PageRequest) ([]model.Tweet, int64, error) {
	return r.listPage(ctx,
		`SELECT `+tweetColumns+` FROM tweets WHERE type = 'REPLY' AND ref_tweet_id = $1 ORDER BY created_at ASC, id ASC`,
		`SELECT COUNT(*) FROM tweets WHERE type = 'REPLY' AND ref_tweet_id = $1`,
		page, parentID)
}

func (r *tweetRepository) ListRetweets(ctx context.Context, originalID int64, page model.PageRequest) ([]model.Tweet, int64, error) {
	return r.listPage(ctx,
		`SELECT `+tweetColumns+` FROM tweets WHERE type = 'RETWEET' AND ref_tweet_id = $1 ORDER BY created_at DESC, id DESC`,
		`SELECT COUNT(*) FROM tweets WHERE type = 'RETWEET' AND ref_tweet_id = $1`,
		page, originalID)
}

// ListTimeline is fan-out-on-read: the union of the user's own tweets and
// their followees' tweets is recomputed on every call. No per-user feed is
// materialized anywhere, so a follow or unfollow is visible immediately.
func (r *tweetRepository) ListTimeline(ctx context.Context, userID int64, page model.PageRequest) ([]model.Tweet, int64, error) {
	return r.listPage(ctx,
		`SELECT `+tweetColumns+` FROM tweets
		 WHERE author_id = $1
		    OR author_id IN (SELECT followee_id FROM follows WHERE follower_id = $1)
		 ORDER BY created_at DESC, id DESC`,
		`SELECT COUNT(*) FROM tweets
		 WHERE author_id = $1
		    OR author_id IN (SELECT followee_id FROM follows WHERE follower_id = $1)`,
		page, userID)
}

func (r *tweetRepository) ListSince(ctx context.Context, since time.Time, page model.PageRequest) ([]model.Tweet, int64, error) {
	return r.listPage(ctx,
		`SELECT `+tweetColumns+` FROM tweets WHERE created_at >= $1 ORDER BY created_at DESC, id DESC`,
		`SELECT COUNT(*) FROM tweets WHERE created_at >= $1`,
		page, since)
}

func (r *tweetRepository) Search(ctx context.Context, query string, page model.PageRequest) ([]model.Tweet, int64, error) {
	pattern := "%" + query + "%"
	return r.listPage(ctx,
		`SELECT `+tweetColumns+` FROM tweets WHERE content ILIKE $1 ORDER BY created_at DESC, id DESC`,
		`SELECT COUNT(*) FROM tweets WHERE content ILIKE $1`,
		page, pattern)
}

// ListLikedBy orders by tweet creation time, not like time.
func (r *tweetRepository) ListLikedBy(ctx context.Context, userID int64, page model.PageRequest) ([]model.Tweet, int64, error) {
	return r.listPage(ctx,
		`SELECT t.id, t.author_id, t.content, t.image_url, t.type, t.ref_tweet_id, t.created_at, t.updated_at
		 FROM tweets t
		 JOIN tweet_likes l ON l.tweet_id = t.id
		 WHERE l.user_id = $1
		 ORDER BY t.created_at DESC, t.id DESC`,
		`SELECT COUNT(*) FROM tweet_likes WHERE user_id = $1`,
		page, userID)
}

// RecentScores returns (id, created_at) pairs for warming the trending window.
func (r *tweetRepository) RecentScores(ctx context.Context, since time.Time, limit int) ([]cache.TweetScore, error) {
	query := `
		SELECT id, EXTRACT(EPOCH FROM created_at)::bigint AS timestamp
		FROM tweets
		WHERE created_at >= $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	type row struct {
		ID        int64 `db:"id"`
		Timestamp int64 `db:"timestamp"`
	}
	var rows []row
	err := r.db.SelectContext(ctx, &rows, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent tweet scores: %w", err)
	}

	scores := make([]cache.TweetScore, len(rows))
	for i, rw := range rows {
		scores[i] = cache.TweetScore{TweetID: rw.ID, Timestamp: rw.Timestamp}
	}
	return scores, nil
}

// CountEngagements aggregates like/retweet/reply counts for a batch of
// tweets in three grouped queries. Counts are always derived here; there is
// no counter column to drift.
func (r *tweetRepository) CountEngagements(ctx context.Context, tweetIDs []int64) (map[int64]model.EngagementCounts, error) {
	result := make(map[int64]model.EngagementCounts, len(tweetIDs))
	if len(tweetIDs) == 0 {
		return result, nil
	}
	for _, id := range tweetIDs {
		result[id] = model.EngagementCounts{}
	}

	type countRow struct {
		TweetID int64 `db:"tweet_id"`
		Count   int64 `db:"count"`
	}

	var likeRows []countRow
	err := r.db.SelectContext(ctx, &likeRows,
		`SELECT tweet_id, COUNT(*) AS count FROM tweet_likes WHERE tweet_id = ANY($1) GROUP BY tweet_id`,
		pq.Array(tweetIDs))
	if err != nil {
		return nil, fmt.Errorf("count likes: %w", err)
	}
	for _, row := range likeRows {
		c := result[row.TweetID]
		c.Likes = row.Count
		result[row.TweetID] = c
	}

	var childRows []struct {
		TweetID int64           `db:"tweet_id"`
		Type    model.TweetType `db:"type"`
		Count   int64           `db:"count"`
	}
	err = r.db.SelectContext(ctx, &childRows,
		`SELECT ref_tweet_id AS tweet_id, type, COUNT(*) AS count
		 FROM tweets
		 WHERE ref_tweet_id = ANY($1)
		 GROUP BY ref_tweet_id, type`,
		pq.Array(tweetIDs))
	if err != nil {
		return nil, fmt.Errorf("count retweets and replies: %w", err)
	}
	for _, row := range childRows {
		c := result[row.TweetID]
		switch row.Type {
		case model.TweetTypeRetweet:
			c.Retweets = row.Count
		case model.TweetTypeReply:
			c.Replies = row.Count
		}
		result[row.TweetID] = c
	}

	return result, nil
}

func (r *tweetRepository) CountByAuthors(ctx context.Context, authorIDs []int64) (map[int64]int64, error) {
	result := make(map[int64]int64, len(authorIDs))
	if len(authorIDs) == 0 {
		return result, nil
	}
	for _, id := range authorIDs {
		result[id] = 0
	}

	var rows []struct {
		AuthorID int64 `db:"author_id"`
		Count    int64 `db:"count"`
	}
	err := r.db.SelectContext(ctx, &rows,
		`SELECT author_id, COUNT(*) AS count FROM tweets WHERE author_id = ANY($1) GROUP BY author_id`,
		pq.Array(authorIDs))
	if err != nil {
		return nil, fmt.Errorf("count tweets by authors: %w", err)
	}
	for _, row := range rows {
		result[row.AuthorID] = row.Count
	}

	return result, nil
}

// CheckLiked checks which tweets the user has liked. One batch query, not N+1.
func (r *tweetRepository) CheckLiked(ctx context.Context, userID int64, tweetIDs []int64) (map[int64]bool, error) {
	result := make(map[int64]bool, len(tweetIDs))
	if len(tweetIDs) == 0 {
		return result, nil
	}
	for _, id := range tweetIDs {
		result[id] = false
	}

	var likedIDs []int64
	err := r.db.SelectContext(ctx, &likedIDs,
		`SELECT tweet_id FROM tweet_likes WHERE user_id = $1 AND tweet_id = ANY($2)`,
		userID, pq.Array(tweetIDs))
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("check likes: %w", err)
	}
	for _, id := range likedIDs {
		result[id] = true
	}

	return result, nil
}

// CheckRetweeted checks for which tweets a retweet by userID exists.
func (r *tweetRepository) CheckRetweeted(ctx context.Context, userID int64, tweetIDs []int64) (map[int64]bool, error) {
	result := make(map[int64]bool, len(tweetIDs))
	if len(tweetIDs) == 0 {
		return result, nil
	}
	for _, id := range tweetIDs {
		result[id] = false
	}

	var retweetedIDs []int64
	err := r.db.SelectContext(ctx, &retweetedIDs,
		`SELECT DISTINCT ref_tweet_id FROM tweets
		 WHERE type = 'RETWEET' AND author_id = $1 AND ref_tweet_id = ANY($2)`,
		userID, pq.Array(tweetIDs))
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("check retweets: %w", err)
	}
	for _, id := range retweetedIDs {
		result[id] = true
	}

	return result, nil
}

// Like inserts a like edge. The primary key on (tweet_id, user_id) is the
// race backstop: a concurrent duplicate insert surfaces as the same
// ErrAlreadyLiked the precondition check raises.
func (r *tweetRepository) Like(ctx context.Context, tweetID, userID int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tweet_likes (tweet_id, user_id) VALUES ($1, $2)`, tweetID, userID)
	if err != nil {
		return translateLikeInsertError(err)
	}
	return nil
}

// translateLikeInsertError maps constraint violations from the like insert
// onto domain errors, distinguishing a vanished user from a vanished tweet
// by the violated FK.
func translateLikeInsertError(err error) error {
	if pqErr, ok := err.(*pq.Error); ok {
		switch pqErr.Code {
		case "23505":
			return model.ErrAlreadyLiked
		case "23503":
			if pqErr.Constraint == "tweet_likes_user_id_fkey" {
				return model.ErrUserNotFound
			}
			return model.ErrTweetNotFound
		}
	}
	return fmt.Errorf("insert like: %w", err)
}

// Unlike deletes a like edge. The edge is fully removed, never soft-deleted,
// so a later Like starts from a clean slate.
func (r *tweetRepository) Unlike(ctx context.Context, tweetID, userID int64) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM tweet_likes WHERE tweet_id = $1 AND user_id = $2`, tweetID, userID)
	if err != nil {
		return fmt.Errorf("delete like: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return model.ErrNotLiked
	}
	return nil
}
