package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/magicliang/tiny-twitter/internal/cache"
	"github.com/magicliang/tiny-twitter/internal/model"
)

// =============================================================================
// IN-MEMORY FAKES
// =============================================================================
//
// The services depend on repository interfaces, so tests swap in stateful
// in-memory implementations. Unlike per-test function mocks, the fakes behave
// like the real store (uniqueness, cascades, derived counts), which lets the
// tests exercise whole flows: follow then list timeline, like twice, delete
// and re-read.

type fakeStore struct {
	users  map[int64]*model.User
	tweets map[int64]*model.Tweet
	likes  map[[2]int64]bool    // (tweetID, userID)
	edges  map[[2]int64]time.Time // (followerID, followeeID) -> created

	nextUserID  int64
	nextTweetID int64
	now         time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:  make(map[int64]*model.User),
		tweets: make(map[int64]*model.Tweet),
		likes:  make(map[[2]int64]bool),
		edges:  make(map[[2]int64]time.Time),
		now:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

// tick advances the fake clock so creation order is reflected in timestamps.
func (f *fakeStore) tick() time.Time {
	f.now = f.now.Add(time.Second)
	return f.now
}

func (f *fakeStore) addUser(username string) *model.User {
	f.nextUserID++
	display := username
	u := &model.User{
		ID:             f.nextUserID,
		Username:       username,
		Email:          username + "@example.com",
		PasswordHashed: "$2a$04$fakefakefakefakefakefake",
		DisplayName:    &display,
		CreatedAt:      f.tick(),
	}
	u.UpdatedAt = u.CreatedAt
	f.users[u.ID] = u
	return u
}

func (f *fakeStore) addTweet(authorID int64, content string, typ model.TweetType, ref *int64) *model.Tweet {
	f.nextTweetID++
	t := &model.Tweet{
		ID:         f.nextTweetID,
		AuthorID:   authorID,
		Content:    content,
		Type:       typ,
		RefTweetID: ref,
		CreatedAt:  f.tick(),
	}
	t.UpdatedAt = t.CreatedAt
	f.tweets[t.ID] = t
	return t
}

func paginate[T any](items []T, page model.PageRequest) []T {
	start := page.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + page.Size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// -----------------------------------------------------------------------------
// UserRepository fake
// -----------------------------------------------------------------------------

type fakeUserRepo struct{ store *fakeStore }

func (r *fakeUserRepo) Create(ctx context.Context, u *model.User) error {
	for _, existing := range r.store.users {
		if existing.Username == u.Username {
			return model.ErrUsernameExists
		}
		if existing.Email == u.Email {
			return model.ErrEmailExists
		}
	}
	r.store.nextUserID++
	u.ID = r.store.nextUserID
	u.CreatedAt = r.store.tick()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	r.store.users[u.ID] = &cp
	return nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id int64) (*model.User, error) {
	u, ok := r.store.users[id]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUserRepo) GetByIDs(ctx context.Context, ids []int64) (map[int64]model.User, error) {
	result := make(map[int64]model.User, len(ids))
	for _, id := range ids {
		if u, ok := r.store.users[id]; ok {
			result[id] = *u
		}
	}
	return result, nil
}

func (r *fakeUserRepo) GetByUsernameOrEmail(ctx context.Context, key string) (*model.User, error) {
	for _, u := range r.store.users {
		if u.Username == key || u.Email == key {
			cp := *u
			return &cp, nil
		}
	}
	return nil, model.ErrUserNotFound
}

func (r *fakeUserRepo) Exists(ctx context.Context, id int64) (bool, error) {
	_, ok := r.store.users[id]
	return ok, nil
}

func (r *fakeUserRepo) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	for _, u := range r.store.users {
		if u.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeUserRepo) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	for _, u := range r.store.users {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeUserRepo) UpdateProfile(ctx context.Context, userID int64, req model.UpdateProfileRequest) (*model.User, error) {
	u, ok := r.store.users[userID]
	if !ok {
		return nil, model.ErrUserNotFound
	}
	if req.DisplayName != nil {
		u.DisplayName = req.DisplayName
	}
	if req.Bio != nil {
		u.Bio = req.Bio
	}
	if req.ImageURL != nil {
		u.ImageURL = req.ImageURL
	}
	u.UpdatedAt = r.store.tick()
	cp := *u
	return &cp, nil
}

func (r *fakeUserRepo) Search(ctx context.Context, query string, page model.PageRequest) ([]model.User, int64, error) {
	var matched []model.User
	for _, u := range r.store.users {
		if strings.Contains(strings.ToLower(u.Username), strings.ToLower(query)) {
			matched = append(matched, *u)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return paginate(matched, page), int64(len(matched)), nil
}

// -----------------------------------------------------------------------------
// TweetRepository fake
// -----------------------------------------------------------------------------

type fakeTweetRepo struct{ store *fakeStore }

func (r *fakeTweetRepo) Create(ctx context.Context, t *model.Tweet) error {
	if _, ok := r.store.users[t.AuthorID]; !ok {
		return model.ErrTweetNotFound
	}
	if t.RefTweetID != nil {
		if _, ok := r.store.tweets[*t.RefTweetID]; !ok {
			return model.ErrTweetNotFound
		}
	}
	if t.Type == model.TweetTypeRetweet {
		for _, existing := range r.store.tweets {
			if existing.Type == model.TweetTypeRetweet &&
				existing.AuthorID == t.AuthorID &&
				existing.RefTweetID != nil && *existing.RefTweetID == *t.RefTweetID {
				return model.ErrAlreadyRetweeted
			}
		}
	}
	r.store.nextTweetID++
	t.ID = r.store.nextTweetID
	t.CreatedAt = r.store.tick()
	t.UpdatedAt = t.CreatedAt
	cp := *t
	r.store.tweets[t.ID] = &cp
	return nil
}

func (r *fakeTweetRepo) GetByID(ctx context.Context, id int64) (*model.Tweet, error) {
	t, ok := r.store.tweets[id]
	if !ok {
		return nil, model.ErrTweetNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *fakeTweetRepo) GetByIDs(ctx context.Context, ids []int64) (map[int64]model.Tweet, error) {
	result := make(map[int64]model.Tweet, len(ids))
	for _, id := range ids {
		if t, ok := r.store.tweets[id]; ok {
			result[id] = *t
		}
	}
	return result, nil
}

// Delete mimics the schema's ON DELETE CASCADE: children and like edges go
// with the tweet.
func (r *fakeTweetRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := r.store.tweets[id]; !ok {
		return model.ErrTweetNotFound
	}
	delete(r.store.tweets, id)
	for childID, child := range r.store.tweets {
		if child.RefTweetID != nil && *child.RefTweetID == id {
			delete(r.store.tweets, childID)
			for key := range r.store.likes {
				if key[0] == childID {
					delete(r.store.likes, key)
				}
			}
		}
	}
	for key := range r.store.likes {
		if key[0] == id {
			delete(r.store.likes, key)
		}
	}
	return nil
}

func (r *fakeTweetRepo) Exists(ctx context.Context, id int64) (bool, error) {
	_, ok := r.store.tweets[id]
	return ok, nil
}

func (r *fakeTweetRepo) list(filter func(*model.Tweet) bool, newestFirst bool, page model.PageRequest) ([]model.Tweet, int64, error) {
	var matched []model.Tweet
	for _, t := range r.store.tweets {
		if filter(t) {
			matched = append(matched, *t)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if newestFirst {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	return paginate(matched, page), int64(len(matched)), nil
}

func (r *fakeTweetRepo) ListByAuthor(ctx context.Context, authorID int64, page model.PageRequest) ([]model.Tweet, int64, error) {
	return r.list(func(t *model.Tweet) bool { return t.AuthorID == authorID }, true, page)
}

func (r *fakeTweetRepo) ListReplies(ctx context.Context, parentID int64, page model.PageRequest) ([]model.Tweet, int64, error) {
	return r.list(func(t *model.Tweet) bool {
		return t.Type == model.TweetTypeReply && t.RefTweetID != nil && *t.RefTweetID == parentID
	}, false, page)
}

func (r *fakeTweetRepo) ListRetweets(ctx context.Context, originalID int64, page model.PageRequest) ([]model.Tweet, int64, error) {
	return r.list(func(t *model.Tweet) bool {
		return t.Type == model.TweetTypeRetweet && t.RefTweetID != nil && *t.RefTweetID == originalID
	}, true, page)
}

func (r *fakeTweetRepo) ListTimeline(ctx context.Context, userID int64, page model.PageRequest) ([]model.Tweet, int64, error) {
	return r.list(func(t *model.Tweet) bool {
		if t.AuthorID == userID {
			return true
		}
		_, follows := r.store.edges[[2]int64{userID, t.AuthorID}]
		return follows
	}, true, page)
}

func (r *fakeTweetRepo) ListSince(ctx context.Context, since time.Time, page model.PageRequest) ([]model.Tweet, int64, error) {
	return r.list(func(t *model.Tweet) bool { return !t.CreatedAt.Before(since) }, true, page)
}

func (r *fakeTweetRepo) Search(ctx context.Context, query string, page model.PageRequest) ([]model.Tweet, int64, error) {
	return r.list(func(t *model.Tweet) bool {
		return strings.Contains(strings.ToLower(t.Content), strings.ToLower(query))
	}, true, page)
}

func (r *fakeTweetRepo) ListLikedBy(ctx context.Context, userID int64, page model.PageRequest) ([]model.Tweet, int64, error) {
	return r.list(func(t *model.Tweet) bool { return r.store.likes[[2]int64{t.ID, userID}] }, true, page)
}

func (r *fakeTweetRepo) RecentScores(ctx context.Context, since time.Time, limit int) ([]cache.TweetScore, error) {
	tweets, _, err := r.ListSince(ctx, since, model.PageRequest{Page: 0, Size: limit})
	if err != nil {
		return nil, err
	}
	scores := make([]cache.TweetScore, len(tweets))
	for i, t := range tweets {
		scores[i] = cache.TweetScore{TweetID: t.ID, Timestamp: t.CreatedAt.Unix()}
	}
	return scores, nil
}

func (r *fakeTweetRepo) CountEngagements(ctx context.Context, tweetIDs []int64) (map[int64]model.EngagementCounts, error) {
	result := make(map[int64]model.EngagementCounts, len(tweetIDs))
	for _, id := range tweetIDs {
		var c model.EngagementCounts
		for key := range r.store.likes {
			if key[0] == id {
				c.Likes++
			}
		}
		for _, t := range r.store.tweets {
			if t.RefTweetID != nil && *t.RefTweetID == id {
				switch t.Type {
				case model.TweetTypeRetweet:
					c.Retweets++
				case model.TweetTypeReply:
					c.Replies++
				}
			}
		}
		result[id] = c
	}
	return result, nil
}

func (r *fakeTweetRepo) CountByAuthors(ctx context.Context, authorIDs []int64) (map[int64]int64, error) {
	result := make(map[int64]int64, len(authorIDs))
	for _, id := range authorIDs {
		result[id] = 0
	}
	for _, t := range r.store.tweets {
		if _, ok := result[t.AuthorID]; ok {
			result[t.AuthorID]++
		}
	}
	return result, nil
}

func (r *fakeTweetRepo) CheckLiked(ctx context.Context, userID int64, tweetIDs []int64) (map[int64]bool, error) {
	result := make(map[int64]bool, len(tweetIDs))
	for _, id := range tweetIDs {
		result[id] = r.store.likes[[2]int64{id, userID}]
	}
	return result, nil
}

func (r *fakeTweetRepo) CheckRetweeted(ctx context.Context, userID int64, tweetIDs []int64) (map[int64]bool, error) {
	result := make(map[int64]bool, len(tweetIDs))
	for _, id := range tweetIDs {
		result[id] = false
		for _, t := range r.store.tweets {
			if t.Type == model.TweetTypeRetweet && t.AuthorID == userID &&
				t.RefTweetID != nil && *t.RefTweetID == id {
				result[id] = true
			}
		}
	}
	return result, nil
}

func (r *fakeTweetRepo) Like(ctx context.Context, tweetID, userID int64) error {
	if _, ok := r.store.tweets[tweetID]; !ok {
		return model.ErrTweetNotFound
	}
	key := [2]int64{tweetID, userID}
	if r.store.likes[key] {
		return model.ErrAlreadyLiked
	}
	r.store.likes[key] = true
	return nil
}

func (r *fakeTweetRepo) Unlike(ctx context.Context, tweetID, userID int64) error {
	key := [2]int64{tweetID, userID}
	if !r.store.likes[key] {
		return model.ErrNotLiked
	}
	delete(r.store.likes, key)
	return nil
}

// -----------------------------------------------------------------------------
// FollowRepository fake
// -----------------------------------------------------------------------------

type fakeFollowRepo struct{ store *fakeStore }

func (r *fakeFollowRepo) Create(ctx context.Context, followerID, followeeID int64) error {
	key := [2]int64{followerID, followeeID}
	if _, ok := r.store.edges[key]; ok {
		return model.ErrAlreadyFollowing
	}
	r.store.edges[key] = r.store.tick()
	return nil
}

func (r *fakeFollowRepo) Delete(ctx context.Context, followerID, followeeID int64) error {
	key := [2]int64{followerID, followeeID}
	if _, ok := r.store.edges[key]; !ok {
		return model.ErrNotFollowing
	}
	delete(r.store.edges, key)
	return nil
}

func (r *fakeFollowRepo) Exists(ctx context.Context, followerID, followeeID int64) (bool, error) {
	_, ok := r.store.edges[[2]int64{followerID, followeeID}]
	return ok, nil
}

func (r *fakeFollowRepo) listUsers(pick func(key [2]int64) (int64, bool), page model.PageRequest) ([]model.User, int64, error) {
	type entry struct {
		user    model.User
		created time.Time
	}
	var entries []entry
	for key, created := range r.store.edges {
		if id, ok := pick(key); ok {
			if u, exists := r.store.users[id]; exists {
				entries = append(entries, entry{user: *u, created: created})
			}
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].created.After(entries[j].created) })
	users := make([]model.User, len(entries))
	for i, e := range entries {
		users[i] = e.user
	}
	return paginate(users, page), int64(len(users)), nil
}

func (r *fakeFollowRepo) ListFollowers(ctx context.Context, userID int64, page model.PageRequest) ([]model.User, int64, error) {
	return r.listUsers(func(key [2]int64) (int64, bool) {
		if key[1] == userID {
			return key[0], true
		}
		return 0, false
	}, page)
}

func (r *fakeFollowRepo) ListFollowing(ctx context.Context, userID int64, page model.PageRequest) ([]model.User, int64, error) {
	return r.listUsers(func(key [2]int64) (int64, bool) {
		if key[0] == userID {
			return key[1], true
		}
		return 0, false
	}, page)
}

func (r *fakeFollowRepo) CheckFollows(ctx context.Context, followerID int64, followeeIDs []int64) (map[int64]bool, error) {
	result := make(map[int64]bool, len(followeeIDs))
	for _, id := range followeeIDs {
		_, ok := r.store.edges[[2]int64{followerID, id}]
		result[id] = ok
	}
	return result, nil
}

func (r *fakeFollowRepo) CountFollowers(ctx context.Context, userIDs []int64) (map[int64]int64, error) {
	result := make(map[int64]int64, len(userIDs))
	for _, id := range userIDs {
		result[id] = 0
	}
	for key := range r.store.edges {
		if _, ok := result[key[1]]; ok {
			result[key[1]]++
		}
	}
	return result, nil
}

func (r *fakeFollowRepo) CountFollowing(ctx context.Context, userIDs []int64) (map[int64]int64, error) {
	result := make(map[int64]int64, len(userIDs))
	for _, id := range userIDs {
		result[id] = 0
	}
	for key := range r.store.edges {
		if _, ok := result[key[0]]; ok {
			result[key[0]]++
		}
	}
	return result, nil
}

// -----------------------------------------------------------------------------
// RefreshTokenRepository fake
// -----------------------------------------------------------------------------

type fakeTokenRepo struct {
	tokens map[string]*model.RefreshToken // keyed by token hash
	nextID int
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{tokens: make(map[string]*model.RefreshToken)}
}

func (r *fakeTokenRepo) Create(ctx context.Context, token *model.RefreshToken) error {
	if token.ID == "" {
		r.nextID++
		token.ID = "token-" + string(rune('a'+r.nextID-1))
	}
	token.CreatedAt = time.Now()
	cp := *token
	r.tokens[token.TokenHash] = &cp
	return nil
}

func (r *fakeTokenRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error) {
	t, ok := r.tokens[tokenHash]
	if !ok {
		return nil, model.ErrRefreshTokenNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *fakeTokenRepo) Revoke(ctx context.Context, id string, replacedBy *string) error {
	for _, t := range r.tokens {
		if t.ID == id && t.RevokedAt == nil {
			now := time.Now()
			t.RevokedAt = &now
			t.ReplacedBy = replacedBy
		}
	}
	return nil
}

func (r *fakeTokenRepo) RevokeAllForUser(ctx context.Context, userID int64) error {
	for _, t := range r.tokens {
		if t.UserID == userID && t.RevokedAt == nil {
			now := time.Now()
			t.RevokedAt = &now
		}
	}
	return nil
}

func (r *fakeTokenRepo) DeleteExpired(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	var deleted int64
	for hash, t := range r.tokens {
		if t.ExpiresAt.Before(cutoff) {
			delete(r.tokens, hash)
			deleted++
		}
	}
	return deleted, nil
}

// -----------------------------------------------------------------------------
// TrendingCache fake
// -----------------------------------------------------------------------------

// fakeTrendingCache mimics the Redis sorted-set window: ids scored by unix
// timestamp, newest first. With failing set, every call errors, which the
// service must treat as a cache miss.
type fakeTrendingCache struct {
	scores  map[int64]int64 // tweetID -> unix timestamp
	failing bool
}

func newFakeTrendingCache() *fakeTrendingCache {
	return &fakeTrendingCache{scores: make(map[int64]int64)}
}

var errCacheDown = errors.New("cache unavailable")

func (c *fakeTrendingCache) Add(ctx context.Context, tweetID int64, createdAt time.Time) error {
	if c.failing {
		return errCacheDown
	}
	c.scores[tweetID] = createdAt.Unix()
	return nil
}

func (c *fakeTrendingCache) Remove(ctx context.Context, tweetID int64) error {
	if c.failing {
		return errCacheDown
	}
	delete(c.scores, tweetID)
	return nil
}

func (c *fakeTrendingCache) Window(ctx context.Context, since time.Time, offset, limit int) ([]int64, int64, error) {
	if c.failing {
		return nil, 0, errCacheDown
	}
	type entry struct {
		id int64
		ts int64
	}
	var entries []entry
	min := since.Unix()
	for id, ts := range c.scores {
		if ts >= min {
			entries = append(entries, entry{id: id, ts: ts})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ts != entries[j].ts {
			return entries[i].ts > entries[j].ts
		}
		return entries[i].id > entries[j].id
	})
	total := int64(len(entries))
	if offset >= len(entries) {
		return []int64{}, total, nil
	}
	end := offset + limit
	if end > len(entries) {
		end = len(entries)
	}
	ids := make([]int64, 0, end-offset)
	for _, e := range entries[offset:end] {
		ids = append(ids, e.id)
	}
	return ids, total, nil
}

func (c *fakeTrendingCache) Warm(ctx context.Context, tweets []cache.TweetScore) error {
	if c.failing {
		return errCacheDown
	}
	for _, t := range tweets {
		c.scores[t.TweetID] = t.Timestamp
	}
	return nil
}

func (c *fakeTrendingCache) Exists(ctx context.Context) (bool, error) {
	if c.failing {
		return false, errCacheDown
	}
	return len(c.scores) > 0, nil
}

// -----------------------------------------------------------------------------
// Test fixture
// -----------------------------------------------------------------------------

type fixture struct {
	store      *fakeStore
	userRepo   *fakeUserRepo
	tweetRepo  *fakeTweetRepo
	followRepo *fakeFollowRepo

	users  *UserService
	tweets *TweetService
	follow *FollowService
}

func newFixture() *fixture {
	store := newFakeStore()
	userRepo := &fakeUserRepo{store: store}
	tweetRepo := &fakeTweetRepo{store: store}
	followRepo := &fakeFollowRepo{store: store}
	return &fixture{
		store:      store,
		userRepo:   userRepo,
		tweetRepo:  tweetRepo,
		followRepo: followRepo,
		users:      NewUserService(userRepo, tweetRepo, followRepo),
		tweets:     NewTweetService(tweetRepo, userRepo, followRepo, nil),
		follow:     NewFollowService(followRepo, userRepo, tweetRepo),
	}
}

// withTrending rebuilds the tweet service around a trending cache.
func (f *fixture) withTrending(c cache.TrendingCache) {
	f.tweets = NewTweetService(f.tweetRepo, f.userRepo, f.followRepo, c)
}

// addTweetAt stores an original tweet created age before now. The trending
// window is measured against the wall clock, so these tests need real
// timestamps rather than the fixture's fixed clock.
func (f *fixture) addTweetAt(authorID int64, content string, age time.Duration) *model.Tweet {
	t := f.store.addTweet(authorID, content, model.TweetTypeOriginal, nil)
	stored := f.store.tweets[t.ID]
	stored.CreatedAt = time.Now().Add(-age)
	stored.UpdatedAt = stored.CreatedAt
	return stored
}

func ptr[T any](v T) *T { return &v }
