package service

import (
	"context"
	"fmt"
	"log"

	"github.com/magicliang/tiny-twitter/internal/model"
	"github.com/magicliang/tiny-twitter/internal/repository"
)

// viewAssembler builds the externally visible projections: entity fields
// combined with live-aggregated counts and viewer-relative flags. All
// enrichment is batched per page (ANY($1) / GROUP BY), so assembling a
// listing costs a fixed number of queries regardless of its length.
type viewAssembler struct {
	tweetRepo  repository.TweetRepository
	userRepo   repository.UserRepository
	followRepo repository.FollowRepository
}

func newViewAssembler(
	tweetRepo repository.TweetRepository,
	userRepo repository.UserRepository,
	followRepo repository.FollowRepository,
) *viewAssembler {
	return &viewAssembler{
		tweetRepo:  tweetRepo,
		userRepo:   userRepo,
		followRepo: followRepo,
	}
}

// TweetViews assembles views for a page of tweets, including one level of
// nested original/parent views. Stored references always point at an
// ORIGINAL tweet, so the nesting never goes deeper; view_test.go pins that
// depth guarantee down.
func (a *viewAssembler) TweetViews(ctx context.Context, tweets []model.Tweet, viewerID *int64) ([]model.TweetView, error) {
	if len(tweets) == 0 {
		return []model.TweetView{}, nil
	}

	// Collect page ids and the referenced ids that need hydrating.
	idSet := make(map[int64]struct{}, len(tweets))
	for _, t := range tweets {
		idSet[t.ID] = struct{}{}
	}
	var refIDs []int64
	for _, t := range tweets {
		if t.RefTweetID != nil {
			if _, onPage := idSet[*t.RefTweetID]; !onPage {
				refIDs = append(refIDs, *t.RefTweetID)
			}
		}
	}

	refs, err := a.tweetRepo.GetByIDs(ctx, refIDs)
	if err != nil {
		return nil, fmt.Errorf("hydrate referenced tweets: %w", err)
	}
	for _, t := range tweets {
		refs[t.ID] = t
	}

	allIDs := make([]int64, 0, len(refs))
	authorIDSet := make(map[int64]struct{})
	for id, t := range refs {
		allIDs = append(allIDs, id)
		authorIDSet[t.AuthorID] = struct{}{}
	}
	authorIDs := make([]int64, 0, len(authorIDSet))
	for id := range authorIDSet {
		authorIDs = append(authorIDs, id)
	}

	counts, err := a.tweetRepo.CountEngagements(ctx, allIDs)
	if err != nil {
		return nil, fmt.Errorf("count engagements: %w", err)
	}

	authors, err := a.userRepo.GetByIDs(ctx, authorIDs)
	if err != nil {
		return nil, fmt.Errorf("fetch authors: %w", err)
	}

	// Viewer flags degrade gracefully: a failed check yields unflagged
	// views rather than a failed listing.
	var liked, retweeted map[int64]bool
	if viewerID != nil {
		liked, err = a.tweetRepo.CheckLiked(ctx, *viewerID, allIDs)
		if err != nil {
			log.Printf("[ViewAssembler] CheckLiked failed: viewer=%d err=%v", *viewerID, err)
			liked = nil
		}
		retweeted, err = a.tweetRepo.CheckRetweeted(ctx, *viewerID, allIDs)
		if err != nil {
			log.Printf("[ViewAssembler] CheckRetweeted failed: viewer=%d err=%v", *viewerID, err)
			retweeted = nil
		}
	}

	buildOne := func(t model.Tweet) *model.TweetView {
		v := &model.TweetView{
			ID:        t.ID,
			Content:   t.Content,
			ImageURL:  t.ImageURL,
			Type:      t.Type,
			CreatedAt: t.CreatedAt,
			UpdatedAt: t.UpdatedAt,
		}
		if author, ok := authors[t.AuthorID]; ok {
			v.Author = &model.UserSummary{
				ID:          author.ID,
				Username:    author.Username,
				DisplayName: author.DisplayName,
				ImageURL:    author.ImageURL,
			}
		}
		c := counts[t.ID]
		v.LikeCount = c.Likes
		v.RetweetCount = c.Retweets
		v.ReplyCount = c.Replies
		if viewerID != nil {
			isLiked := liked[t.ID]
			isRetweeted := retweeted[t.ID]
			v.IsLiked = &isLiked
			v.IsRetweeted = &isRetweeted
		}
		return v
	}

	views := make([]model.TweetView, len(tweets))
	for i, t := range tweets {
		v := buildOne(t)
		if t.RefTweetID != nil {
			if ref, ok := refs[*t.RefTweetID]; ok {
				switch t.Type {
				case model.TweetTypeRetweet:
					v.OriginalTweet = buildOne(ref)
				case model.TweetTypeReply:
					v.ParentTweet = buildOne(ref)
				}
			}
		}
		views[i] = *v
	}

	return views, nil
}

// TweetView assembles the view of a single tweet.
func (a *viewAssembler) TweetView(ctx context.Context, t *model.Tweet, viewerID *int64) (*model.TweetView, error) {
	views, err := a.TweetViews(ctx, []model.Tweet{*t}, viewerID)
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// UserViews assembles profile projections for a page of users: derived
// follower/following/tweet counts plus the viewer's follow flag. The flag
// stays nil for anonymous viewers and for the viewer's own row.
func (a *viewAssembler) UserViews(ctx context.Context, users []model.User, viewerID *int64) ([]model.UserView, error) {
	if len(users) == 0 {
		return []model.UserView{}, nil
	}

	ids := make([]int64, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}

	followerCounts, err := a.followRepo.CountFollowers(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("count followers: %w", err)
	}
	followingCounts, err := a.followRepo.CountFollowing(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("count following: %w", err)
	}
	tweetCounts, err := a.tweetRepo.CountByAuthors(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("count tweets: %w", err)
	}

	var followMap map[int64]bool
	if viewerID != nil {
		followMap, err = a.followRepo.CheckFollows(ctx, *viewerID, ids)
		if err != nil {
			log.Printf("[ViewAssembler] CheckFollows failed: viewer=%d err=%v", *viewerID, err)
			followMap = nil
		}
	}

	views := make([]model.UserView, len(users))
	for i, u := range users {
		v := model.UserView{
			ID:             u.ID,
			Username:       u.Username,
			Email:          u.Email,
			DisplayName:    u.DisplayName,
			Bio:            u.Bio,
			ImageURL:       u.ImageURL,
			CreatedAt:      u.CreatedAt,
			FollowerCount:  followerCounts[u.ID],
			FollowingCount: followingCounts[u.ID],
			TweetCount:     tweetCounts[u.ID],
		}
		if viewerID != nil && *viewerID != u.ID && followMap != nil {
			isFollowing := followMap[u.ID]
			v.IsFollowing = &isFollowing
		}
		views[i] = v
	}

	return views, nil
}

// UserView assembles the projection of a single user.
func (a *viewAssembler) UserView(ctx context.Context, u *model.User, viewerID *int64) (*model.UserView, error) {
	views, err := a.UserViews(ctx, []model.User{*u}, viewerID)
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}
