package service

import (
	"context"
	"testing"

	"github.com/magicliang/tiny-twitter/internal/model"
)

func TestViewAssembler_NestingIsBounded(t *testing.T) {
	f := newFixture()
	alice := f.store.addUser("alice")
	bob := f.store.addUser("bob")
	carol := f.store.addUser("carol")
	ctx := context.Background()

	// Build the deepest chain creation allows: original -> retweet of it,
	// reply to the retweet, retweet of the reply. Every reference resolves
	// to the original, so no view can nest past two levels.
	original, err := f.tweets.Create(ctx, alice.ID, model.CreateTweetRequest{Content: "base"})
	if err != nil {
		t.Fatal(err)
	}
	retweet, err := f.tweets.CreateRetweet(ctx, bob.ID, original.ID, model.CreateRetweetRequest{})
	if err != nil {
		t.Fatal(err)
	}
	reply, err := f.tweets.CreateReply(ctx, carol.ID, retweet.ID, model.CreateReplyRequest{Content: "reply"})
	if err != nil {
		t.Fatal(err)
	}
	quote, err := f.tweets.CreateRetweet(ctx, carol.ID, reply.ID, model.CreateRetweetRequest{Content: "quote"})
	if err != nil {
		t.Fatal(err)
	}

	for _, id := range []int64{original.ID, retweet.ID, reply.ID, quote.ID} {
		view, err := f.tweets.GetByID(ctx, id, nil)
		if err != nil {
			t.Fatalf("get tweet %d: %v", id, err)
		}
		if d := view.Depth(); d > 2 {
			t.Errorf("tweet %d view depth = %d, want <= 2", id, d)
		}
	}

	// The nested views are flat: they carry no further nesting themselves.
	view, err := f.tweets.GetByID(ctx, quote.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if view.OriginalTweet == nil {
		t.Fatal("quote view should embed the original")
	}
	if view.OriginalTweet.ID != original.ID {
		t.Errorf("quote references %d, want original %d", view.OriginalTweet.ID, original.ID)
	}
	if view.OriginalTweet.OriginalTweet != nil || view.OriginalTweet.ParentTweet != nil {
		t.Error("embedded view should be flat")
	}
}

func TestViewAssembler_NestedViewCarriesCounts(t *testing.T) {
	f := newFixture()
	alice := f.store.addUser("alice")
	bob := f.store.addUser("bob")
	ctx := context.Background()

	original, err := f.tweets.Create(ctx, alice.ID, model.CreateTweetRequest{Content: "base"})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.tweets.Like(ctx, original.ID, bob.ID); err != nil {
		t.Fatal(err)
	}
	retweet, err := f.tweets.CreateRetweet(ctx, bob.ID, original.ID, model.CreateRetweetRequest{})
	if err != nil {
		t.Fatal(err)
	}

	view, err := f.tweets.GetByID(ctx, retweet.ID, &bob.ID)
	if err != nil {
		t.Fatal(err)
	}
	if view.OriginalTweet == nil {
		t.Fatal("retweet view should embed the original")
	}
	if view.OriginalTweet.LikeCount != 1 || view.OriginalTweet.RetweetCount != 1 {
		t.Errorf("embedded counts = %d likes %d retweets, want 1/1",
			view.OriginalTweet.LikeCount, view.OriginalTweet.RetweetCount)
	}
	// Viewer flags reach the embedded view too.
	if view.OriginalTweet.IsLiked == nil || !*view.OriginalTweet.IsLiked {
		t.Error("embedded view should carry bob's like flag")
	}
}

func TestViewAssembler_EmptyInput(t *testing.T) {
	f := newFixture()
	views, err := f.tweets.views.TweetViews(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(views) != 0 {
		t.Errorf("views = %d, want 0", len(views))
	}

	userViews, err := f.tweets.views.UserViews(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(userViews) != 0 {
		t.Errorf("user views = %d, want 0", len(userViews))
	}
}

func TestViewAssembler_RefOnSamePage(t *testing.T) {
	f := newFixture()
	alice := f.store.addUser("alice")
	bob := f.store.addUser("bob")
	ctx := context.Background()

	original := f.store.addTweet(alice.ID, "base", model.TweetTypeOriginal, nil)
	f.store.addTweet(bob.ID, "", model.TweetTypeRetweet, ptr(original.ID))

	// A page containing both the retweet and its original still embeds the
	// original in the retweet's view.
	tweets := []model.Tweet{*f.store.tweets[original.ID+1], *f.store.tweets[original.ID]}
	views, err := f.tweets.views.TweetViews(ctx, tweets, nil)
	if err != nil {
		t.Fatal(err)
	}
	if views[0].OriginalTweet == nil || views[0].OriginalTweet.ID != original.ID {
		t.Errorf("retweet on shared page should embed its original, got %+v", views[0].OriginalTweet)
	}
}
