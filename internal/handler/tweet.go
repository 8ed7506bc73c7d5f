package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/magicliang/tiny-twitter/internal/httputil"
	"github.com/magicliang/tiny-twitter/internal/model"
	"github.com/magicliang/tiny-twitter/internal/service"
	"github.com/magicliang/tiny-twitter/internal/transport/http/middleware"
)

type TweetHandler struct {
	tweetService *service.TweetService
}

func NewTweetHandler(tweetService *service.TweetService) *TweetHandler {
	return &TweetHandler{tweetService: tweetService}
}

// writeTweetError maps the common tweet service errors onto the API's
// status codes; anything unmapped is a 500.
func writeTweetError(w http.ResponseWriter, err error, logContext string) {
	switch {
	case errors.Is(err, model.ErrContentRequired):
		httputil.WriteBadRequest(w, "Tweet content is required")
	case errors.Is(err, model.ErrContentTooLong):
		httputil.WriteBadRequest(w, "Tweet content too long (max 280 characters)")
	case errors.Is(err, model.ErrTweetNotFound):
		httputil.WriteNotFound(w, "Tweet not found")
	case errors.Is(err, model.ErrUserNotFound):
		httputil.WriteNotFound(w, "User not found")
	case errors.Is(err, model.ErrNotTweetAuthor):
		httputil.WriteForbidden(w, "You can only delete your own tweets")
	case errors.Is(err, model.ErrAlreadyLiked):
		httputil.WriteConflict(w, "Already liked this tweet")
	case errors.Is(err, model.ErrNotLiked):
		httputil.WriteConflict(w, "Haven't liked this tweet")
	case errors.Is(err, model.ErrAlreadyRetweeted):
		httputil.WriteConflict(w, "Already retweeted this tweet")
	default:
		log.Printf("[ERROR] %s: err=%v", logContext, err)
		httputil.WriteInternalError(w, "Internal error")
	}
}

// Create handles POST /tweets
func (h *TweetHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req model.CreateTweetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	tweet, err := h.tweetService.Create(r.Context(), userID, req)
	if err != nil {
		writeTweetError(w, err, "Create tweet handler")
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, tweet)
}

// Reply handles POST /tweets/:id/replies
func (h *TweetHandler) Reply(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	tweetID, err := parseID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "Invalid tweet ID")
		return
	}

	var req model.CreateReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	reply, err := h.tweetService.CreateReply(r.Context(), userID, tweetID, req)
	if err != nil {
		writeTweetError(w, err, "Reply handler")
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, reply)
}

// Retweet handles POST /tweets/:id/retweet
func (h *TweetHandler) Retweet(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	tweetID, err := parseID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "Invalid tweet ID")
		return
	}

	// The body is optional: a bare retweet has no quote comment.
	var req model.CreateRetweetRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	retweet, err := h.tweetService.CreateRetweet(r.Context(), userID, tweetID, req)
	if err != nil {
		writeTweetError(w, err, "Retweet handler")
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, retweet)
}

// GetByID handles GET /tweets/:id
func (h *TweetHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	tweetID, err := parseID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "Invalid tweet ID")
		return
	}

	tweet, err := h.tweetService.GetByID(r.Context(), tweetID, middleware.ViewerID(r.Context()))
	if err != nil {
		writeTweetError(w, err, "Get tweet handler")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, tweet)
}

// Delete handles DELETE /tweets/:id
func (h *TweetHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	tweetID, err := parseID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "Invalid tweet ID")
		return
	}

	if err := h.tweetService.Delete(r.Context(), tweetID, userID); err != nil {
		writeTweetError(w, err, "Delete tweet handler")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{"message": "Tweet deleted"})
}

// Like handles POST /tweets/:id/like
func (h *TweetHandler) Like(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	tweetID, err := parseID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "Invalid tweet ID")
		return
	}

	if err := h.tweetService.Like(r.Context(), tweetID, userID); err != nil {
		writeTweetError(w, err, "Like handler")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{"message": "Liked"})
}

// Unlike handles DELETE /tweets/:id/like
func (h *TweetHandler) Unlike(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	tweetID, err := parseID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "Invalid tweet ID")
		return
	}

	if err := h.tweetService.Unlike(r.Context(), tweetID, userID); err != nil {
		writeTweetError(w, err, "Unlike handler")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{"message": "Unliked"})
}

// GetReplies handles GET /tweets/:id/replies
func (h *TweetHandler) GetReplies(w http.ResponseWriter, r *http.Request) {
	tweetID, err := parseID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "Invalid tweet ID")
		return
	}

	page, err := h.tweetService.GetReplies(r.Context(), tweetID, parsePage(r), middleware.ViewerID(r.Context()))
	if err != nil {
		writeTweetError(w, err, "Get replies handler")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, page)
}

// GetRetweets handles GET /tweets/:id/retweets
func (h *TweetHandler) GetRetweets(w http.ResponseWriter, r *http.Request) {
	tweetID, err := parseID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "Invalid tweet ID")
		return
	}

	page, err := h.tweetService.GetRetweets(r.Context(), tweetID, parsePage(r), middleware.ViewerID(r.Context()))
	if err != nil {
		writeTweetError(w, err, "Get retweets handler")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, page)
}

// GetUserTweets handles GET /users/:id/tweets
func (h *TweetHandler) GetUserTweets(w http.ResponseWriter, r *http.Request) {
	userID, err := parseID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "Invalid user ID")
		return
	}

	page, err := h.tweetService.GetUserTweets(r.Context(), userID, parsePage(r), middleware.ViewerID(r.Context()))
	if err != nil {
		writeTweetError(w, err, "Get user tweets handler")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, page)
}

// GetLikedTweets handles GET /users/:id/likes
func (h *TweetHandler) GetLikedTweets(w http.ResponseWriter, r *http.Request) {
	userID, err := parseID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "Invalid user ID")
		return
	}

	page, err := h.tweetService.GetLikedTweets(r.Context(), userID, parsePage(r), middleware.ViewerID(r.Context()))
	if err != nil {
		writeTweetError(w, err, "Get liked tweets handler")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, page)
}

// Timeline handles GET /timeline
// The home timeline is assembled on read from the follow edges.
func (h *TweetHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Authentication required")
		return
	}

	page, err := h.tweetService.GetTimeline(r.Context(), userID, parsePage(r))
	if err != nil {
		writeTweetError(w, err, "Timeline handler")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, page)
}

// Trending handles GET /tweets/trending
func (h *TweetHandler) Trending(w http.ResponseWriter, r *http.Request) {
	page, err := h.tweetService.GetTrending(r.Context(), parsePage(r), middleware.ViewerID(r.Context()))
	if err != nil {
		writeTweetError(w, err, "Trending handler")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, page)
}

// Search handles GET /tweets/search?q=...
func (h *TweetHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		httputil.WriteBadRequest(w, "Query parameter q is required")
		return
	}

	page, err := h.tweetService.Search(r.Context(), query, parsePage(r), middleware.ViewerID(r.Context()))
	if err != nil {
		writeTweetError(w, err, "Tweet search handler")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, page)
}
