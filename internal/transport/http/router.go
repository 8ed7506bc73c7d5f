package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/magicliang/tiny-twitter/internal/handler"
	"github.com/magicliang/tiny-twitter/internal/httputil"
	authmw "github.com/magicliang/tiny-twitter/internal/transport/http/middleware"
)

// RouterConfig holds the dependencies needed to create routes
type RouterConfig struct {
	AuthHandler   *handler.AuthHandler
	UserHandler   *handler.UserHandler
	FollowHandler *handler.FollowHandler
	TweetHandler  *handler.TweetHandler
	JWTSecret     string
}

// NewRouter creates and configures a new Chi router with all route groups
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	optionalAuth := authmw.OptionalAuthMiddleware(cfg.JWTSecret)

	// Health check endpoint (useful for deployment/monitoring)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, 200, map[string]string{"status": "ok"})
	})

	// Public routes - no authentication required
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", cfg.AuthHandler.Register)
		r.Post("/login", cfg.AuthHandler.Login)
		r.Post("/refresh", cfg.AuthHandler.Refresh)
	})

	// Public user endpoints with optional authentication: a logged-in
	// viewer gets follow/like flags, anonymous viewers get plain views.
	r.Route("/users", func(r chi.Router) {
		r.With(optionalAuth).Get("/search", cfg.UserHandler.Search)
		r.With(optionalAuth).Get("/{id}", cfg.UserHandler.GetProfile)
		r.With(optionalAuth).Get("/{id}/followers", cfg.FollowHandler.GetFollowers)
		r.With(optionalAuth).Get("/{id}/following", cfg.FollowHandler.GetFollowing)
		r.With(optionalAuth).Get("/{id}/tweets", cfg.TweetHandler.GetUserTweets)
		r.With(optionalAuth).Get("/{id}/likes", cfg.TweetHandler.GetLikedTweets)
	})

	// Public tweet endpoints with optional authentication
	r.Route("/tweets", func(r chi.Router) {
		r.With(optionalAuth).Get("/trending", cfg.TweetHandler.Trending)
		r.With(optionalAuth).Get("/search", cfg.TweetHandler.Search)
		r.With(optionalAuth).Get("/{id}", cfg.TweetHandler.GetByID)
		r.With(optionalAuth).Get("/{id}/replies", cfg.TweetHandler.GetReplies)
		r.With(optionalAuth).Get("/{id}/retweets", cfg.TweetHandler.GetRetweets)
	})

	// Protected routes - require authentication
	r.Group(func(r chi.Router) {
		r.Use(authmw.AuthMiddleware(cfg.JWTSecret))

		// Current user endpoints
		r.Get("/me", cfg.AuthHandler.Me)
		r.Patch("/me", cfg.UserHandler.UpdateProfile)

		// Auth actions that require authentication
		r.Post("/auth/logout", cfg.AuthHandler.Logout)
		r.Post("/auth/logout-all", cfg.AuthHandler.LogoutAll)

		// Follow/unfollow actions
		r.Post("/users/{id}/follow", cfg.FollowHandler.Follow)
		r.Delete("/users/{id}/follow", cfg.FollowHandler.Unfollow)

		// Home timeline, assembled on read
		r.Get("/timeline", cfg.TweetHandler.Timeline)

		// Tweet mutations
		r.Post("/tweets", cfg.TweetHandler.Create)
		r.Delete("/tweets/{id}", cfg.TweetHandler.Delete)
		r.Post("/tweets/{id}/replies", cfg.TweetHandler.Reply)
		r.Post("/tweets/{id}/retweet", cfg.TweetHandler.Retweet)
		r.Post("/tweets/{id}/like", cfg.TweetHandler.Like)
		r.Delete("/tweets/{id}/like", cfg.TweetHandler.Unlike)
	})

	return r
}
