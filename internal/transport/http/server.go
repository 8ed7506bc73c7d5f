package http

import (
	"context"
	"fmt"
	"log"
	stdhttp "net/http"
	"time"

	"github.com/magicliang/tiny-twitter/internal/cache"
	"github.com/magicliang/tiny-twitter/internal/config"
	"github.com/magicliang/tiny-twitter/internal/database"
	"github.com/magicliang/tiny-twitter/internal/handler"
	"github.com/magicliang/tiny-twitter/internal/model"
	redisclient "github.com/magicliang/tiny-twitter/internal/redis"
	"github.com/magicliang/tiny-twitter/internal/repository"
	"github.com/magicliang/tiny-twitter/internal/service"
)

// Run wires the whole application together and serves HTTP until the
// process exits.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	// Redis backs the trending window only; if it is unreachable, the
	// trending listing falls back to Postgres and the app still serves.
	var trending cache.TrendingCache
	redisClient, err := redisclient.NewClient(cfg.RedisURL)
	if err != nil {
		log.Printf("Redis client setup failed, trending served from Postgres: %v", err)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := redisClient.Ping(ctx); err != nil {
			log.Printf("Redis unreachable, trending served from Postgres: %v", err)
		} else {
			trending = cache.NewTrendingCache(redisClient.Client, model.TrendingWindow)
			defer redisClient.Close()
		}
	}

	userRepo := repository.NewUserRepository(db)
	tweetRepo := repository.NewTweetRepository(db)
	followRepo := repository.NewFollowRepository(db)
	tokenRepo := repository.NewRefreshTokenRepository(db)

	userService := service.NewUserService(userRepo, tweetRepo, followRepo)
	tweetService := service.NewTweetService(tweetRepo, userRepo, followRepo, trending)
	followService := service.NewFollowService(followRepo, userRepo, tweetRepo)
	authService := service.NewAuthService(
		tokenRepo,
		cfg.JWTSecret,
		time.Duration(cfg.AccessTokenMaxAge)*time.Second,
		time.Duration(cfg.RefreshTokenMaxAge)*time.Second,
	)

	router := NewRouter(RouterConfig{
		AuthHandler:   handler.NewAuthHandler(userService, authService),
		UserHandler:   handler.NewUserHandler(userService),
		FollowHandler: handler.NewFollowHandler(followService),
		TweetHandler:  handler.NewTweetHandler(tweetService),
		JWTSecret:     cfg.JWTSecret,
	})

	addr := ":" + cfg.ServerPort
	log.Printf("Starting server on %s", addr)
	return stdhttp.ListenAndServe(addr, router)
}
