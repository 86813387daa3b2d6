package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"commonwealth/internal/chain"
	"commonwealth/internal/config"
	"commonwealth/internal/db"
	"commonwealth/internal/domain"
	apihttp "commonwealth/internal/http"
	"commonwealth/internal/magic"
	"commonwealth/internal/oauth"
	"commonwealth/internal/repository"
	"commonwealth/internal/service"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	database := repository.NewPgDatabase(pool)
	balances := chain.NewRPCBalanceClient(cfg.EthRPCURLs)
	defer balances.Close()
	metadata := magic.NewHTTPClient(cfg.MagicAPIURL, cfg.MagicSecretKey)
	if cfg.MagicSecretKey == "" {
		logger.Warn("magic secret key not configured")
	}
	if cfg.MagicClientID == "" {
		logger.Warn("magic client id not configured, sso logins will be rejected")
	}

	verifiers := oauth.NewRegistry()
	verifiers.Register(domain.SsoGithub, oauth.NewGitHubVerifier(""))
	verifiers.Register(domain.SsoDiscord, oauth.NewDiscordVerifier(""))
	verifiers.Register(domain.SsoTwitter, oauth.NewTwitterVerifier(""))
	verifiers.Register(domain.SsoFarcaster, oauth.NewFarcasterVerifier(""))
	if google, err := oauth.NewGoogleVerifier(ctx, cfg.GoogleIssuer); err != nil {
		logger.Warn("google verifier unavailable", zap.Error(err))
	} else {
		verifiers.Register(domain.SsoGoogle, google)
	}
	if cfg.AppleClientID != "" {
		if apple, err := oauth.NewAppleVerifier(ctx, cfg.AppleIssuer, cfg.AppleClientID); err != nil {
			logger.Warn("apple verifier unavailable", zap.Error(err))
		} else {
			verifiers.Register(domain.SsoApple, apple)
		}
	}

	var (
		limiter     service.SignInRateLimiter
		tokenStore  service.RefreshTokenStore
		challenges  service.ChallengeStore
		redisClient *redis.Client
	)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := client.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed", zap.Error(err))
			_ = client.Close()
		} else {
			redisClient = client
			limiter = service.NewRedisSignInRateLimiter(redisClient, cfg.SignInRateWindow, cfg.SignInRateLimit)
			tokenStore = service.NewRedisRefreshTokenStore(redisClient)
			challenges = service.NewRedisChallengeStore(redisClient)
		}
		cancel()
	}
	if limiter == nil {
		limiter = service.NewSignInRateLimiter(cfg.SignInRateWindow, cfg.SignInRateLimit)
	}

	signInSvc := service.NewSignInService(logger, database, balances, challenges, cfg.SocialVerifiedMinBalance(), cfg.AddressTokenExpiresIn)
	ssoSvc := service.NewSsoLoginService(logger, database, metadata, verifiers, balances, cfg.DefaultCommunityID)
	jwtSvc := service.NewJWTServiceWithStore(
		cfg.JWTSecret,
		time.Duration(cfg.JWTAccessTTLMinutes)*time.Minute,
		time.Duration(cfg.JWTRefreshTTLMinutes)*time.Minute,
		tokenStore,
	)
	if cfg.JWTSecret == "" {
		logger.Warn("jwt secret not configured")
	}

	activityCfg := service.ActivityCacheConfig{
		CacheTTL:        cfg.ActivityCacheTTL,
		LockTTL:         cfg.ActivityLockTTL,
		RefreshInterval: cfg.ActivityRefreshInterval,
		Limit:           cfg.ActivityFeedLimit,
	}
	activityRepo := repository.NewPgActivityRepository(pool)
	var activity *service.ActivityCache
	checks := map[string]apihttp.Pinger{"postgres": pool.Ping}
	if redisClient != nil {
		defer redisClient.Close()
		activity = service.NewActivityCache(logger, activityRepo, redisClient, activityCfg)
		activity.Start(ctx)
		defer activity.Stop()
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	} else {
		logger.Warn("redis unavailable, global activity served from live queries")
		activity = service.NewActivityCache(logger, activityRepo, nil, activityCfg)
	}

	authHandler := apihttp.NewAuthHandler(logger, signInSvc, ssoSvc, jwtSvc, limiter, cfg.MagicClientID)
	activityHandler := apihttp.NewActivityHandler(logger, activity)
	router := apihttp.NewRouter(logger, jwtSvc, authHandler, activityHandler, checks)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
	}()

	logger.Info("starting server", zap.String("port", cfg.HTTPPort))

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}
