package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"sessionscan/config"
	_ "sessionscan/docs"
	"sessionscan/scanner"
)

// RouterOptions controls which middleware NewRouter installs.
type RouterOptions struct {
	APIKey      string
	RateLimiter redis.Cmdable // nil disables rate limiting
	RateLimit   int64
	RateWindow  time.Duration
	Logger      *slog.Logger
}

// NewRouter wires handlers and middleware onto a new Gin engine.
func NewRouter(server *Server, opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLoggingMiddleware(opts.Logger), SecurityHeadersMiddleware())

	router.GET("/healthz", healthHandler)
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := router.Group("/api/v1")
	if opts.RateLimiter != nil {
		v1.Use(RateLimitMiddleware(opts.RateLimiter, opts.RateLimit, opts.RateWindow, opts.Logger))
	}
	v1.Use(AuthMiddleware(opts.APIKey, opts.Logger))
	server.RegisterRoutes(v1)
	return router
}

// Run initializes dependencies and serves the API until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.API.Key == "" {
		return errors.New("API_KEY must be set to run the API server")
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
	}

	prober, err := scanner.NewProber(scanner.ProberOptions{
		Port:        cfg.Port,
		Path:        cfg.Path,
		Timeout:     cfg.Timeout,
		SynPrecheck: cfg.SynPrecheck,
		Rate:        cfg.Rate,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := scanner.CloseProber(prober); err != nil {
			logger.Error("failed to close prober", "error", err)
		}
	}()

	var extra scanner.Sink
	if cfg.Output != "" {
		extra = scanner.NewFileSink(cfg.Output)
	}

	store := NewRedisStore(redisClient)
	workersCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	workers := StartWorkers(workersCtx, store, NewScanRunner(prober, cfg.Port, cfg.MaxHosts, extra, logger), cfg.API.TaskWorkers, logger)

	gin.SetMode(gin.ReleaseMode)
	router := NewRouter(NewServer(store, cfg.Workers, cfg.MaxHosts), RouterOptions{
		APIKey:      cfg.API.Key,
		RateLimiter: redisClient,
		RateLimit:   cfg.API.RateLimit,
		RateWindow:  cfg.API.RateWindow,
		Logger:      logger,
	})

	srv := &http.Server{
		Addr:              cfg.API.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting API server", "addr", cfg.API.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		stopWorkers()
		workers.Wait()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	shutdownErr := srv.Shutdown(shutdownCtx)
	stopWorkers()
	workers.Wait()
	return shutdownErr
}
