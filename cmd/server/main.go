package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clinicstock/backend/internal/cache"
	"clinicstock/backend/internal/config"
	"clinicstock/backend/internal/events"
	"clinicstock/backend/internal/httpapi"
	"clinicstock/backend/internal/metrics"
	"clinicstock/backend/internal/realtime"
	"clinicstock/backend/internal/service"
	"clinicstock/backend/internal/store"
	"clinicstock/backend/internal/store/memory"
	pgstore "clinicstock/backend/internal/store/postgres"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("load .env: %v", err)
	}
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 3)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatalf("postgres schema: %v", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	m := metrics.New()
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	hub := realtime.NewHub(auth, cfg.AllowedOrigin, m)

	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()

	var statsCache cache.StatsCache = cache.NewMemoryStatsCache()
	var publisher events.Publisher = hub
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		redisCache := cache.NewRedisStatsCache(client)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using in-process cache and events", err)
			_ = client.Close()
		} else {
			statsCache = redisCache
			publisher = realtime.NewRedisPublisher(client, cfg.EventsChannelPrefix)
			relay := realtime.NewRelay(client, cfg.EventsChannelPrefix, hub)
			go superviseRelay(relayCtx, relay.Run, time.Second, 30*time.Second)
			closers = append(closers, client.Close)
			log.Println("cache and events: redis")
		}
	} else {
		log.Println("cache and events: in-process")
	}

	svc := service.New(repo, service.Options{
		Cache:     statsCache,
		StatsTTL:  time.Duration(cfg.StatsCacheTTLSeconds) * time.Second,
		Publisher: publisher,
		Metrics:   m,
	})
	api := httpapi.New(svc, auth, cfg.AllowedOrigin).
		WithSocket(http.HandlerFunc(hub.ServeWS)).
		WithMetrics(m)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("clinic order backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	stopRelay()
	hub.Close()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AllowedOrigin == "*" {
		return nil
	}
	origin, err := url.Parse(cfg.AllowedOrigin)
	if err != nil || (origin.Scheme != "http" && origin.Scheme != "https") || origin.Host == "" {
		return fmt.Errorf("ALLOWED_ORIGIN must be * or an absolute http(s) origin, got %q", cfg.AllowedOrigin)
	}
	if origin.Path != "" && origin.Path != "/" {
		return fmt.Errorf("ALLOWED_ORIGIN must not contain a path, got %q", cfg.AllowedOrigin)
	}
	return nil
}

// superviseRelay keeps run alive until ctx ends. Every exit before that is
// followed by a restart after a doubling delay, reset once a run has stayed up
// for maxDelay.
func superviseRelay(ctx context.Context, run func(context.Context) error, initialDelay, maxDelay time.Duration) {
	delay := initialDelay
	for {
		started := time.Now()
		err := run(ctx)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) >= maxDelay {
			delay = initialDelay
		}
		log.Printf("[realtime] relay stopped (%v), restarting in %s", err, delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
