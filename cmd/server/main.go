package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"pupitre/access/internal/config"
	"pupitre/access/internal/credential"
	internalhttp "pupitre/access/internal/http"
	"pupitre/access/internal/repository"
	"pupitre/access/internal/resolver"
)

func main() {
	migrate := flag.Bool("install-row-policies", false, "install the row security policies and exit")
	flag.Parse()

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connection failed: %v", err)
	}
	defer pool.Close()

	store := repository.NewStore(pool)

	if *migrate {
		if err := store.InstallRowPolicies(ctx); err != nil {
			log.Fatalf("row policy install failed: %v", err)
		}
		log.Printf("row policies installed")
		return
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			log.Fatalf("redis ping failed: %v", err)
		}
		cancel()
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Printf("redis close error: %v", err)
			}
		}()
	}

	var validator credential.Validator
	switch {
	case cfg.IntrospectURL != "":
		validator = credential.NewIntrospectValidator(cfg.IntrospectURL, cfg.ResolveTimeout)
	case cfg.JWTPublicKey != "":
		validator, err = credential.NewJWTValidator(cfg.JWTPublicKey, cfg.JWTIssuer, cfg.SessionTTL)
		if err != nil {
			log.Fatalf("jwt validator init failed: %v", err)
		}
	default:
		log.Fatalf("no credential validator configured: set INTROSPECT_URL or JWT_PUBLIC_KEY")
	}

	profileResolver := resolver.New(store, redisClient, cfg.ProfileCacheTTL, cfg.ResolveTimeout)

	server := internalhttp.NewServer(cfg, store, profileResolver, validator, redisClient)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("access http listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
