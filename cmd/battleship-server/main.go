package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zkripson/battleship-go/internal/api"
	"github.com/zkripson/battleship-go/internal/config"
	"github.com/zkripson/battleship-go/internal/escrow"
	"github.com/zkripson/battleship-go/internal/ledger"
	"github.com/zkripson/battleship-go/internal/obslog"
	"github.com/zkripson/battleship-go/internal/session"
	"github.com/zkripson/battleship-go/internal/verify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	obslog.InitFromEnv()
	defer obslog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis url error: %v", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis connect error: %v", err)
	}
	defer rdb.Close()

	var verifier verify.Verifier = verify.Static{OK: true}
	if cfg.VerifierBaseURL != "" {
		verifier = verify.NewHTTPVerifier(cfg.VerifierBaseURL)
	}

	led := ledger.New(rdb)
	registry := session.NewRegistry(rdb, verifier, session.Config{
		Flow:         session.Flow(cfg.SessionFlow),
		TurnTimeout:  cfg.TurnTimeout,
		LogicVersion: cfg.LogicVersion,
	})
	engine := escrow.NewEngine(rdb, led, registry, escrow.Config{
		MinStake:   cfg.MinStake,
		MaxStake:   cfg.MaxStake,
		FeePercent: cfg.FeePercent,
		InviteTTL:  cfg.InviteTTL,
	})

	if cfg.DatabaseURL != "" {
		repo, err := escrow.NewRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("settlement repo init error: %v", err)
		}
		defer repo.Close()
		engine.AttachRepository(repo)
	}

	srv := api.NewServer(registry, engine, led, api.Config{
		ListenAddr: cfg.ListenAddr,
		BackendKey: cfg.BackendKey,
		AdminKey:   cfg.AdminKey,
	})

	obslog.L().Info("server_start",
		zap.String("addr", cfg.ListenAddr),
		zap.String("flow", cfg.SessionFlow),
		zap.Int("logic_version", cfg.LogicVersion),
	)
	if err := srv.ListenAndServe(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
	obslog.L().Info("server_stop")
}
