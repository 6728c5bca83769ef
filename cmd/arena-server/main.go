package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kapu/chess-arena/internal/archive"
	"github.com/kapu/chess-arena/internal/clock"
	appcfg "github.com/kapu/chess-arena/internal/config"
	"github.com/kapu/chess-arena/internal/gateway"
	"github.com/kapu/chess-arena/internal/obslog"
	"github.com/kapu/chess-arena/internal/results"
	"github.com/kapu/chess-arena/internal/session"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = obslog.L().Sync() }()

	hub := gateway.NewHub()
	orch := session.NewOrchestrator(hub, clock.New(), session.Config{
		FinishedGrace:      cfg.FinishedGrace(),
		DisconnectGrace:    cfg.DisconnectGrace(),
		MaxConcurrentGames: cfg.MaxConcurrentGames,
	})

	// Archiving is optional: no base URL means finished games are not
	// reported anywhere. With Redis available the submission goes through
	// the retrying queue, otherwise it is a one-shot POST.
	var archiveQueue *archive.Queue
	if cfg.ArchiveBaseURL != "" {
		client := archive.NewClient(cfg.ArchiveBaseURL)
		if cfg.RedisURL != "" {
			opts, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				log.Fatalf("redis url error: %v", err)
			}
			rdb := redis.NewClient(opts)
			pctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = rdb.Ping(pctx).Err()
			cancel()
			if err != nil {
				log.Fatalf("redis connect error: %v", err)
			}
			archiveQueue = archive.NewQueue(rdb, client, archive.QueueConfig{
				MaxAttempts: cfg.ArchiveMaxAttempts,
			})
			archiveQueue.Start()
			orch.AttachArchiver(archiveQueue)
		} else {
			orch.AttachArchiver(archive.NewDirectSubmitter(client))
		}
	}

	var repo *results.Repository
	if cfg.DatabaseURL != "" {
		repo, err = results.NewRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("results repo init error: %v", err)
		}
		orch.AttachRepository(repo)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", gateway.NewHandler(hub, orch))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		obslog.L().Info("server_listen", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			obslog.L().Fatal("server_error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	obslog.L().Info("server_shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	hub.CloseAll()
	if archiveQueue != nil {
		archiveQueue.Stop()
	}
	_ = repo.Close()
}
