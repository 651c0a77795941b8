package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"content-pipeline-engine/internal/config"
	"content-pipeline-engine/internal/dispatcher"
	"content-pipeline-engine/internal/executor"
	"content-pipeline-engine/internal/lease"
	"content-pipeline-engine/internal/pipeline"
	"content-pipeline-engine/internal/store"
	"content-pipeline-engine/internal/telemetry"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	registry, err := pipeline.Builtin(ctx, cfg)
	if err != nil {
		log.Fatalf("init pipeline registry: %v", err)
	}
	def, err := pipeline.FromConfig(cfg, registry)
	if err != nil {
		log.Fatalf("pipeline definition: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	leases := lease.NewManager(redisClient)

	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		hostname, _ := os.Hostname()
		if hostname != "" {
			workerID = hostname
		} else {
			workerID = fmt.Sprintf("worker-%d", os.Getpid())
		}
	}

	exec := executor.New(cfg, st, leases, def, registry)
	disp := dispatcher.New(cfg, st, leases, exec, workerID)

	// Retention sweep for agent_logs; items and artifacts are deleted
	// explicitly through the control plane.
	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.RetentionSpec, func() {
		cutoff := time.Now().Add(-cfg.LogRetention)
		sweepCtx, cancelSweep := context.WithTimeout(context.Background(), time.Minute)
		defer cancelSweep()
		if n, err := st.PurgeLogsBefore(sweepCtx, cutoff); err != nil {
			log.Printf("retention sweep: %v", err)
		} else if n > 0 {
			log.Printf("retention sweep removed %d agent_logs rows", n)
		}
	}); err != nil {
		log.Fatalf("retention cron %q: %v", cfg.RetentionSpec, err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	log.Printf("worker %s started poll=%s lease_ttl=%s concurrency=%d pipeline=%v",
		workerID, cfg.PollInterval, cfg.LeaseTTL, cfg.MaxConcurrent, def.Names())
	if err := disp.Run(ctx); err != nil {
		log.Printf("worker stopped: %v", err)
	}
}
