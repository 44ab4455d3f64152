package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"doortracker/internal/clock"
	"doortracker/internal/config"
	"doortracker/internal/metrics"
	"doortracker/internal/queue"
	"doortracker/internal/snapshot"
	"doortracker/internal/store"
	"doortracker/internal/tracking"
)

// Worker consumes scan events and keeps per-member statistics snapshots
// warm in Redis. The snapshots are a dashboard cache; the accounting
// core never depends on them.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	cal, err := clock.NewCalendar(cfg.Timezone)
	if err != nil {
		log.Fatalf("timezone: %v", err)
	}

	db, err := store.NewDB(cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBIdleConns)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "doortracker:scans")
	}

	repo := tracking.NewRepository(db.Client, cfg.Timezone)
	stats := tracking.NewStats(tracking.NewEngine(repo), repo, cal)
	builder := snapshot.NewBuilder(stats)
	cache := snapshot.NewCache(redisClient.Client, cfg.SnapshotTTL)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for scan events...")
	for msg := range messages {
		if msg.Type != "scan" {
			continue
		}

		var evt queue.ScanEvent
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			log.Printf("bad scan event: %v", err)
			continue
		}

		sum, err := builder.Build(ctx, evt.MemberID)
		if err != nil {
			metrics.SnapshotBuilds.WithLabelValues("error").Inc()
			log.Printf("snapshot build for %s failed: %v", evt.MemberID, err)
			continue
		}
		if err := cache.Put(ctx, sum); err != nil {
			metrics.SnapshotBuilds.WithLabelValues("error").Inc()
			log.Printf("snapshot store for %s failed: %v", evt.MemberID, err)
			continue
		}
		metrics.SnapshotBuilds.WithLabelValues("ok").Inc()
		log.Printf("snapshot refreshed for %s (%s): today=%dm week=%dm", evt.MemberID, evt.Outcome, sum.Today, sum.Week)
	}

	log.Println("worker stopped")
}
