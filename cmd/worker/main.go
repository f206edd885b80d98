package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"campusicon/internal/config"
	"campusicon/internal/logging"
	"campusicon/internal/metrics"
	"campusicon/internal/model"
	"campusicon/internal/observability"
	"campusicon/internal/queue"
	"campusicon/internal/store"
)

// Worker consumes check-in events from the queue and persists the audit
// feed. The course document is the source of truth; losing a feed row never
// loses an attendance record.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logg, err := logging.Init(cfg.LogLevel, cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer logg.Closer()

	closeSentry, err := observability.InitSentry(cfg.SentryDSN, cfg.Env, "campusicon-worker")
	if err != nil {
		logg.Sugar.Warnw("sentry init failed", "err", err)
	}
	defer closeSentry()

	if err := run(cfg, logg.Sugar); err != nil {
		logg.Sugar.Fatalw("worker failed", "err", err)
	}
}

func run(cfg config.App, log *zap.SugaredLogger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Infow("shutdown signal received")
		cancel()
	}()

	var st store.Store
	if cfg.StoreBackend == "memory" {
		st = store.NewMemory()
		log.Infow("using in-memory store; the feed will not survive a restart")
	} else {
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer func() { _ = db.Close() }()
		if err := store.Migrate(ctx, db.Client); err != nil {
			return err
		}
		st = store.NewPostgres(db.Client)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "campusicon:checkins")
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("queue consume init: %w", err)
	}

	log.Infow("worker started, waiting for check-in events")
	for msg := range messages {
		if msg.Type != "checkin" {
			continue
		}

		var evt model.CheckinEvent
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			log.Warnw("malformed event payload", "err", err)
			continue
		}

		// InsertEvent ignores duplicate ids, so a redelivered message is a
		// harmless no-op.
		if err := st.InsertEvent(ctx, evt); err != nil {
			log.Errorw("persist event failed", "event", evt.ID, "err", err)
			observability.CaptureErr(err)
			continue
		}
		metrics.AuditWrites.Inc()
		log.Debugw("event persisted", "event", evt.ID, "session", evt.SessionID, "student", evt.StudentID)
	}

	log.Infow("worker stopped")
	return nil
}
