package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/yocase11/uhias-secure-ehr-sharing/internal/access"
	"github.com/yocase11/uhias-secure-ehr-sharing/internal/audit"
	"github.com/yocase11/uhias-secure-ehr-sharing/internal/crypto"
	jwttoken "github.com/yocase11/uhias-secure-ehr-sharing/internal/jwt_token"
	"github.com/yocase11/uhias-secure-ehr-sharing/internal/payload"
	"github.com/yocase11/uhias-secure-ehr-sharing/internal/platform/config"
	"github.com/yocase11/uhias-secure-ehr-sharing/internal/platform/httpserver"
	"github.com/yocase11/uhias-secure-ehr-sharing/internal/platform/logger"
	"github.com/yocase11/uhias-secure-ehr-sharing/internal/platform/metrics"
	platformredis "github.com/yocase11/uhias-secure-ehr-sharing/internal/platform/redis"
	"github.com/yocase11/uhias-secure-ehr-sharing/internal/record"
	httptransport "github.com/yocase11/uhias-secure-ehr-sharing/internal/transport/http"
)

// main wires dependencies and owns the process lifecycle. Every store and
// sink degrades to an in-process implementation when its URL is absent, so a
// bare `go run ./cmd/server` starts a working single-node instance.
func main() {
	log := logger.New(slog.LevelInfo)

	cfg, err := config.FromEnv()
	if err != nil {
		log.Error("configuration error", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	keyring, err := crypto.NewKeyring(cfg.MasterKey)
	if err != nil {
		return err
	}

	var (
		records    record.Store
		keys       record.KeyStore
		auditStore audit.Store
	)
	if cfg.PostgresURL != "" {
		db, err := sql.Open("pgx", cfg.PostgresURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return err
		}

		recordStore := record.NewPostgresStore(db, record.WithRetryHook(m.StoreRetries.Inc))
		if err := recordStore.EnsureSchema(ctx); err != nil {
			return err
		}
		postgresAudit := audit.NewPostgresStore(db)
		if err := postgresAudit.EnsureSchema(ctx); err != nil {
			return err
		}
		records = recordStore
		keys = record.NewPostgresKeyStore(db)
		auditStore = postgresAudit
		log.Info("using postgres stores")
	} else {
		records = record.NewInMemoryStore()
		keys = record.NewInMemoryKeyStore()
		auditStore = audit.NewInMemoryStore()
		log.Warn("no postgres configured, records and audit trail are not durable")
	}

	var spool audit.Spool = audit.NewInMemorySpool()
	redisClient, err := platformredis.New(cfg.Redis())
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		spool = audit.NewRedisSpool(redisClient.Client)
		log.Info("audit spool backed by redis")
	}

	var publisherOpts []audit.PublisherOption
	if len(cfg.KafkaBrokers) > 0 {
		sink, err := audit.NewKafkaSink(ctx, cfg.KafkaBrokers, cfg.KafkaAuditTopic, log)
		if err != nil {
			return err
		}
		defer sink.Close()
		publisherOpts = append(publisherOpts, audit.WithSink(sink))
		log.Info("mirroring audit events to kafka", "topic", cfg.KafkaAuditTopic)
	}
	publisher := audit.NewPublisher(auditStore, spool, log, m, publisherOpts...)

	blobs, err := payload.NewFSBlobStore(cfg.PayloadDir)
	if err != nil {
		return err
	}

	engine := access.NewService(records, publisher, log, m)
	payloads := payload.NewService(records, keys, blobs, keyring, engine, publisher, log, m)
	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, "ehr-gateway", "ehr-api")

	handler := httptransport.NewHandler(engine, payloads, log)
	router := httptransport.NewRouter(handler, jwtService, log,
		promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := httpserver.New(cfg.Addr, router)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return audit.NewWorker(publisher, 0).Run(ctx)
	})

	g.Go(func() error {
		log.Info("listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
