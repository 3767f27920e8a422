package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/agrosentinel-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/agrosentinel-etl/internal/adapter/kafka"
	mqttadapter "github.com/couchcryptid/agrosentinel-etl/internal/adapter/mqtt"
	"github.com/couchcryptid/agrosentinel-etl/internal/adapter/openmeteo"
	"github.com/couchcryptid/agrosentinel-etl/internal/adapter/sqlite"
	"github.com/couchcryptid/agrosentinel-etl/internal/adapter/timescale"
	"github.com/couchcryptid/agrosentinel-etl/internal/config"
	"github.com/couchcryptid/agrosentinel-etl/internal/observability"
	"github.com/couchcryptid/agrosentinel-etl/internal/pipeline"
	"github.com/couchcryptid/agrosentinel-etl/internal/poller"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		sinks      []pipeline.Sink
		closers    []io.Closer
		readiness  []sharedobs.ReadinessChecker
		queryStore httpadapter.ReadingStore
	)

	// Sinks.
	if cfg.HasSink(config.SinkTimescale) {
		store, err := timescale.Connect(ctx, cfg.DatabaseURL, cfg.TimescaleHypertable, logger)
		if err != nil {
			logger.Error("failed to connect timescale", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, pipeline.Sink{Name: config.SinkTimescale, Loader: store})
		closers = append(closers, store)
		readiness = append(readiness, store)
		queryStore = store
	}
	if cfg.HasSink(config.SinkSQLite) {
		store, err := sqlite.Open(ctx, cfg.SQLitePath, logger)
		if err != nil {
			logger.Error("failed to open sqlite", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, pipeline.Sink{Name: config.SinkSQLite, Loader: store})
		closers = append(closers, store)
		readiness = append(readiness, store)
		if queryStore == nil {
			queryStore = store
		}
	}
	if cfg.HasSink(config.SinkKafka) {
		writer := kafkaadapter.NewWriter(cfg, logger)
		sinks = append(sinks, pipeline.Sink{Name: config.SinkKafka, Loader: writer})
		closers = append(closers, writer)
	}

	// Source. stopSrc halts producers before the final drain; closeSrc releases the
	// source once the drain has committed.
	var (
		extractor pipeline.BatchExtractor
		startSrc  func()
		stopSrc   = func() {}
		closeSrc  = func() {}
	)
	switch cfg.Source {
	case config.SourceKafka:
		reader := kafkaadapter.NewReader(cfg, logger)
		extractor = reader
		startSrc = func() {}
		closeSrc = func() {
			if err := reader.Close(); err != nil {
				logger.Error("kafka reader close error", "error", err)
			}
		}
	case config.SourceMQTT:
		queue := pipeline.NewQueue(cfg.QueueCapacity, cfg.BatchFlushInterval)
		sub := mqttadapter.NewSubscriber(cfg, queue, metrics, logger)
		extractor = queue
		readiness = append(readiness, sub)
		startSrc = func() {
			go func() {
				if err := sub.Connect(ctx); err != nil && ctx.Err() == nil {
					logger.Error("mqtt connect error", "error", err)
				}
			}()
		}
		stopSrc = sub.Disconnect
	default:
		queue := pipeline.NewQueue(cfg.QueueCapacity, cfg.BatchFlushInterval)
		client := openmeteo.NewClient(cfg.OpenMeteoURL, cfg.OpenMeteoTimeout, metrics, logger)
		poll := poller.New(client, queue, cfg.Locations, cfg.PollInterval, cfg.DedupCacheSize, metrics, logger)
		extractor = queue
		startSrc = func() {
			if err := poll.Start(ctx); err != nil {
				logger.Error("failed to start poller", "error", err)
				stop()
			}
		}
		stopSrc = poll.Stop
	}

	transformer := pipeline.NewTransformer(logger)
	p := pipeline.New(extractor, transformer, pipeline.NewFanOut(sinks...), logger, metrics, cfg.BatchSize)
	readiness = append([]sharedobs.ReadinessChecker{p}, readiness...)

	srv := httpadapter.NewServer(cfg.HTTPAddr, observability.AllReady(readiness...), queryStore, logger)

	logger.Info("agrosentinel etl starting",
		"source", cfg.Source,
		"sinks", cfg.Sinks,
		"batch_size", cfg.BatchSize,
	)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start ETL pipeline.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	startSrc()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()

	stopSrc()
	select {
	case <-done:
		if err := p.Drain(shutdownCtx); err != nil {
			logger.Error("pipeline drain incomplete", "error", err)
		}
	case <-shutdownCtx.Done():
		logger.Warn("pipeline did not stop before shutdown timeout")
	}
	closeSrc()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	for _, c := range closers {
		if err := c.Close(); err != nil {
			logger.Error("sink close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
