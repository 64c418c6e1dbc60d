package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/coffersTech/nanolog/spool/internal/config"
	"github.com/coffersTech/nanolog/spool/internal/engine"
	"github.com/coffersTech/nanolog/spool/internal/handler"
	"github.com/coffersTech/nanolog/spool/internal/logging"
	"github.com/coffersTech/nanolog/spool/internal/model"
	"github.com/coffersTech/nanolog/spool/internal/shipper"
	"github.com/coffersTech/nanolog/spool/internal/storage"
)

// maxLineBytes bounds a single stdin line.
const maxLineBytes = 1 << 20

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "nanospool: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Command-line flags override the environment
	flag.StringVar(&cfg.Env, "env", cfg.Env, "logger flavour (production or development)")
	flag.StringVar(&cfg.Service, "service", cfg.Service, "service label written to every entry")
	flag.StringVar(&cfg.Shipper.ServerURL, "server", cfg.Shipper.ServerURL, "sink base URL")
	flag.StringVar(&cfg.Shipper.APIKey, "api-key", cfg.Shipper.APIKey, "bearer token for the sink")
	flag.BoolVar(&cfg.Shipper.Compress, "compress", cfg.Shipper.Compress, "send zstd request bodies")
	flag.StringVar(&cfg.Spool.CacheFile, "cache-file", cfg.Spool.CacheFile, "snapshot path (default: user cache dir)")
	flag.IntVar(&cfg.Spool.BatchSize, "batch-size", cfg.Spool.BatchSize, "records per shipped batch")
	flag.DurationVar(&cfg.Spool.FlushInterval, "flush-interval", cfg.Spool.FlushInterval, "how often the buffer is drained")
	flag.DurationVar(&cfg.Spool.MaxRetry, "max-retry", cfg.Spool.MaxRetry, "backoff budget per batch, 0 disables retries")
	flag.StringVar(&cfg.Metrics.Addr, "metrics-addr", cfg.Metrics.Addr, "address for /metrics, empty disables it")
	flag.BoolVarP(&cfg.Debug, "debug", "d", cfg.Debug, "log snapshot recovery failures")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logging.Sync(logger)

	store, err := storage.NewFileStore(cfg.Spool.CacheFile)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// 1. Recover whatever the previous run left behind
	buf := engine.Initialize[model.LogEntry](store, engine.NewEntryCodec(), engine.Options{
		BatchSize: cfg.Spool.BatchSize,
		Debug:     cfg.Debug,
		Logger:    logger,
		Metrics:   engine.NewMetrics(reg),
	})
	logger.Info("spool initialized",
		zap.String("path", store.Path()),
		zap.Int("recovered", buf.Len()),
	)

	// 2. Shipper and drainer
	sh, err := shipper.NewHTTPShipper(shipper.Options{
		ServerURL:  cfg.Shipper.ServerURL,
		APIKey:     cfg.Shipper.APIKey,
		InstanceID: shipper.EnsureInstanceID(filepath.Dir(store.Path())),
		Compress:   cfg.Shipper.Compress,
		Timeout:    cfg.Shipper.Timeout,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer sh.Close()

	drainer := shipper.NewDrainer(buf, sh, cfg.Spool.FlushInterval, cfg.Spool.MaxRetry, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		drainer.Run(ctx)
	}()

	// 3. Optional metrics listener
	var metricsSrv *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("metrics listening", zap.String("addr", cfg.Metrics.Addr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
	}

	// 4. Producer: one entry per stdin line
	slogger := slog.New(handler.New(buf, handler.Options{Service: cfg.Service, Level: slog.LevelDebug}))
	produced := make(chan error, 1)
	go func() {
		produced <- forwardLines(ctx, os.Stdin, slogger)
	}()

	select {
	case <-ctx.Done():
		logger.Info("signal received, shutting down")
	case err := <-produced:
		if err != nil {
			logger.Error("reading stdin failed", zap.Error(err))
		} else {
			logger.Info("stdin closed, shutting down")
		}
		stop()
	}

	// Final drain, then spill what is left for the next start
	<-drained

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown error", zap.Error(err))
		}
		cancel()
	}

	left := buf.Len()
	if err := buf.BackupCache(); err != nil {
		logger.Warn("spool not persisted", zap.Int("records", left))
	} else if left > 0 {
		logger.Info("spool persisted", zap.String("path", store.Path()), zap.Int("records", left))
	}

	logger.Info("nanospool exited",
		zap.Uint64("shipped", drainer.Shipped()),
	)
	return nil
}

// forwardLines logs every non-empty line of r at INFO until EOF or ctx
// is done.
func forwardLines(ctx context.Context, r io.Reader, logger *slog.Logger) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var seq int64
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		seq++
		logger.LogAttrs(ctx, slog.LevelInfo, line,
			slog.String("stream", "stdin"),
			slog.Int64("seq", seq),
		)
	}
	return scanner.Err()
}
