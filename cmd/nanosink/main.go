package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/coffersTech/nanolog/spool/internal/logging"
	"github.com/coffersTech/nanolog/spool/internal/sink"
)

func main() {
	port := flag.IntP("port", "p", 8088, "HTTP port to listen on")
	apiKeys := flag.StringSlice("api-key", nil, "accepted bearer token (repeatable); none disables auth")
	keep := flag.Int("keep", 1000, "number of recent entries served by /api/received")
	env := flag.String("env", "development", "logger flavour (production or development)")
	staleAfter := flag.Duration("stale-after", 10*time.Minute, "forget agents silent for this long")
	flag.Parse()

	logger, err := logging.New(*env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nanosink: init logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync(logger)

	s, err := sink.NewServer(sink.Options{APIKeys: *apiKeys, Keep: *keep, Logger: logger})
	if err != nil {
		logger.Fatal("failed to create sink", zap.Error(err))
	}
	defer s.Close()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	s.Instances().StartPruneLoop(ctx, time.Minute, *staleAfter)

	addr := fmt.Sprintf(":%d", *port)
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("sink listening",
			zap.String("addr", addr),
			zap.Bool("auth", len(*apiKeys) > 0),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}

	logger.Info("nanosink exited", zap.Int64("received", s.Received()))
}
