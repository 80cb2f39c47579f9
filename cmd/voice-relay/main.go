package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/memovoice/voicert-go/relay"
)

func main() {
	addr := flag.String("addr", "", "listen address (overrides WS_PROXY_PORT)")
	upstream := flag.String("upstream", "", "upstream realtime URL (overrides WS_UPSTREAM_URL)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg := relay.ConfigFromEnv()
	cfg.Logger = logger
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *upstream != "" {
		cfg.UpstreamURL = *upstream
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("shutting down")
		cancel()
	}()

	if err := relay.NewServer(cfg).Start(ctx); err != nil {
		logger.Error("relay failed", "error", err)
		os.Exit(1)
	}
}
