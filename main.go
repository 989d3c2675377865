package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bidhaus/bidhaus/bidhaus"
	"github.com/bidhaus/bidhaus/bidhaus/logger"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	path := flag.String("config", "config.toml", "path to config")
	flag.Parse()

	cfg, err := bidhaus.LoadConfig(*path)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(-1)
	}

	slog.SetDefault(slog.New(logger.NewHandler(cfg.Log.Level)))
	slog.Info("Starting bidhaus auction engine",
		slog.String("version", version),
		slog.String("commit", commit))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	app := bidhaus.New(*cfg, version, commit)

	setupStart := time.Now()
	if err := app.Setup(ctx); err != nil {
		slog.Error("Failed to set up bidhaus",
			slog.Any("error", err),
			slog.Duration("attempted_for", time.Since(setupStart)))
		os.Exit(-1)
	}
	slog.Info("Database connected",
		slog.String("database", cfg.DB.Database),
		slog.Duration("took", time.Since(setupStart)))

	app.Start()

	// Drain committed events; the notification collaborator plugs in here.
	go func() {
		for ev := range app.Notifier.Events() {
			slog.Info("auction event",
				slog.String("type", "event"),
				slog.String("event", string(ev.Type)),
				slog.Int64("auction_id", ev.AuctionID),
				slog.String("code", ev.Code))
		}
	}()

	slog.Info("bidhaus is now running. Press CTRL-C to exit.")
	s := make(chan os.Signal, 1)
	signal.Notify(s, syscall.SIGINT, syscall.SIGTERM)
	<-s

	slog.Info("Shutting down bidhaus...")
	app.Shutdown()
}
