package bidhaus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/bidhaus/bidhaus/bidhaus/auction"
	"github.com/bidhaus/bidhaus/bidhaus/database"
	"github.com/bidhaus/bidhaus/bidhaus/database/repositories"
)

// App bundles the bid engine with its persistence and event plumbing. The
// embedding service mounts its transport on Manager and Registry; the
// finalization sweep runs in the background.
type App struct {
	Cfg     Config
	Version string
	Commit  string

	DB        *database.DB
	Registry  *repositories.AuctionRegistry
	Notifier  *auction.Notifier
	Manager   *auction.Manager
	Finalizer *auction.Finalizer
}

func New(cfg Config, version string, commit string) *App {
	return &App{
		Cfg:     cfg,
		Version: version,
		Commit:  commit,
	}
}

// Setup connects the database, initializes the schema and wires the engine.
func (a *App) Setup(ctx context.Context) error {
	db, err := database.New(ctx, a.Cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.InitializeSchema(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	a.DB = db
	a.Registry = repositories.NewAuctionRegistry(db.BunDB())
	return a.wire(repositories.NewAuctionStore(db.BunDB()))
}

// wire builds the engine components on top of a store.
func (a *App) wire(store auction.Store) error {
	a.Notifier = auction.NewNotifier(a.Cfg.Auction.EventBuffer)

	manager, err := auction.NewManager(store, a.Notifier, auction.Config{
		IncrementTiers: a.Cfg.Auction.IncrementTiers,
		CurrencyUnit:   a.Cfg.Auction.CurrencyUnit,
		MaxAttempts:    a.Cfg.Auction.MaxBidAttempts,
		BidRate:        rate.Limit(a.Cfg.Auction.BidsPerSecond),
		BidBurst:       a.Cfg.Auction.BidBurst,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize bid engine: %w", err)
	}
	a.Manager = manager

	a.Finalizer = auction.NewFinalizer(store, a.Notifier,
		time.Duration(a.Cfg.Auction.SweepIntervalSec)*time.Second,
		a.Cfg.Auction.SweepBatchLimit)
	return nil
}

// Start launches the finalization sweep.
func (a *App) Start() {
	a.Finalizer.Start()
	slog.Info("bidhaus engine started",
		slog.String("version", a.Version),
		slog.String("commit", a.Commit))
}

// Shutdown stops the background work and releases the database.
func (a *App) Shutdown() {
	if a.Finalizer != nil {
		a.Finalizer.Shutdown()
	}
	if a.Notifier != nil {
		a.Notifier.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
