package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/bidhaus/bidhaus/bidhaus/database/models"
)

const (
	defaultSweepInterval = 15 * time.Second
	defaultSweepBatch    = 100
	sweepItemTimeout     = 30 * time.Second
	maxConcurrentSweeps  = 4
)

// Finalizer settles live auctions whose deadline has passed. It runs a
// periodic sweep so that expired auctions are settled even after a process
// restart; no in-memory timer is the source of truth.
type Finalizer struct {
	store    Store
	notifier *Notifier

	interval time.Duration
	batch    int
	shutdown chan struct{}

	now func() time.Time
}

func NewFinalizer(store Store, notifier *Notifier, interval time.Duration, batch int) *Finalizer {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &Finalizer{
		store:    store,
		notifier: notifier,
		interval: interval,
		batch:    batch,
		shutdown: make(chan struct{}),
		now:      time.Now,
	}
}

// Start launches the sweep loop. The first sweep runs immediately so
// auctions that expired while the process was down are settled on boot.
func (f *Finalizer) Start() {
	go func() {
		f.sweep()

		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				f.sweep()
			case <-f.shutdown:
				return
			}
		}
	}()
}

// Shutdown stops the sweep loop. In-flight settlements finish on their own.
func (f *Finalizer) Shutdown() {
	close(f.shutdown)
	slog.Info("auction finalizer shutdown completed")
}

func (f *Finalizer) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepItemTimeout*time.Duration(maxConcurrentSweeps))
	defer cancel()

	processed, err := f.FinalizeAuctions(ctx, f.batch)
	if err != nil {
		slog.Error("finalization sweep failed",
			slog.String("error", err.Error()))
		return
	}
	if processed > 0 {
		slog.Info("finalization sweep completed",
			slog.Int("settled", processed))
	}
}

// FinalizeAuctions settles up to limit expired auctions and returns how
// many were settled. Failures on individual auctions are logged and do not
// abort the batch; the next sweep retries them.
func (f *Finalizer) FinalizeAuctions(ctx context.Context, limit int) (int, error) {
	ids, err := f.store.ExpiredLive(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired auctions: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	sem := semaphore.NewWeighted(maxConcurrentSweeps)
	var processed atomic.Int64

	for _, id := range ids {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		go func(auctionID int64) {
			defer sem.Release(1)

			itemCtx, cancel := context.WithTimeout(ctx, sweepItemTimeout)
			defer cancel()

			settled, err := f.finalizeOne(itemCtx, auctionID)
			if err != nil {
				slog.Error("failed to settle auction",
					slog.Int64("auction_id", auctionID),
					slog.String("error", err.Error()))
				return
			}
			if settled {
				processed.Add(1)
			}
		}(id)
	}

	// Draining the semaphore waits for every worker.
	if err := sem.Acquire(ctx, maxConcurrentSweeps); err != nil {
		return int(processed.Load()), err
	}
	return int(processed.Load()), nil
}

// finalizeOne settles a single auction inside its own transaction. It is
// idempotent: an auction already settled by a concurrent sweep, or whose
// deadline was extended after listing, is skipped.
func (f *Finalizer) finalizeOne(ctx context.Context, auctionID int64) (bool, error) {
	var events []Event
	settled := false

	err := f.store.Update(ctx, func(ctx context.Context, tx Tx) error {
		a, err := tx.AuctionForUpdate(ctx, auctionID)
		if err != nil {
			if errors.Is(err, ErrAuctionNotFound) {
				return nil
			}
			return err
		}
		now := f.now()
		if a.Status != models.AuctionStatusLive || a.EndTime.After(now) {
			return nil
		}
		expectedVersion := a.Version

		events = events[:0]
		ev := newEvent(EventAuctionEnded, a.ID, a.Code)

		switch {
		case a.BidCount == 0:
			a.Status = models.AuctionStatusEnded

		case a.HasReserve() && !a.ReserveMet:
			// Highest bid stands below the reserve: no sale is forced, but
			// the seller may still choose to deal with the highest bidder.
			a.Status = models.AuctionStatusEnded
			ce := &models.ContactExchange{
				ID:        uuid.NewString(),
				AuctionID: a.ID,
				SellerID:  a.OwnerID,
				BuyerID:   a.TopBidderID,
				Status:    models.ContactExchangePending,
				CreatedAt: now,
			}
			if err := tx.InsertContactExchange(ctx, ce); err != nil {
				return fmt.Errorf("failed to record contact exchange: %w", err)
			}
			ev.BuyerID = a.TopBidderID
			ev.FinalPrice = a.CurrentPrice

		default:
			a.Status = models.AuctionStatusSold
			txn := &models.Transaction{
				ID:         uuid.NewString(),
				AuctionID:  a.ID,
				SellerID:   a.OwnerID,
				BuyerID:    a.TopBidderID,
				FinalPrice: a.CurrentPrice,
				CreatedAt:  now,
			}
			if err := tx.InsertTransaction(ctx, txn); err != nil {
				return fmt.Errorf("failed to record transaction: %w", err)
			}
			ce := &models.ContactExchange{
				ID:        uuid.NewString(),
				AuctionID: a.ID,
				SellerID:  a.OwnerID,
				BuyerID:   a.TopBidderID,
				Status:    models.ContactExchangeApproved,
				CreatedAt: now,
			}
			if err := tx.InsertContactExchange(ctx, ce); err != nil {
				return fmt.Errorf("failed to record contact exchange: %w", err)
			}
			ev.Sold = true
			ev.FinalPrice = a.CurrentPrice
			ev.BuyerID = a.TopBidderID
		}

		a.UpdatedAt = now
		if err := tx.UpdateAuction(ctx, a, expectedVersion); err != nil {
			return err
		}

		events = append(events, ev)
		settled = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if settled && f.notifier != nil {
		f.notifier.Publish(events...)
	}
	return settled, nil
}
