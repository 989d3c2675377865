package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/bidhaus/bidhaus/bidhaus/auction"
	"github.com/bidhaus/bidhaus/bidhaus/database/models"
)

const defaultTxTimeout = 10 * time.Second

// AuctionStore is the bun-on-Postgres implementation of auction.Store.
// Every Update runs serializable; per-auction mutual exclusion comes from
// the FOR UPDATE row lock taken in AuctionForUpdate.
type AuctionStore struct {
	db *bun.DB
}

func NewAuctionStore(db *bun.DB) *AuctionStore {
	return &AuctionStore{db: db}
}

func (s *AuctionStore) DB() *bun.DB {
	return s.db
}

func (s *AuctionStore) Update(ctx context.Context, fn func(ctx context.Context, tx auction.Tx) error) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, defaultTxTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(timeoutCtx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(timeoutCtx, &storeTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *AuctionStore) Auction(ctx context.Context, auctionID int64) (*models.Auction, error) {
	a := new(models.Auction)
	err := s.db.NewSelect().
		Model(a).
		Where("id = ?", auctionID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auction.ErrAuctionNotFound
		}
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}
	return a, nil
}

func (s *AuctionStore) AuctionByCode(ctx context.Context, code string) (*models.Auction, error) {
	a := new(models.Auction)
	err := s.db.NewSelect().
		Model(a).
		Where("code = ?", code).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auction.ErrAuctionNotFound
		}
		return nil, fmt.Errorf("failed to get auction by code: %w", err)
	}
	return a, nil
}

func (s *AuctionStore) ExpiredLive(ctx context.Context, limit int) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	// SKIP LOCKED keeps the sweep out of the way of in-flight bids; a row
	// being bid on right now is picked up by the next sweep instead.
	var ids []int64
	err = tx.NewSelect().
		Model((*models.Auction)(nil)).
		Column("id").
		Where("status = ?", models.AuctionStatusLive).
		Where("end_time <= ?", time.Now()).
		Order("end_time ASC").
		Limit(limit).
		For("UPDATE SKIP LOCKED").
		Scan(ctx, &ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get expired auctions: %w", err)
	}
	return ids, nil
}

func (s *AuctionStore) AuctionBids(ctx context.Context, auctionID int64) ([]*models.Bid, error) {
	var bids []*models.Bid
	err := s.db.NewSelect().
		Model(&bids).
		Where("auction_id = ?", auctionID).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get auction bids: %w", err)
	}
	return bids, nil
}

// BidderBids lists a bidder's accepted bids, newest first.
func (s *AuctionStore) BidderBids(ctx context.Context, bidderID string) ([]*models.Bid, error) {
	var bids []*models.Bid
	err := s.db.NewSelect().
		Model(&bids).
		Where("bidder_id = ?", bidderID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get bidder bids: %w", err)
	}
	return bids, nil
}

// storeTx adapts one bun transaction to the engine's Tx port.
type storeTx struct {
	tx bun.Tx
}

func (t *storeTx) AuctionForUpdate(ctx context.Context, auctionID int64) (*models.Auction, error) {
	a := new(models.Auction)
	err := t.tx.NewSelect().
		Model(a).
		Where("id = ?", auctionID).
		For("UPDATE").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auction.ErrAuctionNotFound
		}
		return nil, fmt.Errorf("failed to get auction for update: %w", err)
	}
	return a, nil
}

func (t *storeTx) UpdateAuction(ctx context.Context, a *models.Auction, expectedVersion int64) error {
	a.Version = expectedVersion + 1
	result, err := t.tx.NewUpdate().
		Model(a).
		WherePK().
		Where("version = ?", expectedVersion).
		Exec(ctx)
	if err != nil {
		a.Version = expectedVersion
		return fmt.Errorf("failed to update auction: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		a.Version = expectedVersion
		return auction.ErrAggregateConflict
	}
	return nil
}

func (t *storeTx) InsertBid(ctx context.Context, b *models.Bid) error {
	if _, err := t.tx.NewInsert().Model(b).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert bid: %w", err)
	}
	return nil
}

func (t *storeTx) EnabledAutoBids(ctx context.Context, auctionID int64) ([]*models.AutoBid, error) {
	var autoBids []*models.AutoBid
	err := t.tx.NewSelect().
		Model(&autoBids).
		Where("auction_id = ?", auctionID).
		Where("enabled = TRUE").
		Order("registered_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get auto-bids: %w", err)
	}
	return autoBids, nil
}

func (t *storeTx) GetAutoBid(ctx context.Context, auctionID int64, bidderID string) (*models.AutoBid, error) {
	ab := new(models.AutoBid)
	err := t.tx.NewSelect().
		Model(ab).
		Where("auction_id = ?", auctionID).
		Where("bidder_id = ?", bidderID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get auto-bid: %w", err)
	}
	return ab, nil
}

func (t *storeTx) SaveAutoBid(ctx context.Context, ab *models.AutoBid) error {
	_, err := t.tx.NewInsert().
		Model(ab).
		On("CONFLICT (auction_id, bidder_id) DO UPDATE").
		Set("max_amount = EXCLUDED.max_amount").
		Set("enabled = EXCLUDED.enabled").
		Set("registered_at = EXCLUDED.registered_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save auto-bid: %w", err)
	}
	return nil
}

func (t *storeTx) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	if _, err := t.tx.NewInsert().Model(txn).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (t *storeTx) InsertContactExchange(ctx context.Context, ce *models.ContactExchange) error {
	if _, err := t.tx.NewInsert().Model(ce).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert contact exchange: %w", err)
	}
	return nil
}
