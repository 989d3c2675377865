package repositories

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/bidhaus/bidhaus/bidhaus/auction"
	"github.com/bidhaus/bidhaus/bidhaus/database/models"
)

const maxCodeAttempts = 5

// AuctionRegistry creates and lists auction aggregates. Bidding and
// settlement go through auction.Manager; this type only covers the
// registry reads and the seller-facing creation path.
type AuctionRegistry struct {
	db *bun.DB
}

func NewAuctionRegistry(db *bun.DB) *AuctionRegistry {
	return &AuctionRegistry{db: db}
}

// Create persists a new live auction, assigning a unique public code.
// The caller supplies prices, the bidding window and the anti-snipe
// window; everything else is initialized here.
func (r *AuctionRegistry) Create(ctx context.Context, a *models.Auction) error {
	if a.StartPrice <= 0 {
		return fmt.Errorf("start price must be positive")
	}
	if !a.EndTime.After(a.StartTime) {
		return fmt.Errorf("end time must be after start time")
	}

	now := time.Now()
	a.Status = models.AuctionStatusLive
	a.CurrentPrice = a.StartPrice
	a.TopBidderID = ""
	a.BidCount = 0
	a.ReserveMet = false
	a.Version = 0
	a.CreatedAt = now
	a.UpdatedAt = now

	// The unique constraint on code is the arbiter; collide and retry.
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := auction.GenerateCode()
		if err != nil {
			return fmt.Errorf("failed to generate auction code: %w", err)
		}
		a.Code = code

		_, err = r.db.NewInsert().Model(a).Exec(ctx)
		if err == nil {
			slog.Info("auction created",
				slog.Int64("auction_id", a.ID),
				slog.String("code", a.Code),
				slog.String("seller_id", a.OwnerID))
			return nil
		}
		if !isUniqueViolation(err) {
			return fmt.Errorf("failed to create auction: %w", err)
		}
	}
	return fmt.Errorf("failed to assign unique auction code after %d attempts", maxCodeAttempts)
}

// Live returns auctions currently open for bidding, newest first.
func (r *AuctionRegistry) Live(ctx context.Context) ([]*models.Auction, error) {
	var auctions []*models.Auction
	err := r.db.NewSelect().
		Model(&auctions).
		Where("status = ?", models.AuctionStatusLive).
		Where("end_time > ?", time.Now()).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get live auctions: %w", err)
	}
	return auctions, nil
}

// BySeller returns every auction a seller has listed, newest first.
func (r *AuctionRegistry) BySeller(ctx context.Context, sellerID string) ([]*models.Auction, error) {
	var auctions []*models.Auction
	err := r.db.NewSelect().
		Model(&auctions).
		Where("owner_id = ?", sellerID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get seller auctions: %w", err)
	}
	return auctions, nil
}

// Settlement returns the transaction recorded for a sold auction.
func (r *AuctionRegistry) Settlement(ctx context.Context, auctionID int64) (*models.Transaction, error) {
	txn := new(models.Transaction)
	err := r.db.NewSelect().
		Model(txn).
		Where("auction_id = ?", auctionID).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}
	return txn, nil
}

// ContactExchange returns the contact-exchange record for an auction.
func (r *AuctionRegistry) ContactExchange(ctx context.Context, auctionID int64) (*models.ContactExchange, error) {
	ce := new(models.ContactExchange)
	err := r.db.NewSelect().
		Model(ce).
		Where("auction_id = ?", auctionID).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get contact exchange: %w", err)
	}
	return ce, nil
}

// isUniqueViolation reports SQLSTATE 23505 (unique_violation).
func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == "23505"
}
