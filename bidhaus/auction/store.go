package auction

import (
	"context"

	"github.com/bidhaus/bidhaus/bidhaus/database/models"
)

// Tx is the slice of the store the engine drives inside one atomic commit.
// Everything mutated through a Tx becomes visible together or not at all.
type Tx interface {
	// AuctionForUpdate re-reads the aggregate with an exclusive row lock.
	// Returns ErrAuctionNotFound when no such auction exists.
	AuctionForUpdate(ctx context.Context, auctionID int64) (*models.Auction, error)

	// UpdateAuction writes the aggregate conditionally on its version
	// matching expectedVersion, bumping the version on success. Returns
	// ErrAggregateConflict when the condition fails.
	UpdateAuction(ctx context.Context, a *models.Auction, expectedVersion int64) error

	InsertBid(ctx context.Context, b *models.Bid) error

	// EnabledAutoBids returns every enabled auto-bid for the auction,
	// ordered by registration time ascending.
	EnabledAutoBids(ctx context.Context, auctionID int64) ([]*models.AutoBid, error)
	GetAutoBid(ctx context.Context, auctionID int64, bidderID string) (*models.AutoBid, error)
	// SaveAutoBid upserts on (auction_id, bidder_id).
	SaveAutoBid(ctx context.Context, ab *models.AutoBid) error

	InsertTransaction(ctx context.Context, t *models.Transaction) error
	InsertContactExchange(ctx context.Context, ce *models.ContactExchange) error
}

// Store is the durable home of auction aggregates, the bid ledger and
// auto-bid registrations. The production implementation is bun-on-Postgres
// (database/repositories); tests run against an in-memory fake.
type Store interface {
	// Update runs fn inside a serializable transaction and commits iff it
	// returns nil.
	Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Auction is a plain (unlocked) read of the aggregate.
	Auction(ctx context.Context, auctionID int64) (*models.Auction, error)
	AuctionByCode(ctx context.Context, code string) (*models.Auction, error)

	// ExpiredLive returns IDs of live auctions whose end time has passed,
	// oldest deadline first, capped at limit.
	ExpiredLive(ctx context.Context, limit int) ([]int64, error)

	// AuctionBids returns the accepted-bid ledger in insertion order.
	AuctionBids(ctx context.Context, auctionID int64) ([]*models.Bid, error)
}
