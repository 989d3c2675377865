package models

import (
	"time"

	"github.com/uptrace/bun"
)

type AuctionStatus string

const (
	AuctionStatusDraft     AuctionStatus = "draft"
	AuctionStatusScheduled AuctionStatus = "scheduled"
	AuctionStatusLive      AuctionStatus = "live"
	AuctionStatusEnded     AuctionStatus = "ended"
	AuctionStatusCancelled AuctionStatus = "cancelled"
	AuctionStatusSold      AuctionStatus = "sold"
)

// Terminal reports whether no further transition out of the status is legal.
func (s AuctionStatus) Terminal() bool {
	return s == AuctionStatusEnded || s == AuctionStatusCancelled || s == AuctionStatusSold
}

type Auction struct {
	bun.BaseModel `bun:"table:auctions,alias:a"`

	ID      int64  `bun:"id,pk,autoincrement"`
	Code    string `bun:"code,notnull,unique"`
	OwnerID string `bun:"owner_id,notnull"`

	StartPrice   int64 `bun:"start_price,notnull"`
	ReservePrice int64 `bun:"reserve_price"` // 0 = no reserve
	BuyNowPrice  int64 `bun:"buy_now_price"` // 0 = no buy-now
	CurrentPrice int64 `bun:"current_price,notnull"`
	ReserveMet   bool  `bun:"reserve_met,notnull"`

	Status      AuctionStatus `bun:"status,notnull"`
	TopBidderID string        `bun:"top_bidder_id"`
	BidCount    int           `bun:"bid_count,notnull"`
	LastBidTime time.Time     `bun:"last_bid_time"`

	StartTime       time.Time `bun:"start_time,notnull"`
	EndTime         time.Time `bun:"end_time,notnull"`
	AntiSnipeWindow int64     `bun:"anti_snipe_seconds"` // seconds; 0 disables extension

	// Optimistic concurrency counter, bumped on every committed write.
	Version int64 `bun:"version,notnull"`

	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

func (a *Auction) HasReserve() bool { return a.ReservePrice > 0 }
func (a *Auction) HasBuyNow() bool  { return a.BuyNowPrice > 0 }

// SnipeWindow returns the anti-sniping window as a duration.
func (a *Auction) SnipeWindow() time.Duration {
	return time.Duration(a.AntiSnipeWindow) * time.Second
}

type BidOrigin string

const (
	BidOriginManual BidOrigin = "manual"
	BidOriginAuto   BidOrigin = "auto"
)

type Bid struct {
	bun.BaseModel `bun:"table:bids,alias:b"`

	ID        int64     `bun:"id,pk,autoincrement"`
	AuctionID int64     `bun:"auction_id,notnull"`
	BidderID  string    `bun:"bidder_id,notnull"`
	Amount    int64     `bun:"amount,notnull"`
	Origin    BidOrigin `bun:"origin,notnull"`

	CreatedAt time.Time `bun:"created_at,notnull"`
}

// AutoBid is a bidder's standing proxy-bid ceiling for one auction.
// At most one row exists per (auction_id, bidder_id).
type AutoBid struct {
	bun.BaseModel `bun:"table:auto_bids,alias:ab"`

	ID           int64     `bun:"id,pk,autoincrement"`
	AuctionID    int64     `bun:"auction_id,notnull"`
	BidderID     string    `bun:"bidder_id,notnull"`
	MaxAmount    int64     `bun:"max_amount,notnull"`
	Enabled      bool      `bun:"enabled,notnull"`
	RegisteredAt time.Time `bun:"registered_at,notnull"`
}
