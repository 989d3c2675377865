package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Transaction records a settled sale. Created when an auction closes sold,
// either through the finalization sweep or a buy-now purchase.
type Transaction struct {
	bun.BaseModel `bun:"table:transactions,alias:t"`

	ID         string    `bun:"id,pk"` // uuid
	AuctionID  int64     `bun:"auction_id,notnull,unique"`
	SellerID   string    `bun:"seller_id,notnull"`
	BuyerID    string    `bun:"buyer_id,notnull"`
	FinalPrice int64     `bun:"final_price,notnull"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
}

type ContactExchangeStatus string

const (
	ContactExchangePending  ContactExchangeStatus = "pending"
	ContactExchangeApproved ContactExchangeStatus = "approved"
)

// ContactExchange gates the reveal of buyer contact details to the seller.
// Auto-approved on a guaranteed sale, pending seller approval when the
// auction ended below reserve. The approval flow itself lives outside this
// core; we only create the record.
type ContactExchange struct {
	bun.BaseModel `bun:"table:contact_exchanges,alias:ce"`

	ID        string                `bun:"id,pk"` // uuid
	AuctionID int64                 `bun:"auction_id,notnull,unique"`
	SellerID  string                `bun:"seller_id,notnull"`
	BuyerID   string                `bun:"buyer_id,notnull"`
	Status    ContactExchangeStatus `bun:"status,notnull"`
	CreatedAt time.Time             `bun:"created_at,notnull"`
}
