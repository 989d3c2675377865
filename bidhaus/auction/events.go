package auction

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventFirstBidPlaced  EventType = "first_bid_placed"
	EventOutbid          EventType = "outbid"
	EventReserveMet      EventType = "reserve_met"
	EventAuctionExtended EventType = "auction_extended"
	EventAuctionEnded    EventType = "auction_ended"
)

// Event is what the external notification collaborator consumes. Events
// are buffered during the bid transaction and published only after commit.
type Event struct {
	ID        string
	Type      EventType
	AuctionID int64
	Code      string

	BidderID         string // highest bidder at emit time
	PreviousBidderID string // set on outbid
	Amount           int64

	NewEndTime time.Time // set on auction_extended

	// Settlement fields, set on auction_ended.
	Sold       bool
	FinalPrice int64
	BuyerID    string

	OccurredAt time.Time
}

func newEvent(t EventType, auctionID int64, code string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		AuctionID:  auctionID,
		Code:       code,
		OccurredAt: time.Now(),
	}
}
