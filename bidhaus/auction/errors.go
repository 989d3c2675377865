package auction

import (
	"errors"
	"fmt"
)

var (
	ErrAuctionNotFound = errors.New("auction not found")

	// State errors: resubmitting the same request cannot succeed.
	ErrAuctionNotLive    = errors.New("auction is not live")
	ErrWindowClosed      = errors.New("bidding window is closed")
	ErrOwnerCannotBid    = errors.New("seller cannot bid on their own auction")
	ErrBuyNowUnavailable = errors.New("buy now is not available for this auction")
	ErrAuctionHasBids    = errors.New("auction already has bids")
	ErrNotAuctionOwner   = errors.New("only the seller may do this")

	// Validation errors: user-correctable.
	ErrInvalidGranularity = errors.New("amount must be a whole number of currency units")
	ErrAutoBidNotRaised   = errors.New("auto-bid maximum can only be raised")

	// ErrAggregateConflict means the commit lost a race with another writer.
	// PlaceBid retries internally; callers only see it once retries are spent.
	ErrAggregateConflict = errors.New("auction was modified concurrently")

	ErrRateLimited = errors.New("too many bid attempts, slow down")
)

// MinimumBidError rejects a bid below the policy minimum and carries the
// amount the caller must reach to retry.
type MinimumBidError struct {
	Required int64
}

func (e *MinimumBidError) Error() string {
	return fmt.Sprintf("bid below minimum, need at least %d", e.Required)
}

// AsMinimumBidError unwraps err into a *MinimumBidError if it is one.
func AsMinimumBidError(err error) (*MinimumBidError, bool) {
	var mbe *MinimumBidError
	if errors.As(err, &mbe) {
		return mbe, true
	}
	return nil, false
}
