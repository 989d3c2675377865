package auction

import (
	"time"

	"github.com/bidhaus/bidhaus/bidhaus/database/models"
)

// cascadeOutcome is everything a proxy-bid cascade produced besides the
// mutations to the aggregate itself: the auto-bid ledger rows in insertion
// order, the registrations whose ceiling was fully used, and the events to
// publish after commit.
type cascadeOutcome struct {
	bids      []*models.Bid
	exhausted []*models.AutoBid
	events    []Event
}

// resolveAutoBids runs the proxy-bid cascade after a bid has just raised
// the aggregate to its current price. It mutates a (current price, top
// bidder, reserve flag, end time, bid count) and returns the generated
// auto-bid rows. The caller persists both inside the same transaction as
// the triggering bid.
//
// Each round selects, among enabled registrations excluding the standing
// winner with max_amount >= the next minimum bid, the one with the
// greatest max_amount; ties go to the earliest registration, then the
// lexically smaller bidder ID so the order is total. The selected proxy
// raises by exactly one increment (capped at its ceiling, which disables
// it). The price strictly increases every round and is bounded above by
// the largest enabled ceiling, so the loop terminates.
//
// When two ceilings are equal the earlier registration keeps the lead: a
// proxy may not take the lead with a bid equal to its own ceiling while
// the standing winner's proxy holds the same ceiling and registered first.
func resolveAutoBids(a *models.Auction, autoBids []*models.AutoBid, inc *IncrementPolicy, now time.Time) cascadeOutcome {
	var out cascadeOutcome

	for {
		next := inc.Next(a.CurrentPrice)
		if next <= a.CurrentPrice {
			return out // defensive: a zero step would stall the cascade
		}

		selected := selectChallenger(a, autoBids, next)
		if selected == nil {
			return out // stable: nobody can outbid the standing winner
		}

		candidate := next
		if selected.MaxAmount < candidate {
			candidate = selected.MaxAmount
		}
		if candidate == selected.MaxAmount {
			selected.Enabled = false
			out.exhausted = append(out.exhausted, selected)
		}

		prevBidder := a.TopBidderID
		bid, flags := applyBid(a, selected.BidderID, candidate, models.BidOriginAuto, now)
		out.bids = append(out.bids, bid)

		if prevBidder != "" {
			ev := newEvent(EventOutbid, a.ID, a.Code)
			ev.BidderID = selected.BidderID
			ev.PreviousBidderID = prevBidder
			ev.Amount = candidate
			out.events = append(out.events, ev)
		}
		if flags.reserveJustMet {
			ev := newEvent(EventReserveMet, a.ID, a.Code)
			ev.Amount = a.CurrentPrice
			out.events = append(out.events, ev)
		}

		// Each auto-bid re-arms the quiet period exactly like a manual one.
		if newEnd, ok := ShouldExtend(now, a.EndTime, a.SnipeWindow()); ok {
			a.EndTime = newEnd
			ev := newEvent(EventAuctionExtended, a.ID, a.Code)
			ev.NewEndTime = newEnd
			out.events = append(out.events, ev)
		}
	}
}

// selectChallenger picks the proxy that fires this round, or nil when the
// standing winner cannot be outbid.
func selectChallenger(a *models.Auction, autoBids []*models.AutoBid, next int64) *models.AutoBid {
	winnerProxy := findProxy(autoBids, a.TopBidderID)

	var selected *models.AutoBid
	for _, ab := range autoBids {
		if !ab.Enabled || ab.BidderID == a.TopBidderID || ab.MaxAmount < next {
			continue
		}
		// Ceiling tie: leading at exactly your own max is only allowed
		// when it actually beats the standing winner's commitment.
		if ab.MaxAmount == next && winnerProxy != nil &&
			winnerProxy.MaxAmount == next && better(winnerProxy, ab) {
			continue
		}
		if selected == nil || better(ab, selected) {
			selected = ab
		}
	}
	return selected
}

// findProxy returns the bidder's registration regardless of enabled state.
func findProxy(autoBids []*models.AutoBid, bidderID string) *models.AutoBid {
	if bidderID == "" {
		return nil
	}
	for _, ab := range autoBids {
		if ab.BidderID == bidderID {
			return ab
		}
	}
	return nil
}

// better reports whether x beats y in cascade selection.
func better(x, y *models.AutoBid) bool {
	if x.MaxAmount != y.MaxAmount {
		return x.MaxAmount > y.MaxAmount
	}
	if !x.RegisteredAt.Equal(y.RegisteredAt) {
		return x.RegisteredAt.Before(y.RegisteredAt)
	}
	return x.BidderID < y.BidderID
}

type bidFlags struct {
	firstBid       bool
	reserveJustMet bool
}

// applyBid mutates the aggregate for one accepted bid and builds the
// ledger row. The reserve flag transition is one-way by construction.
func applyBid(a *models.Auction, bidderID string, amount int64, origin models.BidOrigin, now time.Time) (*models.Bid, bidFlags) {
	var flags bidFlags
	flags.firstBid = a.BidCount == 0

	a.CurrentPrice = amount
	a.TopBidderID = bidderID
	a.BidCount++
	a.LastBidTime = now
	a.UpdatedAt = now

	if a.HasReserve() && !a.ReserveMet && a.CurrentPrice >= a.ReservePrice {
		a.ReserveMet = true
		flags.reserveJustMet = true
	}

	return &models.Bid{
		AuctionID: a.ID,
		BidderID:  bidderID,
		Amount:    amount,
		Origin:    origin,
		CreatedAt: now,
	}, flags
}
