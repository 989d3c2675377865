package auction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidhaus/bidhaus/bidhaus/database/models"
)

func newTestManager(t *testing.T, store *memStore) *Manager {
	t.Helper()
	m, err := NewManager(store, NewNotifier(1024), Config{
		BidRate:  1000,
		BidBurst: 1000,
	})
	require.NoError(t, err)
	return m
}

func drainEvents(m *Manager) []Event {
	var out []Event
	for {
		select {
		case ev := <-m.Notifier().Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventTypes(events []Event) []EventType {
	out := make([]EventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func TestPlaceBidFirstBid(t *testing.T) {
	store := newMemStore()
	m := newTestManager(t, store)
	a := store.addAuction(liveAuction(10))

	result, err := m.PlaceBid(context.Background(), a.ID, "alice", 10, false)
	require.NoError(t, err)

	assert.Equal(t, int64(10), result.NewHighestPrice)
	assert.Equal(t, "alice", result.TopBidderID)
	assert.False(t, result.WasBuyNow)

	bids, err := m.AuctionBids(context.Background(), a.ID)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	assert.Equal(t, models.BidOriginManual, bids[0].Origin)

	assert.Contains(t, eventTypes(drainEvents(m)), EventFirstBidPlaced)
}

func TestPlaceBidBelowMinimum(t *testing.T) {
	store := newMemStore()
	m := newTestManager(t, store)
	a := store.addAuction(liveAuction(10))

	_, err := m.PlaceBid(context.Background(), a.ID, "alice", 15, false)
	require.NoError(t, err)

	// Current price 15, tier step 5: the floor is 20.
	_, err = m.PlaceBid(context.Background(), a.ID, "bob", 17, false)
	mbe, ok := AsMinimumBidError(err)
	require.True(t, ok)
	assert.Equal(t, int64(20), mbe.Required)

	_, err = m.PlaceBid(context.Background(), a.ID, "bob", 20, false)
	assert.NoError(t, err)
}

func TestPlaceBidGranularity(t *testing.T) {
	store := newMemStore()
	a := store.addAuction(liveAuction(10))

	m, err := NewManager(store, NewNotifier(16), Config{
		CurrencyUnit: 5,
		BidRate:      1000,
		BidBurst:     1000,
	})
	require.NoError(t, err)

	_, err = m.PlaceBid(context.Background(), a.ID, "alice", 17, false)
	assert.ErrorIs(t, err, ErrInvalidGranularity)

	_, err = m.PlaceBid(context.Background(), a.ID, "alice", -5, false)
	assert.ErrorIs(t, err, ErrInvalidGranularity)

	_, err = m.PlaceBid(context.Background(), a.ID, "alice", 15, false)
	assert.NoError(t, err)
}

func TestPlaceBidStateErrors(t *testing.T) {
	store := newMemStore()
	m := newTestManager(t, store)

	_, err := m.PlaceBid(context.Background(), 404, "alice", 10, false)
	assert.ErrorIs(t, err, ErrAuctionNotFound)

	ended := liveAuction(10)
	ended.Status = models.AuctionStatusEnded
	store.addAuction(ended)
	_, err = m.PlaceBid(context.Background(), ended.ID, "alice", 10, false)
	assert.ErrorIs(t, err, ErrAuctionNotLive)

	expired := liveAuction(10)
	expired.EndTime = time.Now().Add(-time.Minute)
	store.addAuction(expired)
	_, err = m.PlaceBid(context.Background(), expired.ID, "alice", 10, false)
	assert.ErrorIs(t, err, ErrWindowClosed)

	own := store.addAuction(liveAuction(10))
	_, err = m.PlaceBid(context.Background(), own.ID, "seller", 10, false)
	assert.ErrorIs(t, err, ErrOwnerCannotBid)
}

func TestPlaceBidBuyNow(t *testing.T) {
	store := newMemStore()
	m := newTestManager(t, store)

	a := liveAuction(10)
	a.BuyNowPrice = 200
	store.addAuction(a)

	result, err := m.PlaceBid(context.Background(), a.ID, "alice", 0, true)
	require.NoError(t, err)
	assert.True(t, result.WasBuyNow)
	assert.Equal(t, int64(200), result.NewHighestPrice)

	got, err := store.Auction(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusSold, got.Status)

	txn := store.transaction(a.ID)
	require.NotNil(t, txn)
	assert.Equal(t, int64(200), txn.FinalPrice)
	assert.Equal(t, "alice", txn.BuyerID)
	assert.Equal(t, "seller", txn.SellerID)

	ce := store.contactExchange(a.ID)
	require.NotNil(t, ce)
	assert.Equal(t, models.ContactExchangeApproved, ce.Status)

	events := drainEvents(m)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, EventAuctionEnded, last.Type)
	assert.True(t, last.Sold)

	// A sold auction takes no further bids.
	_, err = m.PlaceBid(context.Background(), a.ID, "bob", 500, false)
	assert.ErrorIs(t, err, ErrAuctionNotLive)
}

func TestPlaceBidBuyNowUnavailable(t *testing.T) {
	store := newMemStore()
	m := newTestManager(t, store)

	plain := store.addAuction(liveAuction(10))
	_, err := m.PlaceBid(context.Background(), plain.ID, "alice", 0, true)
	assert.ErrorIs(t, err, ErrBuyNowUnavailable)

	// Once the reserve is met the buy-now option disappears.
	reserved := liveAuction(10)
	reserved.ReservePrice = 20
	reserved.BuyNowPrice = 200
	store.addAuction(reserved)

	_, err = m.PlaceBid(context.Background(), reserved.ID, "alice", 25, false)
	require.NoError(t, err)

	_, err = m.PlaceBid(context.Background(), reserved.ID, "bob", 0, true)
	assert.ErrorIs(t, err, ErrBuyNowUnavailable)
}

// A standing price at or above the buy-now price removes the buy-now
// option; accepting it would lower the price and sell to a smaller
// commitment than the high bid.
func TestPlaceBidBuyNowBelowCurrentPrice(t *testing.T) {
	store := newMemStore()
	m := newTestManager(t, store)
	ctx := context.Background()

	a := liveAuction(10)
	a.BuyNowPrice = 200
	store.addAuction(a)

	_, err := m.PlaceBid(ctx, a.ID, "alice", 250, false)
	require.NoError(t, err)

	_, err = m.PlaceBid(ctx, a.ID, "bob", 0, true)
	assert.ErrorIs(t, err, ErrBuyNowUnavailable)

	got, _ := store.Auction(ctx, a.ID)
	assert.Equal(t, int64(250), got.CurrentPrice, "price never decreases")
	assert.Equal(t, "alice", got.TopBidderID)
	assert.Equal(t, models.AuctionStatusLive, got.Status)
	assert.Nil(t, store.transaction(a.ID))

	bids, _ := m.AuctionBids(ctx, a.ID)
	assert.Len(t, bids, 1, "the rejected buy-now leaves no ledger row")

	// Exactly at the buy-now price the standing bid already covers it.
	b := liveAuction(10)
	b.BuyNowPrice = 200
	store.addAuction(b)
	_, err = m.PlaceBid(ctx, b.ID, "alice", 200, false)
	require.NoError(t, err)
	_, err = m.PlaceBid(ctx, b.ID, "bob", 0, true)
	assert.ErrorIs(t, err, ErrBuyNowUnavailable)
}

// A buy-now that crosses the reserve reports the crossing before the
// closing event, like the manual-bid path does.
func TestPlaceBidBuyNowCrossesReserve(t *testing.T) {
	store := newMemStore()
	m := newTestManager(t, store)

	a := liveAuction(10)
	a.ReservePrice = 150
	a.BuyNowPrice = 200
	store.addAuction(a)

	_, err := m.PlaceBid(context.Background(), a.ID, "alice", 0, true)
	require.NoError(t, err)

	got, _ := store.Auction(context.Background(), a.ID)
	assert.True(t, got.ReserveMet)

	types := eventTypes(drainEvents(m))
	assert.Contains(t, types, EventReserveMet)
	assert.Equal(t, EventAuctionEnded, types[len(types)-1])
}

func TestPlaceBidAntiSnipeExtension(t *testing.T) {
	store := newMemStore()
	m := newTestManager(t, store)

	a := liveAuction(10)
	a.EndTime = time.Now().Add(30 * time.Second)
	a.AntiSnipeWindow = 120
	store.addAuction(a)
	originalEnd := a.EndTime

	result, err := m.PlaceBid(context.Background(), a.ID, "alice", 10, false)
	require.NoError(t, err)
	assert.True(t, result.EndTime.After(originalEnd))

	assert.Contains(t, eventTypes(drainEvents(m)), EventAuctionExtended)
}

func TestPlaceBidReserveMet(t *testing.T) {
	store := newMemStore()
	m := newTestManager(t, store)

	a := liveAuction(10)
	a.ReservePrice = 50
	store.addAuction(a)

	_, err := m.PlaceBid(context.Background(), a.ID, "alice", 30, false)
	require.NoError(t, err)
	got, _ := store.Auction(context.Background(), a.ID)
	assert.False(t, got.ReserveMet)

	_, err = m.PlaceBid(context.Background(), a.ID, "bob", 50, false)
	require.NoError(t, err)
	got, _ = store.Auction(context.Background(), a.ID)
	assert.True(t, got.ReserveMet)

	assert.Contains(t, eventTypes(drainEvents(m)), EventReserveMet)
}

func TestPlaceBidTriggersAutoResolution(t *testing.T) {
	store := newMemStore()
	m := newTestManager(t, store)
	a := store.addAuction(liveAuction(10))

	require.NoError(t, m.SetAutoBid(context.Background(), a.ID, "alice", 50))

	// Registration alone places no bid.
	got, _ := store.Auction(context.Background(), a.ID)
	assert.Equal(t, 0, got.BidCount)
	assert.Equal(t, int64(10), got.CurrentPrice)

	result, err := m.PlaceBid(context.Background(), a.ID, "bob", 30, false)
	require.NoError(t, err)

	assert.True(t, result.WasAutoResolved)
	assert.Equal(t, "alice", result.TopBidderID)
	assert.Equal(t, int64(35), result.NewHighestPrice)

	bids, _ := m.AuctionBids(context.Background(), a.ID)
	require.Len(t, bids, 2)
	assert.Equal(t, models.BidOriginAuto, bids[1].Origin)
}

func TestPlaceBidConflictRetry(t *testing.T) {
	store := newMemStore()
	m := newTestManager(t, store)
	a := store.addAuction(liveAuction(10))

	store.conflicts = 1
	_, err := m.PlaceBid(context.Background(), a.ID, "alice", 10, false)
	assert.NoError(t, err, "a single conflict is retried internally")

	store.conflicts = 10
	_, err = m.PlaceBid(context.Background(), a.ID, "bob", 15, false)
	assert.ErrorIs(t, err, ErrAggregateConflict)
}

func TestPlaceBidRateLimited(t *testing.T) {
	store := newMemStore()
	a := store.addAuction(liveAuction(10))

	m, err := NewManager(store, NewNotifier(16), Config{
		BidRate:  0.001,
		BidBurst: 1,
	})
	require.NoError(t, err)

	_, err = m.PlaceBid(context.Background(), a.ID, "alice", 10, false)
	require.NoError(t, err)

	_, err = m.PlaceBid(context.Background(), a.ID, "alice", 15, false)
	assert.ErrorIs(t, err, ErrRateLimited)

	// A different bidder has their own bucket.
	_, err = m.PlaceBid(context.Background(), a.ID, "bob", 15, false)
	assert.NoError(t, err)
}

func TestNextMinBid(t *testing.T) {
	store := newMemStore()
	m := newTestManager(t, store)
	a := store.addAuction(liveAuction(10))

	min, err := m.NextMinBid(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), min, "start price before any bid")

	// The accepted minimum composes: bidding exactly NextMinBid always
	// succeeds.
	for i := 0; i < 5; i++ {
		min, err = m.NextMinBid(context.Background(), a.ID)
		require.NoError(t, err)
		bidder := "alice"
		if i%2 == 1 {
			bidder = "bob"
		}
		_, err = m.PlaceBid(context.Background(), a.ID, bidder, min, false)
		require.NoError(t, err)
	}

	_, err = m.NextMinBid(context.Background(), 404)
	assert.ErrorIs(t, err, ErrAuctionNotFound)
}

func TestSetAutoBid(t *testing.T) {
	store := newMemStore()
	m := newTestManager(t, store)
	a := store.addAuction(liveAuction(10))
	ctx := context.Background()

	err := m.SetAutoBid(ctx, a.ID, "seller", 50)
	assert.ErrorIs(t, err, ErrOwnerCannotBid)

	err = m.SetAutoBid(ctx, a.ID, "alice", 5)
	_, ok := AsMinimumBidError(err)
	assert.True(t, ok, "ceiling below the current minimum is rejected")

	require.NoError(t, m.SetAutoBid(ctx, a.ID, "alice", 50))

	ab, err := m.GetAutoBid(ctx, a.ID, "alice")
	require.NoError(t, err)
	require.NotNil(t, ab)
	assert.Equal(t, int64(50), ab.MaxAmount)
	assert.True(t, ab.Enabled)

	// Ceilings can only be raised.
	err = m.SetAutoBid(ctx, a.ID, "alice", 40)
	assert.ErrorIs(t, err, ErrAutoBidNotRaised)

	require.NoError(t, m.SetAutoBid(ctx, a.ID, "alice", 80))
	ab, err = m.GetAutoBid(ctx, a.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(80), ab.MaxAmount)

	missing, err := m.GetAutoBid(ctx, a.ID, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCancelAuction(t *testing.T) {
	store := newMemStore()
	m := newTestManager(t, store)
	ctx := context.Background()

	a := store.addAuction(liveAuction(10))

	err := m.CancelAuction(ctx, a.ID, "mallory")
	assert.ErrorIs(t, err, ErrNotAuctionOwner)

	require.NoError(t, m.CancelAuction(ctx, a.ID, "seller"))
	got, _ := store.Auction(ctx, a.ID)
	assert.Equal(t, models.AuctionStatusCancelled, got.Status)

	err = m.CancelAuction(ctx, a.ID, "seller")
	assert.ErrorIs(t, err, ErrAuctionNotLive)

	// With a bid on the books the seller is committed.
	b := store.addAuction(liveAuction(10))
	_, err = m.PlaceBid(ctx, b.ID, "alice", 10, false)
	require.NoError(t, err)
	err = m.CancelAuction(ctx, b.ID, "seller")
	assert.ErrorIs(t, err, ErrAuctionHasBids)
}

// Concurrent bidders: the price never decreases and the ledger amounts are
// strictly increasing regardless of interleaving.
func TestPlaceBidConcurrent(t *testing.T) {
	store := newMemStore()
	m := newTestManager(t, store)
	a := store.addAuction(liveAuction(10))
	ctx := context.Background()

	var wg sync.WaitGroup
	bidders := []string{"b1", "b2", "b3", "b4", "b5", "b6", "b7", "b8"}
	for i, bidder := range bidders {
		wg.Add(1)
		go func(bidder string, amount int64) {
			defer wg.Done()
			_, err := m.PlaceBid(ctx, a.ID, bidder, amount, false)
			if err != nil {
				var mbe *MinimumBidError
				if !errors.As(err, &mbe) && !errors.Is(err, ErrAggregateConflict) {
					t.Errorf("unexpected error: %v", err)
				}
			}
		}(bidder, int64(10+i*25))
	}
	wg.Wait()

	bids, err := m.AuctionBids(ctx, a.ID)
	require.NoError(t, err)
	require.NotEmpty(t, bids)
	for i := 1; i < len(bids); i++ {
		assert.Greater(t, bids[i].Amount, bids[i-1].Amount)
	}

	got, _ := store.Auction(ctx, a.ID)
	assert.Equal(t, bids[len(bids)-1].Amount, got.CurrentPrice)
	assert.Equal(t, len(bids), got.BidCount)
}
