package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"

	"github.com/bidhaus/bidhaus/bidhaus/database/models"
)

const (
	snapshotCacheSize = 10000
	limiterCacheSize  = 10000

	defaultMaxAttempts  = 3
	defaultSnapshotTTL  = 2 * time.Second
	defaultCurrencyUnit = 1
	defaultBidRate      = rate.Limit(1) // bids per second per bidder
	defaultBidBurst     = 5
)

// Config tunes the bid engine. Zero values fall back to defaults.
type Config struct {
	IncrementTiers []IncrementTier

	// CurrencyUnit is the granularity every amount must be a multiple of.
	CurrencyUnit int64

	// MaxAttempts bounds internal retries on an aggregate conflict.
	MaxAttempts int

	// SnapshotTTL bounds how stale a cached NextMinBid answer may be.
	SnapshotTTL time.Duration

	// BidRate / BidBurst shape the per-bidder token bucket.
	BidRate  rate.Limit
	BidBurst int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.CurrencyUnit <= 0 {
		out.CurrencyUnit = defaultCurrencyUnit
	}
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = defaultMaxAttempts
	}
	if out.SnapshotTTL <= 0 {
		out.SnapshotTTL = defaultSnapshotTTL
	}
	if out.BidRate <= 0 {
		out.BidRate = defaultBidRate
	}
	if out.BidBurst <= 0 {
		out.BidBurst = defaultBidBurst
	}
	return out
}

// BidResult is returned to the caller after a committed bid.
type BidResult struct {
	NewHighestPrice int64
	TopBidderID     string
	WasBuyNow       bool
	WasAutoResolved bool
	EndTime         time.Time
}

type priceSnapshot struct {
	minBid  int64
	takenAt time.Time
}

// Manager is the transactional entry point for bidding. All aggregate
// mutation happens inside Store.Update critical sections; events leave
// through the notifier only after commit.
type Manager struct {
	store    Store
	inc      *IncrementPolicy
	notifier *Notifier
	cfg      Config

	snapshots *lru.Cache // auctionID -> priceSnapshot
	limiters  *lru.Cache // bidderID -> *rate.Limiter
	limiterMu sync.Mutex

	now func() time.Time
}

func NewManager(store Store, notifier *Notifier, cfg Config) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("auction store cannot be nil")
	}
	if notifier == nil {
		notifier = NewNotifier(0)
	}
	cfg = cfg.withDefaults()

	inc, err := NewIncrementPolicy(cfg.IncrementTiers)
	if err != nil {
		return nil, fmt.Errorf("invalid increment table: %w", err)
	}

	snapshots, _ := lru.New(snapshotCacheSize)
	limiters, _ := lru.New(limiterCacheSize)

	return &Manager{
		store:     store,
		inc:       inc,
		notifier:  notifier,
		cfg:       cfg,
		snapshots: snapshots,
		limiters:  limiters,
		now:       time.Now,
	}, nil
}

// Notifier exposes the event stream consumer.
func (m *Manager) Notifier() *Notifier { return m.notifier }

// Increment exposes the policy for read paths and the finalizer.
func (m *Manager) Increment() *IncrementPolicy { return m.inc }

// PlaceBid atomically accepts or rejects a bid, resolving proxy
// competition and extending the deadline as needed. On an aggregate
// conflict the whole operation is retried from a fresh read up to the
// configured bound.
func (m *Manager) PlaceBid(ctx context.Context, auctionID int64, bidderID string, amount int64, isBuyNow bool) (*BidResult, error) {
	if !m.limiter(bidderID).Allow() {
		return nil, ErrRateLimited
	}
	// Buy-now ignores amount; the price is the listed buy-now price.
	if !isBuyNow && (amount <= 0 || amount%m.cfg.CurrencyUnit != 0) {
		return nil, ErrInvalidGranularity
	}

	var lastErr error
	for attempt := 0; attempt < m.cfg.MaxAttempts; attempt++ {
		result, events, err := m.placeBidOnce(ctx, auctionID, bidderID, amount, isBuyNow)
		if err == nil {
			m.snapshots.Remove(auctionID)
			m.notifier.Publish(events...)
			slog.Info("bid committed",
				slog.Int64("auction_id", auctionID),
				slog.String("bidder_id", bidderID),
				slog.Int64("price", result.NewHighestPrice),
				slog.Bool("buy_now", result.WasBuyNow),
				slog.Bool("auto_resolved", result.WasAutoResolved))
			return result, nil
		}
		if !errors.Is(err, ErrAggregateConflict) {
			return nil, err
		}
		lastErr = err
		slog.Warn("bid lost aggregate race, retrying",
			slog.Int64("auction_id", auctionID),
			slog.String("bidder_id", bidderID),
			slog.Int("attempt", attempt+1))
	}
	return nil, fmt.Errorf("bid on auction %d failed after %d attempts: %w",
		auctionID, m.cfg.MaxAttempts, lastErr)
}

// placeBidOnce is one full pass of §validate → apply → resolve → commit.
func (m *Manager) placeBidOnce(ctx context.Context, auctionID int64, bidderID string, amount int64, isBuyNow bool) (*BidResult, []Event, error) {
	var (
		result BidResult
		events []Event
	)

	err := m.store.Update(ctx, func(ctx context.Context, tx Tx) error {
		a, err := tx.AuctionForUpdate(ctx, auctionID)
		if err != nil {
			return err
		}
		now := m.now()
		expectedVersion := a.Version

		if err := m.validateBid(a, bidderID, amount, isBuyNow, now); err != nil {
			return err
		}

		events = events[:0]

		if isBuyNow {
			bid, flags := applyBid(a, bidderID, a.BuyNowPrice, models.BidOriginManual, now)
			a.Status = models.AuctionStatusSold
			if err := tx.InsertBid(ctx, bid); err != nil {
				return fmt.Errorf("failed to record buy-now bid: %w", err)
			}
			if err := m.recordSale(ctx, tx, a, now); err != nil {
				return err
			}
			if err := tx.UpdateAuction(ctx, a, expectedVersion); err != nil {
				return err
			}

			if flags.reserveJustMet {
				ev := newEvent(EventReserveMet, a.ID, a.Code)
				ev.Amount = a.CurrentPrice
				events = append(events, ev)
			}

			ev := newEvent(EventAuctionEnded, a.ID, a.Code)
			ev.Sold = true
			ev.FinalPrice = a.CurrentPrice
			ev.BuyerID = bidderID
			events = append(events, ev)

			result = BidResult{
				NewHighestPrice: a.CurrentPrice,
				TopBidderID:     bidderID,
				WasBuyNow:       true,
				EndTime:         a.EndTime,
			}
			return nil
		}

		prevBidder := a.TopBidderID
		bid, flags := applyBid(a, bidderID, amount, models.BidOriginManual, now)
		if err := tx.InsertBid(ctx, bid); err != nil {
			return fmt.Errorf("failed to record bid: %w", err)
		}

		if flags.firstBid {
			ev := newEvent(EventFirstBidPlaced, a.ID, a.Code)
			ev.BidderID = bidderID
			ev.Amount = amount
			events = append(events, ev)
		}
		if prevBidder != "" && prevBidder != bidderID {
			ev := newEvent(EventOutbid, a.ID, a.Code)
			ev.BidderID = bidderID
			ev.PreviousBidderID = prevBidder
			ev.Amount = amount
			events = append(events, ev)
		}
		if flags.reserveJustMet {
			ev := newEvent(EventReserveMet, a.ID, a.Code)
			ev.Amount = a.CurrentPrice
			events = append(events, ev)
		}
		if newEnd, ok := ShouldExtend(now, a.EndTime, a.SnipeWindow()); ok {
			a.EndTime = newEnd
			ev := newEvent(EventAuctionExtended, a.ID, a.Code)
			ev.NewEndTime = newEnd
			events = append(events, ev)
		}

		autoBids, err := tx.EnabledAutoBids(ctx, a.ID)
		if err != nil {
			return fmt.Errorf("failed to load auto-bids: %w", err)
		}
		cascade := resolveAutoBids(a, autoBids, m.inc, now)
		for _, autoBid := range cascade.bids {
			if err := tx.InsertBid(ctx, autoBid); err != nil {
				return fmt.Errorf("failed to record auto-bid: %w", err)
			}
		}
		for _, exhausted := range cascade.exhausted {
			if err := tx.SaveAutoBid(ctx, exhausted); err != nil {
				return fmt.Errorf("failed to disable exhausted auto-bid: %w", err)
			}
		}
		events = append(events, cascade.events...)

		if err := tx.UpdateAuction(ctx, a, expectedVersion); err != nil {
			return err
		}

		result = BidResult{
			NewHighestPrice: a.CurrentPrice,
			TopBidderID:     a.TopBidderID,
			WasAutoResolved: len(cascade.bids) > 0,
			EndTime:         a.EndTime,
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &result, events, nil
}

// validateBid checks every precondition against the freshly locked
// aggregate. Pure over its inputs.
func (m *Manager) validateBid(a *models.Auction, bidderID string, amount int64, isBuyNow bool, now time.Time) error {
	if a.Status != models.AuctionStatusLive {
		return ErrAuctionNotLive
	}
	if now.Before(a.StartTime) || !now.Before(a.EndTime) {
		return ErrWindowClosed
	}
	if bidderID == a.OwnerID {
		return ErrOwnerCannotBid
	}
	if isBuyNow {
		if !a.HasBuyNow() || a.ReserveMet {
			return ErrBuyNowUnavailable
		}
		// A standing price at or above the buy-now price already covers
		// it; accepting would lower the price and sell below the high bid.
		if a.CurrentPrice >= a.BuyNowPrice {
			return ErrBuyNowUnavailable
		}
		return nil
	}
	if min := m.inc.NextMinBid(a); amount < min {
		return &MinimumBidError{Required: min}
	}
	return nil
}

// recordSale writes the settlement rows for a guaranteed sale.
func (m *Manager) recordSale(ctx context.Context, tx Tx, a *models.Auction, now time.Time) error {
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
	return nil
}

// NextMinBid answers the read-side minimum for an auction. Answers are
// served from a short-lived snapshot cache; the authoritative check still
// happens inside PlaceBid.
func (m *Manager) NextMinBid(ctx context.Context, auctionID int64) (int64, error) {
	if v, ok := m.snapshots.Get(auctionID); ok {
		snap := v.(priceSnapshot)
		if m.now().Sub(snap.takenAt) < m.cfg.SnapshotTTL {
			return snap.minBid, nil
		}
		m.snapshots.Remove(auctionID)
	}

	a, err := m.store.Auction(ctx, auctionID)
	if err != nil {
		return 0, err
	}
	min := m.inc.NextMinBid(a)
	m.snapshots.Add(auctionID, priceSnapshot{minBid: min, takenAt: m.now()})
	return min, nil
}

// SetAutoBid registers or raises a bidder's proxy ceiling. Registration is
// subject to the same liveness and minimum checks as a manual bid, but
// places no bid by itself; the ceiling competes from the next accepted bid
// onward.
func (m *Manager) SetAutoBid(ctx context.Context, auctionID int64, bidderID string, maxAmount int64) error {
	if maxAmount <= 0 || maxAmount%m.cfg.CurrencyUnit != 0 {
		return ErrInvalidGranularity
	}

	err := m.store.Update(ctx, func(ctx context.Context, tx Tx) error {
		a, err := tx.AuctionForUpdate(ctx, auctionID)
		if err != nil {
			return err
		}
		now := m.now()

		if a.Status != models.AuctionStatusLive {
			return ErrAuctionNotLive
		}
		if now.Before(a.StartTime) || !now.Before(a.EndTime) {
			return ErrWindowClosed
		}
		if bidderID == a.OwnerID {
			return ErrOwnerCannotBid
		}
		if min := m.inc.NextMinBid(a); maxAmount < min {
			return &MinimumBidError{Required: min}
		}

		existing, err := tx.GetAutoBid(ctx, auctionID, bidderID)
		if err != nil {
			return fmt.Errorf("failed to load auto-bid: %w", err)
		}
		if existing != nil {
			if maxAmount < existing.MaxAmount {
				return ErrAutoBidNotRaised
			}
			existing.MaxAmount = maxAmount
			existing.Enabled = true
			existing.RegisteredAt = now
			return tx.SaveAutoBid(ctx, existing)
		}
		return tx.SaveAutoBid(ctx, &models.AutoBid{
			AuctionID:    auctionID,
			BidderID:     bidderID,
			MaxAmount:    maxAmount,
			Enabled:      true,
			RegisteredAt: now,
		})
	})
	if err != nil {
		return err
	}

	slog.Info("auto-bid registered",
		slog.Int64("auction_id", auctionID),
		slog.String("bidder_id", bidderID),
		slog.Int64("max_amount", maxAmount))
	return nil
}

// GetAutoBid returns the bidder's registration, or nil when none exists.
func (m *Manager) GetAutoBid(ctx context.Context, auctionID int64, bidderID string) (*models.AutoBid, error) {
	var out *models.AutoBid
	err := m.store.Update(ctx, func(ctx context.Context, tx Tx) error {
		ab, err := tx.GetAutoBid(ctx, auctionID, bidderID)
		if err != nil {
			return err
		}
		out = ab
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CancelAuction lets the seller withdraw a live, bid-free auction.
func (m *Manager) CancelAuction(ctx context.Context, auctionID int64, requesterID string) error {
	err := m.store.Update(ctx, func(ctx context.Context, tx Tx) error {
		a, err := tx.AuctionForUpdate(ctx, auctionID)
		if err != nil {
			return err
		}
		if a.OwnerID != requesterID {
			return ErrNotAuctionOwner
		}
		if a.Status != models.AuctionStatusLive {
			return ErrAuctionNotLive
		}
		if a.BidCount > 0 {
			return ErrAuctionHasBids
		}
		expectedVersion := a.Version
		a.Status = models.AuctionStatusCancelled
		a.UpdatedAt = m.now()
		return tx.UpdateAuction(ctx, a, expectedVersion)
	})
	if err != nil {
		return err
	}

	m.snapshots.Remove(auctionID)
	slog.Info("auction cancelled",
		slog.Int64("auction_id", auctionID),
		slog.String("seller_id", requesterID))
	return nil
}

// AuctionBids returns the committed ledger in insertion order.
func (m *Manager) AuctionBids(ctx context.Context, auctionID int64) ([]*models.Bid, error) {
	return m.store.AuctionBids(ctx, auctionID)
}

func (m *Manager) limiter(bidderID string) *rate.Limiter {
	m.limiterMu.Lock()
	defer m.limiterMu.Unlock()
	if v, ok := m.limiters.Get(bidderID); ok {
		return v.(*rate.Limiter)
	}
	l := rate.NewLimiter(m.cfg.BidRate, m.cfg.BidBurst)
	m.limiters.Add(bidderID, l)
	return l
}
