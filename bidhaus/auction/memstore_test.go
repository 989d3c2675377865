package auction

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bidhaus/bidhaus/bidhaus/database/models"
)

// memStore is an in-memory Store used by the package tests. Update takes a
// full snapshot before running the callback and restores it on error, so
// rollback semantics match the real transaction.
type memStore struct {
	mu        sync.Mutex
	auctions  map[int64]*models.Auction
	bids      []*models.Bid
	autoBids  map[int64][]*models.AutoBid
	txns      map[int64]*models.Transaction
	exchanges map[int64]*models.ContactExchange

	nextAuctionID int64
	nextBidID     int64

	// conflicts injects that many ErrAggregateConflict results into
	// UpdateAuction before it behaves normally again.
	conflicts int
}

func newMemStore() *memStore {
	return &memStore{
		auctions:  make(map[int64]*models.Auction),
		autoBids:  make(map[int64][]*models.AutoBid),
		txns:      make(map[int64]*models.Transaction),
		exchanges: make(map[int64]*models.ContactExchange),
	}
}

func (s *memStore) addAuction(a *models.Auction) *models.Auction {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAuctionID++
	a.ID = s.nextAuctionID
	s.auctions[a.ID] = cloneAuction(a)
	return a
}

func (s *memStore) addAutoBid(ab *models.AutoBid) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoBids[ab.AuctionID] = append(s.autoBids[ab.AuctionID], cloneAutoBid(ab))
}

func (s *memStore) transaction(auctionID int64) *models.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txns[auctionID]
}

func (s *memStore) contactExchange(auctionID int64) *models.ContactExchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exchanges[auctionID]
}

func (s *memStore) Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(ctx, &memTx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *memStore) Auction(ctx context.Context, auctionID int64) (*models.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[auctionID]
	if !ok {
		return nil, ErrAuctionNotFound
	}
	return cloneAuction(a), nil
}

func (s *memStore) AuctionByCode(ctx context.Context, code string) (*models.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.auctions {
		if a.Code == code {
			return cloneAuction(a), nil
		}
	}
	return nil, ErrAuctionNotFound
}

func (s *memStore) ExpiredLive(ctx context.Context, limit int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var expired []*models.Auction
	for _, a := range s.auctions {
		if a.Status == models.AuctionStatusLive && !a.EndTime.After(now) {
			expired = append(expired, a)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].EndTime.Before(expired[j].EndTime) })

	var ids []int64
	for _, a := range expired {
		if len(ids) >= limit {
			break
		}
		ids = append(ids, a.ID)
	}
	return ids, nil
}

func (s *memStore) AuctionBids(ctx context.Context, auctionID int64) ([]*models.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Bid
	for _, b := range s.bids {
		if b.AuctionID == auctionID {
			out = append(out, cloneBid(b))
		}
	}
	return out, nil
}

type memTx struct {
	s *memStore
}

func (t *memTx) AuctionForUpdate(ctx context.Context, auctionID int64) (*models.Auction, error) {
	a, ok := t.s.auctions[auctionID]
	if !ok {
		return nil, ErrAuctionNotFound
	}
	return cloneAuction(a), nil
}

func (t *memTx) UpdateAuction(ctx context.Context, a *models.Auction, expectedVersion int64) error {
	stored, ok := t.s.auctions[a.ID]
	if !ok {
		return ErrAuctionNotFound
	}
	if t.s.conflicts > 0 {
		t.s.conflicts--
		return ErrAggregateConflict
	}
	if stored.Version != expectedVersion {
		return ErrAggregateConflict
	}
	a.Version = expectedVersion + 1
	t.s.auctions[a.ID] = cloneAuction(a)
	return nil
}

func (t *memTx) InsertBid(ctx context.Context, b *models.Bid) error {
	t.s.nextBidID++
	b.ID = t.s.nextBidID
	t.s.bids = append(t.s.bids, cloneBid(b))
	return nil
}

func (t *memTx) EnabledAutoBids(ctx context.Context, auctionID int64) ([]*models.AutoBid, error) {
	var out []*models.AutoBid
	for _, ab := range t.s.autoBids[auctionID] {
		if ab.Enabled {
			out = append(out, cloneAutoBid(ab))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegisteredAt.Before(out[j].RegisteredAt) })
	return out, nil
}

func (t *memTx) GetAutoBid(ctx context.Context, auctionID int64, bidderID string) (*models.AutoBid, error) {
	for _, ab := range t.s.autoBids[auctionID] {
		if ab.BidderID == bidderID {
			return cloneAutoBid(ab), nil
		}
	}
	return nil, nil
}

func (t *memTx) SaveAutoBid(ctx context.Context, ab *models.AutoBid) error {
	list := t.s.autoBids[ab.AuctionID]
	for i, existing := range list {
		if existing.BidderID == ab.BidderID {
			list[i] = cloneAutoBid(ab)
			return nil
		}
	}
	t.s.autoBids[ab.AuctionID] = append(list, cloneAutoBid(ab))
	return nil
}

func (t *memTx) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	cp := *txn
	t.s.txns[txn.AuctionID] = &cp
	return nil
}

func (t *memTx) InsertContactExchange(ctx context.Context, ce *models.ContactExchange) error {
	cp := *ce
	t.s.exchanges[ce.AuctionID] = &cp
	return nil
}

type memSnapshot struct {
	auctions  map[int64]*models.Auction
	bids      []*models.Bid
	autoBids  map[int64][]*models.AutoBid
	txns      map[int64]*models.Transaction
	exchanges map[int64]*models.ContactExchange
	nextBidID int64
}

func (s *memStore) snapshot() memSnapshot {
	snap := memSnapshot{
		auctions:  make(map[int64]*models.Auction, len(s.auctions)),
		bids:      make([]*models.Bid, len(s.bids)),
		autoBids:  make(map[int64][]*models.AutoBid, len(s.autoBids)),
		txns:      make(map[int64]*models.Transaction, len(s.txns)),
		exchanges: make(map[int64]*models.ContactExchange, len(s.exchanges)),
		nextBidID: s.nextBidID,
	}
	for id, a := range s.auctions {
		snap.auctions[id] = cloneAuction(a)
	}
	for i, b := range s.bids {
		snap.bids[i] = cloneBid(b)
	}
	for id, list := range s.autoBids {
		cp := make([]*models.AutoBid, len(list))
		for i, ab := range list {
			cp[i] = cloneAutoBid(ab)
		}
		snap.autoBids[id] = cp
	}
	for id, txn := range s.txns {
		cp := *txn
		snap.txns[id] = &cp
	}
	for id, ce := range s.exchanges {
		cp := *ce
		snap.exchanges[id] = &cp
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.auctions = snap.auctions
	s.bids = snap.bids
	s.autoBids = snap.autoBids
	s.txns = snap.txns
	s.exchanges = snap.exchanges
	s.nextBidID = snap.nextBidID
}

func cloneAuction(a *models.Auction) *models.Auction {
	cp := *a
	return &cp
}

func cloneBid(b *models.Bid) *models.Bid {
	cp := *b
	return &cp
}

func cloneAutoBid(ab *models.AutoBid) *models.AutoBid {
	cp := *ab
	return &cp
}
