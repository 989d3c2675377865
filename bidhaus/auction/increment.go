package auction

import (
	"fmt"
	"sort"

	"github.com/bidhaus/bidhaus/bidhaus/database/models"
)

// IncrementTier maps a price band to the minimum raise inside it. A bid at
// current price p must raise by at least the step of the first tier with
// UpTo > p; the last tier's step applies above every band.
type IncrementTier struct {
	UpTo int64 `toml:"up_to"` // exclusive upper bound, 0 = open-ended
	Step int64 `toml:"step"`
}

// IncrementPolicy is the tiered minimum-raise schedule. Pure and immutable
// after construction.
type IncrementPolicy struct {
	tiers   []IncrementTier
	topStep int64
}

// DefaultIncrementTiers is the schedule used when the config omits one.
func DefaultIncrementTiers() []IncrementTier {
	return []IncrementTier{
		{UpTo: 100, Step: 5},
		{UpTo: 1_000, Step: 25},
		{UpTo: 10_000, Step: 100},
		{UpTo: 0, Step: 250},
	}
}

func NewIncrementPolicy(tiers []IncrementTier) (*IncrementPolicy, error) {
	if len(tiers) == 0 {
		tiers = DefaultIncrementTiers()
	}

	bounded := make([]IncrementTier, 0, len(tiers))
	topStep := int64(0)
	for _, t := range tiers {
		if t.Step <= 0 {
			return nil, fmt.Errorf("increment tier step must be positive, got %d", t.Step)
		}
		if t.UpTo == 0 {
			if topStep != 0 {
				return nil, fmt.Errorf("multiple open-ended increment tiers")
			}
			topStep = t.Step
			continue
		}
		if t.UpTo < 0 {
			return nil, fmt.Errorf("increment tier bound must be positive, got %d", t.UpTo)
		}
		bounded = append(bounded, t)
	}
	sort.Slice(bounded, func(i, j int) bool { return bounded[i].UpTo < bounded[j].UpTo })

	var prev int64
	for _, t := range bounded {
		if t.UpTo == prev {
			return nil, fmt.Errorf("duplicate increment tier bound %d", t.UpTo)
		}
		prev = t.UpTo
	}
	if topStep == 0 && len(bounded) > 0 {
		// No open-ended tier configured; the highest band's step extends upward.
		topStep = bounded[len(bounded)-1].Step
	}
	if topStep == 0 {
		return nil, fmt.Errorf("increment table is empty")
	}

	return &IncrementPolicy{tiers: bounded, topStep: topStep}, nil
}

// StepAt returns the minimum raise at the given current price.
func (p *IncrementPolicy) StepAt(price int64) int64 {
	for _, t := range p.tiers {
		if price < t.UpTo {
			return t.Step
		}
	}
	return p.topStep
}

// Next returns the minimum acceptable bid after a bid of amount current.
func (p *IncrementPolicy) Next(current int64) int64 {
	return current + p.StepAt(current)
}

// NextMinBid returns the minimum acceptable bid for the aggregate: the
// start price while no bids exist, one increment above the current price
// otherwise.
func (p *IncrementPolicy) NextMinBid(a *models.Auction) int64 {
	if a.BidCount == 0 {
		return a.StartPrice
	}
	return p.Next(a.CurrentPrice)
}
