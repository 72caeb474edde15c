package twamm

import (
	"fmt"

	"twamm_go/internal/domain"
	"twamm_go/internal/journal"
	"twamm_go/pkg/fixed"
)

type poolOrder struct {
	saleRate                 fixed.Fixed
	rewardFactorAtSubmission fixed.Fixed
	withdrawn                fixed.Fixed // proceeds already paid out
	expiry                   uint64
	cancelled                bool
}

// OrderPool aggregates every long-term order selling one asset.
//
// Proceeds are attributed with a reward-per-unit-rate accumulator: an order
// that joined when the accumulator was F0 is owed saleRate*(F - F0) at any
// later F, so distribution is O(1) regardless of how many orders are open.
type OrderPool struct {
	currentSaleRate      fixed.Fixed
	rewardFactor         fixed.Fixed
	saleRateEnding       map[uint64]fixed.Fixed
	rewardFactorAtExpiry map[uint64]fixed.Fixed
	orders               map[uint64]*poolOrder

	j *journal.Journal
}

// NewOrderPool creates an empty pool. Mutations are recorded in j.
func NewOrderPool(j *journal.Journal) *OrderPool {
	return &OrderPool{
		saleRateEnding:       make(map[uint64]fixed.Fixed),
		rewardFactorAtExpiry: make(map[uint64]fixed.Fixed),
		orders:               make(map[uint64]*poolOrder),
		j:                    j,
	}
}

// CurrentSaleRate returns the aggregate rate of all selling orders.
func (p *OrderPool) CurrentSaleRate() fixed.Fixed { return p.currentSaleRate }

// RewardFactor returns the cumulative proceeds per unit of sale rate.
func (p *OrderPool) RewardFactor() fixed.Fixed { return p.rewardFactor }

// SaleRateEnding returns the rate that stops selling at step t.
func (p *OrderPool) SaleRateEnding(t uint64) fixed.Fixed { return p.saleRateEnding[t] }

// RewardFactorAtExpiry returns the accumulator frozen at expiry step t.
func (p *OrderPool) RewardFactorAtExpiry(t uint64) (fixed.Fixed, bool) {
	f, ok := p.rewardFactorAtExpiry[t]
	return f, ok
}

// DepositOrder starts an order selling saleRate per step until expiry.
func (p *OrderPool) DepositOrder(id uint64, saleRate fixed.Fixed, expiry, now uint64) error {
	if !saleRate.IsPositive() {
		return fmt.Errorf("sale rate %s: %w", saleRate, domain.ErrInvalidAmount)
	}
	if expiry <= now {
		return fmt.Errorf("expiry %d not after %d: %w", expiry, now, domain.ErrInvalidAmount)
	}
	if _, exists := p.orders[id]; exists {
		return fmt.Errorf("order %d already in pool: %w", id, domain.ErrInvalidAmount)
	}

	rate, err := p.currentSaleRate.Add(saleRate)
	if err != nil {
		return err
	}
	ending, err := p.saleRateEnding[expiry].Add(saleRate)
	if err != nil {
		return err
	}

	journal.Assign(p.j, &p.currentSaleRate, rate)
	journal.Set(p.j, p.saleRateEnding, expiry, ending)
	journal.Set(p.j, p.orders, id, &poolOrder{
		saleRate:                 saleRate,
		rewardFactorAtSubmission: p.rewardFactor,
		expiry:                   expiry,
	})
	return nil
}

// DistributePayment credits amount of proceeds to every selling order
// pro rata to its sale rate.
func (p *OrderPool) DistributePayment(amount fixed.Fixed) error {
	if amount.IsNegative() {
		return fmt.Errorf("payment %s: %w", amount, domain.ErrInvalidAmount)
	}
	if p.currentSaleRate.IsZero() {
		if !amount.IsZero() {
			return fmt.Errorf("payment %s with no sellers: %w", amount, domain.ErrInvalidAmount)
		}
		return nil
	}
	if amount.IsZero() {
		return nil
	}

	perUnit, err := amount.Div(p.currentSaleRate)
	if err != nil {
		return err
	}
	factor, err := p.rewardFactor.Add(perUnit)
	if err != nil {
		return err
	}
	journal.Assign(p.j, &p.rewardFactor, factor)
	return nil
}

// UpdateStateFromBlockExpiry retires the rate of orders expiring at t and
// freezes the accumulator for them. It must run after DistributePayment
// for the same step: orders expiring at t still earn that step's proceeds.
func (p *OrderPool) UpdateStateFromBlockExpiry(t uint64) error {
	ending, ok := p.saleRateEnding[t]
	if !ok {
		return nil
	}
	rate, err := p.currentSaleRate.Sub(ending)
	if err != nil {
		return err
	}
	if rate.IsNegative() {
		return fmt.Errorf("SALE_RATE_INVARIANT_NEGATIVE: %s - %s at %d", p.currentSaleRate, ending, t)
	}

	journal.Assign(p.j, &p.currentSaleRate, rate)
	journal.Set(p.j, p.rewardFactorAtExpiry, t, p.rewardFactor)
	journal.Delete(p.j, p.saleRateEnding, t)
	return nil
}

// CancelOrder stops an unexpired order and returns what it has not sold
// and what it has bought but not yet withdrawn.
func (p *OrderPool) CancelOrder(id, now uint64) (unsold, purchased fixed.Fixed, err error) {
	o, ok := p.orders[id]
	if !ok || o.cancelled {
		return fixed.Zero, fixed.Zero, domain.ErrNotFound
	}
	if o.expiry <= now {
		return fixed.Zero, fixed.Zero, fmt.Errorf("expired at %d: %w", o.expiry, domain.ErrNotFound)
	}

	unsold, err = o.saleRate.Mul(fixed.FromUint64(o.expiry - now))
	if err != nil {
		return fixed.Zero, fixed.Zero, err
	}
	purchased, err = p.owed(o, p.rewardFactor)
	if err != nil {
		return fixed.Zero, fixed.Zero, err
	}
	withdrawn, err := o.withdrawn.Add(purchased)
	if err != nil {
		return fixed.Zero, fixed.Zero, err
	}
	rate, err := p.currentSaleRate.Sub(o.saleRate)
	if err != nil {
		return fixed.Zero, fixed.Zero, err
	}
	ending, err := p.saleRateEnding[o.expiry].Sub(o.saleRate)
	if err != nil {
		return fixed.Zero, fixed.Zero, err
	}

	journal.Assign(p.j, &p.currentSaleRate, rate)
	if ending.IsZero() {
		journal.Delete(p.j, p.saleRateEnding, o.expiry)
	} else {
		journal.Set(p.j, p.saleRateEnding, o.expiry, ending)
	}
	journal.Assign(p.j, &o.withdrawn, withdrawn)
	journal.Assign(p.j, &o.cancelled, true)
	return unsold, purchased, nil
}

// WithdrawProceeds pays out everything the order has earned so far. After
// expiry the frozen accumulator is used, so an order never earns proceeds
// generated after it stopped selling; a second call returns zero.
func (p *OrderPool) WithdrawProceeds(id, now uint64) (fixed.Fixed, error) {
	o, ok := p.orders[id]
	if !ok || o.cancelled {
		return fixed.Zero, domain.ErrNotFound
	}

	factor := p.rewardFactor
	if now >= o.expiry {
		if frozen, ok := p.rewardFactorAtExpiry[o.expiry]; ok {
			factor = frozen
		}
	}

	purchased, err := p.owed(o, factor)
	if err != nil {
		return fixed.Zero, err
	}
	if purchased.IsZero() {
		return fixed.Zero, nil
	}
	withdrawn, err := o.withdrawn.Add(purchased)
	if err != nil {
		return fixed.Zero, err
	}
	journal.Assign(p.j, &o.withdrawn, withdrawn)
	return purchased, nil
}

// owed = saleRate*(factor - submission) - withdrawn, never negative.
func (p *OrderPool) owed(o *poolOrder, factor fixed.Fixed) (fixed.Fixed, error) {
	delta, err := factor.Sub(o.rewardFactorAtSubmission)
	if err != nil {
		return fixed.Zero, err
	}
	earned, err := o.saleRate.Mul(delta)
	if err != nil {
		return fixed.Zero, err
	}
	owed, err := earned.Sub(o.withdrawn)
	if err != nil {
		return fixed.Zero, err
	}
	if owed.IsNegative() {
		return fixed.Zero, nil
	}
	return owed, nil
}

// PoolOrderInfo is the pool-side view of one order.
type PoolOrderInfo struct {
	SaleRate                 fixed.Fixed `json:"sale_rate"`
	RewardFactorAtSubmission fixed.Fixed `json:"reward_factor_at_submission"`
	Withdrawn                fixed.Fixed `json:"withdrawn"`
	Expiry                   uint64      `json:"expiry"`
	Cancelled                bool        `json:"cancelled"`
}

// OrderInfo returns the pool-side bookkeeping for id.
func (p *OrderPool) OrderInfo(id uint64) (PoolOrderInfo, bool) {
	o, ok := p.orders[id]
	if !ok {
		return PoolOrderInfo{}, false
	}
	return PoolOrderInfo{
		SaleRate:                 o.saleRate,
		RewardFactorAtSubmission: o.rewardFactorAtSubmission,
		Withdrawn:                o.withdrawn,
		Expiry:                   o.expiry,
		Cancelled:                o.cancelled,
	}, true
}
