package twamm

import (
	"fmt"

	"twamm_go/internal/domain"
	"twamm_go/internal/journal"
	"twamm_go/pkg/fixed"
	"twamm_go/pkg/safe"
)

// ExecuteVirtualOrders moves reserves and both pools forward from the last
// settled step to now, stopping at every interval boundary on the way so
// that no expiry is skipped. It returns the number of settlement steps.
// Calling it again with the same or an earlier time does nothing.
func (lo *LongTermOrders) ExecuteVirtualOrders(now uint64, reserves domain.ReserveStore) (int, error) {
	if now <= lo.lastVirtualOrderTime {
		return 0, nil
	}
	steps := 0
	next, err := safe.Add(safe.FloorTo(lo.lastVirtualOrderTime, lo.interval), lo.interval)
	for err == nil && next < now {
		if lo.idle() {
			break
		}
		if err := lo.settle(next, reserves); err != nil {
			return steps, err
		}
		steps++
		next, err = safe.Add(next, lo.interval)
	}
	if lo.idle() {
		// No seller on either side: the remaining steps are no-ops.
		journal.Assign(lo.j, &lo.lastVirtualOrderTime, now)
		return steps, nil
	}
	if lo.lastVirtualOrderTime != now {
		if err := lo.settle(now, reserves); err != nil {
			return steps, err
		}
		steps++
	}
	return steps, nil
}

func (lo *LongTermOrders) idle() bool {
	return lo.pools[lo.token0].CurrentSaleRate().IsZero() &&
		lo.pools[lo.token1].CurrentSaleRate().IsZero()
}

// settle applies one settlement step ending at t.
func (lo *LongTermOrders) settle(t uint64, reserves domain.ReserveStore) error {
	elapsed := fixed.FromUint64(t - lo.lastVirtualOrderTime)
	pool0, pool1 := lo.pools[lo.token0], lo.pools[lo.token1]

	x0, err := pool0.CurrentSaleRate().Mul(elapsed)
	if err != nil {
		return fmt.Errorf("settle %d: %w", t, err)
	}
	x1, err := pool1.CurrentSaleRate().Mul(elapsed)
	if err != nil {
		return fmt.Errorf("settle %d: %w", t, err)
	}

	vb, err := ComputeVirtualBalances(reserves.Reserve(lo.token0), reserves.Reserve(lo.token1), x0, x1)
	if err != nil {
		return fmt.Errorf("settle %d: %w", t, err)
	}

	reserves.SetReserve(lo.token0, vb.End0)
	reserves.SetReserve(lo.token1, vb.End1)

	// token0 sellers are paid in token1 and vice versa.
	if err := pool0.DistributePayment(vb.Out1); err != nil {
		return fmt.Errorf("settle %d: %w", t, err)
	}
	if err := pool1.DistributePayment(vb.Out0); err != nil {
		return fmt.Errorf("settle %d: %w", t, err)
	}
	if err := pool0.UpdateStateFromBlockExpiry(t); err != nil {
		return err
	}
	if err := pool1.UpdateStateFromBlockExpiry(t); err != nil {
		return err
	}

	journal.Assign(lo.j, &lo.lastVirtualOrderTime, t)
	return nil
}
