// Package amm is the two-asset TWAMM pool: a constant-product market with
// liquidity provision, instant swaps and long-term swaps settled by the
// virtual-order executor. Every mutating call is all-or-nothing.
package amm

import (
	"errors"
	"fmt"

	"twamm_go/internal/domain"
	"twamm_go/internal/journal"
	"twamm_go/internal/twamm"
	"twamm_go/pkg/fixed"
)

// TWAMM is not safe for concurrent use; the sequencer owns it.
type TWAMM struct {
	token0, token1 domain.Asset

	clock    domain.Clock
	transfer domain.Transfer
	shares   domain.ShareLedger

	reserves *twamm.Reserves
	orders   *twamm.LongTermOrders
	j        *journal.Journal

	undoErr      error // compensation failures seen during Revert
	pendingSteps int
	onSettle     func(steps int)
}

// New creates an empty pool. Virtual orders start at the clock's current time.
func New(token0, token1 domain.Asset, orderBlockInterval uint64,
	clock domain.Clock, transfer domain.Transfer, shares domain.ShareLedger) (*TWAMM, error) {
	if clock == nil || transfer == nil || shares == nil {
		return nil, &domain.ConfigError{Field: "collaborators", Err: errors.New("clock, transfer and shares are required")}
	}
	j := journal.New()
	orders, err := twamm.New(token0, token1, orderBlockInterval, clock.CurrentTime(), j)
	if err != nil {
		return nil, err
	}
	return &TWAMM{
		token0:   token0,
		token1:   token1,
		clock:    clock,
		transfer: transfer,
		shares:   shares,
		reserves: twamm.NewReserves(j),
		orders:   orders,
		j:        j,
	}, nil
}

// atomically runs fn and either commits everything it did or reverts it.
func (a *TWAMM) atomically(fn func(now uint64) error) error {
	a.undoErr = nil
	a.pendingSteps = 0
	if err := fn(a.clock.CurrentTime()); err != nil {
		a.j.Revert()
		if a.undoErr != nil {
			return errors.Join(err, fmt.Errorf("compensation failed: %w", a.undoErr))
		}
		return err
	}
	a.j.Commit()
	if a.onSettle != nil && a.pendingSteps > 0 {
		a.onSettle(a.pendingSteps)
	}
	return nil
}

// OnSettle registers a callback run after every committed operation that
// settled virtual orders, with the number of settlement steps.
func (a *TWAMM) OnSettle(fn func(steps int)) {
	a.onSettle = fn
}

func (a *TWAMM) transferIn(asset domain.Asset, from domain.Identity, amount fixed.Fixed) error {
	if err := a.transfer.TransferIn(asset, from, amount); err != nil {
		return err
	}
	a.j.Record(func() {
		if err := a.transfer.TransferOut(asset, from, amount); err != nil {
			a.undoErr = errors.Join(a.undoErr, err)
		}
	})
	return nil
}

func (a *TWAMM) transferOut(asset domain.Asset, to domain.Identity, amount fixed.Fixed) error {
	if err := a.transfer.TransferOut(asset, to, amount); err != nil {
		return err
	}
	a.j.Record(func() {
		if err := a.transfer.TransferIn(asset, to, amount); err != nil {
			a.undoErr = errors.Join(a.undoErr, err)
		}
	})
	return nil
}

func (a *TWAMM) mint(to domain.Identity, amount fixed.Fixed) error {
	if err := a.shares.Mint(to, amount); err != nil {
		return err
	}
	a.j.Record(func() {
		if err := a.shares.Burn(to, amount); err != nil {
			a.undoErr = errors.Join(a.undoErr, err)
		}
	})
	return nil
}

func (a *TWAMM) burn(from domain.Identity, amount fixed.Fixed) error {
	if err := a.shares.Burn(from, amount); err != nil {
		return err
	}
	a.j.Record(func() {
		if err := a.shares.Mint(from, amount); err != nil {
			a.undoErr = errors.Join(a.undoErr, err)
		}
	})
	return nil
}

func (a *TWAMM) addReserve(asset domain.Asset, delta fixed.Fixed) error {
	v, err := a.reserves.Reserve(asset).Add(delta)
	if err != nil {
		return err
	}
	if v.IsNegative() {
		return fmt.Errorf("reserve %s would be %s: %w", asset, v, domain.ErrInsufficientBalance)
	}
	a.reserves.SetReserve(asset, v)
	return nil
}

func (a *TWAMM) execute(now uint64) (int, error) {
	steps, err := a.orders.ExecuteVirtualOrders(now, a.reserves)
	a.pendingSteps += steps
	return steps, err
}

func (a *TWAMM) initialized() bool {
	return a.shares.TotalSupply().IsPositive()
}

// ProvideInitialLiquidity seeds an empty pool and mints sqrt(amount0*amount1) shares.
func (a *TWAMM) ProvideInitialLiquidity(provider domain.Identity, amount0, amount1 fixed.Fixed) (fixed.Fixed, error) {
	var shares fixed.Fixed
	err := a.atomically(func(now uint64) error {
		if a.initialized() {
			return domain.ErrAlreadyInitialized
		}
		if !amount0.IsPositive() || !amount1.IsPositive() {
			return fmt.Errorf("initial liquidity %s/%s: %w", amount0, amount1, domain.ErrInvalidAmount)
		}
		if _, err := a.execute(now); err != nil {
			return err
		}

		product, err := amount0.Mul(amount1)
		if err != nil {
			return err
		}
		if shares, err = product.Sqrt(); err != nil {
			return err
		}
		if !shares.IsPositive() {
			return fmt.Errorf("initial liquidity mints no shares: %w", domain.ErrInvalidAmount)
		}

		if err := a.addReserve(a.token0, amount0); err != nil {
			return err
		}
		if err := a.addReserve(a.token1, amount1); err != nil {
			return err
		}
		if err := a.mint(provider, shares); err != nil {
			return err
		}
		if err := a.transferIn(a.token0, provider, amount0); err != nil {
			return err
		}
		return a.transferIn(a.token1, provider, amount1)
	})
	if err != nil {
		return fixed.Zero, err
	}
	return shares, nil
}

// proRata returns reserve*shares/supply for both assets. The whole supply
// gets the whole reserves, with no truncation dust left behind.
func (a *TWAMM) proRata(shares fixed.Fixed) (fixed.Fixed, fixed.Fixed, error) {
	supply := a.shares.TotalSupply()
	if shares.Equal(supply) {
		return a.reserves.Reserve(a.token0), a.reserves.Reserve(a.token1), nil
	}
	r0, err := a.reserves.Reserve(a.token0).Mul(shares)
	if err != nil {
		return fixed.Zero, fixed.Zero, err
	}
	r1, err := a.reserves.Reserve(a.token1).Mul(shares)
	if err != nil {
		return fixed.Zero, fixed.Zero, err
	}
	amount0, err := r0.Div(supply)
	if err != nil {
		return fixed.Zero, fixed.Zero, err
	}
	amount1, err := r1.Div(supply)
	if err != nil {
		return fixed.Zero, fixed.Zero, err
	}
	return amount0, amount1, nil
}

// ProvideLiquidity mints shares against a pro-rata deposit of both assets
// at the reserves left after settling virtual orders.
func (a *TWAMM) ProvideLiquidity(provider domain.Identity, shares fixed.Fixed) (amount0, amount1 fixed.Fixed, err error) {
	err = a.atomically(func(now uint64) error {
		if !a.initialized() {
			return domain.ErrNotInitialized
		}
		if !shares.IsPositive() {
			return fmt.Errorf("shares %s: %w", shares, domain.ErrInvalidAmount)
		}
		if _, err := a.execute(now); err != nil {
			return err
		}
		var err error
		if amount0, amount1, err = a.proRata(shares); err != nil {
			return err
		}
		if !amount0.IsPositive() || !amount1.IsPositive() {
			return fmt.Errorf("shares %s buy nothing: %w", shares, domain.ErrInvalidAmount)
		}

		if err := a.addReserve(a.token0, amount0); err != nil {
			return err
		}
		if err := a.addReserve(a.token1, amount1); err != nil {
			return err
		}
		if err := a.mint(provider, shares); err != nil {
			return err
		}
		if err := a.transferIn(a.token0, provider, amount0); err != nil {
			return err
		}
		return a.transferIn(a.token1, provider, amount1)
	})
	if err != nil {
		return fixed.Zero, fixed.Zero, err
	}
	return amount0, amount1, nil
}

// RemoveLiquidity burns shares and pays out the pro-rata part of both reserves.
func (a *TWAMM) RemoveLiquidity(provider domain.Identity, shares fixed.Fixed) (amount0, amount1 fixed.Fixed, err error) {
	err = a.atomically(func(now uint64) error {
		if !a.initialized() {
			return domain.ErrNotInitialized
		}
		if !shares.IsPositive() {
			return fmt.Errorf("shares %s: %w", shares, domain.ErrInvalidAmount)
		}
		if held := a.shares.BalanceOf(provider); shares.GreaterThan(held) {
			return fmt.Errorf("remove %s shares, hold %s: %w", shares, held, domain.ErrInsufficientBalance)
		}
		if _, err := a.execute(now); err != nil {
			return err
		}
		var err error
		if amount0, amount1, err = a.proRata(shares); err != nil {
			return err
		}

		if err := a.addReserve(a.token0, amount0.Neg()); err != nil {
			return err
		}
		if err := a.addReserve(a.token1, amount1.Neg()); err != nil {
			return err
		}
		if err := a.burn(provider, shares); err != nil {
			return err
		}
		if err := a.transferOut(a.token0, provider, amount0); err != nil {
			return err
		}
		return a.transferOut(a.token1, provider, amount1)
	})
	if err != nil {
		return fixed.Zero, fixed.Zero, err
	}
	return amount0, amount1, nil
}

// Swap sells amountIn of sellAsset against the reserves left after
// settling virtual orders and returns the amount bought.
func (a *TWAMM) Swap(trader domain.Identity, sellAsset domain.Asset, amountIn fixed.Fixed) (fixed.Fixed, error) {
	var amountOut fixed.Fixed
	err := a.atomically(func(now uint64) error {
		buyAsset, err := a.orders.Counterpart(sellAsset)
		if err != nil {
			return err
		}
		if !amountIn.IsPositive() {
			return fmt.Errorf("swap %s: %w", amountIn, domain.ErrInvalidAmount)
		}
		if !a.initialized() {
			return domain.ErrNotInitialized
		}
		if _, err := a.execute(now); err != nil {
			return err
		}

		rIn, rOut := a.reserves.Reserve(sellAsset), a.reserves.Reserve(buyAsset)
		num, err := rOut.Mul(amountIn)
		if err != nil {
			return err
		}
		den, err := rIn.Add(amountIn)
		if err != nil {
			return err
		}
		if amountOut, err = num.Div(den); err != nil {
			return err
		}
		if !amountOut.IsPositive() {
			return fmt.Errorf("swap %s %s buys nothing: %w", amountIn, sellAsset, domain.ErrInvalidAmount)
		}

		if err := a.addReserve(sellAsset, amountIn); err != nil {
			return err
		}
		if err := a.addReserve(buyAsset, amountOut.Neg()); err != nil {
			return err
		}
		if err := a.transferIn(sellAsset, trader, amountIn); err != nil {
			return err
		}
		return a.transferOut(buyAsset, trader, amountOut)
	})
	if err != nil {
		return fixed.Zero, err
	}
	return amountOut, nil
}

// LongTermSwap places an order selling amount of sellAsset evenly until the
// interval boundary numberOfIntervals+1 intervals ahead. The escrowed
// Deposit may be a few units below amount after sale-rate truncation.
func (a *TWAMM) LongTermSwap(trader domain.Identity, sellAsset domain.Asset, amount fixed.Fixed,
	numberOfIntervals uint64) (twamm.Order, error) {
	var order twamm.Order
	err := a.atomically(func(now uint64) error {
		if !a.initialized() {
			return domain.ErrNotInitialized
		}
		var err error
		if order, err = a.orders.CreateOrder(sellAsset, amount, numberOfIntervals, trader, now, a.reserves); err != nil {
			return err
		}
		return a.transferIn(sellAsset, trader, order.Deposit)
	})
	if err != nil {
		return twamm.Order{}, err
	}
	return order, nil
}

// CancelLongTermSwap stops an order and refunds its unsold input together
// with its unwithdrawn proceeds.
func (a *TWAMM) CancelLongTermSwap(caller domain.Identity, orderID uint64) (unsold, purchased fixed.Fixed, err error) {
	err = a.atomically(func(now uint64) error {
		order, u, p, err := a.orders.CancelOrder(orderID, caller, now, a.reserves)
		if err != nil {
			return err
		}
		unsold, purchased = u, p
		if err := a.transferOut(order.SellAsset, caller, unsold); err != nil {
			return err
		}
		return a.transferOut(order.BuyAsset, caller, purchased)
	})
	if err != nil {
		return fixed.Zero, fixed.Zero, err
	}
	return unsold, purchased, nil
}

// WithdrawProceeds pays out what an order has bought so far.
func (a *TWAMM) WithdrawProceeds(caller domain.Identity, orderID uint64) (fixed.Fixed, error) {
	var purchased fixed.Fixed
	err := a.atomically(func(now uint64) error {
		order, p, err := a.orders.WithdrawProceeds(orderID, caller, now, a.reserves)
		if err != nil {
			return err
		}
		purchased = p
		return a.transferOut(order.BuyAsset, caller, purchased)
	})
	if err != nil {
		return fixed.Zero, err
	}
	return purchased, nil
}

// ExecuteVirtualOrders settles all long-term orders up to the current time.
func (a *TWAMM) ExecuteVirtualOrders() (int, error) {
	var steps int
	err := a.atomically(func(now uint64) error {
		var err error
		steps, err = a.execute(now)
		return err
	})
	return steps, err
}
