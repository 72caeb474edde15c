package twamm

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"twamm_go/internal/domain"
	"twamm_go/internal/journal"
	"twamm_go/pkg/fixed"
)

const (
	tokenA domain.Asset = "A"
	tokenB domain.Asset = "B"
)

func setupOrders(t *testing.T, r0, r1 string) (*LongTermOrders, *Reserves, *journal.Journal) {
	t.Helper()
	j := journal.New()
	lo, err := New(tokenA, tokenB, 10, 0, j)
	require.NoError(t, err)
	res := NewReserves(j)
	res.SetReserve(tokenA, f(r0))
	res.SetReserve(tokenB, f(r1))
	j.Commit()
	return lo, res, j
}

func TestNew_RejectsBadConfig(t *testing.T) {
	_, err := New(tokenA, tokenB, 0, 0, nil)
	var cfgErr *domain.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	require.Equal(t, "order_block_interval", cfgErr.Field)

	_, err = New(tokenA, tokenA, 10, 0, nil)
	require.True(t, errors.As(err, &cfgErr))

	_, err = New("", tokenB, 10, 0, nil)
	require.True(t, errors.As(err, &cfgErr))
}

func TestLongTermOrders_WorkedExample(t *testing.T) {
	lo, res, _ := setupOrders(t, "1000", "1000")

	order, err := lo.CreateOrder(tokenA, f("100"), 0, "alice", 0, res)
	require.NoError(t, err)
	require.Equal(t, uint64(0), order.ID)
	require.Equal(t, uint64(10), order.Expiry)
	require.Equal(t, tokenB, order.BuyAsset)
	requireFixed(t, "10", order.SaleRate)
	requireFixed(t, "100", order.Deposit)

	steps, err := lo.ExecuteVirtualOrders(10, res)
	require.NoError(t, err)
	require.Equal(t, 1, steps)
	requireFixed(t, "1100", res.Reserve(tokenA))
	requireFixed(t, "909.09090909090909091", res.Reserve(tokenB))

	_, got, err := lo.WithdrawProceeds(0, "alice", 10, res)
	require.NoError(t, err)
	requireFixed(t, "90.90909090909090909", got)

	details, err := lo.Order(0)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusExpired, details.Status)
	requireFixed(t, "90.90909090909090909", details.Withdrawn)

	_, _, err = lo.WithdrawProceeds(0, "alice", 20, res)
	require.ErrorIs(t, err, domain.ErrNoProceeds)

	_, _, _, err = lo.CancelOrder(0, "alice", 20, res)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLongTermOrders_ExpiryAlignsToInterval(t *testing.T) {
	lo, res, _ := setupOrders(t, "1000", "1000")
	_, err := lo.ExecuteVirtualOrders(13, res)
	require.NoError(t, err)

	order, err := lo.CreateOrder(tokenB, f("170"), 2, "bob", 13, res)
	require.NoError(t, err)
	require.Equal(t, uint64(13), order.SubmittedAt)
	require.Equal(t, uint64(40), order.Expiry)
	requireFixed(t, "6.296296296296296296", order.SaleRate)
	requireFixed(t, "169.999999999999999992", order.Deposit)
}

func TestLongTermOrders_CreateValidation(t *testing.T) {
	lo, res, _ := setupOrders(t, "1000", "1000")

	_, err := lo.CreateOrder("C", f("1"), 0, "alice", 0, res)
	require.ErrorIs(t, err, domain.ErrInvalidAsset)

	_, err = lo.CreateOrder(tokenA, fixed.Zero, 0, "alice", 0, res)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = lo.CreateOrder(tokenA, f("-5"), 0, "alice", 0, res)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = lo.CreateOrder(tokenA, f("1"), math.MaxUint64, "alice", 0, res)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	// 1e-18 spread over 10 steps truncates to a zero rate.
	_, err = lo.CreateOrder(tokenA, f("0.000000000000000001"), 0, "alice", 0, res)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	require.Equal(t, uint64(0), lo.OrderCount())
}

func TestLongTermOrders_SettlesAtEveryBoundary(t *testing.T) {
	lo, res, _ := setupOrders(t, "1000", "1000")
	_, err := lo.CreateOrder(tokenA, f("300"), 2, "alice", 3, res)
	require.NoError(t, err)

	steps, err := lo.ExecuteVirtualOrders(25, res)
	require.NoError(t, err)
	require.Equal(t, 3, steps) // 10, 20, 25
	require.Equal(t, uint64(25), lo.LastVirtualOrderTime())
}

func TestLongTermOrders_ExecuteIsMonotonicAndIdempotent(t *testing.T) {
	lo, res, _ := setupOrders(t, "1000", "1000")
	_, err := lo.CreateOrder(tokenA, f("100"), 1, "alice", 0, res)
	require.NoError(t, err)

	_, err = lo.ExecuteVirtualOrders(12, res)
	require.NoError(t, err)
	r0, r1 := res.Reserve(tokenA), res.Reserve(tokenB)

	for _, now := range []uint64{12, 11, 0} {
		steps, err := lo.ExecuteVirtualOrders(now, res)
		require.NoError(t, err)
		require.Zero(t, steps)
		require.True(t, r0.Equal(res.Reserve(tokenA)))
		require.True(t, r1.Equal(res.Reserve(tokenB)))
		require.Equal(t, uint64(12), lo.LastVirtualOrderTime())
	}
}

func TestLongTermOrders_IdleFastForward(t *testing.T) {
	lo, res, _ := setupOrders(t, "1000", "1000")
	steps, err := lo.ExecuteVirtualOrders(1<<40, res)
	require.NoError(t, err)
	require.Zero(t, steps)
	require.Equal(t, uint64(1<<40), lo.LastVirtualOrderTime())
	requireFixed(t, "1000", res.Reserve(tokenA))
}

func TestLongTermOrders_RewardConservation(t *testing.T) {
	lo, res, _ := setupOrders(t, "1000", "1000")
	_, err := lo.CreateOrder(tokenA, f("100"), 0, "alice", 0, res)
	require.NoError(t, err)
	_, err = lo.CreateOrder(tokenA, f("300"), 0, "bob", 0, res)
	require.NoError(t, err)

	_, err = lo.ExecuteVirtualOrders(10, res)
	require.NoError(t, err)
	paid, err := f("1000").Sub(res.Reserve(tokenB))
	require.NoError(t, err)

	_, a, err := lo.WithdrawProceeds(0, "alice", 10, res)
	require.NoError(t, err)
	_, b, err := lo.WithdrawProceeds(1, "bob", 10, res)
	require.NoError(t, err)

	total, _ := a.Add(b)
	require.False(t, total.GreaterThan(paid), "withdrew %s of %s", total, paid)
	dust, _ := paid.Sub(total)
	require.True(t, dust.LessThan(f("0.000000000000001")), "dust %s", dust)

	// bob sells three times as fast as alice.
	ratio, _ := b.Div(a)
	require.InDelta(t, 3.0, ratio.Float64(), 1e-12)
}

func TestLongTermOrders_ExpiredOrderProceedsAreFrozen(t *testing.T) {
	run := func(until uint64) fixed.Fixed {
		lo, res, _ := setupOrders(t, "1000", "1000")
		_, err := lo.CreateOrder(tokenA, f("100"), 0, "alice", 0, res)
		require.NoError(t, err)
		_, err = lo.CreateOrder(tokenA, f("300"), 2, "bob", 0, res)
		require.NoError(t, err)
		_, err = lo.CreateOrder(tokenB, f("50"), 3, "carol", 0, res)
		require.NoError(t, err)

		_, got, err := lo.WithdrawProceeds(0, "alice", until, res)
		require.NoError(t, err)
		return got
	}

	atExpiry := run(10)
	later := run(30)
	require.True(t, atExpiry.Equal(later), "at expiry %s, later %s", atExpiry, later)
}

func TestLongTermOrders_Cancel(t *testing.T) {
	lo, res, _ := setupOrders(t, "1000", "1000")
	_, err := lo.CreateOrder(tokenA, f("100"), 1, "alice", 0, res)
	require.NoError(t, err)

	_, _, _, err = lo.CancelOrder(0, "mallory", 5, res)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	require.Zero(t, lo.LastVirtualOrderTime(), "rejected cancel must not advance state")

	_, _, _, err = lo.CancelOrder(42, "alice", 5, res)
	require.ErrorIs(t, err, domain.ErrNotFound)

	order, unsold, purchased, err := lo.CancelOrder(0, "alice", 5, res)
	require.NoError(t, err)
	require.Equal(t, tokenA, order.SellAsset)
	requireFixed(t, "75", unsold)
	require.True(t, purchased.IsPositive())

	// Selling 25 into a 1000/1000 pool buys 1000*25/1025.
	requireFixed(t, "24.390243902439024390", purchased)

	details, err := lo.Order(0)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCancelled, details.Status)

	info, err := lo.PoolInfo(tokenA)
	require.NoError(t, err)
	require.True(t, info.CurrentSaleRate.IsZero())

	_, _, err = lo.WithdrawProceeds(0, "alice", 6, res)
	require.ErrorIs(t, err, domain.ErrNotFound)

	var orderErr *domain.OrderError
	require.True(t, errors.As(err, &orderErr))
	require.Equal(t, "withdraw", orderErr.Op)
}

func TestLongTermOrders_TwoSidedFlows(t *testing.T) {
	lo, res, _ := setupOrders(t, "1000", "1000")
	_, err := lo.CreateOrder(tokenA, f("100"), 0, "alice", 0, res)
	require.NoError(t, err)
	_, err = lo.CreateOrder(tokenB, f("50"), 0, "bob", 0, res)
	require.NoError(t, err)

	_, err = lo.ExecuteVirtualOrders(10, res)
	require.NoError(t, err)

	want0, want1 := integrate(1000, 1000, 100, 50, 200000)
	require.InEpsilon(t, want0, res.Reserve(tokenA).Float64(), 1e-4)
	require.InEpsilon(t, want1, res.Reserve(tokenB).Float64(), 1e-4)

	_, a, err := lo.WithdrawProceeds(0, "alice", 10, res)
	require.NoError(t, err)
	_, b, err := lo.WithdrawProceeds(1, "bob", 10, res)
	require.NoError(t, err)
	require.True(t, a.IsPositive())
	require.True(t, b.IsPositive())

	// Every unit bought came out of the pool plus the other side's sales.
	in1, _ := f("1050").Sub(res.Reserve(tokenB))
	require.False(t, a.GreaterThan(in1))
}

func TestLongTermOrders_JournalRollback(t *testing.T) {
	lo, res, j := setupOrders(t, "1000", "1000")
	_, err := lo.CreateOrder(tokenA, f("100"), 0, "alice", 0, res)
	require.NoError(t, err)
	j.Commit()

	_, err = lo.CreateOrder(tokenB, f("40"), 1, "bob", 5, res)
	require.NoError(t, err)
	require.Equal(t, uint64(2), lo.OrderCount())
	j.Revert()

	require.Equal(t, uint64(1), lo.OrderCount())
	require.Zero(t, lo.LastVirtualOrderTime())
	requireFixed(t, "1000", res.Reserve(tokenA))
	requireFixed(t, "1000", res.Reserve(tokenB))
	info, err := lo.PoolInfo(tokenB)
	require.NoError(t, err)
	require.True(t, info.CurrentSaleRate.IsZero())
	_, err = lo.Order(1)
	require.ErrorIs(t, err, domain.ErrNotFound)
}
