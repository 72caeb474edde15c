// Package twamm holds the long-term order state of a time-weighted AMM:
// one OrderPool per sell asset, the order registry, and the virtual-order
// executor that settles both pools against the reserves step by step.
package twamm

import (
	"errors"
	"fmt"

	"twamm_go/internal/domain"
	"twamm_go/internal/journal"
	"twamm_go/pkg/fixed"
	"twamm_go/pkg/safe"
)

// Order is one long-term swap.
type Order struct {
	ID          uint64          `json:"id"`
	Owner       domain.Identity `json:"owner"`
	SellAsset   domain.Asset    `json:"sell_asset"`
	BuyAsset    domain.Asset    `json:"buy_asset"`
	SaleRate    fixed.Fixed     `json:"sale_rate"`
	Expiry      uint64          `json:"expiry"`
	SubmittedAt uint64          `json:"submitted_at"`
	Deposit     fixed.Fixed     `json:"deposit"` // SaleRate * (Expiry - SubmittedAt)
}

// LongTermOrders owns both order pools and every order.
type LongTermOrders struct {
	interval             uint64
	lastVirtualOrderTime uint64
	token0               domain.Asset
	token1               domain.Asset
	pools                map[domain.Asset]*OrderPool
	nextOrderID          uint64
	orders               map[uint64]*Order

	j *journal.Journal
}

// New creates the registry for the token0/token1 pair. State starts at
// time step start; every mutation is recorded in j.
func New(token0, token1 domain.Asset, interval, start uint64, j *journal.Journal) (*LongTermOrders, error) {
	if interval == 0 {
		return nil, &domain.ConfigError{Field: "order_block_interval", Err: errors.New("must be positive")}
	}
	if token0 == "" || token1 == "" || token0 == token1 {
		return nil, &domain.ConfigError{Field: "tokens", Err: fmt.Errorf("need two distinct assets, got %q and %q", token0, token1)}
	}
	return &LongTermOrders{
		interval:             interval,
		lastVirtualOrderTime: start,
		token0:               token0,
		token1:               token1,
		pools: map[domain.Asset]*OrderPool{
			token0: NewOrderPool(j),
			token1: NewOrderPool(j),
		},
		orders: make(map[uint64]*Order),
		j:      j,
	}, nil
}

func (lo *LongTermOrders) Interval() uint64             { return lo.interval }
func (lo *LongTermOrders) LastVirtualOrderTime() uint64 { return lo.lastVirtualOrderTime }
func (lo *LongTermOrders) Tokens() (domain.Asset, domain.Asset) {
	return lo.token0, lo.token1
}

// Counterpart returns the asset bought when selling sell.
func (lo *LongTermOrders) Counterpart(sell domain.Asset) (domain.Asset, error) {
	switch sell {
	case lo.token0:
		return lo.token1, nil
	case lo.token1:
		return lo.token0, nil
	}
	return "", fmt.Errorf("%q: %w", sell, domain.ErrInvalidAsset)
}

// Pool returns the order pool selling asset.
func (lo *LongTermOrders) Pool(asset domain.Asset) (*OrderPool, error) {
	p, ok := lo.pools[asset]
	if !ok {
		return nil, fmt.Errorf("%q: %w", asset, domain.ErrInvalidAsset)
	}
	return p, nil
}

// CreateOrder settles virtual orders up to now and starts a new order
// selling amount of sell until the boundary numberOfIntervals+1 intervals
// past the last one.
func (lo *LongTermOrders) CreateOrder(sell domain.Asset, amount fixed.Fixed, numberOfIntervals uint64,
	owner domain.Identity, now uint64, reserves domain.ReserveStore) (Order, error) {
	buy, err := lo.Counterpart(sell)
	if err != nil {
		return Order{}, err
	}
	if !amount.IsPositive() {
		return Order{}, fmt.Errorf("order amount %s: %w", amount, domain.ErrInvalidAmount)
	}

	if _, err := lo.ExecuteVirtualOrders(now, reserves); err != nil {
		return Order{}, err
	}
	t := lo.lastVirtualOrderTime

	expiry, err := lo.expiryFor(t, numberOfIntervals)
	if err != nil {
		return Order{}, fmt.Errorf("%d intervals: %w", numberOfIntervals, domain.ErrInvalidAmount)
	}
	duration := fixed.FromUint64(expiry - t)
	saleRate, err := amount.Div(duration)
	if err != nil {
		return Order{}, err
	}
	if !saleRate.IsPositive() {
		return Order{}, fmt.Errorf("amount %s too small to sell over %d steps: %w",
			amount, expiry-t, domain.ErrInvalidAmount)
	}
	deposit, err := saleRate.Mul(duration)
	if err != nil {
		return Order{}, err
	}

	id := lo.nextOrderID
	if err := lo.pools[sell].DepositOrder(id, saleRate, expiry, t); err != nil {
		return Order{}, domain.NewOrderError("create", id, err)
	}
	order := &Order{
		ID:          id,
		Owner:       owner,
		SellAsset:   sell,
		BuyAsset:    buy,
		SaleRate:    saleRate,
		Expiry:      expiry,
		SubmittedAt: t,
		Deposit:     deposit,
	}
	journal.Set(lo.j, lo.orders, id, order)
	journal.Assign(lo.j, &lo.nextOrderID, id+1)
	return *order, nil
}

// expiry = interval*(n+1) + (t - t%interval)
func (lo *LongTermOrders) expiryFor(t, n uint64) (uint64, error) {
	n1, err := safe.Add(n, 1)
	if err != nil {
		return 0, err
	}
	span, err := safe.Mul(lo.interval, n1)
	if err != nil {
		return 0, err
	}
	return safe.Add(span, safe.FloorTo(t, lo.interval))
}

// CancelOrder stops an order and returns its unsold input and its
// unwithdrawn proceeds.
func (lo *LongTermOrders) CancelOrder(id uint64, caller domain.Identity, now uint64,
	reserves domain.ReserveStore) (order Order, unsold, purchased fixed.Fixed, err error) {
	o, err := lo.owned("cancel", id, caller)
	if err != nil {
		return Order{}, fixed.Zero, fixed.Zero, err
	}
	if _, err := lo.ExecuteVirtualOrders(now, reserves); err != nil {
		return Order{}, fixed.Zero, fixed.Zero, err
	}

	unsold, purchased, err = lo.pools[o.SellAsset].CancelOrder(id, lo.lastVirtualOrderTime)
	if err != nil {
		return Order{}, fixed.Zero, fixed.Zero, domain.NewOrderError("cancel", id, err)
	}
	if unsold.IsZero() && purchased.IsZero() {
		return Order{}, fixed.Zero, fixed.Zero, domain.NewOrderError("cancel", id, domain.ErrNoProceeds)
	}
	return *o, unsold, purchased, nil
}

// WithdrawProceeds pays out what an order has bought so far.
func (lo *LongTermOrders) WithdrawProceeds(id uint64, caller domain.Identity, now uint64,
	reserves domain.ReserveStore) (Order, fixed.Fixed, error) {
	o, err := lo.owned("withdraw", id, caller)
	if err != nil {
		return Order{}, fixed.Zero, err
	}
	if _, err := lo.ExecuteVirtualOrders(now, reserves); err != nil {
		return Order{}, fixed.Zero, err
	}

	purchased, err := lo.pools[o.SellAsset].WithdrawProceeds(id, lo.lastVirtualOrderTime)
	if err != nil {
		return Order{}, fixed.Zero, domain.NewOrderError("withdraw", id, err)
	}
	if purchased.IsZero() {
		return Order{}, fixed.Zero, domain.NewOrderError("withdraw", id, domain.ErrNoProceeds)
	}
	return *o, purchased, nil
}

func (lo *LongTermOrders) owned(op string, id uint64, caller domain.Identity) (*Order, error) {
	o, ok := lo.orders[id]
	if !ok {
		return nil, domain.NewOrderError(op, id, domain.ErrNotFound)
	}
	if o.Owner != caller {
		return nil, domain.NewOrderError(op, id, domain.ErrUnauthorized)
	}
	return o, nil
}

// OrderDetails is an order together with its pool-side state.
type OrderDetails struct {
	Order
	Status    domain.OrderStatus `json:"status"`
	Withdrawn fixed.Fixed        `json:"withdrawn"`
}

// Order looks up an order as of the last settled step.
func (lo *LongTermOrders) Order(id uint64) (OrderDetails, error) {
	o, ok := lo.orders[id]
	if !ok {
		return OrderDetails{}, domain.NewOrderError("get", id, domain.ErrNotFound)
	}
	info, _ := lo.pools[o.SellAsset].OrderInfo(id)

	status := domain.OrderStatusActive
	switch {
	case info.Cancelled:
		status = domain.OrderStatusCancelled
	case lo.lastVirtualOrderTime >= o.Expiry:
		status = domain.OrderStatusExpired
	}
	return OrderDetails{Order: *o, Status: status, Withdrawn: info.Withdrawn}, nil
}

// OrderCount returns how many orders were ever created.
func (lo *LongTermOrders) OrderCount() uint64 {
	return lo.nextOrderID
}

// PoolInfo summarises one order pool.
type PoolInfo struct {
	Asset           domain.Asset `json:"asset"`
	CurrentSaleRate fixed.Fixed  `json:"current_sale_rate"`
	RewardFactor    fixed.Fixed  `json:"reward_factor"`
}

// PoolInfo returns the state of the pool selling asset.
func (lo *LongTermOrders) PoolInfo(asset domain.Asset) (PoolInfo, error) {
	p, err := lo.Pool(asset)
	if err != nil {
		return PoolInfo{}, err
	}
	return PoolInfo{
		Asset:           asset,
		CurrentSaleRate: p.CurrentSaleRate(),
		RewardFactor:    p.RewardFactor(),
	}, nil
}

// Orders returns every order in id order.
func (lo *LongTermOrders) Orders() []OrderDetails {
	out := make([]OrderDetails, 0, len(lo.orders))
	for id := uint64(0); id < lo.nextOrderID; id++ {
		if d, err := lo.Order(id); err == nil {
			out = append(out, d)
		}
	}
	return out
}
