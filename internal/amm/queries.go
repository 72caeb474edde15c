package amm

import (
	"twamm_go/internal/domain"
	"twamm_go/internal/twamm"
	"twamm_go/pkg/fixed"
)

// Queries report state as of the last settled step; they never advance it.

// Reserves returns the token0 and token1 reserves.
func (a *TWAMM) Reserves() (fixed.Fixed, fixed.Fixed) {
	return a.reserves.Reserve(a.token0), a.reserves.Reserve(a.token1)
}

func (a *TWAMM) Tokens() (domain.Asset, domain.Asset) {
	return a.token0, a.token1
}

func (a *TWAMM) TotalShares() fixed.Fixed {
	return a.shares.TotalSupply()
}

func (a *TWAMM) LastVirtualOrderTime() uint64 {
	return a.orders.LastVirtualOrderTime()
}

func (a *TWAMM) Order(id uint64) (twamm.OrderDetails, error) {
	return a.orders.Order(id)
}

func (a *TWAMM) PoolInfo(asset domain.Asset) (twamm.PoolInfo, error) {
	return a.orders.PoolInfo(asset)
}

// Snapshot is the full pool state, used for state dumps.
type Snapshot struct {
	Token0               domain.Asset         `json:"token0"`
	Token1               domain.Asset         `json:"token1"`
	Reserve0             fixed.Fixed          `json:"reserve0"`
	Reserve1             fixed.Fixed          `json:"reserve1"`
	TotalShares          fixed.Fixed          `json:"total_shares"`
	OrderBlockInterval   uint64               `json:"order_block_interval"`
	LastVirtualOrderTime uint64               `json:"last_virtual_order_time"`
	Pools                []twamm.PoolInfo     `json:"pools"`
	Orders               []twamm.OrderDetails `json:"orders"`
}

func (a *TWAMM) Snapshot() Snapshot {
	r0, r1 := a.Reserves()
	p0, _ := a.orders.PoolInfo(a.token0)
	p1, _ := a.orders.PoolInfo(a.token1)
	return Snapshot{
		Token0:               a.token0,
		Token1:               a.token1,
		Reserve0:             r0,
		Reserve1:             r1,
		TotalShares:          a.shares.TotalSupply(),
		OrderBlockInterval:   a.orders.Interval(),
		LastVirtualOrderTime: a.orders.LastVirtualOrderTime(),
		Pools:                []twamm.PoolInfo{p0, p1},
		Orders:               a.orders.Orders(),
	}
}
