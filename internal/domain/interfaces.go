package domain

import "twamm_go/pkg/fixed"

// ReserveStore holds the pool's quantity of each asset. Both are non-negative.
type ReserveStore interface {
	Reserve(asset Asset) fixed.Fixed
	SetReserve(asset Asset, amount fixed.Fixed)
}

// Clock reports the current time step (block number).
// It never goes backwards across calls within one operation.
type Clock interface {
	CurrentTime() uint64
}

// Transfer moves tokens between a caller and the pool's custody.
// Each call either fully succeeds or leaves balances untouched.
type Transfer interface {
	TransferIn(asset Asset, from Identity, amount fixed.Fixed) error
	TransferOut(asset Asset, to Identity, amount fixed.Fixed) error
}

// ShareLedger accounts liquidity-provider shares.
type ShareLedger interface {
	TotalSupply() fixed.Fixed
	BalanceOf(owner Identity) fixed.Fixed
	Mint(to Identity, amount fixed.Fixed) error
	Burn(from Identity, amount fixed.Fixed) error
}
