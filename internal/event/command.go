package event

import (
	"fmt"

	"twamm_go/internal/domain"
	"twamm_go/pkg/fixed"
)

// Type names an engine command. The values double as gateway op names.
type Type string

const (
	TypeFund            Type = "fund"
	TypeInitLiquidity   Type = "init_liquidity"
	TypeAddLiquidity    Type = "add_liquidity"
	TypeRemoveLiquidity Type = "remove_liquidity"
	TypeSwap            Type = "swap"
	TypeLongTermSwap    Type = "long_term_swap"
	TypeCancel          Type = "cancel"
	TypeWithdraw        Type = "withdraw"
	TypeExecute         Type = "execute"
	TypeReserves        Type = "reserves"
	TypeOrder           Type = "order"
)

var mutating = map[Type]bool{
	TypeFund:            true,
	TypeInitLiquidity:   true,
	TypeAddLiquidity:    true,
	TypeRemoveLiquidity: true,
	TypeSwap:            true,
	TypeLongTermSwap:    true,
	TypeCancel:          true,
	TypeWithdraw:        true,
	TypeExecute:         true,
	TypeReserves:        false,
	TypeOrder:           false,
}

// Valid reports whether t is a known command.
func (t Type) Valid() bool {
	_, ok := mutating[t]
	return ok
}

// Mutating commands change state; they are sequenced and written to the WAL.
func (t Type) Mutating() bool {
	return mutating[t]
}

// BaseCommand carries the sequencing stamp.
type BaseCommand struct {
	Seq uint64 `json:"seq"`
	Ts  uint64 `json:"ts"` // block time the command executes at
}

func (b *BaseCommand) GetSeq() uint64 { return b.Seq }
func (b *BaseCommand) GetTs() uint64  { return b.Ts }

// Command is one request to the engine. Which fields matter depends on Type:
//
//	fund             Caller, Asset, Amount
//	init_liquidity   Caller, Amount (token0), Amount1 (token1)
//	add_liquidity    Caller, Amount (shares)
//	remove_liquidity Caller, Amount (shares)
//	swap             Caller, Asset (sold), Amount
//	long_term_swap   Caller, Asset (sold), Amount, Intervals
//	cancel, withdraw Caller, OrderID
//	order            OrderID
type Command struct {
	BaseCommand
	Type      Type            `json:"type"`
	Caller    domain.Identity `json:"caller,omitempty"`
	Asset     domain.Asset    `json:"asset,omitempty"`
	Amount    fixed.Fixed     `json:"amount"`
	Amount1   fixed.Fixed     `json:"amount1"`
	Intervals uint64          `json:"intervals,omitempty"`
	OrderID   uint64          `json:"order_id,omitempty"`

	reply chan Result
}

// Result is the engine's answer to a command.
type Result struct {
	Seq   uint64 // zero for queries
	Value any
	Err   error
}

// Validate checks the fields a command type needs before it is sequenced.
func (c *Command) Validate() error {
	if !c.Type.Valid() {
		return fmt.Errorf("unknown command type %q", c.Type)
	}
	switch c.Type {
	case TypeExecute, TypeReserves, TypeOrder:
		return nil
	}
	if c.Caller == "" {
		return fmt.Errorf("%s: caller is required", c.Type)
	}
	switch c.Type {
	case TypeFund, TypeSwap, TypeLongTermSwap:
		if c.Asset == "" {
			return fmt.Errorf("%s: %w", c.Type, domain.ErrInvalidAsset)
		}
	}
	return nil
}

// Reply returns the channel the engine answers on.
func (c *Command) Reply() chan Result {
	if c.reply == nil {
		c.reply = make(chan Result, 1)
	}
	return c.reply
}
