package domain

import (
	"fmt"
	"sort"

	"twamm_go/pkg/fixed"
)

// Balance is one owner's holding of one asset.
type Balance struct {
	Owner  Identity    `json:"owner"`
	Asset  Asset       `json:"asset"`
	Amount fixed.Fixed `json:"amount"`
}

// Credit adds funds to the balance.
func (b *Balance) Credit(amount fixed.Fixed) error {
	if amount.IsNegative() {
		return fmt.Errorf("credit %s: %w", amount, ErrInvalidAmount)
	}
	sum, err := b.Amount.Add(amount)
	if err != nil {
		return err
	}
	b.Amount = sum
	return nil
}

// Debit removes funds from the balance.
func (b *Balance) Debit(amount fixed.Fixed) error {
	if amount.IsNegative() {
		return fmt.Errorf("debit %s: %w", amount, ErrInvalidAmount)
	}
	if amount.GreaterThan(b.Amount) {
		return fmt.Errorf("%s %s need %s, available %s: %w",
			b.Owner, b.Asset, amount, b.Amount, ErrInsufficientBalance)
	}
	diff, err := b.Amount.Sub(amount)
	if err != nil {
		return err
	}
	b.Amount = diff
	return nil
}

// VerifyInvariant checks that the balance is non-negative.
func (b *Balance) VerifyInvariant() error {
	if b.Amount.IsNegative() {
		return fmt.Errorf("BALANCE_INVARIANT_NEGATIVE_AMOUNT: %s %s = %s", b.Owner, b.Asset, b.Amount)
	}
	return nil
}

type balanceKey struct {
	owner Identity
	asset Asset
}

// BalanceBook manages balances per (owner, asset).
type BalanceBook struct {
	balances map[balanceKey]*Balance
}

// NewBalanceBook creates a new balance book.
func NewBalanceBook() *BalanceBook {
	return &BalanceBook{
		balances: make(map[balanceKey]*Balance),
	}
}

// Get returns the balance, creating it if missing.
func (bb *BalanceBook) Get(owner Identity, asset Asset) *Balance {
	k := balanceKey{owner: owner, asset: asset}
	b, ok := bb.balances[k]
	if !ok {
		b = &Balance{Owner: owner, Asset: asset}
		bb.balances[k] = b
	}
	return b
}

// Amount returns the balance without creating an entry.
func (bb *BalanceBook) Amount(owner Identity, asset Asset) fixed.Fixed {
	if b, ok := bb.balances[balanceKey{owner: owner, asset: asset}]; ok {
		return b.Amount
	}
	return fixed.Zero
}

// VerifyAll checks invariants on all balances.
func (bb *BalanceBook) VerifyAll() error {
	for _, b := range bb.balances {
		if err := b.VerifyInvariant(); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot returns a copy of all balances ordered by owner then asset.
func (bb *BalanceBook) Snapshot() []Balance {
	result := make([]Balance, 0, len(bb.balances))
	for _, v := range bb.balances {
		result = append(result, *v)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Owner != result[j].Owner {
			return result[i].Owner < result[j].Owner
		}
		return result[i].Asset < result[j].Asset
	})
	return result
}

// Vault is an in-memory custody ledger. Tokens transferred in are held
// under the custodian identity until transferred out.
type Vault struct {
	custodian Identity
	book      *BalanceBook
}

var _ Transfer = (*Vault)(nil)

// NewVault creates a vault holding pool funds under custodian.
func NewVault(custodian Identity) *Vault {
	return &Vault{custodian: custodian, book: NewBalanceBook()}
}

// Fund credits an owner from outside the pool (paper deposit).
func (v *Vault) Fund(owner Identity, asset Asset, amount fixed.Fixed) error {
	if !amount.IsPositive() {
		return fmt.Errorf("fund %s: %w", amount, ErrInvalidAmount)
	}
	return v.book.Get(owner, asset).Credit(amount)
}

// BalanceOf returns the owner's holding of asset.
func (v *Vault) BalanceOf(owner Identity, asset Asset) fixed.Fixed {
	return v.book.Amount(owner, asset)
}

// Custodian returns the identity holding pool funds.
func (v *Vault) Custodian() Identity {
	return v.custodian
}

// TransferIn moves amount from an owner into custody.
func (v *Vault) TransferIn(asset Asset, from Identity, amount fixed.Fixed) error {
	return v.move(asset, from, v.custodian, amount)
}

// TransferOut moves amount from custody to an owner.
func (v *Vault) TransferOut(asset Asset, to Identity, amount fixed.Fixed) error {
	return v.move(asset, v.custodian, to, amount)
}

func (v *Vault) move(asset Asset, from, to Identity, amount fixed.Fixed) error {
	if amount.IsNegative() {
		return fmt.Errorf("transfer %s: %w", amount, ErrInvalidAmount)
	}
	if amount.IsZero() {
		return nil
	}
	src := v.book.Get(from, asset)
	if err := src.Debit(amount); err != nil {
		return err
	}
	if err := v.book.Get(to, asset).Credit(amount); err != nil {
		// Debit of the same amount just succeeded, so this credit cannot fail.
		_ = src.Credit(amount)
		return err
	}
	return nil
}

// Snapshot returns all balances (for state dump).
func (v *Vault) Snapshot() []Balance {
	return v.book.Snapshot()
}

const shareAsset Asset = "LP"

// ShareBook is an in-memory liquidity share ledger.
type ShareBook struct {
	book  *BalanceBook
	total fixed.Fixed
}

var _ ShareLedger = (*ShareBook)(nil)

// NewShareBook creates an empty share ledger.
func NewShareBook() *ShareBook {
	return &ShareBook{book: NewBalanceBook()}
}

func (s *ShareBook) TotalSupply() fixed.Fixed {
	return s.total
}

func (s *ShareBook) BalanceOf(owner Identity) fixed.Fixed {
	return s.book.Amount(owner, shareAsset)
}

// Mint creates shares for to.
func (s *ShareBook) Mint(to Identity, amount fixed.Fixed) error {
	if !amount.IsPositive() {
		return fmt.Errorf("mint %s: %w", amount, ErrInvalidAmount)
	}
	total, err := s.total.Add(amount)
	if err != nil {
		return err
	}
	if err := s.book.Get(to, shareAsset).Credit(amount); err != nil {
		return err
	}
	s.total = total
	return nil
}

// Burn destroys shares held by from.
func (s *ShareBook) Burn(from Identity, amount fixed.Fixed) error {
	if !amount.IsPositive() {
		return fmt.Errorf("burn %s: %w", amount, ErrInvalidAmount)
	}
	if err := s.book.Get(from, shareAsset).Debit(amount); err != nil {
		return err
	}
	total, err := s.total.Sub(amount)
	if err != nil {
		return err
	}
	s.total = total
	return nil
}

// Snapshot returns all share balances.
func (s *ShareBook) Snapshot() []Balance {
	return s.book.Snapshot()
}
