package twamm

import (
	"twamm_go/internal/domain"
	"twamm_go/internal/journal"
	"twamm_go/pkg/fixed"
)

// Reserves is a journaled in-memory domain.ReserveStore.
type Reserves struct {
	m map[domain.Asset]fixed.Fixed
	j *journal.Journal
}

func NewReserves(j *journal.Journal) *Reserves {
	return &Reserves{m: make(map[domain.Asset]fixed.Fixed), j: j}
}

func (r *Reserves) Reserve(asset domain.Asset) fixed.Fixed {
	return r.m[asset]
}

func (r *Reserves) SetReserve(asset domain.Asset, amount fixed.Fixed) {
	journal.Set(r.j, r.m, asset, amount)
}
