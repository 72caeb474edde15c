package event

import (
	"encoding/json"
	"fmt"
	"time"

	"twamm_go/internal/domain"
	"twamm_go/pkg/fixed"
)

// payload is the WAL body of a command; Seq, Ts and Type live in their own columns.
type payload struct {
	Caller    domain.Identity `json:"caller,omitempty"`
	Asset     domain.Asset    `json:"asset,omitempty"`
	Amount    fixed.Fixed     `json:"amount"`
	Amount1   fixed.Fixed     `json:"amount1"`
	Intervals uint64          `json:"intervals,omitempty"`
	OrderID   uint64          `json:"order_id,omitempty"`
}

// ToRecord encodes a sequenced command as a WAL entry.
func ToRecord(c *Command) (*domain.CommandRecord, error) {
	b, err := json.Marshal(payload{
		Caller:    c.Caller,
		Asset:     c.Asset,
		Amount:    c.Amount,
		Amount1:   c.Amount1,
		Intervals: c.Intervals,
		OrderID:   c.OrderID,
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s command: %w", c.Type, err)
	}
	return &domain.CommandRecord{
		Seq:       c.Seq,
		Ts:        c.Ts,
		Type:      string(c.Type),
		Payload:   string(b),
		CreatedAt: time.Now(),
	}, nil
}

// FromRecord decodes a WAL entry back into a command.
func FromRecord(rec *domain.CommandRecord) (*Command, error) {
	t := Type(rec.Type)
	if !t.Mutating() {
		return nil, fmt.Errorf("record %d: unexpected command type %q", rec.Seq, rec.Type)
	}
	var p payload
	if err := json.Unmarshal([]byte(rec.Payload), &p); err != nil {
		return nil, fmt.Errorf("record %d: decode payload: %w", rec.Seq, err)
	}

	c := &Command{
		BaseCommand: BaseCommand{Seq: rec.Seq, Ts: rec.Ts},
		Type:        t,
		Caller:      p.Caller,
		Asset:       p.Asset,
		Amount:      p.Amount,
		Amount1:     p.Amount1,
		Intervals:   p.Intervals,
		OrderID:     p.OrderID,
	}
	return c, nil
}
