package infra

import (
	"sync/atomic"
	"time"

	"twamm_go/internal/domain"
)

var (
	_ domain.Clock = (*ManualClock)(nil)
	_ domain.Clock = (*BlockClock)(nil)
)

// ManualClock is a clock that only moves when told to.
// The sequencer sets it to each command's stamped block before dispatch,
// which makes replay deterministic.
type ManualClock struct {
	now atomic.Uint64
}

func NewManualClock(start uint64) *ManualClock {
	c := &ManualClock{}
	c.now.Store(start)
	return c
}

func (c *ManualClock) CurrentTime() uint64 {
	return c.now.Load()
}

// Set moves the clock to t. Earlier times are ignored.
func (c *ManualClock) Set(t uint64) {
	for {
		cur := c.now.Load()
		if t <= cur || c.now.CompareAndSwap(cur, t) {
			return
		}
	}
}

// Advance moves the clock forward by d steps and returns the new time.
func (c *ManualClock) Advance(d uint64) uint64 {
	return c.now.Add(d)
}

// BlockClock derives a block number from wall time: one block per
// BlockDuration since Genesis.
type BlockClock struct {
	Genesis       time.Time
	BlockDuration time.Duration

	now func() time.Time
}

func NewBlockClock(genesis time.Time, blockDuration time.Duration) *BlockClock {
	return &BlockClock{Genesis: genesis, BlockDuration: blockDuration, now: time.Now}
}

func (c *BlockClock) CurrentTime() uint64 {
	elapsed := c.now().Sub(c.Genesis)
	if elapsed <= 0 || c.BlockDuration <= 0 {
		return 0
	}
	return uint64(elapsed / c.BlockDuration)
}
