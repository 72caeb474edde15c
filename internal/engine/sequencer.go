package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"twamm_go/internal/amm"
	"twamm_go/internal/domain"
	"twamm_go/internal/event"
	"twamm_go/pkg/fixed"
)

// CommandStore is the write-ahead log of sequenced commands.
type CommandStore interface {
	SaveCommand(ctx context.Context, rec *domain.CommandRecord) error
	LoadCommands(ctx context.Context, afterSeq uint64) ([]domain.CommandRecord, error)
}

// Recorder receives per-command metrics.
type Recorder interface {
	ObserveCommand(op string, err error, took time.Duration)
	ObserveSettlement(steps int)
	SetReserves(reserve0, reserve1 float64)
}

// BlockClock is the engine clock: set to each command's block before dispatch.
type BlockClock interface {
	domain.Clock
	Set(t uint64)
}

// State is everything the sequencer owns.
type State struct {
	Pool   *amm.TWAMM
	Vault  *domain.Vault
	Shares *domain.ShareBook
	Clock  BlockClock
}

// ErrStopped is returned by Submit once the sequencer has stopped.
var ErrStopped = errors.New("sequencer stopped")

// Sequencer is the core single-threaded command processor.
type Sequencer struct {
	inbox   chan *event.Command
	state   *State
	live    domain.Clock
	nextSeq uint64
	lastTs  uint64
	store   CommandStore
	rec     Recorder

	done chan struct{}
	mu   sync.RWMutex // held by dispatch; external reads take RLock

	dumpFile string
}

// NewSequencer creates a new sequencer instance. live stamps block times on
// new commands; store and rec may be nil.
func NewSequencer(inboxSize int, state *State, live domain.Clock, store CommandStore, rec Recorder) *Sequencer {
	s := &Sequencer{
		inbox:    make(chan *event.Command, inboxSize),
		state:    state,
		live:     live,
		nextSeq:  1,
		lastTs:   state.Clock.CurrentTime(),
		store:    store,
		rec:      rec,
		done:     make(chan struct{}),
		dumpFile: "panic_dump.json",
	}
	if rec != nil {
		state.Pool.OnSettle(rec.ObserveSettlement)
	}
	return s
}

// SetDumpFile changes where DumpState writes on panic.
func (s *Sequencer) SetDumpFile(path string) {
	s.dumpFile = path
}

// Inbox returns the command channel. Callers wait on cmd.Reply().
func (s *Sequencer) Inbox() chan<- *event.Command {
	return s.inbox
}

// Submit sends cmd and waits for its result. On success the command is
// returned to the pool; if ctx ends first it is left to the engine.
func (s *Sequencer) Submit(ctx context.Context, cmd *event.Command) (event.Result, error) {
	if err := cmd.Validate(); err != nil {
		event.ReleaseCommand(cmd)
		return event.Result{}, err
	}
	reply := cmd.Reply()
	select {
	case s.inbox <- cmd:
	case <-s.done:
		return event.Result{}, ErrStopped
	case <-ctx.Done():
		return event.Result{}, ctx.Err()
	}
	select {
	case res := <-reply:
		event.ReleaseCommand(cmd)
		return res, nil
	case <-s.done:
		return event.Result{}, ErrStopped
	case <-ctx.Done():
		return event.Result{}, ctx.Err()
	}
}

// Run starts the main command loop. This MUST be run in a single goroutine.
func (s *Sequencer) Run(ctx context.Context) {
	slog.Info("Sequencer started", slog.Uint64("next_seq", s.nextSeq), slog.Uint64("block", s.lastTs))
	defer close(s.done)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			s.DumpState(s.dumpFile)
			// Halt after dump: state past this point is not trusted.
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Sequencer stopping...", slog.Uint64("next_seq", s.nextSeq))
			return
		case cmd := <-s.inbox:
			s.processCommand(ctx, cmd)
		}
	}
}

func (s *Sequencer) processCommand(ctx context.Context, cmd *event.Command) {
	start := time.Now()

	if cmd.Type.Mutating() {
		// 1. Stamp: sequence number and a block time that never goes back.
		ts := s.live.CurrentTime()
		if ts < s.lastTs {
			ts = s.lastTs
		}
		cmd.Seq = s.nextSeq
		cmd.Ts = ts

		// 2. WAL-first: Persistence
		if s.store != nil {
			rec, err := event.ToRecord(cmd)
			if err != nil {
				panic(fmt.Sprintf("PERSISTENCE_FAILURE: %v", err))
			}
			if err := s.store.SaveCommand(ctx, rec); err != nil {
				panic(fmt.Sprintf("PERSISTENCE_FAILURE: %v", err))
			}
		}
		s.nextSeq++
		s.lastTs = ts
	}

	// 3. Logic Dispatch
	value, err := s.apply(cmd)
	cmd.Reply() <- event.Result{Seq: cmd.Seq, Value: value, Err: err}

	if err != nil && cmd.Type.Mutating() {
		slog.Debug("command rejected",
			slog.Uint64("seq", cmd.Seq),
			slog.String("type", string(cmd.Type)),
			slog.String("caller", string(cmd.Caller)),
			slog.Any("error", err))
	}
	s.observe(cmd.Type, err, time.Since(start))
}

func (s *Sequencer) observe(t event.Type, err error, took time.Duration) {
	if s.rec == nil {
		return
	}
	s.rec.ObserveCommand(string(t), err, took)
	r0, r1 := s.state.Pool.Reserves()
	s.rec.SetReserves(r0.Float64(), r1.Float64())
}

// ReplayCommand applies a persisted command without WAL logging.
// This is used exclusively by Replay.
func (s *Sequencer) ReplayCommand(cmd *event.Command) error {
	// Replay must still respect sequence order
	if cmd.GetSeq() != s.nextSeq {
		return fmt.Errorf("REPLAY_GAP_DETECTED: expected %d, got %d", s.nextSeq, cmd.GetSeq())
	}
	if cmd.Ts < s.lastTs {
		return fmt.Errorf("REPLAY_TIME_REWIND: seq %d at block %d after %d", cmd.Seq, cmd.Ts, s.lastTs)
	}
	s.nextSeq++
	s.lastTs = cmd.Ts

	if _, err := s.apply(cmd); err != nil {
		// Rejected live as well; the rejection is part of history.
		slog.Debug("replayed command rejected", slog.Uint64("seq", cmd.Seq), slog.Any("error", err))
	}
	return nil
}

// Replay rebuilds state from every command in store. It must run before Run.
func (s *Sequencer) Replay(ctx context.Context, store CommandStore) (int, error) {
	recs, err := store.LoadCommands(ctx, s.nextSeq-1)
	if err != nil {
		return 0, fmt.Errorf("load commands: %w", err)
	}
	for i := range recs {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		cmd, err := event.FromRecord(&recs[i])
		if err != nil {
			return i, err
		}
		if err := s.ReplayCommand(cmd); err != nil {
			return i, err
		}
	}
	slog.Info("Replay complete", slog.Int("commands", len(recs)), slog.Uint64("next_seq", s.nextSeq))
	return len(recs), nil
}

// NextSeq returns the sequence number the next mutating command will get.
func (s *Sequencer) NextSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextSeq
}

func (s *Sequencer) apply(cmd *event.Command) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cmd.Type.Mutating() {
		s.state.Clock.Set(cmd.Ts)
	}
	pool := s.state.Pool

	switch cmd.Type {
	case event.TypeFund:
		if err := s.state.Vault.Fund(cmd.Caller, cmd.Asset, cmd.Amount); err != nil {
			return nil, err
		}
		return domain.Balance{
			Owner:  cmd.Caller,
			Asset:  cmd.Asset,
			Amount: s.state.Vault.BalanceOf(cmd.Caller, cmd.Asset),
		}, nil

	case event.TypeInitLiquidity:
		shares, err := pool.ProvideInitialLiquidity(cmd.Caller, cmd.Amount, cmd.Amount1)
		if err != nil {
			return nil, err
		}
		return SharesResult{Shares: shares}, nil

	case event.TypeAddLiquidity:
		a0, a1, err := pool.ProvideLiquidity(cmd.Caller, cmd.Amount)
		if err != nil {
			return nil, err
		}
		return AmountsResult{Amount0: a0, Amount1: a1}, nil

	case event.TypeRemoveLiquidity:
		a0, a1, err := pool.RemoveLiquidity(cmd.Caller, cmd.Amount)
		if err != nil {
			return nil, err
		}
		return AmountsResult{Amount0: a0, Amount1: a1}, nil

	case event.TypeSwap:
		out, err := pool.Swap(cmd.Caller, cmd.Asset, cmd.Amount)
		if err != nil {
			return nil, err
		}
		return SwapResult{AmountOut: out}, nil

	case event.TypeLongTermSwap:
		return pool.LongTermSwap(cmd.Caller, cmd.Asset, cmd.Amount, cmd.Intervals)

	case event.TypeCancel:
		unsold, purchased, err := pool.CancelLongTermSwap(cmd.Caller, cmd.OrderID)
		if err != nil {
			return nil, err
		}
		return CancelResult{Unsold: unsold, Purchased: purchased}, nil

	case event.TypeWithdraw:
		purchased, err := pool.WithdrawProceeds(cmd.Caller, cmd.OrderID)
		if err != nil {
			return nil, err
		}
		return WithdrawResult{Purchased: purchased}, nil

	case event.TypeExecute:
		steps, err := pool.ExecuteVirtualOrders()
		if err != nil {
			return nil, err
		}
		return ExecuteResult{Steps: steps, LastVirtualOrderTime: pool.LastVirtualOrderTime()}, nil

	case event.TypeReserves:
		return s.reserves(), nil

	case event.TypeOrder:
		return pool.Order(cmd.OrderID)
	}

	slog.Warn("Unknown command type", slog.String("type", string(cmd.Type)))
	return nil, fmt.Errorf("unknown command type %q", cmd.Type)
}

func (s *Sequencer) reserves() ReservesResult {
	r0, r1 := s.state.Pool.Reserves()
	return ReservesResult{
		Reserve0:             r0,
		Reserve1:             r1,
		TotalShares:          s.state.Pool.TotalShares(),
		LastVirtualOrderTime: s.state.Pool.LastVirtualOrderTime(),
	}
}

// GetReserves returns the current reserves (external read).
func (s *Sequencer) GetReserves() ReservesResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reserves()
}

// Dump is the full engine state written by DumpState.
type Dump struct {
	NextSeq  uint64           `json:"next_seq"`
	LastTs   uint64           `json:"last_ts"`
	Pool     amm.Snapshot     `json:"pool"`
	Balances []domain.Balance `json:"balances"`
	Shares   []domain.Balance `json:"shares"`
}

// Snapshot returns a copy of the whole engine state (external read).
func (s *Sequencer) Snapshot() Dump {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot()
}

func (s *Sequencer) snapshot() Dump {
	return Dump{
		NextSeq:  s.nextSeq,
		LastTs:   s.lastTs,
		Pool:     s.state.Pool.Snapshot(),
		Balances: s.state.Vault.Snapshot(),
		Shares:   s.state.Shares.Snapshot(),
	}
}

// DumpState writes the entire internal state to a file (for post-mortem).
// Called from the panic handler, so it does not take the lock.
func (s *Sequencer) DumpState(filename string) {
	slog.Info("Dumping internal state...", slog.String("file", filename))

	b, err := json.MarshalIndent(s.snapshot(), "", "  ")
	if err != nil {
		slog.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	err = os.WriteFile(filename, b, 0644)
	if err != nil {
		slog.Error("Failed to write state dump", slog.Any("error", err))
	}
}

type SharesResult struct {
	Shares fixed.Fixed `json:"shares"`
}

type AmountsResult struct {
	Amount0 fixed.Fixed `json:"amount0"`
	Amount1 fixed.Fixed `json:"amount1"`
}

type SwapResult struct {
	AmountOut fixed.Fixed `json:"amount_out"`
}

type CancelResult struct {
	Unsold    fixed.Fixed `json:"unsold"`
	Purchased fixed.Fixed `json:"purchased"`
}

type WithdrawResult struct {
	Purchased fixed.Fixed `json:"purchased"`
}

type ExecuteResult struct {
	Steps                int    `json:"steps"`
	LastVirtualOrderTime uint64 `json:"last_virtual_order_time"`
}

type ReservesResult struct {
	Reserve0             fixed.Fixed `json:"reserve0"`
	Reserve1             fixed.Fixed `json:"reserve1"`
	TotalShares          fixed.Fixed `json:"total_shares"`
	LastVirtualOrderTime uint64      `json:"last_virtual_order_time"`
}
