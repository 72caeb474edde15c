package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"twamm_go/internal/amm"
	"twamm_go/internal/domain"
	"twamm_go/internal/event"
	"twamm_go/internal/infra"
	"twamm_go/internal/twamm"
	"twamm_go/pkg/fixed"
)

type memStore struct {
	mu   sync.Mutex
	recs []domain.CommandRecord
	fail error
}

func (m *memStore) SaveCommand(_ context.Context, rec *domain.CommandRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.recs = append(m.recs, *rec)
	return nil
}

func (m *memStore) LoadCommands(_ context.Context, afterSeq uint64) ([]domain.CommandRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.CommandRecord
	for _, r := range m.recs {
		if r.Seq > afterSeq {
			out = append(out, r)
		}
	}
	return out, nil
}

func newTestState(t *testing.T) *State {
	t.Helper()
	clock := infra.NewManualClock(0)
	vault := domain.NewVault("pool")
	shares := domain.NewShareBook()
	pool, err := amm.New("A", "B", 10, clock, vault, shares)
	require.NoError(t, err)
	return &State{Pool: pool, Vault: vault, Shares: shares, Clock: clock}
}

func startSequencer(t *testing.T, live domain.Clock, store CommandStore) *Sequencer {
	t.Helper()
	seq := NewSequencer(10, newTestState(t), live, store, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go seq.Run(ctx)
	return seq
}

func submit(t *testing.T, seq *Sequencer, cmd *event.Command) event.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := seq.Submit(ctx, cmd)
	require.NoError(t, err)
	return res
}

func script() []*event.Command {
	amt := fixed.MustParse
	return []*event.Command{
		{Type: event.TypeFund, Caller: "lp", Asset: "A", Amount: amt("5000")},
		{Type: event.TypeFund, Caller: "lp", Asset: "B", Amount: amt("5000")},
		{Type: event.TypeFund, Caller: "alice", Asset: "A", Amount: amt("500")},
		{Type: event.TypeInitLiquidity, Caller: "lp", Amount: amt("1000"), Amount1: amt("1000")},
		{Type: event.TypeLongTermSwap, Caller: "alice", Asset: "A", Amount: amt("100"), Intervals: 0},
		{Type: event.TypeSwap, Caller: "alice", Asset: "A", Amount: amt("10000")}, // rejected: unfunded
		{Type: event.TypeWithdraw, Caller: "alice", OrderID: 0},
	}
}

func TestSequencer_Commands(t *testing.T) {
	live := infra.NewManualClock(0)
	seq := startSequencer(t, live, nil)

	var last event.Result
	for i, cmd := range script() {
		if cmd.Type == event.TypeWithdraw {
			live.Set(10)
		}
		last = submit(t, seq, cmd)
		require.Equal(t, uint64(i+1), last.Seq)
	}

	require.NoError(t, last.Err)
	w, ok := last.Value.(WithdrawResult)
	require.True(t, ok, "got %T", last.Value)
	require.True(t, fixed.MustParse("90.90909090909090909").Equal(w.Purchased), "got %s", w.Purchased)

	res := submit(t, seq, &event.Command{Type: event.TypeReserves})
	require.Zero(t, res.Seq, "queries are not sequenced")
	r := res.Value.(ReservesResult)
	require.True(t, fixed.MustParse("1100").Equal(r.Reserve0))
	require.Equal(t, uint64(10), r.LastVirtualOrderTime)

	res = submit(t, seq, &event.Command{Type: event.TypeOrder, OrderID: 0})
	require.NoError(t, res.Err)
	require.Equal(t, domain.OrderStatusExpired, res.Value.(twamm.OrderDetails).Status)

	require.Equal(t, uint64(8), seq.NextSeq())
}

func TestSequencer_RejectedCommandKeepsState(t *testing.T) {
	seq := startSequencer(t, infra.NewManualClock(0), nil)

	res := submit(t, seq, &event.Command{Type: event.TypeSwap, Caller: "bob", Asset: "A", Amount: fixed.FromInt(1)})
	require.ErrorIs(t, res.Err, domain.ErrNotInitialized)

	res = submit(t, seq, &event.Command{Type: event.TypeFund, Caller: "bob", Asset: "A", Amount: fixed.FromInt(-1)})
	require.ErrorIs(t, res.Err, domain.ErrInvalidAmount)

	require.Empty(t, seq.Snapshot().Balances)
}

func TestSequencer_SubmitValidates(t *testing.T) {
	seq := startSequencer(t, infra.NewManualClock(0), nil)
	_, err := seq.Submit(context.Background(), &event.Command{Type: "mint"})
	require.Error(t, err)
}

func TestSequencer_BlockTimeNeverRewinds(t *testing.T) {
	store := &memStore{}
	seq := startSequencer(t, &rewindingClock{times: []uint64{20, 5}}, store)

	submit(t, seq, &event.Command{Type: event.TypeExecute})
	submit(t, seq, &event.Command{Type: event.TypeExecute})

	require.Len(t, store.recs, 2)
	require.Equal(t, uint64(20), store.recs[0].Ts)
	require.Equal(t, uint64(20), store.recs[1].Ts)
}

type rewindingClock struct {
	times []uint64
	i     int
}

func (c *rewindingClock) CurrentTime() uint64 {
	t := c.times[c.i]
	if c.i < len(c.times)-1 {
		c.i++
	}
	return t
}

func TestSequencer_ReplayIsDeterministic(t *testing.T) {
	live := infra.NewManualClock(0)
	store := &memStore{}
	seq := startSequencer(t, live, store)

	for _, cmd := range script() {
		if cmd.Type == event.TypeWithdraw {
			live.Set(13)
		}
		submit(t, seq, cmd)
	}
	want := seq.Snapshot()
	require.Len(t, store.recs, len(script()))

	replayed := NewSequencer(10, newTestState(t), infra.NewManualClock(0), nil, nil)
	n, err := replayed.Replay(context.Background(), store)
	require.NoError(t, err)
	require.Equal(t, len(script()), n)

	got := replayed.Snapshot()
	require.Equal(t, want.NextSeq, got.NextSeq)
	require.Equal(t, want.LastTs, got.LastTs)
	require.True(t, want.Pool.Reserve0.Equal(got.Pool.Reserve0))
	require.True(t, want.Pool.Reserve1.Equal(got.Pool.Reserve1))
	require.Equal(t, want.Pool.LastVirtualOrderTime, got.Pool.LastVirtualOrderTime)
	require.Len(t, got.Balances, len(want.Balances))
	for i := range want.Balances {
		require.Equal(t, want.Balances[i].Owner, got.Balances[i].Owner)
		require.True(t, want.Balances[i].Amount.Equal(got.Balances[i].Amount))
	}
}

func TestSequencer_ReplayGapDetection(t *testing.T) {
	store := &memStore{recs: []domain.CommandRecord{
		{Seq: 1, Type: "execute", Payload: "{}"},
		{Seq: 3, Type: "execute", Payload: "{}"},
	}}
	seq := NewSequencer(10, newTestState(t), infra.NewManualClock(0), nil, nil)

	n, err := seq.Replay(context.Background(), store)
	require.Error(t, err)
	require.Contains(t, err.Error(), "REPLAY_GAP_DETECTED")
	require.Equal(t, 1, n)
}

func TestSequencer_PersistenceFailureHalts(t *testing.T) {
	seq := NewSequencer(10, newTestState(t), infra.NewManualClock(0), &memStore{fail: errors.New("disk full")}, nil)
	seq.SetDumpFile(filepath.Join(t.TempDir(), "dump.json"))

	// Should panic when the WAL write fails
	defer func() {
		if r := recover(); r == nil {
			t.Error("Sequencer should have panicked on persistence failure")
		}
	}()
	seq.processCommand(context.Background(), &event.Command{Type: event.TypeExecute})
}

func TestSequencer_DumpState(t *testing.T) {
	seq := startSequencer(t, infra.NewManualClock(0), nil)
	submit(t, seq, &event.Command{Type: event.TypeFund, Caller: "lp", Asset: "A", Amount: fixed.FromInt(5)})

	path := filepath.Join(t.TempDir(), "dump.json")
	seq.DumpState(path)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(b), `"next_seq": 2`)
	require.Contains(t, string(b), `"owner": "lp"`)
}
