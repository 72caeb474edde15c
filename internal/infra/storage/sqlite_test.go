package storage

import (
	"context"
	"path/filepath"
	"testing"

	"twamm_go/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *Storage {
	dbName := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	if err := db.AutoMigrate(&domain.CommandRecord{}, &domain.AppConfig{}); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}

	s := &Storage{db: db}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func TestSaveAndLoadCommands(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	// Insert out of order; loads come back sorted.
	for _, seq := range []uint64{2, 1, 3} {
		rec := &domain.CommandRecord{Seq: seq, Ts: seq * 10, Type: "execute", Payload: "{}"}
		if err := s.SaveCommand(ctx, rec); err != nil {
			t.Fatalf("SaveCommand(%d) failed: %v", seq, err)
		}
	}

	recs, err := s.LoadCommands(ctx, 0)
	if err != nil {
		t.Fatalf("LoadCommands failed: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	for i, r := range recs {
		if r.Seq != uint64(i+1) {
			t.Errorf("record %d: seq = %d", i, r.Seq)
		}
	}

	tail, err := s.LoadCommands(ctx, 2)
	if err != nil {
		t.Fatalf("LoadCommands failed: %v", err)
	}
	if len(tail) != 1 || tail[0].Ts != 30 {
		t.Errorf("expected only seq 3, got %+v", tail)
	}

	last, err := s.LastSeq(ctx)
	if err != nil || last != 3 {
		t.Errorf("LastSeq = %d, %v; want 3", last, err)
	}
}

func TestSaveCommand_DuplicateSeqRejected(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	rec := &domain.CommandRecord{Seq: 1, Type: "execute", Payload: "{}"}
	if err := s.SaveCommand(ctx, rec); err != nil {
		t.Fatalf("SaveCommand failed: %v", err)
	}
	dup := &domain.CommandRecord{Seq: 1, Type: "swap", Payload: "{}"}
	if err := s.SaveCommand(ctx, dup); err == nil {
		t.Error("expected error writing the same sequence number twice")
	}
}

func TestLastSeq_Empty(t *testing.T) {
	s := setupTestDB(t)
	last, err := s.LastSeq(context.Background())
	if err != nil {
		t.Fatalf("LastSeq failed: %v", err)
	}
	if last != 0 {
		t.Errorf("expected 0 on empty log, got %d", last)
	}
}

func TestMeta(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	if _, ok, err := s.LoadMeta(ctx, "pool"); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}

	if err := s.SaveMeta(ctx, "pool", "A/B"); err != nil {
		t.Fatalf("SaveMeta failed: %v", err)
	}
	if err := s.SaveMeta(ctx, "pool", "A/C"); err != nil {
		t.Fatalf("SaveMeta overwrite failed: %v", err)
	}
	if err := s.SaveMeta(ctx, "interval", "10"); err != nil {
		t.Fatalf("SaveMeta failed: %v", err)
	}

	v, ok, err := s.LoadMeta(ctx, "pool")
	if err != nil || !ok || v != "A/C" {
		t.Errorf("LoadMeta = %q, %v, %v", v, ok, err)
	}

	m, err := s.LoadMetaMap(ctx)
	if err != nil {
		t.Fatalf("LoadMetaMap failed: %v", err)
	}
	if len(m) != 2 || m["interval"] != "10" {
		t.Errorf("unexpected meta map: %v", m)
	}
}

func TestNewStorage_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "wal.db")
	s, err := NewStorage(path)
	if err != nil {
		t.Fatalf("NewStorage failed: %v", err)
	}
	defer s.Close()

	if err := s.SaveCommand(context.Background(), &domain.CommandRecord{Seq: 1, Type: "execute", Payload: "{}"}); err != nil {
		t.Fatalf("SaveCommand failed: %v", err)
	}
}
