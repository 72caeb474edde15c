package journal

import "testing"

func TestRevertRestoresInReverseOrder(t *testing.T) {
	j := New()
	x := 1
	m := map[string]int{"a": 1}

	Assign(j, &x, 2)
	Assign(j, &x, 3)
	Set(j, m, "a", 10)
	Set(j, m, "b", 20)
	Delete(j, m, "a")

	if x != 3 || m["b"] != 20 {
		t.Fatalf("unexpected state before revert: x=%d m=%v", x, m)
	}
	if j.Len() != 5 {
		t.Errorf("Len = %d, want 5", j.Len())
	}

	j.Revert()

	if x != 1 {
		t.Errorf("x = %d, want 1", x)
	}
	if len(m) != 1 || m["a"] != 1 {
		t.Errorf("m = %v, want map[a:1]", m)
	}
	if j.Len() != 0 {
		t.Errorf("Len after revert = %d, want 0", j.Len())
	}
}

func TestCommitKeepsState(t *testing.T) {
	j := New()
	x := 1
	Assign(j, &x, 5)
	j.Commit()
	j.Revert()
	if x != 5 {
		t.Errorf("x = %d, want 5", x)
	}
}

func TestNilJournal(t *testing.T) {
	var j *Journal
	x := 1
	Assign(j, &x, 2)
	j.Revert()
	if x != 2 {
		t.Errorf("nil journal must not undo, x = %d", x)
	}
	if j.Len() != 0 {
		t.Error("nil journal Len must be 0")
	}
}
