// Package journal records undo actions for in-memory state so that an
// operation can be rolled back after a late failure.
package journal

// Journal is a stack of undo closures. A nil *Journal records nothing.
// Not safe for concurrent use; the engine is single-writer.
type Journal struct {
	undo []func()
}

// New creates an empty journal.
func New() *Journal {
	return &Journal{}
}

// Record pushes an undo action.
func (j *Journal) Record(undo func()) {
	if j == nil {
		return
	}
	j.undo = append(j.undo, undo)
}

// Revert runs all recorded undo actions newest first and empties the journal.
func (j *Journal) Revert() {
	if j == nil {
		return
	}
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
		j.undo[i] = nil
	}
	j.undo = j.undo[:0]
}

// Commit forgets all recorded undo actions.
func (j *Journal) Commit() {
	if j == nil {
		return
	}
	clear(j.undo)
	j.undo = j.undo[:0]
}

// Len returns the number of pending undo actions.
func (j *Journal) Len() int {
	if j == nil {
		return 0
	}
	return len(j.undo)
}

// Assign sets *dst = v and records the previous value.
func Assign[T any](j *Journal, dst *T, v T) {
	prev := *dst
	j.Record(func() { *dst = prev })
	*dst = v
}

// Set stores m[k] = v and records the previous entry (or its absence).
func Set[K comparable, V any](j *Journal, m map[K]V, k K, v V) {
	prev, existed := m[k]
	j.Record(func() {
		if existed {
			m[k] = prev
		} else {
			delete(m, k)
		}
	})
	m[k] = v
}

// Delete removes m[k] and records the previous entry.
func Delete[K comparable, V any](j *Journal, m map[K]V, k K) {
	prev, existed := m[k]
	if !existed {
		return
	}
	j.Record(func() { m[k] = prev })
	delete(m, k)
}
