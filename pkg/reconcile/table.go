package reconcile

import "sync"

// Table counts consecutive failures per provider module. All
// read-modify-write sequences happen under one lock.
type Table struct {
	mu     sync.Mutex
	counts map[string]uint32
}

func NewTable() *Table {
	return &Table{counts: make(map[string]uint32)}
}

// Fail records a failure of module. It returns the module's failure count
// and whether another restart fits in a budget of restarts. A module
// that exceeds the budget is removed from the table.
func (t *Table) Fail(module string, budget uint32) (count uint32, restart bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	count = t.counts[module] + 1
	if count > budget {
		delete(t.counts, module)
		return count, false
	}
	t.counts[module] = count
	return count, true
}

// Remove drops module and reports whether it was present.
func (t *Table) Remove(module string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.counts[module]
	delete(t.counts, module)
	return ok
}

func (t *Table) Contains(module string) bool {
	_, ok := t.Count(module)
	return ok
}

func (t *Table) Count(module string) (uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.counts[module]
	return n, ok
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.counts)
}
