package main

import (
	"sync"

	"github.com/loomhttp/loom/loom"
)

// memStickTable is a minimal in-memory loom.StickTable, standing in for
// the dedicated stick-table storage engine the core package leaves out
// of scope. It exists only so loomd has something concrete to hand
// rules.go's TRACK_SC1/SC2 actions; a real deployment would back this
// with a purpose-built storage engine instead.
type memStickTable struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newMemStickTable() *memStickTable {
	return &memStickTable{counts: make(map[string]int64)}
}

func (t *memStickTable) Track(key loom.StickKey) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := string(key)
	t.counts[k]++
	return t.counts[k], true
}
