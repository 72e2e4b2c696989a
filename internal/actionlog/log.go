// Package actionlog keeps the coordinator's most recent applied actions,
// keyed by the Lamport timestamp they were applied at.
//
// The log is the incremental catch-up source for replicas. It is bounded:
// once full, each append evicts the smallest timestamp. A replica whose
// last-applied timestamp is no longer in the log must fall back to a full
// snapshot, which TailSince signals with ErrNotFound.
package actionlog

import (
	"errors"
	"sync"

	"github.com/petar/GoLLRB/llrb"

	"github.com/dreamware/iddir/internal/cluster"
)

// ErrNotFound is returned by TailSince when the requested timestamp is not
// in the log.
var ErrNotFound = errors.New("timestamp not in action log")

type entry struct {
	ts     int64
	action cluster.Action
}

func (e entry) Less(than llrb.Item) bool {
	return e.ts < than.(entry).ts
}

// Log is a bounded, timestamp-ordered action log. Safe for concurrent use.
type Log struct {
	mu       sync.Mutex
	tree     *llrb.LLRB
	capacity int
}

// New creates a log holding at most capacity entries. A capacity below one
// is treated as one.
func New(capacity int) *Log {
	if capacity < 1 {
		capacity = 1
	}
	return &Log{tree: llrb.New(), capacity: capacity}
}

// Append records action at ts, evicting the oldest entry first when the log
// is full. Appending an existing timestamp replaces its action.
func (l *Log) Append(ts int64, action cluster.Action) {
	l.mu.Lock()
	defer l.mu.Unlock()

	item := entry{ts: ts, action: action}
	if l.tree.Get(item) == nil {
		for l.tree.Len() >= l.capacity {
			l.tree.DeleteMin()
		}
	}
	l.tree.ReplaceOrInsert(item)
}

// TailSince returns every entry with a timestamp strictly greater than ts,
// in ascending order. The tail is empty when ts is the newest entry.
// Returns ErrNotFound when ts itself is not in the log.
func (l *Log) TailSince(ts int64) ([]cluster.LogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pivot := entry{ts: ts}
	if l.tree.Get(pivot) == nil {
		return nil, ErrNotFound
	}

	var tail []cluster.LogEntry
	l.tree.AscendGreaterOrEqual(pivot, func(i llrb.Item) bool {
		e := i.(entry)
		if e.ts > ts {
			tail = append(tail, cluster.LogEntry{Timestamp: e.ts, Action: e.action})
		}
		return true
	})
	return tail, nil
}

// Clear drops every entry. Called when this node stops being coordinator,
// since entries are only valid for the epoch that produced them.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tree = llrb.New()
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tree.Len()
}

// Capacity returns the maximum number of entries.
func (l *Log) Capacity() int {
	return l.capacity
}
