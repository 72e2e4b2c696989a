package persist

import (
	"context"
	"sync"
	"time"

	"github.com/dreamware/iddir/internal/cluster"
	"github.com/dreamware/iddir/internal/directory"
	"github.com/dreamware/iddir/internal/vlog"
)

// Autosaver saves a table to a store every interval, and once more when
// stopped.
type Autosaver struct {
	store    Store
	table    *directory.Table
	interval time.Duration
	log      *vlog.Logger

	mu        sync.Mutex
	lastSaved time.Time
	saves     int
}

// NewAutosaver creates an autosaver. Nothing runs until Run.
func NewAutosaver(s Store, t *directory.Table, interval time.Duration, logger *vlog.Logger) *Autosaver {
	if logger == nil {
		logger = vlog.Discard()
	}
	return &Autosaver{store: s, table: t, interval: interval, log: logger}
}

// Restore loads saved state into the table. Absent or corrupt state leaves
// the table empty; the error is logged, never returned.
func (a *Autosaver) Restore() int {
	snap, err := Load(a.store)
	if err != nil {
		a.log.Errorf("Ignoring saved state: %v", err)
		a.table.Replace(nil)
		return 0
	}
	a.table.Replace(snap)
	if len(snap) > 0 {
		a.log.Infof("Restored %d records", len(snap))
	}
	return len(snap)
}

// Run saves every interval until ctx is done, then saves a final time.
func (a *Autosaver) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.SaveNow()
		case <-ctx.Done():
			a.SaveNow()
			return
		}
	}
}

// SaveNow saves the table immediately.
func (a *Autosaver) SaveNow() error {
	n, err := Save(a.store, a.table)
	if err != nil {
		a.log.Errorf("Saving table: %v", err)
		return err
	}
	a.mu.Lock()
	a.lastSaved = time.Now()
	a.saves++
	a.mu.Unlock()
	a.log.Debugf("Saved %d records", n)
	return nil
}

// Report returns when the table was last saved, how many saves ran and
// what the store holds.
func (a *Autosaver) Report() cluster.PersistStatus {
	stats := a.store.Stats()
	a.mu.Lock()
	defer a.mu.Unlock()
	return cluster.PersistStatus{
		LastSaved: a.lastSaved,
		Saves:     a.saves,
		Keys:      stats.Keys,
		Bytes:     stats.Bytes,
	}
}
