package directory

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/exp/slices"
)

// Stats tracks operation counts and table size.
type Stats struct {
	Creates  uint64 `json:"creates"`  // successful creates
	Modifies uint64 `json:"modifies"` // successful renames
	Deletes  uint64 `json:"deletes"`  // successful deletes
	Lookups  uint64 `json:"lookups"`  // lookups and reverse lookups, hits or misses
	Rejected uint64 `json:"rejected"` // writes refused by validation
	Records  int    `json:"records"`  // current number of records
}

// Table is the login identity table held by every replica.
// A single RWMutex guards both indexes, so each write's existence check and
// mutation happen as one step.
type Table struct {
	mu     sync.RWMutex
	byName map[string]Record
	byID   map[string]string // unique id -> login name

	creates  atomic.Uint64
	modifies atomic.Uint64
	deletes  atomic.Uint64
	lookups  atomic.Uint64
	rejected atomic.Uint64
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		byName: make(map[string]Record),
		byID:   make(map[string]string),
	}
}

// Create inserts r. LoginName must be free; every other field is stored as
// given, so replicas applying the same record end up identical.
//
// Returns ErrNameCollision if the name is taken.
func (t *Table) Create(r Record) (Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.byName[r.LoginName]; exists {
		t.rejected.Add(1)
		return Record{}, fmt.Errorf("create %q: %w", r.LoginName, ErrNameCollision)
	}
	t.byName[r.LoginName] = r
	t.byID[r.UniqueID] = r.LoginName
	t.creates.Add(1)
	return r, nil
}

// Modify renames oldName to newName after checking, in order: oldName
// exists, credential matches, newName is free. UniqueID, CreatedAt and
// CreatorAddress carry over; LastChangedAt becomes at.
func (t *Table) Modify(oldName, newName, credential string, at time.Time) (Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, err := t.authorize(oldName, credential)
	if err != nil {
		return Record{}, fmt.Errorf("modify %q: %w", oldName, err)
	}
	if _, exists := t.byName[newName]; exists {
		t.rejected.Add(1)
		return Record{}, fmt.Errorf("modify %q to %q: %w", oldName, newName, ErrNameCollision)
	}

	delete(t.byName, oldName)
	r.LoginName = newName
	r.LastChangedAt = at
	t.byName[newName] = r
	t.byID[r.UniqueID] = newName
	t.modifies.Add(1)
	return r, nil
}

// Delete removes name after the same name and credential checks as Modify.
func (t *Table) Delete(name, credential string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, err := t.authorize(name, credential)
	if err != nil {
		return fmt.Errorf("delete %q: %w", name, err)
	}
	delete(t.byName, name)
	delete(t.byID, r.UniqueID)
	t.deletes.Add(1)
	return nil
}

// authorize must be called with mu held.
func (t *Table) authorize(name, credential string) (Record, error) {
	r, exists := t.byName[name]
	if !exists {
		t.rejected.Add(1)
		return Record{}, ErrNoSuchUser
	}
	if r.CredentialHash != credential {
		t.rejected.Add(1)
		return Record{}, ErrIncorrectCredential
	}
	return r, nil
}

// Lookup returns the record for a login name.
func (t *Table) Lookup(name string) (Record, error) {
	t.lookups.Add(1)
	t.mu.RLock()
	defer t.mu.RUnlock()

	r, ok := t.byName[name]
	if !ok {
		return Record{}, fmt.Errorf("lookup %q: %w", name, ErrNoSuchUser)
	}
	return r, nil
}

// ReverseLookup returns the record holding a unique id.
func (t *Table) ReverseLookup(id string) (Record, error) {
	t.lookups.Add(1)
	t.mu.RLock()
	defer t.mu.RUnlock()

	name, ok := t.byID[id]
	if !ok {
		return Record{}, fmt.Errorf("reverse lookup %q: %w", id, ErrNoSuchUser)
	}
	return t.byName[name], nil
}

// Names returns every login name in ascending order.
func (t *Table) Names() []string {
	t.mu.RLock()
	names := make([]string, 0, len(t.byName))
	for name := range t.byName {
		names = append(names, name)
	}
	t.mu.RUnlock()

	slices.Sort(names)
	return names
}

// IDs returns every unique id in ascending order.
func (t *Table) IDs() []string {
	t.mu.RLock()
	ids := make([]string, 0, len(t.byID))
	for id := range t.byID {
		ids = append(ids, id)
	}
	t.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

// All returns every record ordered by login name.
func (t *Table) All() []Record {
	t.mu.RLock()
	all := make([]Record, 0, len(t.byName))
	for _, r := range t.byName {
		all = append(all, r)
	}
	t.mu.RUnlock()

	slices.SortFunc(all, func(a, b Record) int {
		switch {
		case a.LoginName < b.LoginName:
			return -1
		case a.LoginName > b.LoginName:
			return 1
		}
		return 0
	})
	return all
}

// List renders a listing for sel, one entry per line item.
// SelectAll entries are "name uuid display-name".
func (t *Table) List(sel Selector) ([]string, error) {
	switch sel {
	case SelectNames:
		return t.Names(), nil
	case SelectIDs:
		return t.IDs(), nil
	case SelectAll:
		all := t.All()
		out := make([]string, 0, len(all))
		for _, r := range all {
			line := r.LoginName + " " + r.UniqueID
			if r.DisplayName != "" {
				line += " " + r.DisplayName
			}
			out = append(out, line)
		}
		return out, nil
	}
	return nil, fmt.Errorf("list %v: %w", sel, ErrMalformedInput)
}

// Snapshot returns a copy of the whole table keyed by login name.
func (t *Table) Snapshot() map[string]Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := make(map[string]Record, len(t.byName))
	for name, r := range t.byName {
		snap[name] = r
	}
	return snap
}

// Replace swaps the table contents for snap. Records are stored under the
// map key; the reverse index is rebuilt.
func (t *Table) Replace(snap map[string]Record) {
	byName := make(map[string]Record, len(snap))
	byID := make(map[string]string, len(snap))
	for name, r := range snap {
		r.LoginName = name
		byName[name] = r
		byID[r.UniqueID] = name
	}

	t.mu.Lock()
	t.byName = byName
	t.byID = byID
	t.mu.Unlock()
}

// Len returns the number of records.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byName)
}

// Stats returns a point-in-time copy of the counters.
func (t *Table) Stats() Stats {
	return Stats{
		Creates:  t.creates.Load(),
		Modifies: t.modifies.Load(),
		Deletes:  t.deletes.Load(),
		Lookups:  t.lookups.Load(),
		Rejected: t.rejected.Load(),
		Records:  t.Len(),
	}
}
