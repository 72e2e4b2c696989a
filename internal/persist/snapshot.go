package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dreamware/iddir/internal/directory"
)

// recordPrefix namespaces identity records in the store.
const recordPrefix = "rec/"

// ErrCorrupt is returned by Load when saved state cannot be trusted.
var ErrCorrupt = errors.New("corrupt saved state")

func recordKey(name string) string {
	return recordPrefix + name
}

// Save writes the whole table to s, replacing whatever was saved before.
func Save(s Store, t *directory.Table) (int, error) {
	snap := t.Snapshot()
	entries := make(map[string][]byte, len(snap))
	for name, rec := range snap {
		data, err := json.Marshal(rec)
		if err != nil {
			return 0, fmt.Errorf("encode %q: %w", name, err)
		}
		entries[recordKey(name)] = data
	}
	if err := s.ReplacePrefix(recordPrefix, entries); err != nil {
		return 0, fmt.Errorf("save %d records: %w", len(entries), err)
	}
	return len(entries), nil
}

// Load reads a saved table from s. An empty store yields an empty table.
// Any record that does not decode, or that disagrees with its key or with
// another record's unique id, makes the whole state ErrCorrupt.
func Load(s Store) (map[string]directory.Record, error) {
	keys, err := s.List(recordPrefix)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	snap := make(map[string]directory.Record, len(keys))
	ids := make(map[string]string, len(keys))
	for _, key := range keys {
		data, err := s.Get(key)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		var rec directory.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("%s: %v: %w", key, err, ErrCorrupt)
		}
		name := strings.TrimPrefix(key, recordPrefix)
		if rec.LoginName != name || rec.UniqueID == "" {
			return nil, fmt.Errorf("%s holds record %q: %w", key, rec.LoginName, ErrCorrupt)
		}
		if other, dup := ids[rec.UniqueID]; dup {
			return nil, fmt.Errorf("%s and %s share id %s: %w", other, name, rec.UniqueID, ErrCorrupt)
		}
		ids[rec.UniqueID] = name
		snap[name] = rec
	}
	return snap, nil
}
