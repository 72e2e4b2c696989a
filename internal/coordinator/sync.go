package coordinator

import (
	"fmt"

	"github.com/dreamware/iddir/internal/cluster"
)

// unsynced is the last-applied timestamp of a node that has never synced,
// or whose table diverged. No log holds it, so the next sync is a snapshot.
const unsynced int64 = -1

// syncPayload answers "what changed since timestamp since".
//
// The answer is "up to date" when since is this node's last-applied
// timestamp, the log tail after since when the log still holds since, and
// otherwise a full snapshot together with the timestamp it reflects.
func (n *Node) syncPayload(since int64) cluster.SyncPayload {
	n.stateMu.RLock()
	defer n.stateMu.RUnlock()

	if since == n.lastApplied {
		return cluster.SyncPayload{UpToDate: true}
	}
	tail, err := n.actions.TailSince(since)
	if err != nil {
		// since was evicted, or predates this coordinator's epoch
		return cluster.SyncPayload{Full: true, Snapshot: n.table.Snapshot(), AsOf: n.lastApplied}
	}
	if len(tail) == 0 {
		return cluster.SyncPayload{UpToDate: true}
	}
	return cluster.SyncPayload{Tail: tail}
}

// SyncFrom catches this node up from the node at addr.
func (n *Node) SyncFrom(addr string) error {
	n.applyMu.Lock()
	defer n.applyMu.Unlock()
	return n.syncFrom(addr)
}

// syncFrom requests everything after this node's last-applied timestamp
// from addr and applies it: a snapshot replaces the table wholesale, a tail
// is applied in ascending order. Nothing applied here is logged or fanned
// out. Must be called with applyMu held.
//
// A coordinator never syncs from another node; being asked to is fatal.
func (n *Node) syncFrom(addr string) error {
	if n.IsCoordinator() {
		logFatal("Asked to sync from %s while coordinator", addr)
		return fmt.Errorf("sync from %s: this node is coordinator", addr)
	}
	p, ok := n.peers.Lookup(addr)
	if !ok {
		return fmt.Errorf("sync from %s: %w", addr, ErrUnknownPeer)
	}

	since := n.LastApplied()
	reply, err := p.RequestSync(cluster.SyncArgs{Header: n.header("sync request"), Since: since})
	if err != nil {
		return fmt.Errorf("sync from %s: %w", addr, err)
	}
	n.clock.Observe(reply.Clock, "sync reply from "+addr)

	payload := reply.Payload
	n.log.Debugf("Sync from %s since @%d: %s", addr, since, payload)

	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	switch {
	case payload.UpToDate:
	case payload.Full:
		n.table.Replace(payload.Snapshot)
		n.lastApplied = payload.AsOf
		n.log.Infof("Replaced table with snapshot of %d records as of @%d", len(payload.Snapshot), payload.AsOf)
	default:
		for _, entry := range payload.Tail {
			if entry.Timestamp <= n.lastApplied {
				continue
			}
			n.applyEntry(entry)
			if n.lastApplied == unsynced {
				break
			}
		}
		n.log.Infof("Applied %d actions, now at @%d", len(payload.Tail), n.lastApplied)
	}
	return nil
}
