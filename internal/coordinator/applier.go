package coordinator

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dreamware/iddir/internal/cluster"
	"github.com/dreamware/iddir/internal/directory"
	"github.com/dreamware/iddir/internal/replica"
)

// applyAction performs one action against the table. Every value the table
// stores comes from the action, so replicas applying the same action end up
// with identical records.
func applyAction(t *directory.Table, a cluster.Action) (directory.Record, error) {
	switch a.Kind {
	case cluster.ActionCreate:
		return t.Create(directory.Record{
			LoginName:      a.LoginName,
			UniqueID:       a.UniqueID,
			DisplayName:    a.Aux,
			CreatorAddress: a.Origin,
			CreatedAt:      a.At,
			LastChangedAt:  a.At,
			CredentialHash: a.Credential,
		})
	case cluster.ActionModify:
		return t.Modify(a.LoginName, a.Aux, a.Credential, a.At)
	case cluster.ActionDelete:
		return directory.Record{}, t.Delete(a.LoginName, a.Credential)
	}
	return directory.Record{}, fmt.Errorf("action %v: %w", a.Kind, directory.ErrMalformedInput)
}

// stamp fills in the values the coordinator decides for every replica.
func stamp(a cluster.Action, origin string) cluster.Action {
	a.At = time.Now().UTC()
	if a.Kind == cluster.ActionCreate {
		a.UniqueID = uuid.New().String()
		a.Origin = origin
	}
	return a
}

// Apply validates and applies a client write on the coordinator, logs it at
// a fresh timestamp and replicates it to every connected peer.
//
// The coordinator check, the table change and the log append happen under
// one lock, so an action is never logged by a node that has just stopped
// being coordinator. Fan-out happens after the lock is released; failures to
// reach a replica are logged and otherwise ignored.
//
// Returns ErrNotCoordinator on any other node, or the table's validation error.
func (n *Node) Apply(a cluster.Action, origin string) (directory.Record, error) {
	n.clock.Tick("received " + a.Kind.String() + " request")

	n.applyMu.Lock()
	defer n.applyMu.Unlock()

	n.stateMu.Lock()
	if n.election.Role() != RoleCoordinator {
		n.stateMu.Unlock()
		return directory.Record{}, ErrNotCoordinator
	}
	a = stamp(a, origin)
	rec, err := applyAction(n.table, a)
	if err != nil {
		n.stateMu.Unlock()
		n.clock.Tick("rejected " + a.String())
		return directory.Record{}, err
	}
	ts := n.clock.Tick("completed " + a.String())
	previous := n.lastApplied
	n.actions.Append(ts, a)
	n.lastApplied = ts
	n.stateMu.Unlock()

	n.replicate(cluster.LogEntry{Timestamp: ts, Action: a}, previous)
	return rec, nil
}

// replicate pushes one logged action to every peer that is connected right
// now, concurrently, and waits for all of them.
func (n *Node) replicate(entry cluster.LogEntry, previous int64) {
	args := cluster.ReplicateArgs{Header: n.header("replicate " + entry.Action.String()), Entry: entry, Previous: previous}

	var wg sync.WaitGroup
	for _, p := range n.peers.Peers() {
		wg.Add(1)
		go func(p *replica.Peer) {
			defer wg.Done()
			if !p.IsConnected() {
				n.log.Debugf("Skipping replication to %s: not connected", p.Addr())
				return
			}
			reply, err := p.Replicate(args)
			if err != nil {
				n.log.Errorf("Replicating @%d to %s: %v", entry.Timestamp, p.Addr(), err)
				return
			}
			n.clock.Observe(reply.Clock, "replicate ack from "+p.Addr())
		}(p)
	}
	wg.Wait()
}

// applyReplicated handles an action pushed by the coordinator at from.
// If this node's last-applied timestamp is not the one the coordinator
// logged before the action, it catches up from the coordinator first.
// Actions at or below the last-applied timestamp are already reflected and
// are skipped.
func (n *Node) applyReplicated(from string, entry cluster.LogEntry, previous int64) error {
	n.applyMu.Lock()
	defer n.applyMu.Unlock()

	if n.LastApplied() != previous {
		n.log.Infof("Missed actions before @%d (have @%d, want @%d), syncing from %s",
			entry.Timestamp, n.LastApplied(), previous, from)
		if err := n.syncFrom(from); err != nil {
			return fmt.Errorf("catch up before @%d: %w", entry.Timestamp, err)
		}
	}

	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	if entry.Timestamp <= n.lastApplied {
		n.log.Debugf("Already applied @%d", entry.Timestamp)
		return nil
	}
	n.applyEntry(entry)
	return nil
}

// applyEntry applies an action decided elsewhere and records its timestamp.
// Must be called with stateMu held. A validation failure means this replica
// has diverged; lastApplied is then reset so the next sync is a full snapshot.
func (n *Node) applyEntry(entry cluster.LogEntry) {
	if _, err := applyAction(n.table, entry.Action); err != nil {
		n.log.Errorf("Applying @%d %s: %v", entry.Timestamp, entry.Action, err)
		n.lastApplied = unsynced
		return
	}
	n.clock.Tick(fmt.Sprintf("applied @%d %s", entry.Timestamp, entry.Action))
	n.lastApplied = entry.Timestamp
}
