package coordinator

import (
	"context"

	"github.com/dreamware/iddir/internal/cluster"
)

// DirectoryServiceName is the net/rpc name of the client-facing service.
const DirectoryServiceName = "Directory"

// Replica is the peer-facing RPC service. Every method resolves the sender
// against the configured peers and observes its clock before acting.
type Replica struct {
	node *Node
}

// Alive answers liveness probes. It carries no clock.
func (r *Replica) Alive(args cluster.Header, reply *cluster.Ack) error {
	reply.Clock = r.node.clock.Current()
	return nil
}

// Replicate applies an action pushed by the coordinator.
func (r *Replica) Replicate(args cluster.ReplicateArgs, reply *cluster.Ack) error {
	n := r.node
	if _, err := n.peer(args.Header, "replicate"); err != nil {
		return err
	}
	err := n.applyReplicated(args.Sender, args.Entry, args.Previous)
	reply.Clock = n.clock.Current()
	if err != nil {
		n.log.Errorf("Replicated action @%d from %s: %v", args.Entry.Timestamp, args.Sender, err)
	}
	return err
}

// Ping reports whether the caller has applied everything this node has.
func (r *Replica) Ping(args cluster.PingArgs, reply *cluster.PingReply) error {
	n := r.node
	if _, err := n.peer(args.Header, "ping"); err != nil {
		return err
	}
	reply.UpToDate = args.LastApplied == n.LastApplied()
	reply.Clock = n.clock.Current()
	return nil
}

// RequestSync returns what changed since args.Since.
func (r *Replica) RequestSync(args cluster.SyncArgs, reply *cluster.SyncReply) error {
	n := r.node
	if _, err := n.peer(args.Header, "sync request"); err != nil {
		return err
	}
	reply.Payload = n.syncPayload(args.Since)
	reply.Clock = n.clock.Current()
	n.log.Debugf("Sync for %s since @%d: %s", args.Sender, args.Since, reply.Payload)
	return nil
}

// AnnounceElection is sent by a weaker node that started an election. This
// node tells it to stand down and runs its own election.
func (r *Replica) AnnounceElection(args cluster.ElectionArgs, reply *cluster.Ack) error {
	n := r.node
	p, err := n.peer(args.Header, "election announcement")
	if err != nil {
		return err
	}
	reply.Clock = n.clock.Current()
	if !beats(n.addr, args.Sender) {
		n.log.Debugf("Ignoring election announcement from stronger node %s", args.Sender)
		return nil
	}

	go func() {
		ack, err := p.RespondElection(cluster.ElectionArgs{Header: n.header("election response")})
		if err != nil {
			n.log.Errorf("Responding to election from %s: %v", args.Sender, err)
		} else {
			n.clock.Observe(ack.Clock, "election response ack from "+args.Sender)
		}
		n.StartElection("election announced by " + args.Sender)
	}()
	return nil
}

// RespondElection is sent by a stronger node: this node has lost.
func (r *Replica) RespondElection(args cluster.ElectionArgs, reply *cluster.Ack) error {
	n := r.node
	if _, err := n.peer(args.Header, "election response"); err != nil {
		return err
	}
	n.election.post(event{kind: evResponse, from: args.Sender})
	reply.Clock = n.clock.Current()
	return nil
}

// AnnounceVictory names the sender as the new coordinator.
func (r *Replica) AnnounceVictory(args cluster.ElectionArgs, reply *cluster.Ack) error {
	n := r.node
	if _, err := n.peer(args.Header, "victory"); err != nil {
		return err
	}
	n.election.post(event{kind: evVictory, from: args.Sender})
	reply.Clock = n.clock.Current()
	return nil
}

// Coordinator reports the coordinator this node knows of.
func (r *Replica) Coordinator(args cluster.ElectionArgs, reply *cluster.CoordinatorReply) error {
	n := r.node
	if _, err := n.peer(args.Header, "coordinator query"); err != nil {
		return err
	}
	reply.Address = n.Coordinator()
	reply.Clock = n.clock.Current()
	return nil
}

// Directory is the client-facing RPC service. Outcomes are reported in the
// Response, never as RPC errors. Each connection gets its own Directory,
// bound to the connection's remote host.
type Directory struct {
	node   *Node
	origin string
}

// Create adds a user. The creator address is the connection's remote host;
// any Origin the client sent is ignored.
func (d *Directory) Create(args cluster.CreateArgs, reply *cluster.Response) error {
	args.Origin = d.origin
	*reply = d.node.Create(args)
	return nil
}

// Lookup finds a user by login name.
func (d *Directory) Lookup(args cluster.LookupArgs, reply *cluster.Response) error {
	*reply = d.node.Lookup(args.LoginName)
	return nil
}

// ReverseLookup finds a user by unique id.
func (d *Directory) ReverseLookup(args cluster.ReverseLookupArgs, reply *cluster.Response) error {
	*reply = d.node.ReverseLookup(args.UniqueID)
	return nil
}

// Modify renames a user.
func (d *Directory) Modify(args cluster.ModifyArgs, reply *cluster.Response) error {
	*reply = d.node.Modify(args)
	return nil
}

// Delete removes a user.
func (d *Directory) Delete(args cluster.DeleteArgs, reply *cluster.Response) error {
	*reply = d.node.Delete(args)
	return nil
}

// List returns the login names, the unique ids or both.
func (d *Directory) List(args cluster.ListArgs, reply *cluster.Response) error {
	*reply = d.node.List(args.Selector)
	return nil
}

// WhoIsCoordinator blocks until a coordinator is known, or MaxWait elapses.
func (d *Directory) WhoIsCoordinator(args cluster.WhoIsCoordinatorArgs, reply *cluster.Response) error {
	ctx := context.Background()
	if args.MaxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, args.MaxWait)
		defer cancel()
	}
	*reply = d.node.WhoIsCoordinatorResponse(ctx)
	return nil
}
