// Package replica manages the RPC channels from one node to its configured
// peers.
//
// Channels are established lazily and re-validated before use: a peer counts
// as connected only if its channel answers right now, or a fresh dial
// succeeds. Peers restart, so a connection that worked once is never
// trusted without a check.
package replica

import (
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"sync"
	"time"

	"github.com/dreamware/iddir/internal/cluster"
	"github.com/dreamware/iddir/internal/vlog"
)

// ServiceName is the net/rpc name the peer-facing service registers under.
const ServiceName = "Replica"

var (
	// ErrTimeout is returned when a call does not complete within the call timeout.
	ErrTimeout = errors.New("rpc timed out")
	// ErrNotConnected is returned when no channel to the peer can be established.
	ErrNotConnected = errors.New("peer not connected")
)

// Peer is the descriptor for one configured peer address.
type Peer struct {
	addr    string
	timeout time.Duration
	log     *vlog.Logger

	mu     sync.Mutex
	client *rpc.Client
}

// NewPeer creates a descriptor without dialing. timeout bounds both the
// dial and every call.
func NewPeer(addr string, timeout time.Duration, logger *vlog.Logger) *Peer {
	if logger == nil {
		logger = vlog.Discard()
	}
	return &Peer{addr: addr, timeout: timeout, log: logger}
}

// Addr returns the peer's configured address.
func (p *Peer) Addr() string {
	return p.addr
}

// Connect dials the peer, replacing any existing channel. It records the
// outcome and reports success; failures are logged, never returned.
func (p *Peer) Connect() bool {
	conn, err := net.DialTimeout("tcp", p.addr, p.timeout)
	if err != nil {
		p.log.Debugf("Connection to %s failed: %v", p.addr, err)
		p.drop()
		return false
	}
	client := rpc.NewClient(conn)

	p.mu.Lock()
	old := p.client
	p.client = client
	p.mu.Unlock()

	if old != nil {
		old.Close()
	}
	p.log.Debugf("Connected to %s", p.addr)
	return true
}

// IsConnected reports whether the peer is reachable right now: the current
// channel answers a probe, or a fresh dial succeeds.
func (p *Peer) IsConnected() bool {
	if p.current() != nil {
		var reply cluster.Ack
		if err := p.call(ServiceName+".Alive", cluster.Header{}, &reply); err == nil {
			return true
		}
	}
	return p.Connect()
}

// EnsureConnected reconnects if the peer is not currently connected.
func (p *Peer) EnsureConnected() bool {
	return p.IsConnected()
}

// Close tears the channel down. The peer may be connected again later.
func (p *Peer) Close() {
	p.drop()
}

// Call invokes method on the peer, dialing first if there is no channel.
// Transport failures and timeouts drop the channel; errors returned by the
// remote method keep it.
func (p *Peer) Call(method string, args any, reply any) error {
	if p.current() == nil && !p.Connect() {
		return fmt.Errorf("%s %s: %w", method, p.addr, ErrNotConnected)
	}
	return p.call(method, args, reply)
}

func (p *Peer) call(method string, args any, reply any) error {
	client := p.current()
	if client == nil {
		return fmt.Errorf("%s %s: %w", method, p.addr, ErrNotConnected)
	}

	call := client.Go(method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-call.Done:
		if call.Error != nil {
			var serverErr rpc.ServerError
			if !errors.As(call.Error, &serverErr) {
				p.dropIf(client)
			}
			return fmt.Errorf("%s %s: %w", method, p.addr, call.Error)
		}
		return nil
	case <-time.After(p.timeout):
		p.dropIf(client)
		return fmt.Errorf("%s %s: %w", method, p.addr, ErrTimeout)
	}
}

func (p *Peer) current() *rpc.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client
}

func (p *Peer) drop() {
	p.mu.Lock()
	client := p.client
	p.client = nil
	p.mu.Unlock()

	if client != nil {
		client.Close()
	}
}

// dropIf closes client if it is still the current channel.
func (p *Peer) dropIf(client *rpc.Client) {
	p.mu.Lock()
	if p.client != client {
		p.mu.Unlock()
		return
	}
	p.client = nil
	p.mu.Unlock()
	client.Close()
}

// Typed calls against the Replica service.

func (p *Peer) Replicate(args cluster.ReplicateArgs) (cluster.Ack, error) {
	var reply cluster.Ack
	err := p.Call(ServiceName+".Replicate", args, &reply)
	return reply, err
}

func (p *Peer) Ping(args cluster.PingArgs) (cluster.PingReply, error) {
	var reply cluster.PingReply
	err := p.Call(ServiceName+".Ping", args, &reply)
	return reply, err
}

func (p *Peer) RequestSync(args cluster.SyncArgs) (cluster.SyncReply, error) {
	var reply cluster.SyncReply
	err := p.Call(ServiceName+".RequestSync", args, &reply)
	return reply, err
}

func (p *Peer) AnnounceElection(args cluster.ElectionArgs) (cluster.Ack, error) {
	var reply cluster.Ack
	err := p.Call(ServiceName+".AnnounceElection", args, &reply)
	return reply, err
}

func (p *Peer) RespondElection(args cluster.ElectionArgs) (cluster.Ack, error) {
	var reply cluster.Ack
	err := p.Call(ServiceName+".RespondElection", args, &reply)
	return reply, err
}

func (p *Peer) AnnounceVictory(args cluster.ElectionArgs) (cluster.Ack, error) {
	var reply cluster.Ack
	err := p.Call(ServiceName+".AnnounceVictory", args, &reply)
	return reply, err
}

// Coordinator asks the peer which node it believes is coordinator.
func (p *Peer) Coordinator(args cluster.ElectionArgs) (cluster.CoordinatorReply, error) {
	var reply cluster.CoordinatorReply
	err := p.Call(ServiceName+".Coordinator", args, &reply)
	return reply, err
}
