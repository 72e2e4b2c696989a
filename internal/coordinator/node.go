package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/rpc"
	"sync"
	"time"

	"github.com/dreamware/iddir/internal/actionlog"
	"github.com/dreamware/iddir/internal/clock"
	"github.com/dreamware/iddir/internal/cluster"
	"github.com/dreamware/iddir/internal/directory"
	"github.com/dreamware/iddir/internal/replica"
	"github.com/dreamware/iddir/internal/vlog"
)

// logFatal ends the process on protocol invariant violations.
// Replaced in tests.
var logFatal = log.Fatalf

// coordinatorPollInterval is how often WhoIsCoordinator re-checks the role.
const coordinatorPollInterval = 500 * time.Millisecond

var (
	// ErrNotCoordinator is returned by writes on a node that is not coordinator.
	ErrNotCoordinator = errors.New("not coordinator")
	// ErrUnknownPeer is returned when a peer message names a sender that is
	// not configured.
	ErrUnknownPeer = errors.New("unknown peer")
)

// Options configures a Node.
type Options struct {
	Address           string   // this node's own host:port, as configured on its peers
	Peers             []string // peer host:port addresses
	LogCapacity       int
	ElectionWait      time.Duration
	HeartbeatInterval time.Duration
	RPCTimeout        time.Duration
	Logger            *vlog.Logger
}

func (o *Options) setDefaults() {
	if o.LogCapacity < 1 {
		o.LogCapacity = 3
	}
	if o.ElectionWait <= 0 {
		o.ElectionWait = 2 * time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 5 * time.Second
	}
	if o.RPCTimeout <= 0 {
		o.RPCTimeout = o.ElectionWait
	}
	if o.Logger == nil {
		o.Logger = vlog.Discard()
	}
}

// Node is one replica of the identity directory. It owns the table, the
// Lamport clock, the action log, the peer registry, the election state
// machine and the heartbeat monitor.
//
// Locking: applyMu serializes every change to the table (coordinator writes
// including their fan-out, replicated actions, catch-up syncs). stateMu is
// held only while the table, the action log and lastApplied change together,
// and is read-locked to answer sync requests. Lock order is
// applyMu, stateMu, election.mu.
type Node struct {
	addr  string
	opts  Options
	log   *vlog.Logger
	clock *clock.Clock

	table    *directory.Table
	actions  *actionlog.Log
	peers    *replica.Registry
	election *election
	monitor  *HeartbeatMonitor

	applyMu     sync.Mutex
	stateMu     sync.RWMutex
	lastApplied int64

	lnMu      sync.Mutex
	listeners []net.Listener
	conns     map[net.Conn]struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// New builds a node. Nothing runs until Serve and Start are called.
//
// Parameters:
//   - opts: Address is required; zero values elsewhere take the defaults
//     (log capacity 3, election wait 2s, heartbeat 5s, RPC timeout equal to
//     the election wait)
//
// Example:
//
//	n, err := coordinator.New(coordinator.Options{
//	    Address: "10.0.0.1:5185",
//	    Peers:   []string{"10.0.0.2:5185", "10.0.0.3:5185"},
//	})
//	go n.Serve(ln)
//	n.Start()
func New(opts Options) (*Node, error) {
	if opts.Address == "" {
		return nil, errors.New("node address is required")
	}
	if _, _, err := net.SplitHostPort(opts.Address); err != nil {
		return nil, fmt.Errorf("node address %q: %w", opts.Address, err)
	}
	opts.setDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		addr:    opts.Address,
		opts:    opts,
		log:     opts.Logger,
		clock:   clock.New(opts.Logger),
		table:   directory.NewTable(),
		actions: actionlog.New(opts.LogCapacity),
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[net.Conn]struct{}),

		lastApplied: unsynced,
	}
	n.peers = replica.NewRegistry(opts.Address, opts.Peers, opts.RPCTimeout, opts.Logger)
	n.election = newElection(n)
	n.monitor = NewHeartbeatMonitor(opts.HeartbeatInterval, opts.Logger)
	n.monitor.SetCheckFunction(n.checkCoordinator)
	n.monitor.SetOnUnhealthy(func(coordinator string) {
		n.StartElection(fmt.Sprintf("coordinator %q unreachable", coordinator))
	})

	if _, err := n.rpcServer(""); err != nil {
		return nil, err
	}
	return n, nil
}

// rpcServer builds the services for one connection. origin is the
// connection's remote host, recorded as the creator of records it creates.
func (n *Node) rpcServer(origin string) (*rpc.Server, error) {
	server := rpc.NewServer()
	if err := server.RegisterName(replica.ServiceName, &Replica{node: n}); err != nil {
		return nil, fmt.Errorf("register replica service: %w", err)
	}
	if err := server.RegisterName(DirectoryServiceName, &Directory{node: n, origin: origin}); err != nil {
		return nil, fmt.Errorf("register directory service: %w", err)
	}
	return server, nil
}

// remoteHost returns the host part of conn's remote address.
func remoteHost(conn net.Conn) string {
	addr := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// Serve accepts peer and client RPC connections on ln until Stop.
func (n *Node) Serve(ln net.Listener) {
	n.lnMu.Lock()
	n.listeners = append(n.listeners, ln)
	n.lnMu.Unlock()

	n.log.Infof("Serving RPC on %s", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-n.ctx.Done():
			default:
				n.log.Errorf("Accept on %s: %v", ln.Addr(), err)
			}
			return
		}
		if !n.track(conn) {
			conn.Close()
			return
		}
		server, err := n.rpcServer(remoteHost(conn))
		if err != nil {
			n.log.Errorf("Serving %s: %v", conn.RemoteAddr(), err)
			n.untrack(conn)
			conn.Close()
			continue
		}
		go func() {
			server.ServeConn(conn)
			n.untrack(conn)
		}()
	}
}

func (n *Node) track(conn net.Conn) bool {
	n.lnMu.Lock()
	defer n.lnMu.Unlock()
	if n.ctx.Err() != nil {
		return false
	}
	n.conns[conn] = struct{}{}
	return true
}

func (n *Node) untrack(conn net.Conn) {
	n.lnMu.Lock()
	delete(n.conns, conn)
	n.lnMu.Unlock()
}

// Start launches the election loop and the heartbeat monitor, connects to
// the peers and begins the first election.
func (n *Node) Start() {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.election.run(n.ctx)
	}()

	n.peers.ConnectAll()
	n.StartElection("startup")

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.monitor.Start(n.ctx)
	}()
}

// Stop halts background work and closes listeners, inbound connections
// and peer channels.
// Safe to call more than once.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		n.cancel()
		n.monitor.Stop()
		n.lnMu.Lock()
		for _, ln := range n.listeners {
			ln.Close()
		}
		for conn := range n.conns {
			conn.Close()
		}
		n.lnMu.Unlock()
		n.wg.Wait()
		n.peers.Close()
		n.log.Infof("Node stopped")
	})
}

// Address returns this node's own address.
func (n *Node) Address() string {
	return n.addr
}

// Table exposes the identity table for persistence.
func (n *Node) Table() *directory.Table {
	return n.table
}

// Clock exposes the Lamport clock.
func (n *Node) Clock() *clock.Clock {
	return n.clock
}

// IsCoordinator reports whether this node currently believes it is coordinator.
func (n *Node) IsCoordinator() bool {
	return n.election.Role() == RoleCoordinator
}

// Coordinator returns the known coordinator address: this node's own
// address when it is coordinator, empty when unknown.
func (n *Node) Coordinator() string {
	role, coordinator := n.election.state()
	if role == RoleCoordinator {
		return n.addr
	}
	return coordinator
}

// LastApplied returns the coordinator timestamp of the last action applied here.
func (n *Node) LastApplied() int64 {
	n.stateMu.RLock()
	defer n.stateMu.RUnlock()
	return n.lastApplied
}

// StartElection asks the election loop to begin an election. Ignored while
// one is already in flight.
func (n *Node) StartElection(reason string) {
	n.election.post(event{kind: evStart, reason: reason})
}

// WhoIsCoordinator blocks until a coordinator is known, polling every
// 500ms, and returns its address.
func (n *Node) WhoIsCoordinator(ctx context.Context) (string, error) {
	ticker := time.NewTicker(coordinatorPollInterval)
	defer ticker.Stop()
	for {
		if addr := n.Coordinator(); addr != "" {
			return addr, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-n.ctx.Done():
			return "", errors.New("node stopped")
		case <-ticker.C:
		}
	}
}

// Status reports a point-in-time view of this node. Peer liveness is
// checked live.
func (n *Node) Status() cluster.Status {
	role, coordinator := n.election.state()
	if role == RoleCoordinator {
		coordinator = n.addr
	}

	peers := n.peers.Peers()
	live := n.peers.Live()
	infos := make([]cluster.PeerInfo, 0, len(peers))
	for _, p := range peers {
		info := cluster.PeerInfo{Addr: p.Addr()}
		for _, l := range live {
			if l == p {
				info.Connected = true
			}
		}
		infos = append(infos, info)
	}

	n.stateMu.RLock()
	lastApplied := n.lastApplied
	n.stateMu.RUnlock()

	return cluster.Status{
		Address:     n.addr,
		Role:        role.String(),
		Coordinator: coordinator,
		Clock:       n.clock.Current(),
		LastApplied: lastApplied,
		LogSize:     n.actions.Len(),
		LogCapacity: n.actions.Capacity(),
		Records:     n.table.Len(),
		Peers:       infos,
		Operations:  n.table.Stats(),
	}
}

// header stamps an outgoing peer message.
func (n *Node) header(what string) cluster.Header {
	return cluster.Header{Sender: n.addr, Clock: n.clock.Tick("send " + what)}
}

// peer resolves the sender of an incoming peer message. An unknown sender
// means the cluster is misconfigured, which is fatal.
func (n *Node) peer(h cluster.Header, what string) (*replica.Peer, error) {
	p, ok := n.peers.Lookup(h.Sender)
	if !ok {
		logFatal("%s from %q, which is not a configured replica", what, h.Sender)
		return nil, fmt.Errorf("%s from %q: %w", what, h.Sender, ErrUnknownPeer)
	}
	n.clock.Observe(h.Clock, what+" from "+h.Sender)
	return p, nil
}
