package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/dreamware/iddir/internal/cluster"
	"github.com/dreamware/iddir/internal/replica"
)

// Role is a node's position in the bully election.
type Role int

const (
	RoleIdle Role = iota
	RoleElecting
	RoleCoordinator
	RoleFollower
)

func (r Role) String() string {
	switch r {
	case RoleIdle:
		return "idle"
	case RoleElecting:
		return "electing"
	case RoleCoordinator:
		return "coordinator"
	case RoleFollower:
		return "follower"
	}
	return "unknown"
}

type eventKind int

const (
	evStart    eventKind = iota // begin an election
	evTimeout                   // election wait elapsed
	evResponse                  // a stronger node told us to stand down
	evVictory                   // a node announced it won
)

type event struct {
	kind   eventKind
	gen    uint64 // election generation, for evTimeout
	from   string // sender, for evResponse and evVictory
	reason string // for evStart
}

// election is the bully election state machine. Transitions run on a
// single goroutine fed by post; other components only read the state.
type election struct {
	n      *Node
	events chan event

	mu          sync.Mutex
	role        Role
	coordinator string // known coordinator; meaningful when not coordinator
	previous    string // sync source should this node win
	lost        bool   // a stronger node responded during this election
	gen         uint64
}

func newElection(n *Node) *election {
	return &election{n: n, events: make(chan event, 64)}
}

// Role returns the current role.
func (e *election) Role() Role {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role
}

func (e *election) state() (Role, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role, e.coordinator
}

// post queues an event for the loop. Dropped once the node is stopping.
func (e *election) post(ev event) {
	select {
	case e.events <- ev:
	case <-e.n.ctx.Done():
	}
}

func (e *election) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.events:
			e.handle(ev)
		}
	}
}

func (e *election) handle(ev event) {
	n := e.n
	switch ev.kind {
	case evStart:
		e.begin(ev.reason)

	case evResponse:
		e.mu.Lock()
		electing := e.role == RoleElecting
		if electing {
			e.lost = true
		}
		e.mu.Unlock()
		if !electing {
			n.log.Debugf("Ignoring late election response from %s", ev.from)
			return
		}
		n.log.Infof("Lost election to %s", ev.from)
		if p, ok := n.peers.Lookup(ev.from); ok {
			go p.EnsureConnected()
		}

	case evVictory:
		n.log.Infof("%s is the new coordinator", ev.from)
		e.transition(RoleFollower, ev.from)

	case evTimeout:
		e.mu.Lock()
		current := ev.gen == e.gen && e.role == RoleElecting
		lost := e.lost
		e.mu.Unlock()
		if !current {
			return
		}
		if lost {
			// a stronger node is running; its victory message names the coordinator
			e.transition(RoleFollower, "")
			return
		}
		e.promote()
	}
}

// begin enters Electing unless an election is already in flight, then
// campaigns in the background so the loop stays responsive.
func (e *election) begin(reason string) {
	n := e.n

	n.stateMu.Lock()
	e.mu.Lock()
	if e.role == RoleElecting {
		e.mu.Unlock()
		n.stateMu.Unlock()
		n.log.Debugf("Election already in progress, ignoring start (%s)", reason)
		return
	}
	if e.role == RoleFollower && e.coordinator != "" {
		e.previous = e.coordinator
	}
	e.role = RoleElecting
	e.coordinator = ""
	e.lost = false
	e.gen++
	gen := e.gen
	previous := e.previous
	e.mu.Unlock()
	n.actions.Clear()
	n.stateMu.Unlock()

	n.log.Infof("Starting election: %s", reason)
	go e.campaign(gen, previous)
}

// campaign finds a sync source, announces to every stronger live peer and
// arms the election timeout.
func (e *election) campaign(gen uint64, previous string) {
	n := e.n
	live := n.peers.Live()

	if previous == "" {
		previous = e.askCoordinator(live)
		e.mu.Lock()
		if e.gen == gen {
			e.previous = previous
		}
		e.mu.Unlock()
	}

	var wg sync.WaitGroup
	for _, p := range live {
		if !beats(p.Addr(), n.addr) {
			continue
		}
		wg.Add(1)
		go func(p *replica.Peer) {
			defer wg.Done()
			reply, err := p.AnnounceElection(cluster.ElectionArgs{Header: n.header("election announcement")})
			if err != nil {
				n.log.Errorf("Announcing election to %s: %v", p.Addr(), err)
				return
			}
			n.clock.Observe(reply.Clock, "announcement ack from "+p.Addr())
		}(p)
	}
	wg.Wait()

	time.AfterFunc(n.opts.ElectionWait, func() {
		e.post(event{kind: evTimeout, gen: gen})
	})
}

// askCoordinator returns the first coordinator address a live peer reports,
// other than this node.
func (e *election) askCoordinator(live []*replica.Peer) string {
	n := e.n
	for _, p := range live {
		reply, err := p.Coordinator(cluster.ElectionArgs{Header: n.header("coordinator query")})
		if err != nil {
			n.log.Debugf("Asking %s for the coordinator: %v", p.Addr(), err)
			continue
		}
		n.clock.Observe(reply.Clock, "coordinator reply from "+p.Addr())
		if reply.Address != "" && reply.Address != n.addr {
			return reply.Address
		}
	}
	return ""
}

// promote catches up from the previous coordinator, takes the role, then
// announces victory. Catch-up runs before the flip so it is neither logged
// nor fanned out.
func (e *election) promote() {
	n := e.n

	e.mu.Lock()
	previous := e.previous
	e.mu.Unlock()

	n.applyMu.Lock()
	if previous != "" {
		if err := n.syncFrom(previous); err != nil {
			n.log.Errorf("Catching up from previous coordinator %s failed: %v", previous, err)
		}
	}

	n.stateMu.Lock()
	e.mu.Lock()
	e.role = RoleCoordinator
	e.coordinator = ""
	e.previous = ""
	e.mu.Unlock()
	n.actions.Clear()
	// start a new epoch: replicas compare against this and resync
	n.lastApplied = n.clock.Tick("became coordinator")
	n.stateMu.Unlock()
	n.applyMu.Unlock()

	n.log.Infof("I am the coordinator")

	live := n.peers.Live()
	var wg sync.WaitGroup
	for _, p := range live {
		wg.Add(1)
		go func(p *replica.Peer) {
			defer wg.Done()
			reply, err := p.AnnounceVictory(cluster.ElectionArgs{Header: n.header("victory")})
			if err != nil {
				n.log.Errorf("Announcing victory to %s: %v", p.Addr(), err)
				return
			}
			n.clock.Observe(reply.Clock, "victory ack from "+p.Addr())
		}(p)
	}
	wg.Wait()
}

// transition moves to a non-coordinator role, clearing the action log
// together with the flip.
func (e *election) transition(to Role, coordinator string) {
	n := e.n
	n.stateMu.Lock()
	e.mu.Lock()
	e.role = to
	e.coordinator = coordinator
	e.previous = ""
	e.gen++
	e.mu.Unlock()
	n.actions.Clear()
	n.stateMu.Unlock()
}

// beats reports whether a wins an election against b.
func beats(a, b string) bool {
	return a > b
}
