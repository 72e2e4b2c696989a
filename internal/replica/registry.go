package replica

import (
	"net"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/dreamware/iddir/internal/vlog"
)

// loopbackAddrs are always treated as local, whatever the interfaces report.
var loopbackAddrs = []string{"127.0.0.1", "127.0.1.1", "::1"}

// localAddrs lists this host's interface addresses. Replaced in tests.
var localAddrs = func() ([]string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok {
			out = append(out, ipnet.IP.String())
		}
	}
	return out, nil
}

// lookupHost resolves a peer host. Replaced in tests.
var lookupHost = net.LookupHost

// Registry holds the descriptors for every configured peer. Membership is
// fixed at construction.
type Registry struct {
	self  string
	peers []*Peer
	log   *vlog.Logger
}

// NewRegistry builds descriptors for addrs, skipping any address that
// refers to this node itself. self is this node's own host:port.
//
// An address counts as self when it equals self, or when its host resolves
// to one of this host's addresses and its port equals self's port. Rejected
// addresses are logged and dropped.
func NewRegistry(self string, addrs []string, timeout time.Duration, logger *vlog.Logger) *Registry {
	if logger == nil {
		logger = vlog.Discard()
	}
	r := &Registry{self: self, log: logger}

	local := localSet()
	for _, addr := range addrs {
		if r.isSelf(addr, local) {
			logger.Errorf("Refusing to use %s as a replica: it is this node", addr)
			continue
		}
		if r.index(addr) >= 0 {
			logger.Debugf("Ignoring duplicate replica %s", addr)
			continue
		}
		r.peers = append(r.peers, NewPeer(addr, timeout, logger))
	}
	return r
}

func localSet() []string {
	local := slices.Clone(loopbackAddrs)
	addrs, err := localAddrs()
	if err == nil {
		local = append(local, addrs...)
	}
	return local
}

func (r *Registry) isSelf(addr string, local []string) bool {
	if addr == r.self {
		return true
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	_, selfPort, err := net.SplitHostPort(r.self)
	if err != nil || port != selfPort {
		return false
	}
	var ips []string
	if ip := net.ParseIP(host); ip != nil {
		ips = []string{ip.String()}
	} else if ips, err = lookupHost(host); err != nil {
		return false
	}
	return slices.IndexFunc(ips, func(ip string) bool {
		return slices.Contains(local, ip)
	}) >= 0
}

func (r *Registry) index(addr string) int {
	return slices.IndexFunc(r.peers, func(p *Peer) bool { return p.addr == addr })
}

// Lookup returns the descriptor for addr.
func (r *Registry) Lookup(addr string) (*Peer, bool) {
	i := r.index(addr)
	if i < 0 {
		return nil, false
	}
	return r.peers[i], true
}

// Peers returns every descriptor, in configuration order.
func (r *Registry) Peers() []*Peer {
	return slices.Clone(r.peers)
}

// Live checks every peer concurrently and returns those connected right now,
// in configuration order.
func (r *Registry) Live() []*Peer {
	up := make([]bool, len(r.peers))
	var wg sync.WaitGroup
	for i, p := range r.peers {
		wg.Add(1)
		go func(i int, p *Peer) {
			defer wg.Done()
			up[i] = p.IsConnected()
		}(i, p)
	}
	wg.Wait()

	live := make([]*Peer, 0, len(r.peers))
	for i, p := range r.peers {
		if up[i] {
			live = append(live, p)
		}
	}
	return live
}

// ConnectAll attempts a first connection to every peer.
func (r *Registry) ConnectAll() {
	for _, p := range r.Live() {
		r.log.Infof("Replica %s is up", p.addr)
	}
}

// Close tears down every channel.
func (r *Registry) Close() {
	for _, p := range r.peers {
		p.Close()
	}
}
