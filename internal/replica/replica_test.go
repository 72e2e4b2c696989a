package replica

import (
	"errors"
	"net"
	"net/rpc"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/iddir/internal/cluster"
)

type fakeReplica struct {
	pings atomic.Int32
	delay time.Duration
}

func (f *fakeReplica) Alive(args cluster.Header, reply *cluster.Ack) error {
	reply.Clock = 1
	return nil
}

func (f *fakeReplica) Ping(args cluster.PingArgs, reply *cluster.PingReply) error {
	f.pings.Add(1)
	time.Sleep(f.delay)
	reply.Clock = args.Clock + 1
	reply.UpToDate = args.LastApplied == 42
	return nil
}

func (f *fakeReplica) RequestSync(args cluster.SyncArgs, reply *cluster.SyncReply) error {
	return errors.New("refused")
}

// startServer serves a fake Replica service on a random loopback port.
func startServer(t *testing.T, svc *fakeReplica) (string, net.Listener) {
	t.Helper()
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName(ServiceName, svc))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go server.Accept(ln)
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String(), ln
}

func TestPeerCall(t *testing.T) {
	svc := &fakeReplica{}
	addr, _ := startServer(t, svc)

	p := NewPeer(addr, time.Second, nil)
	defer p.Close()

	reply, err := p.Ping(cluster.PingArgs{Header: cluster.Header{Sender: "x", Clock: 9}, LastApplied: 42})
	require.NoError(t, err)
	assert.Equal(t, int64(10), reply.Clock)
	assert.True(t, reply.UpToDate)
	assert.True(t, p.IsConnected())
}

func TestPeerServerErrorKeepsChannel(t *testing.T) {
	svc := &fakeReplica{}
	addr, _ := startServer(t, svc)

	p := NewPeer(addr, time.Second, nil)
	defer p.Close()
	require.True(t, p.Connect())
	before := p.current()

	_, err := p.RequestSync(cluster.SyncArgs{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
	assert.Same(t, before, p.current())
}

func TestPeerTimeout(t *testing.T) {
	svc := &fakeReplica{delay: 300 * time.Millisecond}
	addr, _ := startServer(t, svc)

	p := NewPeer(addr, 50*time.Millisecond, nil)
	defer p.Close()

	start := time.Now()
	_, err := p.Ping(cluster.PingArgs{})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 250*time.Millisecond)
	assert.Nil(t, p.current(), "timed out channel is dropped")
}

func TestPeerUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	p := NewPeer(addr, 100*time.Millisecond, nil)
	assert.False(t, p.IsConnected())
	_, err = p.Ping(cluster.PingArgs{})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestPeerReconnectsAfterRestart(t *testing.T) {
	svc := &fakeReplica{}
	addr, ln := startServer(t, svc)

	p := NewPeer(addr, 200*time.Millisecond, nil)
	defer p.Close()
	require.True(t, p.IsConnected())

	// stop the listener and sever the existing channel
	ln.Close()
	p.current().Close()
	assert.False(t, p.IsConnected())

	// restart on the same address
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName(ServiceName, svc))
	ln2, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	defer ln2.Close()
	go server.Accept(ln2)

	assert.True(t, p.IsConnected())
	_, err = p.Ping(cluster.PingArgs{})
	assert.NoError(t, err)
}

func TestRegistrySelfRejection(t *testing.T) {
	origLocal, origLookup := localAddrs, lookupHost
	t.Cleanup(func() { localAddrs, lookupHost = origLocal, origLookup })

	localAddrs = func() ([]string, error) { return []string{"10.0.0.5"}, nil }
	lookupHost = func(host string) ([]string, error) {
		switch host {
		case "me.example":
			return []string{"10.0.0.5"}, nil
		case "localhost":
			return []string{"127.0.0.1"}, nil
		case "other.example":
			return []string{"10.0.0.6"}, nil
		}
		return nil, errors.New("no such host")
	}

	r := NewRegistry("10.0.0.5:5185", []string{
		"10.0.0.5:5185",     // self
		"me.example:5185",   // resolves to self
		"localhost:5185",    // loopback
		"127.0.1.1:5185",    // loopback alias
		"localhost:6000",    // same host, other port: a different node
		"other.example:5185",
		"other.example:5185", // duplicate
		"unknown.example:5185",
	}, time.Second, nil)

	var addrs []string
	for _, p := range r.Peers() {
		addrs = append(addrs, p.Addr())
	}
	assert.Equal(t, []string{"localhost:6000", "other.example:5185", "unknown.example:5185"}, addrs)

	_, ok := r.Lookup("other.example:5185")
	assert.True(t, ok)
	_, ok = r.Lookup("me.example:5185")
	assert.False(t, ok)
}

func TestRegistryLive(t *testing.T) {
	addr, _ := startServer(t, &fakeReplica{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	dead := ln.Addr().String()
	ln.Close()

	r := NewRegistry("127.0.0.1:1", []string{dead, addr}, 200*time.Millisecond, nil)
	defer r.Close()

	live := r.Live()
	require.Len(t, live, 1)
	assert.Equal(t, addr, live[0].Addr())
}
