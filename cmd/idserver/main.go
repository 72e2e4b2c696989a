// Command idserver runs one replica of the identity directory.
//
// Usage:
//
//	idserver [-n port] [-v] [-http port] [-data-dir dir] [-config file] [peer ...]
//
// Every server in a cluster must be started with the addresses of all the
// others. Clients reach the Directory net/rpc service on the RPC port, and
// the HTTP gateway on -http (8080 by default, the port idclient assumes;
// -http 0 disables it).
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dreamware/iddir/internal/cluster"
	"github.com/dreamware/iddir/internal/config"
	"github.com/dreamware/iddir/internal/coordinator"
	"github.com/dreamware/iddir/internal/gateway"
	"github.com/dreamware/iddir/internal/persist"
	"github.com/dreamware/iddir/internal/vlog"
)

// logFatal is a variable to allow mocking in tests
var logFatal = log.Fatalf

// server wires a node to its listeners and its saved state.
type server struct {
	cfg   config.Config
	log   *vlog.Logger
	node  *coordinator.Node
	store persist.Store
	saver *persist.Autosaver

	rpcLn  net.Listener
	http   *http.Server
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func main() {
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		logFatal("config: %v", err)
	}

	s, err := newServer(cfg, vlog.New(cfg.SelfAddr(), cfg.Verbose))
	if err != nil {
		logFatal("%v", err)
	}
	if err := s.start(); err != nil {
		logFatal("%v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.shutdown(ctx)
}

func newServer(cfg config.Config, logger *vlog.Logger) (*server, error) {
	node, err := coordinator.New(coordinator.Options{
		Address:           cfg.SelfAddr(),
		Peers:             cfg.PeerAddrs(),
		LogCapacity:       cfg.LogCapacity,
		ElectionWait:      cfg.ElectionWait,
		HeartbeatInterval: cfg.HeartbeatInterval,
		RPCTimeout:        cfg.RPCTimeout,
		Logger:            logger,
	})
	if err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}

	store, err := openStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	return &server{
		cfg:   cfg,
		log:   logger,
		node:  node,
		store: store,
		saver: persist.NewAutosaver(store, node.Table(), cfg.AutosaveInterval, logger),
	}, nil
}

// reportingNode adds the persistence report to the node's status.
type reportingNode struct {
	*coordinator.Node
	saver *persist.Autosaver
}

func (r reportingNode) Status() cluster.Status {
	st := r.Node.Status()
	report := r.saver.Report()
	st.Persistence = &report
	return st
}

func (s *server) directory() gateway.Directory {
	return reportingNode{Node: s.node, saver: s.saver}
}

// openStore opens the badger store in dir, or a memory store when dir is empty.
func openStore(dir string) (persist.Store, error) {
	if dir == "" {
		return persist.NewMemoryStore(), nil
	}
	store, err := persist.OpenBadger(dir)
	if err != nil {
		return nil, fmt.Errorf("persistence: %w", err)
	}
	return store, nil
}

// start restores saved state, then brings up the RPC listener, the node,
// the autosaver and the optional HTTP gateway.
func (s *server) start() error {
	s.saver.Restore()

	ln, err := net.Listen("tcp", ":"+strconv.Itoa(s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.rpcLn = ln
	go s.node.Serve(ln)
	s.node.Start()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.saver.Run(ctx)
	}()

	if s.cfg.HTTPPort > 0 {
		gin.SetMode(gin.ReleaseMode)
		s.http = &http.Server{
			Addr:              ":" + strconv.Itoa(s.cfg.HTTPPort),
			Handler:           gateway.NewRouter(s.directory(), s.log),
			ReadHeaderTimeout: 5 * time.Second, // Prevent slowloris attacks
		}
		go func() {
			s.log.Infof("HTTP gateway listening on %s", s.http.Addr)
			if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logFatal("http listen: %v", err)
			}
		}()
	}

	s.log.Infof("Serving %d peers on %s", len(s.cfg.PeerAddrs()), ln.Addr())
	return nil
}

// shutdown stops the gateway and the node, saves the table a final time
// and closes the store.
func (s *server) shutdown(ctx context.Context) {
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			s.log.Errorf("HTTP shutdown: %v", err)
		}
	}
	s.node.Stop()
	if s.cancel != nil {
		s.cancel()
		s.wg.Wait()
	}
	if err := s.store.Close(); err != nil {
		s.log.Errorf("Closing store: %v", err)
	}
	s.log.Infof("Server stopped")
}
