package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dreamware/iddir/internal/cluster"
	"github.com/dreamware/iddir/internal/vlog"
)

// ErrNoCoordinator is reported by a follower that lost an election but
// never heard who won.
var ErrNoCoordinator = errors.New("no known coordinator")

// CoordinatorHealth tracks the coordinator a follower is watching.
// Thread-safe: Protected by HeartbeatMonitor's mutex when accessed.
type CoordinatorHealth struct {
	LastCheck        time.Time // Timestamp of the last check attempt
	LastHealthy      time.Time // Timestamp of the last successful check
	Addr             string    // Coordinator address, empty when unknown
	Status           string    // "idle", "healthy", "unhealthy", "unknown"
	ConsecutiveFails int       // Number of consecutive failed checks
}

// HeartbeatMonitor periodically checks the coordinator from a follower.
// A failed check against a known coordinator triggers onUnhealthy at once;
// having no known coordinator triggers it after two consecutive checks.
// Thread-safe: All methods are safe for concurrent access.
type HeartbeatMonitor struct {
	health      CoordinatorHealth
	checkFunc   func() (string, error) // Returns the checked address and the outcome
	onUnhealthy func(addr string)      // Callback when the coordinator is presumed dead
	log         *vlog.Logger
	ctx         context.Context    // Context for cancellation
	cancel      context.CancelFunc // Cancel function for shutdown
	interval    time.Duration      // How often to check
	mu          sync.RWMutex       // Protects health
	wg          sync.WaitGroup     // Wait group for graceful shutdown
	maxFailures int                // Failed pings before onUnhealthy
	orphanLimit int                // Checks without a coordinator before onUnhealthy
}

// NewHeartbeatMonitor creates a monitor that checks every interval.
//
// Parameters:
//   - interval: How often to ping the coordinator (default deployment: 5s)
//   - logger: Destination for check results; nil discards them
//
// Returns:
//   - *HeartbeatMonitor: Configured monitor ready to start
//
// Example:
//
//	monitor := NewHeartbeatMonitor(5*time.Second, logger)
//	monitor.SetCheckFunction(node.checkCoordinator)
//	monitor.SetOnUnhealthy(func(addr string) { node.StartElection("coordinator down") })
//	go monitor.Start(ctx)
func NewHeartbeatMonitor(interval time.Duration, logger *vlog.Logger) *HeartbeatMonitor {
	if logger == nil {
		logger = vlog.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &HeartbeatMonitor{
		interval:    interval,
		maxFailures: 1,
		orphanLimit: 2,
		log:         logger,
		health:      CoordinatorHealth{Status: "unknown"},
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetOnUnhealthy sets the callback invoked when the coordinator is presumed
// dead. It runs on its own goroutine.
func (h *HeartbeatMonitor) SetOnUnhealthy(callback func(addr string)) {
	h.onUnhealthy = callback
}

// SetCheckFunction sets the check run every interval. It returns the
// address it checked (empty when there was nothing to check) and an error
// when the check failed.
func (h *HeartbeatMonitor) SetCheckFunction(checkFunc func() (string, error)) {
	h.checkFunc = checkFunc
}

// Start runs checks until ctx or the monitor is canceled. Blocks.
func (h *HeartbeatMonitor) Start(ctx context.Context) {
	h.wg.Add(1)
	defer h.wg.Done()

	if ctx == nil {
		ctx = h.ctx
	}
	if h.checkFunc == nil {
		h.log.Errorf("Heartbeat monitor has no check function")
		return
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.log.Debugf("Heartbeat monitor started with interval %v", h.interval)

	for {
		select {
		case <-ticker.C:
			h.check()
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return
		}
	}
}

// Stop cancels the monitor and waits for Start to return.
func (h *HeartbeatMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
}

// check runs one check and updates the health record, invoking the
// callback when the failure threshold is reached.
func (h *HeartbeatMonitor) check() {
	addr, err := h.checkFunc()

	h.mu.Lock()
	now := time.Now()
	health := &h.health
	health.LastCheck = now
	if addr != health.Addr {
		health.Addr = addr
		health.ConsecutiveFails = 0
	}

	if err == nil {
		if health.Status == "unhealthy" && addr != "" {
			h.log.Infof("Coordinator %s recovered", addr)
		}
		health.Status = "healthy"
		if addr == "" {
			health.Status = "idle"
		}
		health.ConsecutiveFails = 0
		health.LastHealthy = now
		h.mu.Unlock()
		return
	}

	limit := h.maxFailures
	if errors.Is(err, ErrNoCoordinator) {
		limit = h.orphanLimit
	}
	health.ConsecutiveFails++
	h.log.Errorf("Coordinator check failed (attempt %d/%d): %v", health.ConsecutiveFails, limit, err)

	if health.ConsecutiveFails < limit {
		h.mu.Unlock()
		return
	}
	health.Status = "unhealthy"
	health.ConsecutiveFails = 0
	callback := h.onUnhealthy
	h.mu.Unlock()

	if callback != nil {
		go callback(addr)
	}
}

// Health returns a copy of the current health record.
func (h *HeartbeatMonitor) Health() CoordinatorHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.health
}

// checkCoordinator is the heartbeat check of a Node. Only followers check.
// A ping carries this node's clock and last-applied timestamp; if the
// coordinator says this node is behind, it syncs. Unreachable coordinators
// and failed syncs are reported as failures.
func (n *Node) checkCoordinator() (string, error) {
	role, coordinator := n.election.state()
	if role != RoleFollower {
		return "", nil
	}
	if coordinator == "" {
		return "", ErrNoCoordinator
	}
	p, ok := n.peers.Lookup(coordinator)
	if !ok {
		return coordinator, fmt.Errorf("coordinator %s: %w", coordinator, ErrUnknownPeer)
	}

	reply, err := p.Ping(cluster.PingArgs{Header: n.header("ping"), LastApplied: n.LastApplied()})
	if err != nil {
		return coordinator, fmt.Errorf("ping: %w", err)
	}
	n.clock.Observe(reply.Clock, "ping reply from "+coordinator)
	if reply.UpToDate {
		return coordinator, nil
	}

	n.log.Infof("Behind coordinator %s, syncing", coordinator)
	if err := n.SyncFrom(coordinator); err != nil {
		return coordinator, err
	}
	return coordinator, nil
}
