package main

import (
	"context"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/iddir/internal/cluster"
	"github.com/dreamware/iddir/internal/config"
	"github.com/dreamware/iddir/internal/gateway"
	"github.com/dreamware/iddir/internal/persist"
	"github.com/dreamware/iddir/internal/vlog"
)

// freePort reserves a loopback port and releases it for the server to take.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func testConfig(t *testing.T, dataDir string) config.Config {
	cfg := config.Default()
	cfg.Port = freePort(t)
	cfg.HTTPPort = 0
	cfg.AdvertiseHost = "127.0.0.1"
	cfg.DataDir = dataDir
	cfg.ElectionWait = 100 * time.Millisecond
	cfg.RPCTimeout = 100 * time.Millisecond
	cfg.HeartbeatInterval = 100 * time.Millisecond
	cfg.AutosaveInterval = time.Hour
	return cfg
}

func TestOpenStore(t *testing.T) {
	t.Run("memory without a data dir", func(t *testing.T) {
		store, err := openStore("")
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &persist.MemoryStore{}, store)
	})

	t.Run("badger in a data dir", func(t *testing.T) {
		store, err := openStore(t.TempDir())
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &persist.BadgerStore{}, store)
	})
}

func TestNewServerBadDataDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := newServer(testConfig(t, file), vlog.Discard())
	assert.Error(t, err)
}

// TestServerRestartRestoresTable runs a single-server cluster, writes to
// it, shuts it down and checks a new server on the same data dir comes
// back with the record.
func TestServerRestartRestoresTable(t *testing.T) {
	dir := t.TempDir()

	s, err := newServer(testConfig(t, dir), vlog.Discard())
	require.NoError(t, err)
	require.NoError(t, s.start())

	require.Eventually(t, s.node.IsCoordinator, 5*time.Second, 20*time.Millisecond)
	created := s.node.Create(cluster.CreateArgs{LoginName: "alice", DisplayName: "Alice A.", Credential: "h"})
	require.True(t, created.OK(), created.Text)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.shutdown(ctx)

	s2, err := newServer(testConfig(t, dir), vlog.Discard())
	require.NoError(t, err)
	require.NoError(t, s2.start())
	defer s2.shutdown(ctx)

	got := s2.node.ReverseLookup(created.Text)
	require.True(t, got.OK())
	assert.Equal(t, "alice", got.Record.LoginName)
	assert.Equal(t, "Alice A.", got.Record.DisplayName)

	// the restored credential still authorizes writes
	require.Eventually(t, s2.node.IsCoordinator, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, cluster.IncorrectCredential, s2.node.Delete(cluster.DeleteArgs{LoginName: "alice", Credential: "x"}).Status)
	assert.True(t, s2.node.Delete(cluster.DeleteArgs{LoginName: "alice", Credential: "h"}).OK())
}

func TestStatusReportsPersistence(t *testing.T) {
	gin.SetMode(gin.TestMode)

	s, err := newServer(testConfig(t, t.TempDir()), vlog.Discard())
	require.NoError(t, err)
	require.NoError(t, s.start())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.shutdown(ctx)
	}()

	require.Eventually(t, s.node.IsCoordinator, 5*time.Second, 20*time.Millisecond)
	require.True(t, s.node.Create(cluster.CreateArgs{LoginName: "alice", Credential: "h"}).OK())
	s.node.Lookup("alice")
	require.NoError(t, s.saver.SaveNow())

	srv := httptest.NewServer(gateway.NewRouter(s.directory(), nil))
	defer srv.Close()

	var st cluster.Status
	require.NoError(t, cluster.GetJSON(context.Background(), srv.URL+"/status", &st))
	assert.Equal(t, "coordinator", st.Role)
	assert.Equal(t, 3, st.LogCapacity)
	assert.Equal(t, 1, st.LogSize)
	assert.Equal(t, uint64(1), st.Operations.Creates)
	assert.Equal(t, uint64(1), st.Operations.Lookups)
	require.NotNil(t, st.Persistence)
	assert.Equal(t, 1, st.Persistence.Saves)
	assert.Equal(t, 1, st.Persistence.Keys)
	assert.False(t, st.Persistence.LastSaved.IsZero())
}

func TestStartFailsOnBusyPort(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig(t, "")
	cfg.Port = ln.Addr().(*net.TCPAddr).Port

	s, err := newServer(cfg, vlog.Discard())
	require.NoError(t, err)
	assert.Error(t, s.start())
}
