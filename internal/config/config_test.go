package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil, envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultHTTPPort, cfg.HTTPPort)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, 3, cfg.LogCapacity)
	assert.Equal(t, 2*time.Second, cfg.ElectionWait)
	assert.Equal(t, 5*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 30*time.Second, cfg.AutosaveInterval)
	assert.Equal(t, cfg.ElectionWait, cfg.RPCTimeout)
	assert.NotEmpty(t, cfg.AdvertiseHost)
	assert.Empty(t, cfg.Peers)
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idserver.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 6000
http_port: 8080
advertise_host: 10.0.0.1
peers: [10.0.0.2, 10.0.0.3:7000]
log_capacity: 10
election_wait: 500ms
`), 0o644))

	t.Run("file over defaults", func(t *testing.T) {
		cfg, err := Load([]string{"-config", path}, envMap(nil))
		require.NoError(t, err)
		assert.Equal(t, 6000, cfg.Port)
		assert.Equal(t, 8080, cfg.HTTPPort)
		assert.Equal(t, 10, cfg.LogCapacity)
		assert.Equal(t, 500*time.Millisecond, cfg.ElectionWait)
		assert.Equal(t, 500*time.Millisecond, cfg.RPCTimeout)
		assert.Equal(t, 5*time.Second, cfg.HeartbeatInterval, "unset keys keep defaults")
		assert.Equal(t, []string{"10.0.0.2:6000", "10.0.0.3:7000"}, cfg.PeerAddrs())
		assert.Equal(t, "10.0.0.1:6000", cfg.SelfAddr())
	})

	t.Run("env over file", func(t *testing.T) {
		cfg, err := Load(nil, envMap(map[string]string{
			"IDSERVER_CONFIG":  path,
			"IDSERVER_PORT":    "6100",
			"IDSERVER_PEERS":   "a.example, b.example:1",
			"IDSERVER_VERBOSE": "true",
		}))
		require.NoError(t, err)
		assert.Equal(t, 6100, cfg.Port)
		assert.True(t, cfg.Verbose)
		assert.Equal(t, []string{"a.example:6100", "b.example:1"}, cfg.PeerAddrs())
	})

	t.Run("flags over env", func(t *testing.T) {
		cfg, err := Load([]string{"-config", path, "--numport", "6200", "-v", "x.example", "y.example"},
			envMap(map[string]string{"IDSERVER_PORT": "6100", "IDSERVER_PEERS": "a.example"}))
		require.NoError(t, err)
		assert.Equal(t, 6200, cfg.Port)
		assert.Equal(t, 8080, cfg.HTTPPort, "file value kept")
		assert.True(t, cfg.Verbose)
		assert.Equal(t, []string{"x.example:6200", "y.example:6200"}, cfg.PeerAddrs())
	})
}

func TestHTTPGatewayCanBeDisabled(t *testing.T) {
	cfg, err := Load([]string{"-http", "0"}, envMap(map[string]string{"IDSERVER_HTTP_PORT": "9000"}))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.HTTPPort)

	cfg, err = Load(nil, envMap(map[string]string{"IDSERVER_HTTP_PORT": "9000"}))
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.HTTPPort)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{name: "bad env port", env: map[string]string{"IDSERVER_PORT": "abc"}},
		{name: "bad verbose", env: map[string]string{"IDSERVER_VERBOSE": "loud"}},
		{name: "missing file", args: []string{"-config", "/nonexistent/idserver.yaml"}},
		{name: "unknown flag", args: []string{"-bogus"}},
		{name: "port out of range", args: []string{"-n", "70000"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.args, envMap(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.RPCTimeout = time.Second
	require.NoError(t, cfg.Validate())

	cfg.LogCapacity = 0
	cfg.HeartbeatInterval = 0
	cfg.Port = -1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log capacity")
	assert.Contains(t, err.Error(), "heartbeat interval")
	assert.Contains(t, err.Error(), "port -1")
}

func TestPeerAddrsIPv6(t *testing.T) {
	cfg := Config{Port: 5185, Peers: []string{"::1", "[fe80::1]:6000"}}
	assert.Equal(t, []string{"[::1]:5185", "[fe80::1]:6000"}, cfg.PeerAddrs())
}
