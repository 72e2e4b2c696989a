// Package config assembles a server's configuration from defaults, an
// optional YAML file, IDSERVER_* environment variables and command-line
// flags, in that order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort        = 5185
	DefaultHTTPPort    = 8080
	DefaultLogCapacity = 3
)

// Config is the full configuration of one identity server.
type Config struct {
	Port              int           `yaml:"port"`
	HTTPPort          int           `yaml:"http_port"`
	AdvertiseHost     string        `yaml:"advertise_host"`
	Verbose           bool          `yaml:"verbose"`
	Peers             []string      `yaml:"peers"`
	DataDir           string        `yaml:"data_dir"`
	LogCapacity       int           `yaml:"log_capacity"`
	ElectionWait      time.Duration `yaml:"election_wait"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	AutosaveInterval  time.Duration `yaml:"autosave_interval"`
	RPCTimeout        time.Duration `yaml:"rpc_timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:              DefaultPort,
		HTTPPort:          DefaultHTTPPort,
		DataDir:           "./data",
		LogCapacity:       DefaultLogCapacity,
		ElectionWait:      2 * time.Second,
		HeartbeatInterval: 5 * time.Second,
		AutosaveInterval:  30 * time.Second,
	}
}

// Load builds the configuration for args (without the program name).
// getenv is usually os.Getenv.
func Load(args []string, getenv func(string) string) (Config, error) {
	cfg := Default()

	fs, fl := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	path := fl.configPath
	if path == "" {
		path = getenv("IDSERVER_CONFIG")
	}
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return cfg, err
	}
	fl.apply(fs, &cfg)

	if cfg.RPCTimeout <= 0 {
		cfg.RPCTimeout = cfg.ElectionWait
	}
	if cfg.AdvertiseHost == "" {
		cfg.AdvertiseHost = firstNonLoopback()
	}
	return cfg, cfg.Validate()
}

// LoadFile merges the YAML file at path into c.
func (c *Config) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	return nil
}

// ApplyEnv merges IDSERVER_* environment variables into c.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("IDSERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("IDSERVER_PORT %q: %w", v, err)
		}
		c.Port = port
	}
	if v := getenv("IDSERVER_HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("IDSERVER_HTTP_PORT %q: %w", v, err)
		}
		c.HTTPPort = port
	}
	if v := getenv("IDSERVER_VERBOSE"); v != "" {
		verbose, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("IDSERVER_VERBOSE %q: %w", v, err)
		}
		c.Verbose = verbose
	}
	if v := getenv("IDSERVER_PEERS"); v != "" {
		c.Peers = splitList(v)
	}
	if v := getenv("IDSERVER_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := getenv("IDSERVER_ADVERTISE_HOST"); v != "" {
		c.AdvertiseHost = v
	}
	return nil
}

// Validate rejects configurations the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("http port %d out of range", c.HTTPPort))
	}
	if c.LogCapacity < 1 {
		errs = append(errs, fmt.Errorf("log capacity %d must be at least 1", c.LogCapacity))
	}
	for name, d := range map[string]time.Duration{
		"election wait":      c.ElectionWait,
		"heartbeat interval": c.HeartbeatInterval,
		"autosave interval":  c.AutosaveInterval,
		"rpc timeout":        c.RPCTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", name, d))
		}
	}
	return errors.Join(errs...)
}

// SelfAddr is this server's address as its peers are configured with it.
func (c Config) SelfAddr() string {
	return net.JoinHostPort(c.AdvertiseHost, strconv.Itoa(c.Port))
}

// PeerAddrs returns the peers as host:port; bare hosts get Port.
func (c Config) PeerAddrs() []string {
	addrs := make([]string, 0, len(c.Peers))
	for _, p := range c.Peers {
		if _, _, err := net.SplitHostPort(p); err == nil {
			addrs = append(addrs, p)
			continue
		}
		addrs = append(addrs, net.JoinHostPort(strings.Trim(p, "[]"), strconv.Itoa(c.Port)))
	}
	return addrs
}

type flags struct {
	configPath string
	port       int
	httpPort   int
	verbose    bool
	dataDir    string
	advertise  string
}

func newFlagSet() (*flag.FlagSet, *flags) {
	fl := &flags{}
	fs := flag.NewFlagSet("idserver", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: idserver [-n port] [-v] [peer ...]\n")
		fs.PrintDefaults()
	}
	fs.StringVar(&fl.configPath, "config", "", "YAML configuration file")
	fs.IntVar(&fl.port, "n", DefaultPort, "RPC port")
	fs.IntVar(&fl.port, "numport", DefaultPort, "RPC port")
	fs.IntVar(&fl.httpPort, "http", DefaultHTTPPort, "HTTP gateway port, 0 disables it")
	fs.BoolVar(&fl.verbose, "v", false, "verbose logging")
	fs.BoolVar(&fl.verbose, "verbose", false, "verbose logging")
	fs.StringVar(&fl.dataDir, "data-dir", "", "directory for saved state, empty keeps it in memory")
	fs.StringVar(&fl.advertise, "advertise", "", "host peers reach this server at")
	return fs, fl
}

// apply copies the flags that were given on the command line into c.
func (fl *flags) apply(fs *flag.FlagSet, c *Config) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "n", "numport":
			c.Port = fl.port
		case "http":
			c.HTTPPort = fl.httpPort
		case "v", "verbose":
			c.Verbose = fl.verbose
		case "data-dir":
			c.DataDir = fl.dataDir
		case "advertise":
			c.AdvertiseHost = fl.advertise
		}
	})
	if fs.NArg() > 0 {
		c.Peers = append([]string(nil), fs.Args()...)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// firstNonLoopback returns the first non-loopback IPv4 interface address,
// or 127.0.0.1 when there is none.
func firstNonLoopback() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "127.0.0.1"
}
