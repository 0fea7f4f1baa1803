package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/matst80/portrelay/internal/relay"
	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration derived from flags and an optional YAML file.
type Config struct {
	ConfigFile string `yaml:"-"`

	Bind       string `yaml:"bind"`
	Port       int    `yaml:"port"`
	Remote     string `yaml:"remote"`
	RemoteHost string `yaml:"remote_host"` // older split call shape
	RemotePort int    `yaml:"remote_port"`
	Debug      bool   `yaml:"debug"`

	Resolver    string        `yaml:"resolver"`
	DNSConfig   string        `yaml:"dns_config"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	BufferSize  int           `yaml:"buffer_size"`
	ReuseAddr   bool          `yaml:"reuse_addr"`

	MaxConns   int `yaml:"max_conns"`
	Rate       int `yaml:"rate"`
	GlobalRate int `yaml:"global_rate"`
	Burst      int `yaml:"burst"`

	MetricsAddr string        `yaml:"metrics"`
	LogFormat   string        `yaml:"log_format"`
	GracePeriod time.Duration `yaml:"grace_period"`
	Redis       RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

var errMissingRemote = errors.New("remote target is required (-remote host:port)")

func defaultConfig() Config {
	return Config{
		Bind:        "127.0.0.1",
		Resolver:    "system",
		DNSConfig:   "/etc/resolv.conf",
		BufferSize:  relay.DefaultBufferSize,
		Burst:       10,
		LogFormat:   "json",
		GracePeriod: 10 * time.Second,
	}
}

// newFlagSet registers every flag into cfg, using cfg's current values as defaults.
func newFlagSet(cfg *Config) *flag.FlagSet {
	fs := flag.NewFlagSet("relay", flag.ContinueOnError)
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "YAML config file; flags given on the command line override it")
	fs.StringVar(&cfg.Bind, "bind", cfg.Bind, "address to listen on")
	fs.StringVar(&cfg.Bind, "b", cfg.Bind, "alias for -bind")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "port to listen on (0 picks a free port)")
	fs.IntVar(&cfg.Port, "l", cfg.Port, "alias for -port")
	fs.StringVar(&cfg.Remote, "remote", cfg.Remote, "upstream target host:port")
	fs.StringVar(&cfg.RemoteHost, "host", cfg.RemoteHost, "upstream host (with -r, instead of -remote)")
	fs.StringVar(&cfg.RemoteHost, "h", cfg.RemoteHost, "alias for -host")
	fs.IntVar(&cfg.RemotePort, "r", cfg.RemotePort, "upstream port (with -host)")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "log per-connection transfer sizes and debug events")
	fs.BoolVar(&cfg.Debug, "d", cfg.Debug, "alias for -debug")
	fs.StringVar(&cfg.Resolver, "resolver", cfg.Resolver, "hostname resolver: system or dns")
	fs.StringVar(&cfg.DNSConfig, "dns-config", cfg.DNSConfig, "resolv.conf used by -resolver dns")
	fs.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "upstream connect timeout (0 = OS default)")
	fs.IntVar(&cfg.BufferSize, "buffer-size", cfg.BufferSize, "bytes read per pump iteration")
	fs.BoolVar(&cfg.ReuseAddr, "reuse-addr", cfg.ReuseAddr, "set SO_REUSEADDR on the listener")
	fs.IntVar(&cfg.MaxConns, "max-conns", cfg.MaxConns, "maximum concurrent sessions (0 = unbounded)")
	fs.IntVar(&cfg.Rate, "rate", cfg.Rate, "new connections per second per client IP (0 = unlimited)")
	fs.IntVar(&cfg.GlobalRate, "global-rate", cfg.GlobalRate, "new connections per second overall (0 = unlimited)")
	fs.IntVar(&cfg.Burst, "burst", cfg.Burst, "connection burst allowed by -rate and -global-rate")
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "metrics, health and dashboard listen address (empty = off)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log output: json or text")
	fs.DurationVar(&cfg.GracePeriod, "grace-period", cfg.GracePeriod, "time to let sessions drain after a shutdown signal")
	fs.StringVar(&cfg.Redis.Addr, "redis", cfg.Redis.Addr, "redis address for the shared session registry (empty = in-memory)")
	fs.StringVar(&cfg.Redis.Password, "redis-password", cfg.Redis.Password, "redis password")
	fs.IntVar(&cfg.Redis.DB, "redis-db", cfg.Redis.DB, "redis database")
	return fs
}

func loadConfig(args []string) (*Config, error) {
	cfg := defaultConfig()
	if err := newFlagSet(&cfg).Parse(args); err != nil {
		return nil, err
	}
	if cfg.ConfigFile != "" {
		path := cfg.ConfigFile
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		fileCfg := defaultConfig()
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		// second pass: only flags present on the command line replace file values
		if err := newFlagSet(&fileCfg).Parse(args); err != nil {
			return nil, err
		}
		fileCfg.ConfigFile = path
		cfg = fileCfg
	}
	if cfg.Remote == "" && cfg.RemoteHost != "" && cfg.RemotePort > 0 {
		cfg.Remote = relay.JoinTarget(cfg.RemoteHost, cfg.RemotePort)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Remote == "" {
		return errMissingRemote
	}
	if _, err := relay.ParseTarget(c.Remote); err != nil {
		return err
	}
	if err := c.bindEndpoint().Validate(); err != nil {
		return err
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer-size must be positive, got %d", c.BufferSize)
	}
	switch c.Resolver {
	case "system", "dns":
	default:
		return fmt.Errorf("unknown resolver %q (want system or dns)", c.Resolver)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log-format %q (want json or text)", c.LogFormat)
	}
	return nil
}

func (c *Config) bindEndpoint() relay.BindEndpoint {
	return relay.BindEndpoint{Host: c.Bind, Port: c.Port}
}

func (c *Config) relayConfig() relay.Config {
	return relay.Config{
		Bind:       c.bindEndpoint(),
		Target:     c.Remote,
		Verbose:    c.Debug,
		BufferSize: c.BufferSize,
		MaxConns:   c.MaxConns,
		ReuseAddr:  c.ReuseAddr,
	}
}
