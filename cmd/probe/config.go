package main

import (
	"flag"
	"time"
)

// Config holds probe runtime configuration.
type Config struct {
	Serve    bool
	Listen   string
	Greeting string
	Addr     string
	Payload  string
	Count    int
	Timeout  time.Duration
	Debug    bool
}

var cfg Config

// init registers all probe flags into the default flag set; main parses them.
func init() {
	flag.BoolVar(&cfg.Serve, "serve", false, "run a test upstream instead of probing")
	flag.StringVar(&cfg.Listen, "listen", "127.0.0.1:9001", "test upstream listen address (with -serve)")
	flag.StringVar(&cfg.Greeting, "greeting", "hello", "bytes the test upstream sends on accept")
	flag.StringVar(&cfg.Addr, "addr", "127.0.0.1:9000", "relay address to probe")
	flag.StringVar(&cfg.Payload, "payload", "ping", "bytes sent to the relay before half-closing")
	flag.IntVar(&cfg.Count, "count", 1, "number of sequential probes")
	flag.DurationVar(&cfg.Timeout, "timeout", 5*time.Second, "per-probe deadline")
	flag.BoolVar(&cfg.Debug, "debug", false, "enable debug logs")
}
