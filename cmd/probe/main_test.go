package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startUpstream(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serveUpstream(ctx, ln, []byte("hello")) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return ln.Addr().String()
}

func TestProbeAgainstUpstream(t *testing.T) {
	addr := startUpstream(t)
	res, err := probe(context.Background(), addr, []byte("ping"), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Sent)
	assert.Equal(t, "helloping", string(res.Reply))
	assert.Positive(t, res.RTT)
}

func TestProbeEmptyPayload(t *testing.T) {
	addr := startUpstream(t)
	res, err := probe(context.Background(), addr, nil, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(res.Reply))
}

func TestProbeDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = probe(context.Background(), addr, []byte("x"), time.Second)
	assert.Error(t, err)
}
