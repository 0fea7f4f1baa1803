package main

import "github.com/matst80/portrelay/internal/obs"

// newStateStore creates either an in-memory or Redis-backed state store based on configuration
func newStateStore(rc RedisConfig) (StateStore, error) {
	if rc.Addr == "" {
		obs.Info("state.backend", obs.Fields{"type": "in-memory"})
		return newServerState(), nil
	}
	obs.Info("state.backend", obs.Fields{"type": "redis", "addr": rc.Addr})
	return newRedisStateStore(rc.Addr, rc.Password, rc.DB)
}
