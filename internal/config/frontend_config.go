package config

import (
	"os"
	"runtime"
	"strconv"
)

// FrontendConfig sizes the per-core acceptor/worker pool that fronts the
// dispatch service. Defaults follow the original implementation's
// core-count-derived semaphore sizes.
type FrontendConfig struct {
	Cores             int // one acceptor/worker pair per core
	MaxConnections    int // global connection semaphore capacity
	AcceptQueueDepth  int // accept-queue semaphore capacity, shared by all acceptors
	HandoffQueueDepth int // bounded MPMC hand-off channel capacity
}

const (
	connectionsPerCore = 65536
	acceptQueuePerCore = 64
)

// GetFrontendConfig derives pool sizing from the environment, defaulting
// every knob to a function of runtime.NumCPU() the way the original
// service derives its semaphore capacities from detected core count.
func GetFrontendConfig() FrontendConfig {
	cores := runtime.NumCPU()
	if envCores := os.Getenv("FRONTEND_CORES"); envCores != "" {
		if n, err := strconv.Atoi(envCores); err == nil && n > 0 {
			cores = n
		}
	}

	maxConns := cores * connectionsPerCore
	if envMax := os.Getenv("FRONTEND_MAX_CONNECTIONS"); envMax != "" {
		if n, err := strconv.Atoi(envMax); err == nil && n > 0 {
			maxConns = n
		}
	}

	acceptQueue := cores * acceptQueuePerCore
	if envQueue := os.Getenv("FRONTEND_ACCEPT_QUEUE_DEPTH"); envQueue != "" {
		if n, err := strconv.Atoi(envQueue); err == nil && n > 0 {
			acceptQueue = n
		}
	}

	return FrontendConfig{
		Cores:             cores,
		MaxConnections:    maxConns,
		AcceptQueueDepth:  acceptQueue,
		HandoffQueueDepth: acceptQueue,
	}
}
