package shmstack

import "time"

// ConfigSnapshot holds a copy of serverConfig fields for test assertions.
// Exported only via export_test.go so that the _test package can verify
// option closures actually mutate the config without accessing internals.
type ConfigSnapshot struct {
	Address           string
	Capacity          int
	MaxPayload        int
	ArenaPath         string
	LockPath          string
	LockTimeout       time.Duration
	WorkerMode        WorkerMode
	WorkerCommand     []string
	MaxConnections    int
	StrictProtocol    bool
	WorkerStopTimeout time.Duration
	ShutdownTimeout   time.Duration
	LogDir            string
}

// ApplyOptionsForTesting creates a default serverConfig, applies the given
// options, and returns a ConfigSnapshot of the result.
func ApplyOptionsForTesting(opts ...ServerOption) ConfigSnapshot {
	cfg := defaultServerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return ConfigSnapshot{
		Address:           cfg.Address,
		Capacity:          cfg.Capacity,
		MaxPayload:        cfg.MaxPayload,
		ArenaPath:         cfg.ArenaPath,
		LockPath:          cfg.LockPath,
		LockTimeout:       cfg.LockTimeout,
		WorkerMode:        cfg.WorkerMode,
		WorkerCommand:     cfg.WorkerCommand,
		MaxConnections:    cfg.MaxConnections,
		StrictProtocol:    cfg.StrictProtocol,
		WorkerStopTimeout: cfg.WorkerStopTimeout,
		ShutdownTimeout:   cfg.ShutdownTimeout,
		LogDir:            cfg.LogDir,
	}
}

// DialRetryForTesting returns the retry timeout set by opts.
func DialRetryForTesting(opts ...DialOption) time.Duration {
	var cfg dialConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg.RetryTimeout
}
