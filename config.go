package shmstack

import (
	"github.com/giantswarm/shmstack/internal/client"
	"github.com/giantswarm/shmstack/internal/core"
)

// serverConfig wraps core.ServerConfig via embedding, keeping internal/core
// types out of the public API signature.
type serverConfig struct {
	core.ServerConfig
}

// toCoreConfig returns the embedded core.ServerConfig.
func (c serverConfig) toCoreConfig() core.ServerConfig {
	return c.ServerConfig
}

// dialConfig wraps client.Config the same way.
type dialConfig struct {
	client.Config
}
