package shmstack

import "time"

// Default configuration values for NewServer.
const (
	// DefaultAddress is the TCP listen address.
	DefaultAddress = ":3500"

	// DefaultCapacity is the number of elements the arena can hold. The
	// arena never grows; pushes beyond it fail with ErrCapacityExhausted.
	DefaultCapacity = 1000

	// DefaultMaxPayload is the largest payload in bytes.
	DefaultMaxPayload = 1024

	// DefaultArenaName is the file name prefix of the arena under /dev/shm
	// (or the system temp directory). The server's pid is appended.
	DefaultArenaName = "shmstack"

	// DefaultLockTimeout bounds every arena lock acquisition. 0 waits
	// without bound.
	DefaultLockTimeout time.Duration = 0

	// DefaultMaxConnections caps concurrently served connections. 0 means
	// unlimited.
	DefaultMaxConnections = 0

	// DefaultWorkerStopTimeout is the time a worker gets to finish its
	// current command on shutdown before it is killed.
	DefaultWorkerStopTimeout = 10 * time.Second

	// DefaultShutdownTimeout bounds Server.Shutdown.
	DefaultShutdownTimeout = 30 * time.Second

	// DefaultWorkerMode serves every connection in its own process.
	DefaultWorkerMode = ProcessPerConnection
)
