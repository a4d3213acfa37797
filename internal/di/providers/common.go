package providers

import "time"

const (
	// shutdownTimeout is the maximum time to wait for graceful shutdown of services.
	shutdownTimeout = 30 * time.Second

	// sessionPurgeInterval is how often expired login sessions are deleted.
	sessionPurgeInterval = time.Hour
)
