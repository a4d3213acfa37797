package api

import "time"

// API defaults.
const (
	// DefaultReadyTimeout bounds how long opening a detail session waits
	// for the book and first review snapshot.
	DefaultReadyTimeout = 10 * time.Second

	// DefaultHeartbeat is the SSE keep-alive interval.
	DefaultHeartbeat = 30 * time.Second

	// Auth routes allow authRatePerMinute requests per client IP with
	// bursts of authBurst.
	authRatePerMinute = 20
	authBurst         = 10
)

// Cache-Control header values.
const (
	CacheNoStore = "no-store"
)
