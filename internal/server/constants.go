package server

import "time"

// Server configuration constants
const (
	// Per-connection sliding window for inbound WebSocket messages
	RateLimitMessages = 10
	RateLimitWindow   = time.Second

	// Bound on a single outbound WebSocket write
	WriteTimeout = 5 * time.Second

	// Chooser wait when the caller configures none
	DefaultChooserTimeout = 20 * time.Second
)
