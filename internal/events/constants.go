package events

import "time"

const (
	// DefaultBuffer is the per-subscriber channel size.
	DefaultBuffer = 64

	// RedisPublishTimeout bounds a single forwarded publish.
	RedisPublishTimeout = 2 * time.Second
)
