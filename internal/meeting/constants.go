package meeting

import "time"

// Controller defaults
const (
	DefaultConfirmWindow = 2 * time.Second
	DefaultGraceWindow   = 2 * time.Second

	inboxBuffer      = 64
	subscriberBuffer = 16
	wakeProbeTimeout = 5 * time.Second
)
