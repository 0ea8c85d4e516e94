package activity

import "time"

// Activity polling defaults
const (
	DefaultPollInterval = time.Second

	DefaultPowerCheckInterval = 5 * time.Second
	DefaultSleepTolerance     = 25 * time.Second
)
