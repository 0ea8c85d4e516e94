package resilience

import "time"

// Circuit breaker configuration constants
const (
	DefaultThreshold         = 5
	DefaultResetTimeout      = 30 * time.Second
	DefaultHalfOpenSuccesses = 3

	// Inference: a local model server that is either up or restarting
	InferenceThreshold         = 3
	InferenceResetTimeout      = 15 * time.Second
	InferenceHalfOpenSuccesses = 1

	// Event sink: losing mirrored events is acceptable, so back off for longer
	EventSinkThreshold         = 5
	EventSinkResetTimeout      = 60 * time.Second
	EventSinkHalfOpenSuccesses = 2
)

// Config holds circuit breaker settings.
type Config struct {
	Name              string        // appears in state-change logs
	Threshold         int           // failures before opening
	ResetTimeout      time.Duration // wait before half-open attempt
	HalfOpenSuccesses int           // successes needed to close
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig() Config {
	return Config{
		Name:              "default",
		Threshold:         DefaultThreshold,
		ResetTimeout:      DefaultResetTimeout,
		HalfOpenSuccesses: DefaultHalfOpenSuccesses,
	}
}

// InferenceConfig guards calls to the transcription and generation server.
func InferenceConfig(name string) Config {
	return Config{
		Name:              name,
		Threshold:         InferenceThreshold,
		ResetTimeout:      InferenceResetTimeout,
		HalfOpenSuccesses: InferenceHalfOpenSuccesses,
	}
}

// EventSinkConfig guards best-effort event forwarding.
func EventSinkConfig(name string) Config {
	return Config{
		Name:              name,
		Threshold:         EventSinkThreshold,
		ResetTimeout:      EventSinkResetTimeout,
		HalfOpenSuccesses: EventSinkHalfOpenSuccesses,
	}
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = DefaultHalfOpenSuccesses
	}
	return c
}
