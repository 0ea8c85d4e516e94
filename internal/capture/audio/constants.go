package audio

import "time"

const (
	// FramesPerBuffer is ~64ms at 16kHz.
	FramesPerBuffer = 1024

	// BitDepth of recorded WAV files.
	BitDepth = 16

	// StopTimeout bounds waiting for a device goroutine to drain.
	StopTimeout = 2 * time.Second
)
