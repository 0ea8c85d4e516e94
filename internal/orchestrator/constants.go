package orchestrator

import "time"

// Recording file layout.
const (
	AudioExt = ".wav"
	VideoExt = ".mp4"

	// Timestamp prefix of every recording's base filename.
	FileTimeLayout = "2006-01-02_15-04-05"

	// Longest title kept in a filename.
	MaxNameLength = 60

	DirPerm = 0o755
)

// DefaultFinalizeTimeout bounds emergency finalization when the caller gives none.
const DefaultFinalizeTimeout = 5 * time.Second
