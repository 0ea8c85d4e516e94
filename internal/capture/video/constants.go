package video

import "time"

const (
	// MaxHashDistance is the pHash Hamming distance at or below which two
	// frames count as the same picture.
	MaxHashDistance = 4

	// MaxSnapshotFailures in a row ends sampling; the window is likely gone.
	MaxSnapshotFailures = 5

	DefaultFrameInterval = time.Second
)
