package grpcclient

import "time"

// Client configuration defaults
const (
	// Keepalive configuration
	DefaultKeepaliveTime    = 10 * time.Second
	DefaultKeepaliveTimeout = 3 * time.Second

	// Health check configuration
	HealthCheckTimeout = 2 * time.Second

	// Per-call deadlines. Transcription covers a whole recording.
	TranscribeTimeout = 15 * time.Minute
	GenerateTimeout   = 3 * time.Minute
)

// Inference service methods.
const (
	ServiceName              = "engram.inference.v1.Inference"
	MethodTranscribe         = "/" + ServiceName + "/Transcribe"
	MethodSummarize          = "/" + ServiceName + "/Summarize"
	MethodExtractActionItems = "/" + ServiceName + "/ExtractActionItems"
)
