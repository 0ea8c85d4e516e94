// Package config handles recorder configuration.
// Values are layered: defaults, then the TOML config file, then .env, then the environment.
package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Window selection modes for video capture.
const (
	WindowModeSmart     = "smart"
	WindowModeAlwaysAsk = "alwaysAsk"
	WindowModeAuto      = "auto"
)

type Config struct {
	HTTPAddr             string   `toml:"http_addr"`
	InferenceAddr        string   `toml:"inference_addr"`
	LogLevel             string   `toml:"log_level"`
	SampleRate           int      `toml:"sample_rate"`
	CaptureSystemAudio   bool     `toml:"capture_system_audio"`
	ExcludedAudioDevices []string `toml:"excluded_audio_devices"`

	MonitoredApps  []string `toml:"monitored_apps"`
	CheckOnWake    bool     `toml:"check_on_wake"`
	ConfirmSeconds float64  `toml:"meeting_confirm_seconds"`
	GraceSeconds   float64  `toml:"meeting_grace_seconds"`
	PollSeconds    float64  `toml:"activity_poll_seconds"`

	RecordVideo         bool    `toml:"record_video"`
	WindowSelectionMode string  `toml:"window_selection_mode"`
	VideoFrameRate      float64 `toml:"video_frame_rate"` // Hz
	ChooserSeconds      float64 `toml:"chooser_timeout_seconds"`
	RecordingsDir       string  `toml:"recordings_dir"`
	FFmpegPath          string  `toml:"ffmpeg_path"`
	FFprobePath         string  `toml:"ffprobe_path"`

	AutoTranscribe  bool `toml:"auto_transcribe"`
	AutoSummary     bool `toml:"auto_summary"`
	AutoActionItems bool `toml:"auto_action_items"`

	DatabaseURL     string  `toml:"database_url"`
	RedisAddr       string  `toml:"redis_addr"`
	EventsChannel   string  `toml:"events_channel"`
	ShutdownSeconds float64 `toml:"shutdown_timeout_seconds"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		HTTPAddr:             ":8000",
		InferenceAddr:        "localhost:50051",
		LogLevel:             "info",
		SampleRate:           16000,
		CaptureSystemAudio:   true,
		ExcludedAudioDevices: []string{"iphone", "teams"},
		MonitoredApps:        []string{"Zoom", "Microsoft Teams", "Webex", "Slack", "FaceTime"},
		CheckOnWake:          true,
		ConfirmSeconds:       2.0,
		GraceSeconds:         2.0,
		PollSeconds:          1.0,
		RecordVideo:          false,
		WindowSelectionMode:  WindowModeSmart,
		VideoFrameRate:       1.0,
		ChooserSeconds:       20.0,
		RecordingsDir:        defaultRecordingsDir(),
		FFmpegPath:           "ffmpeg",
		FFprobePath:          "ffprobe",
		AutoTranscribe:       true,
		AutoSummary:          true,
		AutoActionItems:      true,
		EventsChannel:        "engram:events",
		ShutdownSeconds:      5.0,
	}
}

// Load builds the configuration from all layers. Missing files are ignored.
func Load() *Config {
	cfg := Default()

	if path := configFilePath(); path != "" {
		if err := cfg.loadFile(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("ignoring config file", "path", path, "error", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("ignoring .env file", "error", err)
	}

	cfg.applyEnv()
	cfg.normalize()
	return cfg
}

func (c *Config) loadFile(path string) error {
	_, err := toml.DecodeFile(path, c)
	return err
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.InferenceAddr = getEnv("INFERENCE_ADDR", c.InferenceAddr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.SampleRate = getEnvInt("SAMPLE_RATE", c.SampleRate)
	c.CaptureSystemAudio = getEnvBool("CAPTURE_SYSTEM_AUDIO", c.CaptureSystemAudio)
	c.ExcludedAudioDevices = getEnvList("EXCLUDED_AUDIO_DEVICES", c.ExcludedAudioDevices)
	c.MonitoredApps = getEnvList("MONITORED_APPS", c.MonitoredApps)
	c.CheckOnWake = getEnvBool("CHECK_ON_WAKE", c.CheckOnWake)
	c.ConfirmSeconds = getEnvFloat("MEETING_CONFIRM_SECONDS", c.ConfirmSeconds)
	c.GraceSeconds = getEnvFloat("MEETING_GRACE_SECONDS", c.GraceSeconds)
	c.PollSeconds = getEnvFloat("ACTIVITY_POLL_SECONDS", c.PollSeconds)
	c.RecordVideo = getEnvBool("RECORD_VIDEO", c.RecordVideo)
	c.WindowSelectionMode = getEnv("WINDOW_SELECTION_MODE", c.WindowSelectionMode)
	c.VideoFrameRate = getEnvFloat("VIDEO_FRAME_RATE", c.VideoFrameRate)
	c.ChooserSeconds = getEnvFloat("CHOOSER_TIMEOUT_SECONDS", c.ChooserSeconds)
	c.RecordingsDir = getEnv("RECORDINGS_DIR", c.RecordingsDir)
	c.FFmpegPath = getEnv("FFMPEG_PATH", c.FFmpegPath)
	c.FFprobePath = getEnv("FFPROBE_PATH", c.FFprobePath)
	c.AutoTranscribe = getEnvBool("AUTO_TRANSCRIBE", c.AutoTranscribe)
	c.AutoSummary = getEnvBool("AUTO_SUMMARY", c.AutoSummary)
	c.AutoActionItems = getEnvBool("AUTO_ACTION_ITEMS", c.AutoActionItems)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.EventsChannel = getEnv("EVENTS_CHANNEL", c.EventsChannel)
	c.ShutdownSeconds = getEnvFloat("SHUTDOWN_TIMEOUT_SECONDS", c.ShutdownSeconds)
}

func (c *Config) normalize() {
	switch c.WindowSelectionMode {
	case WindowModeSmart, WindowModeAlwaysAsk, WindowModeAuto:
	default:
		slog.Warn("unknown window selection mode, using smart", "mode", c.WindowSelectionMode)
		c.WindowSelectionMode = WindowModeSmart
	}
	if c.VideoFrameRate <= 0 {
		c.VideoFrameRate = 1.0
	}
	if c.PollSeconds <= 0 {
		c.PollSeconds = 1.0
	}
}

// ConfirmWindow is how long a meeting signal must hold before recording starts.
func (c *Config) ConfirmWindow() time.Duration { return seconds(c.ConfirmSeconds) }

// GraceWindow is how long a withdrawn signal is tolerated before recording stops.
func (c *Config) GraceWindow() time.Duration { return seconds(c.GraceSeconds) }

func (c *Config) PollInterval() time.Duration    { return seconds(c.PollSeconds) }
func (c *Config) ChooserTimeout() time.Duration  { return seconds(c.ChooserSeconds) }
func (c *Config) ShutdownTimeout() time.Duration { return seconds(c.ShutdownSeconds) }

// SlogLevel parses LogLevel, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func configFilePath() string {
	if p := os.Getenv("CONFIG_FILE"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "engram", "config.toml")
}

func defaultRecordingsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "engram", "recordings")
	}
	return filepath.Join(home, "Engram", "Recordings")
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}
