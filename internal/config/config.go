package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/logging"

	"github.com/satindergrewal/clicktrack/internal/beat"
	"github.com/satindergrewal/clicktrack/internal/tempo"
)

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Initial beat settings
	Tempo        int
	Subdivisions int
	Swing        float64
	Volume       float64

	// Limits
	TempoMin        int
	TempoMax        int
	SwingMax        float64
	MaxSubdivisions int

	// Tempo sources
	TapReset          time.Duration
	TapWindow         int // taps averaged for tap tempo
	DetectThreshold   float64
	DetectMinDistance time.Duration
	DetectDuration    time.Duration // default recording length for detect

	// Training
	TrainSilence         string // off, fixed or random
	TrainPlayMeasures    int
	TrainMuteMeasures    int
	TrainMuteProbability float64
	TrainSpeedUp         bool
	TrainSpeedUpMeasures int
	TrainSpeedUpPercent  float64
	TrainTempoCap        int

	// Click sounds, empty means the built-in click
	SoundNormal string
	SoundAccent string
	SoundFirst  string

	// Output
	LocalAudio bool
	Port       int // 0 disables streaming

	LogLevel string
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	lim := beat.DefaultLimits()
	train := beat.DefaultTraining()
	return Config{
		Tempo:        envInt("CLICK_TEMPO", 120),
		Subdivisions: envInt("CLICK_SUBDIVISIONS", 4),
		Swing:        envFloat("CLICK_SWING", 0),
		Volume:       envFloat("CLICK_VOLUME", 1),

		TempoMin:        envInt("CLICK_TEMPO_MIN", lim.TempoMin),
		TempoMax:        envInt("CLICK_TEMPO_MAX", lim.TempoMax),
		SwingMax:        envFloat("CLICK_SWING_MAX", lim.SwingMax),
		MaxSubdivisions: envInt("CLICK_MAX_SUBDIVISIONS", lim.MaxSubdivisions),

		TapReset:          envDuration("CLICK_TAP_RESET", tempo.DefaultTapReset),
		TapWindow:         envInt("CLICK_TAP_WINDOW", tempo.DefaultTapWindow),
		DetectThreshold:   envFloat("CLICK_DETECT_THRESHOLD", tempo.DefaultThreshold),
		DetectMinDistance: envDuration("CLICK_DETECT_MIN_DISTANCE", tempo.DefaultMinDistance),
		DetectDuration:    envDuration("CLICK_DETECT_DURATION", 10*time.Second),

		TrainSilence:         envStr("CLICK_TRAIN_SILENCE", "off"),
		TrainPlayMeasures:    envInt("CLICK_TRAIN_PLAY_MEASURES", train.PlayMeasures),
		TrainMuteMeasures:    envInt("CLICK_TRAIN_MUTE_MEASURES", train.MuteMeasures),
		TrainMuteProbability: envFloat("CLICK_TRAIN_MUTE_PROBABILITY", train.MuteProbability),
		TrainSpeedUp:         envBool("CLICK_TRAIN_SPEEDUP", false),
		TrainSpeedUpMeasures: envInt("CLICK_TRAIN_SPEEDUP_MEASURES", train.SpeedUpMeasures),
		TrainSpeedUpPercent:  envFloat("CLICK_TRAIN_SPEEDUP_PERCENT", train.SpeedUpPercent),
		TrainTempoCap:        envInt("CLICK_TRAIN_TEMPO_CAP", train.TempoCap),

		SoundNormal: envStr("CLICK_SOUND_NORMAL", ""),
		SoundAccent: envStr("CLICK_SOUND_ACCENT", ""),
		SoundFirst:  envStr("CLICK_SOUND_FIRST", ""),

		LocalAudio: envBool("CLICK_LOCAL_AUDIO", true),
		Port:       envInt("CLICK_PORT", 0),

		LogLevel: envStr("CLICK_LOG_LEVEL", "info"),
	}
}

// Limits returns the configured scheduler limits.
func (c Config) Limits() beat.Limits {
	return beat.Limits{
		TempoMin:        c.TempoMin,
		TempoMax:        c.TempoMax,
		MaxSubdivisions: c.MaxSubdivisions,
		SwingMax:        c.SwingMax,
	}
}

// Training returns the trainer settings. An unknown silence mode means off.
func (c Config) Training() beat.Training {
	t := beat.Training{
		PlayMeasures:    c.TrainPlayMeasures,
		MuteMeasures:    c.TrainMuteMeasures,
		MuteProbability: c.TrainMuteProbability,
		SpeedUp:         c.TrainSpeedUp,
		SpeedUpMeasures: c.TrainSpeedUpMeasures,
		SpeedUpPercent:  c.TrainSpeedUpPercent,
		TempoCap:        c.TrainTempoCap,
	}
	switch strings.ToLower(c.TrainSilence) {
	case "fixed":
		t.Silence = beat.SilenceFixed
	case "random":
		t.Silence = beat.SilenceRandom
	}
	return t
}

// Sounds returns the per-role sound paths.
func (c Config) Sounds() map[beat.Role]string {
	return map[beat.Role]string{
		beat.RoleNormal: c.SoundNormal,
		beat.RoleAccent: c.SoundAccent,
		beat.RoleFirst:  c.SoundFirst,
	}
}

// Level maps LogLevel to a pion log level. Unknown names mean info.
func (c Config) Level() logging.LogLevel {
	switch strings.ToLower(c.LogLevel) {
	case "disabled", "off":
		return logging.LogLevelDisabled
	case "error":
		return logging.LogLevelError
	case "warn", "warning":
		return logging.LogLevelWarn
	case "debug":
		return logging.LogLevelDebug
	case "trace":
		return logging.LogLevelTrace
	default:
		return logging.LogLevelInfo
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// envDuration accepts Go durations ("1500ms") or plain seconds ("2.5").
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second))
	}
	return fallback
}
