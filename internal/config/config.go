package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds the playback engine's runtime configuration.
type Config struct {
	HTTPAddress     string
	PipelineBaseURL string
	PipelineWSURL   string
	SampleRate      int
	Lookahead       int
	TickInterval    time.Duration
	Speed           float64
	Volume          float64
}

// Load reads environment variables (plus an optional .env file) and
// returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("config: no .env file")
	}

	cfg := Config{
		HTTPAddress:     envString("HTTP_ADDRESS", ":8090"),
		PipelineBaseURL: envString("PIPELINE_BASE_URL", "http://localhost:8091"),
		PipelineWSURL:   envString("PIPELINE_WS_URL", "ws://localhost:8091/events"),
		SampleRate:      envInt("SAMPLE_RATE", 24000),
		Lookahead:       envInt("PREFETCH_LOOKAHEAD", 3),
		TickInterval:    envDuration("POSITION_TICK", 50*time.Millisecond),
		Speed:           envFloat("PLAYBACK_SPEED", 1.0),
		Volume:          envFloat("PLAYBACK_VOLUME", 1.0),
	}

	if cfg.Speed < 0.5 {
		cfg.Speed = 0.5
	}
	if cfg.Speed > 2.0 {
		cfg.Speed = 2.0
	}
	if cfg.Volume < 0 {
		cfg.Volume = 0
	}
	if cfg.Volume > 1 {
		cfg.Volume = 1
	}
	if cfg.Lookahead < 1 {
		cfg.Lookahead = 1
	}

	logrus.Infof("config: HTTP_ADDRESS=%s PIPELINE_BASE_URL=%s", cfg.HTTPAddress, cfg.PipelineBaseURL)
	return cfg
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logrus.Warnf("config: invalid %s=%q, using %d", key, v, def)
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logrus.Warnf("config: invalid %s=%q, using %f", key, v, def)
		return def
	}
	return f
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logrus.Warnf("config: invalid %s=%q, using %s", key, v, def)
		return def
	}
	return d
}
