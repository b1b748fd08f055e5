package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the chartsync service configuration.
type Config struct {
	BindAddr          string
	PortCandidates    []string
	PortAutoFallback  bool
	LogLevel          string
	LogFile           string
	BackendURL        string
	BackendTimeoutMS  int
	LiveWSURL         string
	DefaultResolution string
	JournalDir        string

	NtfyEndpoint      string
	MQTTBroker        string
	MQTTTopic         string
	MQTTClientID      string
	MQTTUsername      string
	MQTTPassword      string
	SentryDSN         string
	SentryEnvironment string

	// Render-surface bridge
	SurfaceEnabled   bool
	CDPAddress       string
	CDPPort          int
	SurfaceTabFilter string
	SurfaceLaunch    bool
	SurfaceStartURL  string
	SurfaceHeadless  bool
	SurfaceProfile   string

	TuningFile string
	Tuning     Tuning
}

// Load reads configuration from environment variables and an optional .env
// file, then applies the tuning file if one is configured.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		BindAddr:          getEnvOrDefault("CHARTSYNC_BIND_ADDR", "127.0.0.1:8190"),
		PortCandidates:    splitList(getEnvOrDefault("CHARTSYNC_PORT_CANDIDATES", "127.0.0.1:8191,127.0.0.1:8192,127.0.0.1:8193")),
		PortAutoFallback:  getEnvBoolOrDefault("CHARTSYNC_PORT_AUTO_FALLBACK", true),
		LogLevel:          strings.ToLower(getEnvOrDefault("CHARTSYNC_LOG_LEVEL", "info")),
		LogFile:           getEnvOrDefault("CHARTSYNC_LOG_FILE", "logs/chartsync.log"),
		BackendURL:        getEnvOrDefault("BACKEND_URL", "http://127.0.0.1:8000"),
		BackendTimeoutMS:  getEnvIntOrDefault("BACKEND_TIMEOUT_MS", 10000),
		LiveWSURL:         getEnvOrDefault("LIVE_WS_URL", "ws://127.0.0.1:8000/ws/live"),
		DefaultResolution: getEnvOrDefault("DEFAULT_RESOLUTION", "1h"),
		JournalDir:        getEnvOrDefault("JOURNAL_DIR", "./journal"),
		NtfyEndpoint:      getEnvOrDefault("NTFY_ENDPOINT", ""),
		MQTTBroker:        getEnvOrDefault("MQTT_BROKER", ""),
		MQTTTopic:         getEnvOrDefault("MQTT_TOPIC", "chartsync/annotations"),
		MQTTClientID:      getEnvOrDefault("MQTT_CLIENT_ID", "chartsync"),
		MQTTUsername:      getEnvOrDefault("MQTT_USERNAME", ""),
		MQTTPassword:      getEnvOrDefault("MQTT_PASSWORD", ""),
		SentryDSN:         getEnvOrDefault("SENTRY_DSN", ""),
		SentryEnvironment: getEnvOrDefault("SENTRY_ENVIRONMENT", "production"),
		SurfaceEnabled:    getEnvBoolOrDefault("SURFACE_ENABLED", false),
		CDPAddress:        getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:           getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		SurfaceTabFilter:  getEnvOrDefault("SURFACE_TAB_FILTER", "localhost:8000"),
		SurfaceLaunch:     getEnvBoolOrDefault("SURFACE_LAUNCH", false),
		SurfaceStartURL:   getEnvOrDefault("SURFACE_START_URL", "http://localhost:8000/"),
		SurfaceHeadless:   getEnvBoolOrDefault("SURFACE_HEADLESS", true),
		SurfaceProfile:    getEnvOrDefault("SURFACE_PROFILE_DIR", "./chromium-profile"),
		TuningFile:        getEnvOrDefault("CHARTSYNC_TUNING_FILE", ""),
		Tuning:            DefaultTuning(),
	}
	if cfg.BackendTimeoutMS < 1000 {
		cfg.BackendTimeoutMS = 1000
	}

	if cfg.TuningFile != "" {
		t, err := LoadTuning(cfg.TuningFile)
		if err != nil {
			return nil, err
		}
		cfg.Tuning = t
	}
	return cfg, nil
}

// BackendTimeout returns the backend request timeout.
func (c *Config) BackendTimeout() time.Duration {
	return time.Duration(c.BackendTimeoutMS) * time.Millisecond
}

// CDPURL returns the CDP HTTP endpoint used by the chromedp remote allocator.
func (c *Config) CDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
