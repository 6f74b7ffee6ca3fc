package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is the configuration to start the main server.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Data is the data directory
	Data string
	// DSN points to where greenroom stores its own data
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Version is the current version of server
	Version string
	// InstanceURL is the url of your greenroom instance.
	InstanceURL string

	// Worker / job queue configuration
	Workers           int           // GREENROOM_WORKERS (default: 2)
	PollInterval      time.Duration // GREENROOM_POLL_INTERVAL (default: 1s)
	LeaseDuration     time.Duration // GREENROOM_LEASE_DURATION (default: 30s)
	HeartbeatInterval time.Duration // GREENROOM_HEARTBEAT_INTERVAL (default: lease/3)
	MaxAttempts       int           // GREENROOM_MAX_ATTEMPTS (default: 3)
	BackoffBase       time.Duration // GREENROOM_BACKOFF_BASE (default: 5s)
	BackoffCap        time.Duration // GREENROOM_BACKOFF_CAP (default: 5m)

	// Live session configuration
	AckDeadline    time.Duration // GREENROOM_ACK_DEADLINE (default: 1200ms)
	StrikeLookback int           // GREENROOM_STRIKE_LOOKBACK (default: 2 turns)
	FinalizeGrace  time.Duration // GREENROOM_FINALIZE_GRACE (default: 2m)
	StreamURL      string        // GREENROOM_STREAM_URL (voice gateway websocket endpoint)

	// LLM configuration (question generation, intent classification, analysis)
	LLMAPIKey      string // GREENROOM_LLM_API_KEY
	LLMBaseURL     string // GREENROOM_LLM_BASE_URL (default: https://api.openai.com/v1)
	LLMModel       string // GREENROOM_LLM_MODEL (default: gpt-4o-mini)
	LLMIntentModel string // GREENROOM_LLM_INTENT_MODEL (default: same as LLMModel)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsLLMEnabled returns true if an API key is configured.
func (p *Profile) IsLLMEnabled() bool {
	return p.LLMAPIKey != ""
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return defaultValue
	}
	return d
}

func getIntEnv(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return n
}

// FromEnv loads configuration from GREENROOM_* environment variables.
func (p *Profile) FromEnv() {
	p.Workers = getIntEnv("GREENROOM_WORKERS", 2)
	p.PollInterval = getDurationEnv("GREENROOM_POLL_INTERVAL", time.Second)
	p.LeaseDuration = getDurationEnv("GREENROOM_LEASE_DURATION", 30*time.Second)
	p.HeartbeatInterval = getDurationEnv("GREENROOM_HEARTBEAT_INTERVAL", 0)
	p.MaxAttempts = getIntEnv("GREENROOM_MAX_ATTEMPTS", 3)
	p.BackoffBase = getDurationEnv("GREENROOM_BACKOFF_BASE", 5*time.Second)
	p.BackoffCap = getDurationEnv("GREENROOM_BACKOFF_CAP", 5*time.Minute)

	p.AckDeadline = getDurationEnv("GREENROOM_ACK_DEADLINE", 1200*time.Millisecond)
	p.StrikeLookback = getIntEnv("GREENROOM_STRIKE_LOOKBACK", 2)
	p.FinalizeGrace = getDurationEnv("GREENROOM_FINALIZE_GRACE", 2*time.Minute)
	p.StreamURL = os.Getenv("GREENROOM_STREAM_URL")

	p.LLMAPIKey = os.Getenv("GREENROOM_LLM_API_KEY")
	p.LLMBaseURL = getEnvOrDefault("GREENROOM_LLM_BASE_URL", "https://api.openai.com/v1")
	p.LLMModel = getEnvOrDefault("GREENROOM_LLM_MODEL", "gpt-4o-mini")
	p.LLMIntentModel = os.Getenv("GREENROOM_LLM_INTENT_MODEL")
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" && p.Data == "" {
		p.Data = "/var/opt/greenroom"
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		return errors.Wrap(err, "failed to check data dir")
	}

	p.Data = dataDir
	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("greenroom_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}

	if p.Workers < 1 {
		p.Workers = 1
	}
	if p.LeaseDuration <= 0 {
		p.LeaseDuration = 30 * time.Second
	}
	// Heartbeats must fire materially more often than the lease expires,
	// otherwise a transient scheduler pause looks like a crash.
	if p.HeartbeatInterval <= 0 || p.HeartbeatInterval > p.LeaseDuration/3 {
		p.HeartbeatInterval = p.LeaseDuration / 3
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 3
	}
	if p.StrikeLookback < 1 {
		p.StrikeLookback = 2
	}
	if p.LLMIntentModel == "" {
		p.LLMIntentModel = p.LLMModel
	}

	return nil
}
