// Package config loads the static engine configuration from a YAML file
// overlaid with environment variables, following the same two-stage load
// the rest of the pack uses: defaults, then file, then env overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/r3e-network/hermes/internal/logging"
)

// QueueConfig sizes the event queue and worker pool (§4.5).
type QueueConfig struct {
	Capacity      int           `yaml:"capacity" env:"HERMES_QUEUE_CAPACITY"`
	WorkerCount   int           `yaml:"worker_count" env:"HERMES_QUEUE_WORKERS"`
	GracePeriod   time.Duration `yaml:"grace_period" env:"HERMES_QUEUE_GRACE_PERIOD"`
	CallTimeout   time.Duration `yaml:"call_timeout" env:"HERMES_CALL_TIMEOUT"`
}

// DocSyncConfig configures the document-sync protocol engine (§4.7).
type DocSyncConfig struct {
	BackoffMin     time.Duration `yaml:"backoff_min" env:"HERMES_DOCSYNC_BACKOFF_MIN"`
	BackoffMax     time.Duration `yaml:"backoff_max" env:"HERMES_DOCSYNC_BACKOFF_MAX"`
	JitterMin      time.Duration `yaml:"jitter_min" env:"HERMES_DOCSYNC_JITTER_MIN"`
	JitterMax      time.Duration `yaml:"jitter_max" env:"HERMES_DOCSYNC_JITTER_MAX"`
	ManifestTTL    time.Duration `yaml:"manifest_ttl" env:"HERMES_DOCSYNC_MANIFEST_TTL"`
	MaxInlineBytes int           `yaml:"max_inline_bytes" env:"HERMES_DOCSYNC_MAX_INLINE_BYTES"`
	SketchHashes   int           `yaml:"sketch_hashes" env:"HERMES_DOCSYNC_SKETCH_HASHES"`
	MaxRounds      int           `yaml:"max_rounds" env:"HERMES_DOCSYNC_MAX_ROUNDS"`
}

// TrustConfig locates trust-anchor certificates.
type TrustConfig struct {
	AnchorsDir string `yaml:"anchors_dir" env:"HERMES_TRUST_ANCHORS_DIR"`
}

// HTTPConfig controls the HTTP surface's listen address (§6.4).
type HTTPConfig struct {
	Host string `yaml:"host" env:"HERMES_HTTP_HOST"`
	Port int    `yaml:"port" env:"HERMES_HTTP_PORT"`
}

// Config is the top-level engine configuration.
type Config struct {
	Logging logging.Config `yaml:"logging"`
	Queue   QueueConfig    `yaml:"queue"`
	DocSync DocSyncConfig  `yaml:"docsync"`
	Trust   TrustConfig    `yaml:"trust"`
	HTTP    HTTPConfig     `yaml:"http"`

	// DataDir is the root of the engine-owned persisted state layout (§6.5):
	// per-application overlays and the content-network datastore live below it.
	DataDir string `yaml:"data_dir" env:"HERMES_DATA_DIR"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		Logging: logging.Config{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Queue: QueueConfig{
			Capacity:    4096,
			WorkerCount: 0, // 0 means "runtime.NumCPU()"; resolved by the engine
			GracePeriod: 30 * time.Second,
			CallTimeout: 10 * time.Second,
		},
		DocSync: DocSyncConfig{
			BackoffMin:     200 * time.Millisecond,
			BackoffMax:     800 * time.Millisecond,
			JitterMin:      50 * time.Millisecond,
			JitterMax:      250 * time.Millisecond,
			ManifestTTL:    24 * time.Hour,
			MaxInlineBytes: 1 << 20,
			SketchHashes:   3,
			MaxRounds:      2,
		},
		Trust: TrustConfig{
			AnchorsDir: "trust",
		},
		HTTP: HTTPConfig{
			Host: "0.0.0.0",
			Port: 8787,
		},
		DataDir: "data",
	}
}

// Load reads configuration from an optional YAML file (HERMES_CONFIG_FILE
// env var, default "configs/hermes.yaml") and then applies environment
// overrides tagged with `env:"…"`.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	path := strings.TrimSpace(os.Getenv("HERMES_CONFIG_FILE"))
	if path == "" {
		path = "configs/hermes.yaml"
	}
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	cfg.normalize()
	return cfg, nil
}

// LoadFile loads configuration from a specific YAML file, skipping env
// overlay. Used by tests that want deterministic input.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) normalize() {
	if c.Queue.Capacity <= 0 {
		c.Queue.Capacity = 4096
	}
	if c.Queue.GracePeriod <= 0 {
		c.Queue.GracePeriod = 30 * time.Second
	}
	if c.DocSync.BackoffMax < c.DocSync.BackoffMin {
		c.DocSync.BackoffMax = c.DocSync.BackoffMin
	}
	if c.DocSync.JitterMax < c.DocSync.JitterMin {
		c.DocSync.JitterMax = c.DocSync.JitterMin
	}
	if c.DocSync.MaxInlineBytes <= 0 {
		c.DocSync.MaxInlineBytes = 1 << 20
	}
	if c.DocSync.SketchHashes <= 0 {
		c.DocSync.SketchHashes = 3
	}
	if c.DocSync.MaxRounds <= 0 {
		c.DocSync.MaxRounds = 2
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
}
