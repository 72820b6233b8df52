package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DotEnvFile is loaded into the environment, if present, before the
// configuration is read. Variables already set take precedence.
const DotEnvFile = ".env.local"

const (
	defaultPDSURL         = "https://bsky.social"
	defaultStagger        = 60 * time.Second
	defaultCheckpointFile = "last_processed_timestamp.txt"
	defaultDatabasePath   = "bsky-migrate.db"
)

// Checkpoint backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config holds all configuration for the application.
type Config struct {
	// Handle and Password are the Bluesky login, normally an app password.
	Handle   string
	Password string

	// PDSURL is the base URL of the account's PDS.
	PDSURL string

	// DataRoot is the export's data folder, holding tweets.js and
	// tweets_media/.
	DataRoot string

	// Stagger is the pause between publish launches.
	Stagger time.Duration

	// MaxInFlight caps concurrent publishes. Zero means no cap.
	MaxInFlight int

	// CheckpointBackend is BackendFile or BackendSQLite.
	CheckpointBackend string
	CheckpointFile    string
	DatabasePath      string

	// StatusAddr, when set, is where the status server listens.
	StatusAddr string

	// JetstreamURL, when set, enables post confirmation over Jetstream.
	JetstreamURL string

	LogLevel  string
	LogFormat string

	// Warnings lists values that were invalid and replaced by defaults.
	Warnings []string
}

// fileConfig is the YAML config file layout.
type fileConfig struct {
	Handle            string  `yaml:"handle"`
	Password          string  `yaml:"password"`
	PDSURL            string  `yaml:"pds_url"`
	DataRoot          string  `yaml:"data_root"`
	SleepInterval     float64 `yaml:"sleep_interval_seconds"`
	MaxInFlight       int     `yaml:"max_in_flight"`
	CheckpointBackend string  `yaml:"checkpoint_backend"`
	CheckpointFile    string  `yaml:"checkpoint_file"`
	DatabasePath      string  `yaml:"database_path"`
	StatusAddr        string  `yaml:"status_addr"`
	JetstreamURL      string  `yaml:"jetstream_url"`
	LogLevel          string  `yaml:"log_level"`
	LogFormat         string  `yaml:"log_format"`
}

// MissingConfigError reports required settings that are not set.
type MissingConfigError struct {
	Keys []string
}

func (e *MissingConfigError) Error() string {
	return "missing required configuration: " + strings.Join(e.Keys, ", ")
}

// Load reads configuration from the optional YAML file at path, then from
// the environment (after loading DotEnvFile), with defaults for anything
// unset. Environment values override the file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(DotEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", DotEnvFile, err)
	}

	var fc fileConfig
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		Handle:            envOr("BLUESKY_HANDLE", fc.Handle),
		Password:          envOr("BLUESKY_PASSWORD", fc.Password),
		PDSURL:            envOr("BLUESKY_PDS_URL", fc.PDSURL),
		DataRoot:          envOr("TWITTER_DATA_ROOT_FOLDER", fc.DataRoot),
		CheckpointBackend: strings.ToLower(envOr("CHECKPOINT_BACKEND", fc.CheckpointBackend)),
		CheckpointFile:    envOr("CHECKPOINT_FILE", fc.CheckpointFile),
		DatabasePath:      envOr("DATABASE_PATH", fc.DatabasePath),
		StatusAddr:        envOr("STATUS_ADDR", fc.StatusAddr),
		JetstreamURL:      envOr("JETSTREAM_URL", fc.JetstreamURL),
		LogLevel:          envOr("LOG_LEVEL", fc.LogLevel),
		LogFormat:         envOr("LOG_FORMAT", fc.LogFormat),
		MaxInFlight:       fc.MaxInFlight,
	}

	if cfg.PDSURL == "" {
		cfg.PDSURL = defaultPDSURL
	}
	cfg.PDSURL = strings.TrimRight(cfg.PDSURL, "/")
	if cfg.CheckpointFile == "" {
		cfg.CheckpointFile = defaultCheckpointFile
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = defaultDatabasePath
	}

	switch cfg.CheckpointBackend {
	case "":
		cfg.CheckpointBackend = BackendFile
	case BackendFile, BackendSQLite:
	default:
		return nil, fmt.Errorf("invalid CHECKPOINT_BACKEND %q: want %s or %s", cfg.CheckpointBackend, BackendFile, BackendSQLite)
	}

	cfg.Stagger = defaultStagger
	if fc.SleepInterval > 0 {
		cfg.Stagger = seconds(fc.SleepInterval)
	}
	if s := os.Getenv("SLEEP_INTERVAL_SECONDS"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v < 0 {
			cfg.Stagger = defaultStagger
			cfg.Warnings = append(cfg.Warnings,
				fmt.Sprintf("invalid SLEEP_INTERVAL_SECONDS %q, using default of %s", s, defaultStagger))
		} else {
			cfg.Stagger = seconds(v)
		}
	}

	if s := os.Getenv("MAX_IN_FLIGHT"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid MAX_IN_FLIGHT %q", s)
		}
		cfg.MaxInFlight = n
	}

	if cfg.DataRoot == "" {
		return nil, &MissingConfigError{Keys: []string{"TWITTER_DATA_ROOT_FOLDER"}}
	}

	return cfg, nil
}

// RequireCredentials returns a *MissingConfigError naming any unset login
// setting. Dry runs and stats do not need them.
func (c *Config) RequireCredentials() error {
	var missing []string
	if c.Handle == "" {
		missing = append(missing, "BLUESKY_HANDLE")
	}
	if c.Password == "" {
		missing = append(missing, "BLUESKY_PASSWORD")
	}
	if len(missing) > 0 {
		return &MissingConfigError{Keys: missing}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
