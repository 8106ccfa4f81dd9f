package shared

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

//go:embed config.example.toml
var exampleConf []byte

// SpotifyPageLimit is the page size requested from the recently-played endpoint.
//
// Fixed by the upstream maximum; pagination treats a shorter page as the last one.
const SpotifyPageLimit = 50

// Config represents the application configuration loaded from a TOML file and the environment.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Database    DatabaseConfig    `toml:"database"`
	Ingest      IngestConfig      `toml:"ingest"`
	Server      ServerConfig      `toml:"server"`
	Log         LogConfig         `toml:"log"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
}

// SpotifyConfig contains Spotify API client credentials used by the token broker and account linking.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri" validate:"omitempty,url"`
}

// Configured reports whether both client id and secret are present.
func (s SpotifyConfig) Configured() bool {
	return s.ClientID != "" && s.ClientSecret != ""
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path" validate:"required"`
	MaxOpenConns int    `toml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns int    `toml:"max_idle_conns" validate:"gte=0"`
}

// IngestConfig controls the ingestion pipeline.
type IngestConfig struct {
	TokenBrokerURL      string  `toml:"token_broker_url" validate:"required,url"`
	UserConcurrency     int     `toml:"user_concurrency" validate:"gt=0"`
	SafetyWindowMinutes int     `toml:"safety_window_minutes" validate:"gte=0"`
	RetentionDays       int     `toml:"retention_days" validate:"gt=0"`
	FeaturesEnabled     bool    `toml:"features_enabled"`
	RateLimit           float64 `toml:"rate_limit" validate:"gt=0"`
	ScheduleMinutes     int     `toml:"schedule_minutes" validate:"gt=0"`
	WriteBatchSize      int     `toml:"write_batch_size" validate:"gt=0"`
}

// SafetyWindowMS returns the safety window in milliseconds.
func (c IngestConfig) SafetyWindowMS() int64 {
	return int64(c.SafetyWindowMinutes) * int64(time.Minute/time.Millisecond)
}

// Retention returns how long a listen is kept after it was played.
func (c IngestConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// Schedule returns the period between scheduled runs.
func (c IngestConfig) Schedule() time.Duration {
	return time.Duration(c.ScheduleMinutes) * time.Minute
}

// PageSize returns the upstream page size. It is not configurable.
func (c IngestConfig) PageSize() int {
	return SpotifyPageLimit
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host      string `toml:"host"`
	Port      int    `toml:"port" validate:"gte=1,lte=65535"`
	JWTSecret string `toml:"jwt_secret"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level string `toml:"level" validate:"omitempty,oneof=debug info warn error"`
}

// LoadConfig reads a TOML configuration file from path, layered over [DefaultConfig].
//
// Keys absent from the file keep their default value.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrInvalidConfig, err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the process environment.
//
// A missing file is not an error; variables already set in the environment win.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: failed to load %s: %v", ErrInvalidConfig, path, err)
	}
	return nil
}

// ApplyEnv overrides config values from environment variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"TOKEN_BROKER_URL":      &c.Ingest.TokenBrokerURL,
		"REPLAY_DATABASE_PATH":  &c.Database.Path,
		"SPOTIFY_CLIENT_ID":     &c.Credentials.Spotify.ClientID,
		"SPOTIFY_CLIENT_SECRET": &c.Credentials.Spotify.ClientSecret,
		"SPOTIFY_REDIRECT_URI":  &c.Credentials.Spotify.RedirectURI,
		"SERVER_HOST":           &c.Server.Host,
		"JWT_SECRET":            &c.Server.JWTSecret,
		"LOG_LEVEL":             &c.Log.Level,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"DEFAULT_USER_CONCURRENCY": &c.Ingest.UserConcurrency,
		"SAFETY_WINDOW_MINUTES":    &c.Ingest.SafetyWindowMinutes,
		"RETENTION_DAYS":           &c.Ingest.RetentionDays,
		"INGEST_SCHEDULE_MINUTES":  &c.Ingest.ScheduleMinutes,
		"WRITE_BATCH_SIZE":         &c.Ingest.WriteBatchSize,
		"SERVER_PORT":              &c.Server.Port,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s must be an integer, got %q", ErrInvalidConfig, key, v)
		}
		*dst = n
	}

	if v, ok := lookup("SPOTIFY_RATE_LIMIT"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: SPOTIFY_RATE_LIMIT must be a number, got %q", ErrInvalidConfig, v)
		}
		c.Ingest.RateLimit = f
	}

	if v, ok := lookup("AUDIO_FEATURES_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: AUDIO_FEATURES_ENABLED must be a boolean, got %q", ErrInvalidConfig, v)
		}
		c.Ingest.FeaturesEnabled = b
	}

	return nil
}

// Validate checks every section against its constraints.
func (c *Config) Validate() error {
	if err := ValidateStruct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// ReadConfig builds the startup configuration without validating it: the file
// at path (or defaults when it does not exist), then the .env file, then the
// process environment.
func ReadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			loaded, err := LoadConfig(path)
			if err != nil {
				return nil, err
			}
			config = loaded
		}
	}

	if err := LoadEnvFile(".env"); err != nil {
		return nil, err
	}

	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	return config, nil
}

// ResolveConfig is [ReadConfig] followed by [Config.Validate].
func ResolveConfig(path string) (*Config, error) {
	config, err := ReadConfig(path)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}
