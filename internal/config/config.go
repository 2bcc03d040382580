package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	appName       = "LiraShield"
	appDirName    = "lirashield"
	defaultDBName = "lirashield.db"
	envPrefix     = "LIRASHIELD_"
)

// AIConfig holds the optional commentary provider settings.
type AIConfig struct {
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
	BaseURL  string `json:"base_url,omitempty"`
}

// Config is the fully resolved runtime configuration.
type Config struct {
	DataDir          string
	DBName           string
	DBPath           string
	Host             string
	Port             int
	LogLevel         string
	LogFormat        string
	LogRetentionDays int
	// AutoFetchRates lets analysis fetch and store missing USD/TRY rates.
	AutoFetchRates     bool
	HTTPTimeout        time.Duration
	FetchCacheTTL      time.Duration
	FetchRatePerSecond float64
	FetchBurst         int
	// APIRateLimit is requests per second per client; zero disables limiting.
	APIRateLimit float64
	AI           AIConfig
}

// LogDir is where daily log files are written.
func (c Config) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// Addr is the host:port the API server binds to.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// UserConfig is the persisted JSON user configuration. Unset fields keep their defaults.
type UserConfig struct {
	DataDir          string   `json:"data_dir,omitempty"`
	DBName           string   `json:"db_name,omitempty"`
	Host             string   `json:"host,omitempty"`
	Port             int      `json:"port,omitempty"`
	LogLevel         string   `json:"log_level,omitempty"`
	LogFormat        string   `json:"log_format,omitempty"`
	LogRetentionDays int      `json:"log_retention_days,omitempty"`
	AutoFetchRates   *bool    `json:"auto_fetch_rates,omitempty"`
	APIRateLimit     *float64 `json:"api_rate_limit,omitempty"`
	AI               AIConfig `json:"ai,omitempty"`
}

// Overrides are explicit values, usually from command-line flags, applied last.
type Overrides struct {
	// EnvFile defaults to ".env" in the working directory; a missing file is ignored.
	EnvFile string
	// ConfigPath replaces the per-user config.json location.
	ConfigPath     string
	DataDir        string
	DBPath         string
	Host           string
	Port           int
	LogLevel       string
	AutoFetchRates *bool
}

// Default returns the built-in configuration before any source is applied.
func Default() Config {
	return Config{
		DBName:             defaultDBName,
		Host:               "127.0.0.1",
		Port:               8000,
		LogLevel:           "info",
		LogFormat:          "text",
		LogRetentionDays:   7,
		AutoFetchRates:     true,
		HTTPTimeout:        15 * time.Second,
		FetchCacheTTL:      10 * time.Minute,
		FetchRatePerSecond: 5,
		FetchBurst:         5,
		APIRateLimit:       20,
	}
}

// Load resolves configuration from .env, the JSON user config, LIRASHIELD_* environment
// variables and finally the overrides. The data directory is created if needed.
func Load(o Overrides) (Config, error) {
	envFile := o.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := Default()

	configPath := o.ConfigPath
	if configPath == "" {
		configPath = strings.TrimSpace(os.Getenv(envPrefix + "CONFIG"))
	}
	user, err := LoadUserConfig(configPath)
	if err != nil {
		return Config{}, err
	}
	applyUserConfig(&cfg, user)

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	applyOverrides(&cfg, o)

	if cfg.DataDir == "" {
		if cfg.DBPath != "" {
			cfg.DataDir = filepath.Dir(cfg.DBPath)
		} else {
			dir, err := appConfigDir()
			if err != nil {
				return Config{}, fmt.Errorf("resolve data dir: %w", err)
			}
			cfg.DataDir = dir
		}
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return Config{}, fmt.Errorf("create data dir: %w", err)
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, cfg.DBName)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("invalid port %d", cfg.Port)
	}
	return cfg, nil
}

func applyUserConfig(cfg *Config, user UserConfig) {
	if user.DataDir != "" {
		cfg.DataDir = user.DataDir
	}
	if user.DBName != "" {
		cfg.DBName = user.DBName
	}
	if user.Host != "" {
		cfg.Host = user.Host
	}
	if user.Port > 0 {
		cfg.Port = user.Port
	}
	if user.LogLevel != "" {
		cfg.LogLevel = user.LogLevel
	}
	if user.LogFormat != "" {
		cfg.LogFormat = user.LogFormat
	}
	if user.LogRetentionDays > 0 {
		cfg.LogRetentionDays = user.LogRetentionDays
	}
	if user.AutoFetchRates != nil {
		cfg.AutoFetchRates = *user.AutoFetchRates
	}
	if user.APIRateLimit != nil {
		cfg.APIRateLimit = *user.APIRateLimit
	}
	mergeAI(&cfg.AI, user.AI)
}

func applyEnv(cfg *Config) error {
	setString(&cfg.DataDir, "DATA_DIR")
	setString(&cfg.DBName, "DB_NAME")
	setString(&cfg.DBPath, "DB_PATH")
	setString(&cfg.Host, "HOST")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogFormat, "LOG_FORMAT")
	setString(&cfg.AI.Provider, "AI_PROVIDER")
	setString(&cfg.AI.Model, "AI_MODEL")
	setString(&cfg.AI.APIKey, "AI_API_KEY")
	setString(&cfg.AI.BaseURL, "AI_BASE_URL")

	if v, ok := lookup("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return envError("PORT", err)
		}
		cfg.Port = port
	}
	if v, ok := lookup("LOG_RETENTION_DAYS"); ok {
		days, err := strconv.Atoi(v)
		if err != nil {
			return envError("LOG_RETENTION_DAYS", err)
		}
		cfg.LogRetentionDays = days
	}
	if v, ok := lookup("AUTO_FETCH"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return envError("AUTO_FETCH", err)
		}
		cfg.AutoFetchRates = b
	}
	if v, ok := lookup("HTTP_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return envError("HTTP_TIMEOUT", err)
		}
		cfg.HTTPTimeout = d
	}
	if v, ok := lookup("FETCH_CACHE_TTL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return envError("FETCH_CACHE_TTL", err)
		}
		cfg.FetchCacheTTL = d
	}
	if v, ok := lookup("FETCH_RPS"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return envError("FETCH_RPS", err)
		}
		cfg.FetchRatePerSecond = f
	}
	if v, ok := lookup("FETCH_BURST"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return envError("FETCH_BURST", err)
		}
		cfg.FetchBurst = n
	}
	if v, ok := lookup("API_RATE_LIMIT"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return envError("API_RATE_LIMIT", err)
		}
		cfg.APIRateLimit = f
	}
	return nil
}

func applyOverrides(cfg *Config, o Overrides) {
	if o.DataDir != "" {
		cfg.DataDir = o.DataDir
	}
	if o.DBPath != "" {
		cfg.DBPath = o.DBPath
	}
	if o.Host != "" {
		cfg.Host = o.Host
	}
	if o.Port > 0 {
		cfg.Port = o.Port
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	if o.AutoFetchRates != nil {
		cfg.AutoFetchRates = *o.AutoFetchRates
	}
}

func mergeAI(dst *AIConfig, src AIConfig) {
	if src.Provider != "" {
		dst.Provider = src.Provider
	}
	if src.Model != "" {
		dst.Model = src.Model
	}
	if src.APIKey != "" {
		dst.APIKey = src.APIKey
	}
	if src.BaseURL != "" {
		dst.BaseURL = src.BaseURL
	}
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + name)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func setString(dst *string, name string) {
	if v, ok := lookup(name); ok {
		*dst = v
	}
}

func envError(name string, err error) error {
	return fmt.Errorf("invalid %s%s: %w", envPrefix, name, err)
}

func userHomeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return home, nil
}

func appConfigDir() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		home, err := userHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", appName), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, err := userHomeDir()
			if err != nil {
				return "", err
			}
			appData = home
		}
		return filepath.Join(appData, appName), nil
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		home, err := userHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".config", appDirName), nil
	}
	return filepath.Join(configDir, appDirName), nil
}

// UserConfigPath returns the per-user config.json location.
func UserConfigPath() (string, error) {
	dir, err := appConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// LoadUserConfig reads the JSON user config at path, or at UserConfigPath when path is empty.
// A missing file yields an empty UserConfig.
func LoadUserConfig(path string) (UserConfig, error) {
	var cfg UserConfig
	if path == "" {
		p, err := UserConfigPath()
		if err != nil {
			return cfg, nil
		}
		path = p
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read user config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return UserConfig{}, fmt.Errorf("parse user config %s: %w", path, err)
	}
	return cfg, nil
}

// SaveUserConfig writes cfg as JSON to path, or to UserConfigPath when path is empty.
func SaveUserConfig(path string, cfg UserConfig) error {
	if path == "" {
		p, err := UserConfigPath()
		if err != nil {
			return err
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	// The file may carry an API key.
	return os.WriteFile(path, data, 0o600)
}
