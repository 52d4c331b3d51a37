package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config defines the application configuration structure
type Config struct {
	LogLevel string         `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
	Store    StoreConfig    `mapstructure:"store"`
	NSE      NSEConfig      `mapstructure:"nse"`
	Schema   SchemaConfig   `mapstructure:"schema"`
	History  HistoryConfig  `mapstructure:"history"`
	Scan     ScanConfig     `mapstructure:"scan"`
	GenAI    GenAIConfig    `mapstructure:"genai"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Recorder RecorderConfig `mapstructure:"recorder"`
	Cache    CacheConfig    `mapstructure:"cache"`
}

// StoreConfig defines where the snapshot and history artifacts live
type StoreConfig struct {
	Backend         string `mapstructure:"backend" validate:"oneof=local drive"`
	LocalDir        string `mapstructure:"local_dir" validate:"required_if=Backend local"`
	DriveFolderID   string `mapstructure:"drive_folder_id" validate:"required_if=Backend drive"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`
	SnapshotName    string `mapstructure:"snapshot_name" validate:"required"`
	HistoryName     string `mapstructure:"history_name" validate:"required"`
}

// NSEConfig defines the exchange archive download configuration
type NSEConfig struct {
	BaseURL      string `mapstructure:"base_url" validate:"required,url"`
	LookbackDays int    `mapstructure:"lookback_days" validate:"min=1"`
	RequestDelay int    `mapstructure:"request_delay" validate:"min=0"`
	MaxRetries   int    `mapstructure:"max_retries" validate:"min=0"`
	Timeout      int    `mapstructure:"timeout" validate:"min=1"`
	UserAgent    string `mapstructure:"user_agent"`
}

// SchemaConfig defines header resolution and row filtering
type SchemaConfig struct {
	CandidatesFile string   `mapstructure:"candidates_file"`
	Series         []string `mapstructure:"series"`
}

// HistoryConfig defines history aggregation settings
type HistoryConfig struct {
	Window     int    `mapstructure:"window" validate:"min=1"`
	ParquetDir string `mapstructure:"parquet_dir"`
}

// ScanConfig defines the delivery percent buckets
type ScanConfig struct {
	StrongMin       float64 `mapstructure:"strong_min" validate:"gte=0,lte=100"`
	StrongMax       float64 `mapstructure:"strong_max" validate:"gtefield=StrongMin,lte=100"`
	AccumulationMin float64 `mapstructure:"accumulation_min" validate:"gte=0,ltefield=StrongMin"`
	WeakMax         float64 `mapstructure:"weak_max" validate:"gte=0,ltefield=AccumulationMin"`
}

// GenAIConfig defines the commentary generator
type GenAIConfig struct {
	APIKey  string   `mapstructure:"api_key"`
	BaseURL string   `mapstructure:"base_url" validate:"required,url"`
	Models  []string `mapstructure:"models" validate:"min=1"`
	Timeout int      `mapstructure:"timeout" validate:"min=1"`
}

// ScheduleConfig defines the cron-driven ingest
type ScheduleConfig struct {
	Cron     string `mapstructure:"cron" validate:"required"`
	Timezone string `mapstructure:"timezone" validate:"required"`
}

// RecorderConfig defines the run log
type RecorderConfig struct {
	SQLitePath string `mapstructure:"sqlite_path"`
}

// CacheConfig defines read caching of stored artifacts
type CacheConfig struct {
	TTL int `mapstructure:"ttl" validate:"min=0"`
}

// LoadConfig loads configuration from file and overrides with environment variables
func LoadConfig(path string) (Config, error) {
	// .env is optional; real environment variables win over it
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("STOCKDASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Names used by the deployed jobs are accepted alongside the prefixed ones
	bindings := map[string][]string{
		"log_level":              {"STOCKDASH_LOG_LEVEL", "LOG_LEVEL"},
		"store.backend":          {"STOCKDASH_STORE_BACKEND"},
		"store.local_dir":        {"STOCKDASH_STORE_LOCAL_DIR"},
		"store.drive_folder_id":  {"STOCKDASH_DRIVE_FOLDER_ID", "DRIVE_FOLDER_ID"},
		"store.credentials_file": {"STOCKDASH_CREDENTIALS_FILE", "GOOGLE_APPLICATION_CREDENTIALS"},
		"store.credentials_json": {"STOCKDASH_CREDENTIALS_JSON", "GCP_SERVICE_ACCOUNT"},
		"store.snapshot_name":    {"STOCKDASH_SNAPSHOT_NAME"},
		"store.history_name":     {"STOCKDASH_HISTORY_NAME"},
		"nse.base_url":           {"STOCKDASH_NSE_BASE_URL"},
		"nse.lookback_days":      {"STOCKDASH_NSE_LOOKBACK_DAYS"},
		"nse.request_delay":      {"STOCKDASH_NSE_REQUEST_DELAY"},
		"nse.max_retries":        {"STOCKDASH_NSE_MAX_RETRIES"},
		"nse.timeout":            {"STOCKDASH_NSE_TIMEOUT"},
		"schema.candidates_file": {"STOCKDASH_CANDIDATES_FILE"},
		"history.window":         {"STOCKDASH_HISTORY_WINDOW"},
		"history.parquet_dir":    {"STOCKDASH_PARQUET_DIR"},
		"genai.api_key":          {"STOCKDASH_GENAI_API_KEY", "GEMINI_API_KEY"},
		"genai.base_url":         {"STOCKDASH_GENAI_BASE_URL"},
		"schedule.cron":          {"STOCKDASH_SCHEDULE_CRON"},
		"schedule.timezone":      {"STOCKDASH_SCHEDULE_TIMEZONE"},
		"recorder.sqlite_path":   {"STOCKDASH_SQLITE_PATH"},
		"cache.ttl":              {"STOCKDASH_CACHE_TTL"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return Config{}, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	configFileFound := false
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			slog.Debug("config file not found, using environment", "path", path)
		} else {
			return Config{}, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	} else {
		configFileFound = true
	}

	// Environment takes precedence over the file
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("error unmarshaling config: %w", err)
	}

	applyDefaults(&config)

	slog.Debug("configuration loaded", "file", configFileFound, "backend", config.Store.Backend)
	return config, nil
}

// Validate checks the configuration after flags have been applied
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// applyDefaults sets default values for any config values not set from file or environment
func applyDefaults(config *Config) {
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}

	// Store defaults
	if config.Store.Backend == "" {
		if config.Store.DriveFolderID != "" {
			config.Store.Backend = "drive"
		} else {
			config.Store.Backend = "local"
		}
	}
	if config.Store.LocalDir == "" {
		config.Store.LocalDir = "./data"
	}
	if config.Store.SnapshotName == "" {
		config.Store.SnapshotName = "latest_nse_data.csv"
	}
	if config.Store.HistoryName == "" {
		config.Store.HistoryName = "nse_history_data.csv"
	}

	// NSE defaults
	if config.NSE.BaseURL == "" {
		config.NSE.BaseURL = "https://nsearchives.nseindia.com/products/content"
	}
	if config.NSE.LookbackDays == 0 {
		config.NSE.LookbackDays = 5
	}
	if config.NSE.RequestDelay == 0 {
		config.NSE.RequestDelay = 1000
	}
	if config.NSE.MaxRetries == 0 {
		config.NSE.MaxRetries = 3
	}
	if config.NSE.Timeout == 0 {
		config.NSE.Timeout = 30
	}
	if config.NSE.UserAgent == "" {
		config.NSE.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	}

	// Schema defaults
	if len(config.Schema.Series) == 0 {
		config.Schema.Series = []string{"EQ"}
	}

	// History defaults
	if config.History.Window == 0 {
		config.History.Window = 20
	}
	if config.History.ParquetDir == "" {
		config.History.ParquetDir = "./parquet_data"
	}

	// Scan defaults
	if config.Scan.StrongMin == 0 {
		config.Scan.StrongMin = 80
	}
	if config.Scan.StrongMax == 0 {
		config.Scan.StrongMax = 100
	}
	if config.Scan.AccumulationMin == 0 {
		config.Scan.AccumulationMin = 60
	}
	if config.Scan.WeakMax == 0 {
		config.Scan.WeakMax = 40
	}

	// GenAI defaults
	if config.GenAI.BaseURL == "" {
		config.GenAI.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if len(config.GenAI.Models) == 0 {
		config.GenAI.Models = []string{"models/gemini-1.5-flash", "models/gemini-1.5-pro", "models/gemini-pro"}
	}
	if config.GenAI.Timeout == 0 {
		config.GenAI.Timeout = 60
	}

	// Schedule defaults
	if config.Schedule.Cron == "" {
		config.Schedule.Cron = "0 30 18 * * 1-5"
	}
	if config.Schedule.Timezone == "" {
		config.Schedule.Timezone = "Asia/Kolkata"
	}

	// Cache defaults
	if config.Cache.TTL == 0 {
		config.Cache.TTL = 3600
	}
}
