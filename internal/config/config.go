package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"coopcredit/internal/domain"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds server-level config
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name"`
	CollectorURL string `yaml:"collector_url"`
}

// StorageConfig selects the repository backend.
type StorageConfig struct {
	Driver       string `yaml:"driver"`
	DatabaseURL  string `yaml:"database_url"`
	SnapshotPath string `yaml:"snapshot_path"`
}

// Redis connection config
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	StatsTTL time.Duration `yaml:"stats_ttl"`
}

// LendingConfig seeds the settings store at startup.
type LendingConfig struct {
	ShareValue          string `yaml:"share_value"`
	IndividualLimit     string `yaml:"individual_limit"`
	GuaranteePercentage string `yaml:"guarantee_percentage"`
	OperationDay        string `yaml:"operation_day"`
	DelinquencyRate     string `yaml:"delinquency_rate"`
	HighRate            string `yaml:"high_rate"`
	MediumRate          string `yaml:"medium_rate"`
	LowRate             string `yaml:"low_rate"`
}

// AppConfig is the main config struct that holds all configs
type AppConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LogConfig       `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Lending   LendingConfig   `yaml:"lending"`
}

func assignDefaultConfigValues(cfg *AppConfig) *AppConfig {
	// server
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	cfg.Server.Port = GetEnvOrDefaultAsInt("SERVER_PORT", cfg.Server.Port)
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	cfg.Logging.Level = GetEnvOrDefaultAsString("LOG_LEVEL", defaultString(cfg.Logging.Level, "info"))

	cfg.Telemetry.ServiceName = GetEnvOrDefaultAsString("SERVICE_NAME", defaultString(cfg.Telemetry.ServiceName, "coopcredit-lending"))
	cfg.Telemetry.CollectorURL = GetEnvOrDefaultAsString("OTEL_COLLECTOR_URL", cfg.Telemetry.CollectorURL)

	cfg.Storage.Driver = strings.ToLower(GetEnvOrDefaultAsString("STORAGE_DRIVER", defaultString(cfg.Storage.Driver, "memory")))
	cfg.Storage.DatabaseURL = GetEnvOrDefaultAsString("DATABASE_URL", cfg.Storage.DatabaseURL)
	cfg.Storage.SnapshotPath = GetEnvOrDefaultAsString("SNAPSHOT_PATH", cfg.Storage.SnapshotPath)

	cfg.Redis.Enabled = GetEnvOrDefaultAsInt("REDIS_ENABLED", boolToInt(cfg.Redis.Enabled)) == 1
	cfg.Redis.Addr = GetEnvOrDefaultAsString("REDIS_ADDR", defaultString(cfg.Redis.Addr, "localhost:6379"))
	cfg.Redis.Password = GetEnvOrDefaultAsString("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = GetEnvOrDefaultAsInt("REDIS_DB", cfg.Redis.DB)
	if cfg.Redis.StatsTTL == 0 {
		cfg.Redis.StatsTTL = time.Minute
	}

	return cfg
}

func validateConfig(cfg *AppConfig) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	switch cfg.Storage.Driver {
	case "memory":
	case "postgres":
		if cfg.Storage.DatabaseURL == "" {
			return errors.New("storage.database_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver must be memory or postgres, got %q", cfg.Storage.Driver)
	}

	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return errors.New("redis.addr is required when redis is enabled")
	}
	if cfg.Redis.StatsTTL < time.Second {
		return fmt.Errorf("redis.stats_ttl must be at least 1s, got %v", cfg.Redis.StatsTTL)
	}

	if _, err := cfg.Lending.Settings(); err != nil {
		return err
	}
	return nil
}

// Settings overlays the configured lending values on the factory defaults.
func (l LendingConfig) Settings() (domain.Settings, error) {
	s := domain.DefaultSettings()
	tiers := *s.InterestRates

	fields := []struct {
		name  string
		value string
		dst   *decimal.Decimal
	}{
		{"lending.share_value", l.ShareValue, &s.ShareValue},
		{"lending.individual_limit", l.IndividualLimit, &s.LoanLimits.Individual},
		{"lending.guarantee_percentage", l.GuaranteePercentage, &s.LoanLimits.GuaranteePercentage},
		{"lending.delinquency_rate", l.DelinquencyRate, &s.DelinquencyRate},
		{"lending.high_rate", l.HighRate, &tiers.High},
		{"lending.medium_rate", l.MediumRate, &tiers.Medium},
		{"lending.low_rate", l.LowRate, &tiers.Low},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			continue
		}
		d, err := decimal.NewFromString(strings.TrimSpace(f.value))
		if err != nil {
			return domain.Settings{}, fmt.Errorf("%s must be a decimal, got %q", f.name, f.value)
		}
		*f.dst = d
	}
	s.InterestRates = &tiers

	if l.OperationDay != "" {
		day, ok := domain.ParseWeekday(l.OperationDay)
		if !ok {
			return domain.Settings{}, fmt.Errorf("lending.operation_day is not a weekday: %q", l.OperationDay)
		}
		s.OperationDay = day
	}
	return s, nil
}

// LoadFromConfigFilePath loads and parses the config file into AppConfig. A
// missing file yields the defaults.
func LoadFromConfigFilePath(configPath string) (*AppConfig, error) {
	var cfg AppConfig

	// #nosec G304: the path comes from the operator
	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	defaultCfg := assignDefaultConfigValues(&cfg)
	if err := validateConfig(defaultCfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return defaultCfg, nil
}

// LoadFromConfig loads a .env file if present, then the file named by CONFIG_PATH.
func LoadFromConfig() (*AppConfig, error) {
	_ = godotenv.Load()

	configPath := GetEnvOrDefaultAsString("CONFIG_PATH", "configs/config.yaml")
	cfg, err := LoadFromConfigFilePath(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}
	return cfg, nil
}

// GetEnvOrDefaultAsInt returns the value of the given env variable
// as an int or the default value if not set or invalid.
func GetEnvOrDefaultAsInt(key string, defaultValue int) int {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	value, err := strconv.Atoi(strings.TrimSpace(valueStr))
	if err != nil {
		return defaultValue
	}
	return value
}

func GetEnvOrDefaultAsString(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		if strings.TrimSpace(val) != "" {
			return val
		}
	}
	return defaultVal
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
