package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"balance_reconciler/internal/domain/entity"
)

// Session store kinds.
const (
	SessionStoreMemory = "memory"
	SessionStoreSQLite = "sqlite"
)

// DefaultSessionRecordKey is the fixed key the session record is persisted under.
const DefaultSessionRecordKey = "shielded_wallet_session"

// Config holds the overall configuration for the application.
type Config struct {
	Server               ServerConfig               `yaml:"server"`
	Logging              LoggingConfig              `yaml:"logging"`
	Engine               EngineConfig               `yaml:"engine"`
	Networks             []entity.NetworkDefinition `yaml:"networks"`
	ProviderRegistration ProviderRegistrationConfig `yaml:"providerRegistration"`
	Watchdog             WatchdogConfig             `yaml:"watchdog"`
	Session              SessionConfig              `yaml:"session"`
}

// ServerConfig holds the server-specific configuration.
type ServerConfig struct {
	Port         string   `yaml:"port"`
	ReadTimeout  int      `yaml:"readTimeout"`
	WriteTimeout int      `yaml:"writeTimeout"`
	IdleTimeout  int      `yaml:"idleTimeout"`
	AllowOrigins []string `yaml:"allowOrigins"`
}

// LoggingConfig holds the configuration for logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	File  string `yaml:"file"`
}

// EngineConfig describes how to reach the wallet engine sidecar.
type EngineConfig struct {
	BridgeURL            string `yaml:"bridgeURL"`
	RequestTimeoutMillis int64  `yaml:"requestTimeoutMillis"`
	RateLimit            int    `yaml:"rateLimit"`
	BurstLimit           int    `yaml:"burstLimit"`
	WalletSource         string `yaml:"walletSource"`
	StartAttempts        int    `yaml:"startAttempts"`
	StartRetryDelayMs    int64  `yaml:"startRetryDelayMs"`
}

// ProviderRegistrationConfig bounds the register/verify loop per network.
type ProviderRegistrationConfig struct {
	MaxAttempts    int   `yaml:"maxAttempts"`
	RetryDelayMs   int64 `yaml:"retryDelayMs"`
	ProbeTimeoutMs int64 `yaml:"probeTimeoutMs"`
}

// WatchdogConfig holds the scan watchdog budget and how scan progress numbers are read.
type WatchdogConfig struct {
	BudgetSeconds int `yaml:"budgetSeconds"`
	// ProgressScale is "auto", "ratio" or "percent".
	ProgressScale string `yaml:"progressScale"`
}

// SessionConfig selects where the session record lives.
type SessionConfig struct {
	Store      string `yaml:"store"`
	SQLitePath string `yaml:"sqlitePath"`
	RecordKey  string `yaml:"recordKey"`
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	logrus.Infof("Loading configuration from path: %s", path)
	data, err := os.ReadFile(path)
	if err != nil {
		logrus.Errorf("Failed to read config file %s: %v", path, err)
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		logrus.Errorf("Failed to unmarshal config data from %s: %v", path, err)
		return nil, fmt.Errorf("failed to unmarshal config data from %s: %w", path, err)
	}

	logrus.Info("Configuration loaded successfully.")
	return cfg, nil
}

// Parse decodes YAML bytes and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() error {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
		logrus.Infof("Server.Port not set, defaulting to %s", cfg.Server.Port)
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	if cfg.Engine.RequestTimeoutMillis == 0 {
		cfg.Engine.RequestTimeoutMillis = 30000
		logrus.Infof("Engine.RequestTimeoutMillis not set, defaulting to %d ms", cfg.Engine.RequestTimeoutMillis)
	}
	if cfg.Engine.RateLimit == 0 {
		cfg.Engine.RateLimit = 20
	}
	if cfg.Engine.BurstLimit == 0 {
		cfg.Engine.BurstLimit = cfg.Engine.RateLimit
	}
	if cfg.Engine.StartAttempts == 0 {
		cfg.Engine.StartAttempts = 3
		logrus.Infof("Engine.StartAttempts not set, defaulting to %d", cfg.Engine.StartAttempts)
	}
	if cfg.Engine.StartRetryDelayMs == 0 {
		cfg.Engine.StartRetryDelayMs = 1000
	}

	if cfg.ProviderRegistration.MaxAttempts == 0 {
		cfg.ProviderRegistration.MaxAttempts = 3
		logrus.Infof("ProviderRegistration.MaxAttempts not set, defaulting to %d", cfg.ProviderRegistration.MaxAttempts)
	}
	if cfg.ProviderRegistration.RetryDelayMs == 0 {
		cfg.ProviderRegistration.RetryDelayMs = 1500
	}
	if cfg.ProviderRegistration.ProbeTimeoutMs == 0 {
		cfg.ProviderRegistration.ProbeTimeoutMs = 5000
	}

	if cfg.Watchdog.BudgetSeconds == 0 {
		cfg.Watchdog.BudgetSeconds = 120
		logrus.Infof("Watchdog.BudgetSeconds not set, defaulting to %d seconds", cfg.Watchdog.BudgetSeconds)
	}
	cfg.Watchdog.ProgressScale = strings.ToLower(strings.TrimSpace(cfg.Watchdog.ProgressScale))
	switch cfg.Watchdog.ProgressScale {
	case "":
		cfg.Watchdog.ProgressScale = "auto"
	case "auto", "ratio", "percent":
	default:
		return fmt.Errorf("unknown watchdog progress scale %q", cfg.Watchdog.ProgressScale)
	}

	cfg.Session.Store = strings.ToLower(strings.TrimSpace(cfg.Session.Store))
	switch cfg.Session.Store {
	case "":
		cfg.Session.Store = SessionStoreMemory
	case SessionStoreMemory:
	case SessionStoreSQLite:
		if cfg.Session.SQLitePath == "" {
			cfg.Session.SQLitePath = "data/session.db"
			logrus.Infof("Session.SQLitePath not set, defaulting to %s", cfg.Session.SQLitePath)
		}
	default:
		return fmt.Errorf("unknown session store %q", cfg.Session.Store)
	}
	if cfg.Session.RecordKey == "" {
		cfg.Session.RecordKey = DefaultSessionRecordKey
	}

	seen := make(map[string]struct{}, len(cfg.Networks))
	for i, network := range cfg.Networks {
		name := strings.TrimSpace(network.Name)
		if name == "" {
			return fmt.Errorf("network #%d has no name", i)
		}
		if _, dup := seen[strings.ToLower(name)]; dup {
			return fmt.Errorf("network %q is configured twice", name)
		}
		seen[strings.ToLower(name)] = struct{}{}
		cfg.Networks[i].Name = name
		if network.RPCURL == "" {
			logrus.Warnf("Network '%s' (ChainID: %d) has no rpcURL; provider registration for it will fail.", name, network.ChainID)
		}
		if network.PollingIntervalMs == 0 {
			cfg.Networks[i].PollingIntervalMs = 15000
		}
	}
	return nil
}
