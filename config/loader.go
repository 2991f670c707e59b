package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader loads configuration with the precedence
// defaults -> env file -> YAML file -> environment variables.
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("mmagent.yaml").
//	    WithEnvFile(".env").
//	    Load()
type Loader struct {
	configPath string
	envFile    string
	envPrefix  string
}

// NewLoader creates a loader with the default env prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "MMAGENT"}
}

// WithConfigPath sets the YAML config file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvFile sets an env file whose entries are loaded into the process
// environment before overrides are applied (a missing file is ignored).
func (l *Loader) WithEnvFile(path string) *Loader {
	l.envFile = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load builds the configuration.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.envFile != "" {
		if err := LoadEnvFile(l.envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", l.envFile, err)
		}
	}

	if l.configPath != "" {
		data, err := os.ReadFile(l.configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", l.configPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", l.configPath, err)
		}
	}

	l.applyEnv(cfg)
	return cfg, nil
}

// applyEnv applies environment overrides. Per-role variables follow the
// pattern <PREFIX>_<ROLE>_API_KEY / _MODEL / _BASE_URL.
func (l *Loader) applyEnv(cfg *Config) {
	for _, role := range Roles {
		rc := cfg.Role(role)
		upper := strings.ToUpper(string(role))
		setString(l.key(upper+"_API_KEY"), &rc.APIKey)
		setString(l.key(upper+"_MODEL"), &rc.Model)
		setString(l.key(upper+"_BASE_URL"), &rc.BaseURL)
	}

	setString(l.key("SCHOLAR_EMAIL"), &cfg.Scholar.Email)
	setString(l.key("SCHOLAR_BASE_URL"), &cfg.Scholar.BaseURL)
	setString(l.key("REDIS_ADDR"), &cfg.Redis.Addr)
	setString(l.key("REDIS_PASSWORD"), &cfg.Redis.Password)
	setInt(l.key("REDIS_DB"), &cfg.Redis.DB)
	setString(l.key("OUTPUT_ROOT_DIR"), &cfg.Output.RootDir)
	setString(l.key("PYTHON_BIN"), &cfg.Sandbox.PythonBin)
	setDuration(l.key("SANDBOX_TIMEOUT"), &cfg.Sandbox.Timeout)
	setInt(l.key("MAX_RETRIES"), &cfg.Workflow.MaxRetries)
	setInt(l.key("MAX_CHAT_TURNS"), &cfg.Workflow.MaxChatTurns)
	setString(l.key("LOG_LEVEL"), &cfg.Log.Level)
}

func (l *Loader) key(suffix string) string {
	return l.envPrefix + "_" + suffix
}

func setString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(key string, dst *time.Duration) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
