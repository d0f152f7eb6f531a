package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBackendURL        = "http://localhost:8000"
	DefaultJudgeURL          = "http://localhost:2358"
	DefaultStateFile         = "assess_state.json"
	DefaultTimeout           = 10 * time.Second
	DefaultSubmitTimeout     = 90 * time.Second
	DefaultJudgeTimeout      = 30 * time.Second
	DefaultJudgePollInterval = time.Second
	DefaultJudgeMaxAttempts  = 10
	DefaultLanguageID        = 71
	DefaultLogLevel          = "warn"
)

// Config holds terminal client configuration.
type Config struct {
	LinkID            string        `yaml:"linkID"`
	BackendURL        string        `yaml:"backendURL"`
	JudgeURL          string        `yaml:"judgeURL"`
	StateFile         string        `yaml:"stateFile"`
	Timeout           time.Duration `yaml:"timeout"`
	SubmitTimeout     time.Duration `yaml:"submitTimeout"`
	JudgeTimeout      time.Duration `yaml:"judgeTimeout"`
	JudgePollInterval time.Duration `yaml:"judgePollInterval"`
	JudgeMaxAttempts  int           `yaml:"judgeMaxAttempts"`
	DefaultLanguageID int           `yaml:"defaultLanguageID"`
	ViolationLimit    int           `yaml:"violationLimit"`
	LogLevel          string        `yaml:"logLevel"`
	// AssumeYes skips the interactive submit confirmation.
	AssumeYes bool `yaml:"assumeYes"`
}

// Load reads the YAML file at path. An empty path or a missing file yields
// the defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config file failed: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config file failed: %w", err)
			}
		}
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.BackendURL == "" {
		cfg.BackendURL = DefaultBackendURL
	}
	cfg.BackendURL = strings.TrimRight(cfg.BackendURL, "/")
	if cfg.JudgeURL == "" {
		cfg.JudgeURL = DefaultJudgeURL
	}
	cfg.JudgeURL = strings.TrimRight(cfg.JudgeURL, "/")
	if cfg.StateFile == "" {
		cfg.StateFile = DefaultStateFile
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = DefaultSubmitTimeout
	}
	if cfg.JudgeTimeout <= 0 {
		cfg.JudgeTimeout = DefaultJudgeTimeout
	}
	if cfg.JudgePollInterval <= 0 {
		cfg.JudgePollInterval = DefaultJudgePollInterval
	}
	if cfg.JudgeMaxAttempts <= 0 {
		cfg.JudgeMaxAttempts = DefaultJudgeMaxAttempts
	}
	if cfg.DefaultLanguageID <= 0 {
		cfg.DefaultLanguageID = DefaultLanguageID
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
}
