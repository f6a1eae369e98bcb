// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package threaddocs

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"time"

	"github.com/poiesic/threaddocs/core"
	"github.com/poiesic/threaddocs/manager"
	"gopkg.in/yaml.v3"
)

// Config is the complete, file-loadable configuration of a System.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Manager ManagerConfig `yaml:"manager"`
	Thread  ThreadConfig  `yaml:"thread"`
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig configures the adapters.
type StorageConfig struct {
	// Path is the badger database directory.
	Path string `yaml:"path"`

	// InMemory keeps the badger database in memory; Path is ignored.
	InMemory bool `yaml:"in_memory"`

	// QuotaBytes caps the estimated usage of each adapter. Zero disables it.
	QuotaBytes int64 `yaml:"quota_bytes"`
}

// ManagerConfig mirrors manager.Config with YAML friendly durations.
type ManagerConfig struct {
	Primary         string   `yaml:"primary"`
	Fallbacks       []string `yaml:"fallbacks"`
	MaxRetries      int      `yaml:"max_retries"`
	// QueueMaxRetries of -1 follows MaxRetries.
	QueueMaxRetries int      `yaml:"queue_max_retries"`

	RetryDelay       time.Duration `yaml:"-"`
	AutoSaveInterval time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	RetryDelayRaw       string `yaml:"retry_delay"`
	AutoSaveIntervalRaw string `yaml:"auto_save_interval"`
}

// ThreadConfig configures the thread service.
type ThreadConfig struct {
	DefaultType core.DocumentType `yaml:"default_type"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	m := manager.DefaultConfig()
	return &Config{
		Storage: StorageConfig{
			Path: "threaddocs-data",
		},
		Manager: ManagerConfig{
			Primary:          m.Primary,
			Fallbacks:        m.Fallbacks,
			MaxRetries:       m.MaxRetries,
			QueueMaxRetries:  m.QueueMaxRetries,
			RetryDelay:       m.RetryDelay,
			AutoSaveInterval: m.AutoSaveInterval,
		},
		Thread: ThreadConfig{
			DefaultType: core.DocumentTypeRichText,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads a YAML file over DefaultConfig. Keys missing from the
// file keep their defaults. ${VAR} references are expanded from the
// environment before parsing.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.parseDurations(); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the environment value, or "" when unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) parseDurations() error {
	var err error
	if c.Manager.RetryDelayRaw != "" {
		c.Manager.RetryDelay, err = time.ParseDuration(c.Manager.RetryDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing retry_delay %q: %w", c.Manager.RetryDelayRaw, err)
		}
	}
	if c.Manager.AutoSaveIntervalRaw != "" {
		c.Manager.AutoSaveInterval, err = time.ParseDuration(c.Manager.AutoSaveIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing auto_save_interval %q: %w", c.Manager.AutoSaveIntervalRaw, err)
		}
	}
	return nil
}

// ManagerConfig converts the manager section to a manager.Config.
func (c *Config) ManagerConfig() *manager.Config {
	return manager.NewConfig(
		manager.WithPrimary(c.Manager.Primary),
		manager.WithFallbacks(c.Manager.Fallbacks...),
		manager.WithMaxRetries(c.Manager.MaxRetries),
		manager.WithRetryDelay(c.Manager.RetryDelay),
		manager.WithAutoSaveInterval(c.Manager.AutoSaveInterval),
		manager.WithQueueMaxRetries(c.Manager.QueueMaxRetries),
	)
}

// SlogLevel parses Logging.Level. An empty level is Info.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if c.Logging.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", c.Logging.Level, err)
	}
	return level, nil
}

// Validate checks that the configuration can build a System.
func (c *Config) Validate() error {
	if c.Storage.Path == "" && !c.Storage.InMemory {
		return errors.New("storage.path is required unless storage.in_memory is set")
	}
	if c.Storage.QuotaBytes < 0 {
		return errors.New("storage.quota_bytes cannot be negative")
	}
	if c.Thread.DefaultType != "" && !c.Thread.DefaultType.Valid() {
		return fmt.Errorf("thread.default_type: %w: %q", core.ErrInvalidDocumentType, c.Thread.DefaultType)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return c.ManagerConfig().Validate()
}
