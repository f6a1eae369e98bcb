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

package manager

import (
	"errors"
	"time"
)

// Config holds the storage manager settings.
type Config struct {
	// Primary is the name of the adapter tried first at Initialize.
	// Default: "badger"
	Primary string

	// Fallbacks are tried in order when the primary cannot be used.
	// Default: ["memory"]
	Fallbacks []string

	// MaxRetries is the number of extra attempts made for a retryable
	// failure of Save, Load or Delete.
	// Default: 3
	MaxRetries int

	// RetryDelay is the base wait before a retry. Retry n waits RetryDelay*n.
	// Default: 1s
	RetryDelay time.Duration

	// AutoSaveInterval is how often the auto-save queue drains one item.
	// Zero disables the background timer; Flush still works.
	// Default: 30s
	AutoSaveInterval time.Duration

	// QueueMaxRetries is how many times a queued save is re-enqueued after a
	// retryable failure. Each attempt runs the full Save retry loop, so a
	// queued save makes at most (MaxRetries+1)*(QueueMaxRetries+1) attempts.
	// A negative value follows MaxRetries.
	// Default: FollowMaxRetries
	QueueMaxRetries int
}

// FollowMaxRetries makes QueueMaxRetries use the MaxRetries value.
const FollowMaxRetries = -1

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithPrimary sets the primary backend name.
func WithPrimary(name string) ConfigOption {
	return func(c *Config) {
		c.Primary = name
	}
}

// WithFallbacks sets the ordered fallback backend names.
func WithFallbacks(names ...string) ConfigOption {
	return func(c *Config) {
		c.Fallbacks = names
	}
}

// WithMaxRetries sets the number of extra attempts per operation.
func WithMaxRetries(n int) ConfigOption {
	return func(c *Config) {
		c.MaxRetries = n
	}
}

// WithRetryDelay sets the linear backoff base delay.
func WithRetryDelay(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.RetryDelay = d
	}
}

// WithAutoSaveInterval sets the auto-save drain interval.
func WithAutoSaveInterval(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.AutoSaveInterval = d
	}
}

// WithQueueMaxRetries sets how often a failed queued save is re-enqueued.
// FollowMaxRetries restores the default of following MaxRetries.
func WithQueueMaxRetries(n int) ConfigOption {
	return func(c *Config) {
		c.QueueMaxRetries = n
	}
}

// DefaultConfig returns a Config that prefers the on-disk store and falls
// back to memory.
func DefaultConfig() *Config {
	return &Config{
		Primary:          "badger",
		Fallbacks:        []string{"memory"},
		MaxRetries:       3,
		RetryDelay:       time.Second,
		AutoSaveInterval: 30 * time.Second,
		QueueMaxRetries:  FollowMaxRetries,
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	cfg.QueueMaxRetries = cfg.QueueRetries()
	return cfg
}

// QueueRetries returns QueueMaxRetries, or MaxRetries when it is unset.
func (c *Config) QueueRetries() int {
	if c.QueueMaxRetries < 0 {
		return c.MaxRetries
	}
	return c.QueueMaxRetries
}

// Candidates returns the primary followed by the fallbacks, without duplicates.
func (c *Config) Candidates() []string {
	seen := make(map[string]bool, len(c.Fallbacks)+1)
	names := make([]string, 0, len(c.Fallbacks)+1)
	for _, name := range append([]string{c.Primary}, c.Fallbacks...) {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Primary == "" {
		return errors.New("manager config: Primary is required")
	}
	if c.MaxRetries < 0 {
		return errors.New("manager config: MaxRetries cannot be negative")
	}
	if c.RetryDelay < 0 {
		return errors.New("manager config: RetryDelay cannot be negative")
	}
	if c.AutoSaveInterval < 0 {
		return errors.New("manager config: AutoSaveInterval cannot be negative")
	}
	if c.QueueMaxRetries < FollowMaxRetries {
		return errors.New("manager config: QueueMaxRetries cannot be below FollowMaxRetries")
	}
	return nil
}
