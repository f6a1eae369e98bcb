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

// Package threaddocs wires document storage, thread linking and legacy
// migration into one System.
//
// A System is an explicit value: create one with NewSystem, pass it to
// whatever needs storage, and call Shutdown when done. Tests create as
// many independent systems as they like.
package threaddocs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/poiesic/threaddocs/manager"
	"github.com/poiesic/threaddocs/migrate"
	"github.com/poiesic/threaddocs/storage"
	"github.com/poiesic/threaddocs/storage/badger"
	"github.com/poiesic/threaddocs/storage/memory"
	"github.com/poiesic/threaddocs/thread"
)

// System owns the storage manager and the thread service built on it.
type System struct {
	cfg     *Config
	manager *manager.Manager
	threads *thread.Service
	logger  *slog.Logger
}

// SystemOption configures a System.
type SystemOption func(*systemOptions)

type systemOptions struct {
	logger   *slog.Logger
	adapters []storage.Adapter
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) SystemOption {
	return func(o *systemOptions) {
		o.logger = logger
	}
}

// WithAdapters registers additional adapters with the manager, so that
// config can name them as primary or fallback.
func WithAdapters(adapters ...storage.Adapter) SystemOption {
	return func(o *systemOptions) {
		o.adapters = append(o.adapters, adapters...)
	}
}

// NewSystem builds and initializes a System. A nil cfg uses DefaultConfig.
// It fails when no storage backend can be opened.
func NewSystem(ctx context.Context, cfg *Config, opts ...SystemOption) (*System, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := &systemOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}
	logger := options.logger
	if logger == nil {
		logger = slog.Default()
	}

	adapters := []storage.Adapter{
		badger.New(cfg.Storage.Path,
			badger.WithInMemory(cfg.Storage.InMemory),
			badger.WithQuota(cfg.Storage.QuotaBytes),
			badger.WithLogger(logger.With("component", "storage", "backend", badger.Name))),
		memory.New(
			memory.WithQuota(cfg.Storage.QuotaBytes),
			memory.WithLogger(logger.With("component", "storage", "backend", memory.Name))),
	}
	adapters = append(adapters, options.adapters...)

	mgr, err := manager.New(cfg.ManagerConfig(), adapters,
		manager.WithLogger(logger.With("component", "manager")))
	if err != nil {
		return nil, err
	}
	if err := mgr.Initialize(ctx); err != nil {
		return nil, errors.Join(err, mgr.Shutdown(ctx))
	}

	threads := thread.NewService(mgr,
		thread.WithLogger(logger.With("component", "thread")),
		thread.WithDefaultType(cfg.Thread.DefaultType))
	if err := threads.Initialize(ctx); err != nil {
		return nil, errors.Join(err, mgr.Shutdown(ctx))
	}

	return &System{
		cfg:     cfg,
		manager: mgr,
		threads: threads,
		logger:  logger,
	}, nil
}

// Config returns the configuration the system was built with.
func (s *System) Config() *Config {
	return s.cfg
}

// Manager returns the storage manager.
func (s *System) Manager() *manager.Manager {
	return s.manager
}

// Threads returns the thread-document service.
func (s *System) Threads() *thread.Service {
	return s.threads
}

// Migrate imports legacy records into the active backend.
func (s *System) Migrate(ctx context.Context, legacy migrate.LegacyStore, opts migrate.Options) (*migrate.Result, error) {
	if opts.Logger == nil {
		opts.Logger = s.logger
	}
	if opts.DefaultType == "" {
		opts.DefaultType = s.cfg.Thread.DefaultType
	}
	return migrate.Run(ctx, s.manager, legacy, opts)
}

// Shutdown flushes pending saves and closes every adapter.
func (s *System) Shutdown(ctx context.Context) error {
	if err := s.manager.Shutdown(ctx); err != nil {
		s.logger.Error("error shutting down storage", "err", err)
		return err
	}
	return nil
}
