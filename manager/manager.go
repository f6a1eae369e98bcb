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

// Package manager is the single entry point for document storage.
//
// A Manager owns a set of adapters, picks the active one at Initialize
// (primary first, then fallbacks in order), wraps Save, Load and Delete in a
// linear backoff retry loop and runs the auto-save queue.
//
// Errors returned by a Manager are *storage.StorageError values. Retries
// happen only when the adapter flagged the error retryable.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/threaddocs/core"
	"github.com/poiesic/threaddocs/storage"
)

// Manager selects a storage backend and mediates all access to it.
type Manager struct {
	cfg      *Config
	adapters map[string]storage.Adapter
	order    []string // registration order
	logger   *slog.Logger

	mu          sync.RWMutex
	active      storage.Adapter
	links       storage.LinkStore
	initialized bool

	queueMu sync.Mutex
	queue   []*queueItem

	drainMu sync.Mutex // held while a queue item is being saved
	pool    *ants.Pool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger == nil {
			logger = slog.Default()
		}
		m.logger = logger
	}
}

// New creates a Manager over the given adapters. Adapters are registered by
// Name and every name in cfg must be registered. A nil cfg uses DefaultConfig.
func New(cfg *Config, adapters []storage.Adapter, opts ...Option) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:      cfg,
		adapters: make(map[string]storage.Adapter, len(adapters)),
		logger:   slog.Default().With("component", "manager"),
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, a := range adapters {
		if a == nil {
			continue
		}
		name := a.Name()
		if _, ok := m.adapters[name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateBackend, name)
		}
		m.adapters[name] = a
		m.order = append(m.order, name)
	}
	for _, name := range cfg.Candidates() {
		if _, ok := m.adapters[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
		}
	}
	return m, nil
}

// Initialize selects the active backend and starts the auto-save timer.
// It fails with ErrNoBackendAvailable when no candidate can be opened.
// Calling it on an initialized manager is a no-op.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return nil
	}

	var failures []error
	for _, name := range m.cfg.Candidates() {
		adapter := m.adapters[name]
		if !adapter.IsAvailable(ctx) {
			m.logger.Warn("storage backend not available", "backend", name)
			failures = append(failures, fmt.Errorf("%s: not available", name))
			continue
		}
		if err := adapter.Initialize(ctx); err != nil {
			m.logger.Warn("storage backend failed to initialize", "backend", name, "error", err)
			failures = append(failures, fmt.Errorf("%s: %w", name, err))
			continue
		}
		m.active = adapter
		break
	}
	if m.active == nil {
		m.logger.Error("no storage backend available", "candidates", m.cfg.Candidates())
		return fmt.Errorf("%w: %w", ErrNoBackendAvailable, errors.Join(failures...))
	}

	pool, err := ants.NewPool(1, ants.WithNonblocking(true))
	if err != nil {
		m.active = nil
		return fmt.Errorf("failed to create auto-save pool: %w", err)
	}
	m.pool = pool
	m.links = storage.LinksFor(m.active)
	m.initialized = true

	if m.cfg.AutoSaveInterval > 0 {
		runCtx, cancel := context.WithCancel(context.Background())
		m.cancel = cancel
		m.done = make(chan struct{})
		go m.runAutoSave(runCtx, m.cfg.AutoSaveInterval, m.done)
	}

	if name := m.active.Name(); name != m.cfg.Primary {
		m.logger.Warn("using fallback storage backend", "backend", name, "primary", m.cfg.Primary)
	} else {
		m.logger.Info("storage backend selected", "backend", name)
	}
	return nil
}

// IsInitialized reports whether a backend is active.
func (m *Manager) IsInitialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// ActiveBackend returns the name of the active adapter, or "" before Initialize.
func (m *Manager) ActiveBackend() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil {
		return ""
	}
	return m.active.Name()
}

func notInitialized() *storage.StorageError {
	return storage.NewError(storage.CodeStorageUnavailable, false, "storage manager is not initialized", ErrNotInitialized)
}

func (m *Manager) adapter() (storage.Adapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.initialized {
		return nil, notInitialized()
	}
	return m.active, nil
}

func (m *Manager) linkStore() (storage.LinkStore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.initialized {
		return nil, notInitialized()
	}
	return m.links, nil
}

// Save persists doc on the active backend, retrying retryable failures.
func (m *Manager) Save(ctx context.Context, doc *core.Document) (*core.Document, error) {
	adapter, err := m.adapter()
	if err != nil {
		return nil, err
	}
	return executeWithRetry(ctx, m, "save", func() (*core.Document, error) {
		return adapter.Save(ctx, doc)
	})
}

// Load retrieves a document, retrying retryable failures.
func (m *Manager) Load(ctx context.Context, id string) (*core.Document, error) {
	adapter, err := m.adapter()
	if err != nil {
		return nil, err
	}
	return executeWithRetry(ctx, m, "load", func() (*core.Document, error) {
		return adapter.Load(ctx, id)
	})
}

// Delete removes a document, retrying retryable failures.
func (m *Manager) Delete(ctx context.Context, id string) error {
	adapter, err := m.adapter()
	if err != nil {
		return err
	}
	_, err = executeWithRetry(ctx, m, "delete", func() (struct{}, error) {
		return struct{}{}, adapter.Delete(ctx, id)
	})
	return err
}

// List returns documents matching filter.
func (m *Manager) List(ctx context.Context, filter core.ListFilter) ([]*core.Document, error) {
	adapter, err := m.adapter()
	if err != nil {
		return nil, err
	}
	docs, err := adapter.List(ctx, filter)
	return docs, classify(err, "list")
}

// Exists reports whether a document with id is stored.
func (m *Manager) Exists(ctx context.Context, id string) (bool, error) {
	adapter, err := m.adapter()
	if err != nil {
		return false, err
	}
	ok, err := adapter.Exists(ctx, id)
	return ok, classify(err, "exists")
}

// Stats reports usage of the active backend.
func (m *Manager) Stats(ctx context.Context) (*core.Stats, error) {
	adapter, err := m.adapter()
	if err != nil {
		return nil, err
	}
	stats, err := adapter.Stats(ctx)
	return stats, classify(err, "stats")
}

// Clear removes every record from the active backend.
func (m *Manager) Clear(ctx context.Context) error {
	adapter, err := m.adapter()
	if err != nil {
		return err
	}
	return classify(adapter.Clear(ctx), "clear")
}

// SaveLink persists a thread link, retrying retryable failures.
func (m *Manager) SaveLink(ctx context.Context, link core.ThreadDocumentLink) error {
	links, err := m.linkStore()
	if err != nil {
		return err
	}
	_, err = executeWithRetry(ctx, m, "save_link", func() (struct{}, error) {
		return struct{}{}, links.SaveLink(ctx, link)
	})
	return err
}

// DeleteLink removes the persisted link for threadID.
func (m *Manager) DeleteLink(ctx context.Context, threadID string) error {
	links, err := m.linkStore()
	if err != nil {
		return err
	}
	_, err = executeWithRetry(ctx, m, "delete_link", func() (struct{}, error) {
		return struct{}{}, links.DeleteLink(ctx, threadID)
	})
	return err
}

// ListLinks returns every persisted thread link.
func (m *Manager) ListLinks(ctx context.Context) ([]core.ThreadDocumentLink, error) {
	links, err := m.linkStore()
	if err != nil {
		return nil, err
	}
	return executeWithRetry(ctx, m, "list_links", func() ([]core.ThreadDocumentLink, error) {
		return links.ListLinks(ctx)
	})
}

// Shutdown stops the auto-save timer, flushes the queue and closes every
// registered adapter, not only the active one. The manager is left
// uninitialized. Errors from closing adapters are joined.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopAutoSave()

	var errs []error
	if m.IsInitialized() {
		if err := m.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pool != nil {
		m.pool.Release()
		m.pool = nil
	}
	for _, name := range m.order {
		if err := m.adapters[name].Close(); err != nil {
			m.logger.Error("failed to close storage backend", "backend", name, "error", err)
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	m.active = nil
	m.links = nil
	m.initialized = false
	m.logger.Info("storage manager shut down")
	return errors.Join(errs...)
}

func (m *Manager) stopAutoSave() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	return storage.Classify(err, op)
}
