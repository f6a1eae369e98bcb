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

// Package memory provides an in-memory storage adapter.
//
// It is the fallback backend when the local persistent store cannot be
// opened, and a convenient adapter for tests. Nothing survives Close.
package memory

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/poiesic/threaddocs/core"
	"github.com/poiesic/threaddocs/storage"
)

// Name is the backend name reported by the adapter.
const Name = "memory"

// Adapter implements storage.Adapter and storage.LinkStore in memory.
type Adapter struct {
	mu          sync.RWMutex
	docs        map[string]*core.Document
	meta        map[string]*core.DocumentMetadata
	sizes       map[string]int64
	links       map[string]core.ThreadDocumentLink
	usage       int64
	quota       int64
	initialized bool
	closed      bool
	logger      *slog.Logger
}

var (
	_ storage.Adapter   = (*Adapter)(nil)
	_ storage.LinkStore = (*Adapter)(nil)
)

// Option configures an Adapter.
type Option func(*Adapter)

// WithQuota limits the estimated bytes the adapter will hold.
// Zero or negative disables the quota.
func WithQuota(bytes int64) Option {
	return func(a *Adapter) {
		a.quota = bytes
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		if logger == nil {
			logger = slog.Default()
		}
		a.logger = logger
	}
}

// New creates an uninitialized in-memory adapter.
func New(opts ...Option) *Adapter {
	a := &Adapter{
		logger: slog.Default().With("component", "storage", "backend", Name),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.reset()
	return a
}

func (a *Adapter) reset() {
	a.docs = make(map[string]*core.Document)
	a.meta = make(map[string]*core.DocumentMetadata)
	a.sizes = make(map[string]int64)
	a.links = make(map[string]core.ThreadDocumentLink)
	a.usage = 0
}

// Name returns "memory".
func (a *Adapter) Name() string {
	return Name
}

// IsAvailable reports true until the adapter is closed.
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return !a.closed
}

// Initialize marks the adapter ready.
func (a *Adapter) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return storage.Unavailable(Name, "adapter is closed")
	}
	a.initialized = true
	return nil
}

// checkReady must be called with the lock held.
func (a *Adapter) checkReady(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return storage.Classify(err, op)
	}
	if a.closed {
		return storage.Unavailable(Name, "adapter is closed")
	}
	if !a.initialized {
		return storage.Unavailable(Name, "adapter is not initialized")
	}
	return nil
}

// Save stores a copy of doc.
func (a *Adapter) Save(ctx context.Context, doc *core.Document) (*core.Document, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkReady(ctx, "save"); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, storage.InvalidData(core.ErrInvalidDocument)
	}

	next, err := storage.PrepareSave(doc, a.meta[doc.Metadata.ID], time.Now().UTC())
	if err != nil {
		return nil, err
	}

	encoded, err := storage.MarshalDocument(next)
	if err != nil {
		return nil, err
	}
	id := next.Metadata.ID
	size := int64(len(encoded))
	projected := a.usage - a.sizes[id] + size
	if a.quota > 0 && projected > a.quota {
		return nil, storage.QuotaExceeded(projected, a.quota).With("id", id)
	}

	meta := next.Metadata.Clone()
	a.docs[id] = next
	a.meta[id] = &meta
	a.sizes[id] = size
	a.usage = projected
	return next.Clone(), nil
}

// Load returns a copy of the stored document.
func (a *Adapter) Load(ctx context.Context, id string) (*core.Document, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if err := a.checkReady(ctx, "load"); err != nil {
		return nil, err
	}
	doc, ok := a.docs[id]
	if !ok {
		return nil, storage.NotFound(id)
	}
	return doc.Clone(), nil
}

// Delete removes the document if present.
func (a *Adapter) Delete(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkReady(ctx, "delete"); err != nil {
		return err
	}
	a.usage -= a.sizes[id]
	delete(a.docs, id)
	delete(a.meta, id)
	delete(a.sizes, id)
	return nil
}

// List returns matching documents, most recently updated first.
func (a *Adapter) List(ctx context.Context, filter core.ListFilter) ([]*core.Document, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if err := a.checkReady(ctx, "list"); err != nil {
		return nil, err
	}

	var metas []*core.DocumentMetadata
	for _, m := range a.meta {
		if filter.Matches(m) {
			metas = append(metas, m)
		}
	}
	core.SortByUpdated(metas)
	metas = core.Paginate(metas, filter)

	results := make([]*core.Document, 0, len(metas))
	for _, m := range metas {
		if doc, ok := a.docs[m.ID]; ok {
			results = append(results, doc.Clone())
		}
	}
	return results, nil
}

// Exists reports whether a metadata record exists for id.
func (a *Adapter) Exists(ctx context.Context, id string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if err := a.checkReady(ctx, "exists"); err != nil {
		return false, err
	}
	_, ok := a.meta[id]
	return ok, nil
}

// Stats reports the document count and encoded byte usage.
func (a *Adapter) Stats(ctx context.Context) (*core.Stats, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if err := a.checkReady(ctx, "stats"); err != nil {
		return nil, err
	}
	stats := &core.Stats{
		Backend:        Name,
		DocumentCount:  len(a.meta),
		EstimatedBytes: a.usage,
	}
	stats.ApplyQuota(a.quota)
	return stats, nil
}

// Clear drops every document and link.
func (a *Adapter) Clear(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkReady(ctx, "clear"); err != nil {
		return err
	}
	a.logger.Warn("clearing all documents and links", "documents", len(a.docs), "links", len(a.links))
	a.reset()
	return nil
}

// Close discards all data. Later calls fail with STORAGE_UNAVAILABLE.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.initialized = false
	a.reset()
	return nil
}

// SaveLink upserts the link for its thread.
func (a *Adapter) SaveLink(ctx context.Context, link core.ThreadDocumentLink) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkReady(ctx, "save_link"); err != nil {
		return err
	}
	if err := core.ValidateLink(&link); err != nil {
		return storage.InvalidData(err)
	}
	a.links[link.ThreadID] = link
	return nil
}

// DeleteLink removes the link for threadID if present.
func (a *Adapter) DeleteLink(ctx context.Context, threadID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.checkReady(ctx, "delete_link"); err != nil {
		return err
	}
	delete(a.links, threadID)
	return nil
}

// ListLinks returns all links ordered by thread id.
func (a *Adapter) ListLinks(ctx context.Context) ([]core.ThreadDocumentLink, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if err := a.checkReady(ctx, "list_links"); err != nil {
		return nil, err
	}
	links := make([]core.ThreadDocumentLink, 0, len(a.links))
	for _, l := range a.links {
		links = append(links, l)
	}
	slices.SortFunc(links, func(x, y core.ThreadDocumentLink) int {
		return strings.Compare(x.ThreadID, y.ThreadID)
	})
	return links, nil
}
