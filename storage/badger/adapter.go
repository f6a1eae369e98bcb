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

package badger

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/threaddocs/core"
	"github.com/poiesic/threaddocs/storage"
)

// Name is the backend name reported by the adapter.
const Name = "badger"

// Adapter implements storage.Adapter and storage.LinkStore on BadgerDB.
//
// Every document is written as two records (full document and metadata
// projection) plus thread, type and updatedAt index entries, all inside one
// read-write transaction.
type Adapter struct {
	path     string
	inMemory bool
	quota    int64
	logger   *slog.Logger

	mu      sync.RWMutex
	backend *Backend
	usage   int64 // value bytes of document and metadata records
	closed  bool
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

// WithInMemory keeps the database in memory. The path is ignored.
func WithInMemory(inMemory bool) Option {
	return func(a *Adapter) {
		a.inMemory = inMemory
	}
}

// New creates an adapter for the database directory at path.
// Nothing is opened until Initialize.
func New(path string, opts ...Option) *Adapter {
	a := &Adapter{
		path:   path,
		logger: slog.Default().With("component", "storage", "backend", Name),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns "badger".
func (a *Adapter) Name() string {
	return Name
}

// IsAvailable reports whether the database directory can be used.
// It only inspects the filesystem and never creates anything.
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return false
	}
	if a.backend != nil || a.inMemory {
		return true
	}
	if a.path == "" {
		return false
	}

	info, err := os.Stat(a.path)
	if err == nil {
		return info.IsDir()
	}
	if !os.IsNotExist(err) {
		return false
	}
	// Walk up to the nearest existing ancestor; OpenBackend creates the rest.
	dir := filepath.Dir(filepath.Clean(a.path))
	for {
		info, err := os.Stat(dir)
		if err == nil {
			return info.IsDir()
		}
		if !os.IsNotExist(err) {
			return false
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return false
		}
		dir = parent
	}
}

// Initialize opens the database. Later calls return immediately.
func (a *Adapter) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return storage.Unavailable(Name, "adapter is closed")
	}
	if a.backend != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return storage.Classify(err, "initialize")
	}

	backend, err := OpenBackend(a.path, a.inMemory, a.logger)
	if err != nil {
		return storage.NewError(storage.CodeStorageUnavailable, false, "could not open badger store", err).
			With("path", a.path)
	}

	usage, err := measureUsage(backend)
	if err != nil {
		backend.Close()
		return classify(err, "initialize")
	}

	a.backend = backend
	a.usage = usage
	a.logger.Info("badger store initialized", "path", a.path, "inMemory", a.inMemory, "bytes", usage)
	return nil
}

// measureUsage sums the value sizes of document and metadata records.
func measureUsage(backend *Backend) (int64, error) {
	var total int64
	err := backend.WithTx(func(tx *badger.Txn) error {
		for _, prefix := range []string{documentPrefix, metadataPrefix} {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = []byte(prefix)
			opts.PrefetchValues = false
			iter := tx.NewIterator(opts)
			for iter.Rewind(); iter.Valid(); iter.Next() {
				total += iter.Item().ValueSize()
			}
			iter.Close()
		}
		return nil
	}, false)
	return total, err
}

// ready must be called with the lock held.
func (a *Adapter) ready(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return storage.Classify(err, op)
	}
	if a.closed {
		return storage.Unavailable(Name, "adapter is closed")
	}
	if a.backend == nil {
		return storage.Unavailable(Name, "adapter is not initialized")
	}
	return nil
}

// Save persists the document, its metadata and index entries atomically.
func (a *Adapter) Save(ctx context.Context, doc *core.Document) (*core.Document, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ready(ctx, "save"); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, storage.InvalidData(core.ErrInvalidDocument)
	}

	var saved *core.Document
	var projected int64
	err := a.backend.WithTx(func(tx *badger.Txn) error {
		id := doc.Metadata.ID
		stored, oldSize, err := readMetadata(tx, id)
		if err != nil {
			return err
		}
		if stored != nil {
			docSize, err := valueSize(tx, makeDocumentKey(id))
			if err != nil {
				return err
			}
			oldSize += docSize
		}

		next, err := storage.PrepareSave(doc, stored, time.Now().UTC())
		if err != nil {
			return err
		}
		docValue, err := storage.MarshalDocument(next)
		if err != nil {
			return err
		}
		metaValue, err := storage.MarshalMetadata(&next.Metadata)
		if err != nil {
			return err
		}

		projected = a.usage - oldSize + int64(len(docValue)+len(metaValue))
		if a.quota > 0 && projected > a.quota {
			return storage.QuotaExceeded(projected, a.quota).With("id", id)
		}

		if stored != nil {
			if err := deleteIndexes(tx, stored); err != nil {
				return err
			}
		}
		if err := tx.Set(makeDocumentKey(id), docValue); err != nil {
			return err
		}
		if err := tx.Set(makeMetadataKey(id), metaValue); err != nil {
			return err
		}
		if err := setIndexes(tx, &next.Metadata); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		saved = next
		return nil
	}, true)
	if err != nil {
		return nil, classify(err, "save")
	}

	a.usage = projected
	return saved, nil
}

// Load retrieves the full document record.
func (a *Adapter) Load(ctx context.Context, id string) (*core.Document, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if err := a.ready(ctx, "load"); err != nil {
		return nil, err
	}

	var doc *core.Document
	err := a.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		doc, err = readDocument(tx, id)
		if err != nil {
			return err
		}
		if doc == nil {
			return storage.NotFound(id)
		}
		return nil
	}, false)
	if err != nil {
		return nil, classify(err, "load")
	}
	return doc, nil
}

// Delete removes the document, its metadata and index entries.
func (a *Adapter) Delete(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ready(ctx, "delete"); err != nil {
		return err
	}

	var freed int64
	err := a.backend.WithTx(func(tx *badger.Txn) error {
		stored, metaSize, err := readMetadata(tx, id)
		if err != nil {
			return err
		}
		docSize, err := valueSize(tx, makeDocumentKey(id))
		if err != nil {
			return err
		}
		if stored == nil && docSize == 0 {
			return nil
		}
		if stored != nil {
			if err := deleteIndexes(tx, stored); err != nil {
				return err
			}
		}
		if err := tx.Delete(makeMetadataKey(id)); err != nil {
			return err
		}
		if err := tx.Delete(makeDocumentKey(id)); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		freed = metaSize + docSize
		return nil
	}, true)
	if err != nil {
		return classify(err, "delete")
	}

	a.usage -= freed
	return nil
}

// List returns documents matching filter, most recently updated first.
// A thread or type filter is served from its index; otherwise the
// updatedAt index is walked.
func (a *Adapter) List(ctx context.Context, filter core.ListFilter) ([]*core.Document, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if err := a.ready(ctx, "list"); err != nil {
		return nil, err
	}

	var results []*core.Document
	err := a.backend.WithTx(func(tx *badger.Txn) error {
		var prefix []byte
		switch {
		case filter.ThreadID != "":
			prefix = makePartialThreadIndexKey(filter.ThreadID)
		case filter.Type != "":
			prefix = makePartialTypeIndexKey(filter.Type)
		default:
			prefix = []byte(updatedPrefix)
		}

		ids, err := scanIndex(tx, prefix)
		if err != nil {
			return err
		}

		var metas []*core.DocumentMetadata
		for _, id := range ids {
			meta, _, err := readMetadata(tx, id)
			if err != nil {
				return err
			}
			if meta != nil && filter.Matches(meta) {
				metas = append(metas, meta)
			}
		}
		core.SortByUpdated(metas)
		metas = core.Paginate(metas, filter)

		results = make([]*core.Document, 0, len(metas))
		for _, meta := range metas {
			doc, err := readDocument(tx, meta.ID)
			if err != nil {
				return err
			}
			if doc != nil {
				results = append(results, doc)
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, classify(err, "list")
	}
	return results, nil
}

// Exists reports whether a metadata record is present.
// The full document record is not consulted.
func (a *Adapter) Exists(ctx context.Context, id string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if err := a.ready(ctx, "exists"); err != nil {
		return false, err
	}

	exists := false
	err := a.backend.WithTx(func(tx *badger.Txn) error {
		_, err := tx.Get(makeMetadataKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		exists = true
		return nil
	}, false)
	if err != nil {
		return false, classify(err, "exists")
	}
	return exists, nil
}

// Stats counts metadata records and reports the tracked value bytes.
func (a *Adapter) Stats(ctx context.Context) (*core.Stats, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if err := a.ready(ctx, "stats"); err != nil {
		return nil, err
	}

	count := 0
	err := a.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(metadataPrefix)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	}, false)
	if err != nil {
		return nil, classify(err, "stats")
	}

	stats := &core.Stats{
		Backend:        Name,
		DocumentCount:  count,
		EstimatedBytes: a.usage,
	}
	stats.ApplyQuota(a.quota)
	return stats, nil
}

// Clear drops every key in the database.
func (a *Adapter) Clear(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ready(ctx, "clear"); err != nil {
		return err
	}

	a.logger.Warn("clearing all documents and links", "path", a.path)
	if err := a.backend.DropAll(); err != nil {
		return classify(err, "clear")
	}
	a.usage = 0
	return nil
}

// Close closes the database. Later calls fail with STORAGE_UNAVAILABLE.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	if a.backend == nil {
		return nil
	}
	err := a.backend.Close()
	a.backend = nil
	if err != nil {
		return classify(err, "close")
	}
	return nil
}

// Helper functions

// readMetadata reads a metadata record and its value size.
// Returns nil, 0, nil if absent.
func readMetadata(tx *badger.Txn, id string) (*core.DocumentMetadata, int64, error) {
	item, err := tx.Get(makeMetadataKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, 0, nil
		}
		return nil, 0, err
	}

	var meta *core.DocumentMetadata
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		meta, unmarshalErr = storage.UnmarshalMetadata(val)
		return unmarshalErr
	})
	return meta, item.ValueSize(), err
}

// readDocument reads a full document record. Returns nil, nil if absent.
func readDocument(tx *badger.Txn, id string) (*core.Document, error) {
	item, err := tx.Get(makeDocumentKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var doc *core.Document
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		doc, unmarshalErr = storage.UnmarshalDocument(val)
		return unmarshalErr
	})
	return doc, err
}

// valueSize returns the value size stored under key, or 0 if absent.
func valueSize(tx *badger.Txn, key []byte) (int64, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return item.ValueSize(), nil
}

// scanIndex returns the document ids stored as values under prefix.
func scanIndex(tx *badger.Txn, prefix []byte) ([]string, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	iter := tx.NewIterator(opts)
	defer iter.Close()

	var ids []string
	for iter.Rewind(); iter.Valid(); iter.Next() {
		err := iter.Item().Value(func(val []byte) error {
			ids = append(ids, string(val))
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// setIndexes writes the secondary index entries for meta.
func setIndexes(tx *badger.Txn, meta *core.DocumentMetadata) error {
	id := []byte(meta.ID)
	if meta.ThreadID != "" {
		if err := tx.Set(makeThreadIndexKey(meta.ThreadID, meta.ID), id); err != nil {
			return err
		}
	}
	if err := tx.Set(makeTypeIndexKey(meta.Type, meta.ID), id); err != nil {
		return err
	}
	return tx.Set(makeUpdatedIndexKey(meta.UpdatedAt, meta.ID), id)
}

// deleteIndexes removes the secondary index entries for meta.
func deleteIndexes(tx *badger.Txn, meta *core.DocumentMetadata) error {
	if meta.ThreadID != "" {
		if err := tx.Delete(makeThreadIndexKey(meta.ThreadID, meta.ID)); err != nil {
			return err
		}
	}
	if err := tx.Delete(makeTypeIndexKey(meta.Type, meta.ID)); err != nil {
		return err
	}
	return tx.Delete(makeUpdatedIndexKey(meta.UpdatedAt, meta.ID))
}

// classify maps badger errors onto storage codes before falling back to
// the generic classification.
func classify(err error, op string) *storage.StorageError {
	var se *storage.StorageError
	if errors.As(err, &se) {
		return se
	}

	var classified *storage.StorageError
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		classified = storage.NewError(storage.CodeNotFound, false, "key not found", err)
	case errors.Is(err, badger.ErrConflict):
		classified = storage.NewError(storage.CodeConcurrentModification, true, "transaction conflict", err)
	case errors.Is(err, badger.ErrTxnTooBig):
		classified = storage.NewError(storage.CodeQuotaExceeded, false, "record exceeds transaction size limit", err)
	case errors.Is(err, badger.ErrBlockedWrites), errors.Is(err, badger.ErrDBClosed):
		classified = storage.NewError(storage.CodeStorageUnavailable, false, "database is not accepting writes", err)
	default:
		return storage.Classify(err, op)
	}
	return classified.With("operation", op)
}
