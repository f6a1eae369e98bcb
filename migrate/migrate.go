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

// Package migrate moves documents out of a legacy key/value store.
//
// Legacy records live under keys with a fixed prefix ("blocksuite-") and
// hold JSON of the form {id, title, data, timestamp}. Each one becomes a
// Document tagged with customData.migratedFromLocalStorage and
// customData.originalKey. Runs are idempotent: records already migrated are
// skipped. A legacy record is only deleted after its document is confirmed
// stored.
package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/poiesic/threaddocs/core"
	"github.com/poiesic/threaddocs/storage"
)

const (
	// DefaultPrefix marks legacy document keys.
	DefaultPrefix = "blocksuite-"

	// BackupPrefix is prepended to a key when its value is backed up
	// before deletion.
	BackupPrefix = "backup:"

	defaultTitle = "Untitled"
)

var (
	// ErrLegacyStoreRequired indicates Run was called without a legacy store.
	ErrLegacyStoreRequired = errors.New("legacy store is required")

	// ErrStoreRequired indicates Run was called without a document store.
	ErrStoreRequired = errors.New("document store is required")
)

// Store is the document storage Run writes to.
// *manager.Manager implements it.
type Store interface {
	Save(ctx context.Context, doc *core.Document) (*core.Document, error)
	Load(ctx context.Context, id string) (*core.Document, error)
}

// LegacyRecord is the stored shape of a pre-migration document.
type LegacyRecord struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"` // Unix milliseconds
}

// Options controls a migration run.
type Options struct {
	// DryRun counts what would be migrated without writing anything.
	DryRun bool

	// DeleteAfterMigration removes each legacy record once its document
	// is stored.
	DeleteAfterMigration bool

	// BackupBeforeDelete copies a legacy value to BackupPrefix+key before
	// deleting it. Only meaningful with DeleteAfterMigration.
	BackupBeforeDelete bool

	// Prefix selects legacy keys. Default: DefaultPrefix
	Prefix string

	// DefaultType is the type given to migrated documents.
	// Default: core.DocumentTypeRichText
	DefaultType core.DocumentType

	// Progress receives a progress line. Nil disables it.
	Progress io.Writer

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// RecordError describes a legacy record that could not be processed.
type RecordError struct {
	Key string
	Err error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("%s: %v", e.Key, e.Err)
}

func (e RecordError) Unwrap() error {
	return e.Err
}

// Result summarizes a migration run.
// In a dry run MigratedCount is the number of records that would be migrated.
// Errors also lists cleanup failures of records that were migrated.
type Result struct {
	MigratedCount int
	SkippedCount  int
	FailedCount   int
	Errors        []RecordError
	DryRun        bool
}

// Run migrates every legacy record under opts.Prefix into store.
// Per-record failures are collected in the Result; the returned error is
// reserved for failures that stop the run.
func Run(ctx context.Context, store Store, legacy LegacyStore, opts Options) (*Result, error) {
	if legacy == nil {
		return nil, ErrLegacyStoreRequired
	}
	if store == nil {
		return nil, ErrStoreRequired
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.DefaultType == "" {
		opts.DefaultType = core.DocumentTypeRichText
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "migrate")

	allKeys, err := legacy.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing legacy keys: %w", err)
	}
	var keys []string
	for _, key := range allKeys {
		if strings.HasPrefix(key, opts.Prefix) {
			keys = append(keys, key)
		}
	}

	logger.Info("starting migration", "records", len(keys), "dryRun", opts.DryRun,
		"deleteAfterMigration", opts.DeleteAfterMigration)

	tracker := NewProgressTracker(opts.Progress, len(keys), len(keys)/20)
	tracker.Start()

	m := &migration{store: store, legacy: legacy, opts: opts, logger: logger, result: &Result{DryRun: opts.DryRun}}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			tracker.Finish()
			return m.result, err
		}
		failed := m.migrateKey(ctx, key)
		tracker.Record(failed)
	}
	tracker.Finish()

	logger.Info("migration finished",
		"migrated", m.result.MigratedCount,
		"skipped", m.result.SkippedCount,
		"failed", m.result.FailedCount,
		"dryRun", opts.DryRun,
		"elapsed", tracker.Elapsed())
	return m.result, nil
}

type migration struct {
	store  Store
	legacy LegacyStore
	opts   Options
	logger *slog.Logger
	result *Result
}

// migrateKey processes one legacy key and reports whether it failed.
func (m *migration) migrateKey(ctx context.Context, key string) bool {
	value, found, err := m.legacy.Get(ctx, key)
	if err != nil {
		return m.fail(key, err)
	}
	if !found {
		m.result.SkippedCount++
		return false
	}

	doc, err := ToDocument(key, value, m.opts)
	if err != nil {
		return m.fail(key, err)
	}

	existing, err := m.store.Load(ctx, doc.Metadata.ID)
	switch {
	case err == nil && isMigrated(existing):
		m.logger.Debug("record already migrated", "key", key, "id", doc.Metadata.ID)
		m.result.SkippedCount++
		if !m.opts.DryRun {
			m.cleanup(ctx, key, value)
		}
		return false
	case err == nil:
		return m.fail(key, storage.NewError(storage.CodeAlreadyExists, false,
			"a document with this id already exists", nil).With("id", doc.Metadata.ID))
	case !errors.Is(err, storage.ErrNotFound):
		return m.fail(key, err)
	}

	if m.opts.DryRun {
		m.result.MigratedCount++
		return false
	}

	if _, err := m.store.Save(ctx, doc); err != nil {
		return m.fail(key, err)
	}
	m.result.MigratedCount++
	m.cleanup(ctx, key, value)
	return false
}

// cleanup removes a legacy record whose document is stored.
func (m *migration) cleanup(ctx context.Context, key, value string) {
	if !m.opts.DeleteAfterMigration {
		return
	}
	if m.opts.BackupBeforeDelete {
		if err := m.legacy.Set(ctx, BackupPrefix+key, value); err != nil {
			m.logger.Warn("backup failed, keeping legacy record", "key", key, "error", err)
			m.result.Errors = append(m.result.Errors, RecordError{Key: key, Err: err})
			return
		}
	}
	if err := m.legacy.Delete(ctx, key); err != nil {
		m.logger.Warn("failed to delete legacy record", "key", key, "error", err)
		m.result.Errors = append(m.result.Errors, RecordError{Key: key, Err: err})
	}
}

func (m *migration) fail(key string, err error) bool {
	m.logger.Warn("failed to migrate record", "key", key, "error", err)
	m.result.FailedCount++
	m.result.Errors = append(m.result.Errors, RecordError{Key: key, Err: err})
	return true
}

// ToDocument converts a legacy value stored under key into a Document.
// A record without an id takes the key minus the prefix.
func ToDocument(key, value string, opts Options) (*core.Document, error) {
	var rec LegacyRecord
	if err := json.Unmarshal([]byte(value), &rec); err != nil {
		return nil, storage.NewError(storage.CodeCorruptedData, false, "legacy record could not be decoded", err)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	docType := opts.DefaultType
	if docType == "" {
		docType = core.DocumentTypeRichText
	}

	id := rec.ID
	if id == "" {
		id = strings.TrimPrefix(key, prefix)
	}
	title := rec.Title
	if title == "" {
		title = defaultTitle
	}
	content := rec.Data
	if len(content) == 0 || string(content) == "null" {
		content = json.RawMessage(`{}`)
	}

	doc := &core.Document{
		Metadata: core.DocumentMetadata{
			ID:    id,
			Title: title,
			Type:  docType,
			CustomData: map[string]any{
				core.CustomDataMigrated:    true,
				core.CustomDataOriginalKey: key,
			},
		},
		Content: content,
	}
	if rec.Timestamp > 0 {
		doc.Metadata.CreatedAt = time.UnixMilli(rec.Timestamp).UTC()
	}
	if err := core.ValidateDocument(doc); err != nil {
		return nil, storage.InvalidData(err)
	}
	return doc, nil
}

func isMigrated(doc *core.Document) bool {
	flag, _ := doc.Metadata.CustomData[core.CustomDataMigrated].(bool)
	return flag
}
