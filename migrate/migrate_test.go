package migrate

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/poiesic/threaddocs/core"
	"github.com/poiesic/threaddocs/manager"
	"github.com/poiesic/threaddocs/storage"
	"github.com/poiesic/threaddocs/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *manager.Manager {
	t.Helper()
	cfg := manager.NewConfig(
		manager.WithPrimary(memory.Name),
		manager.WithFallbacks(),
		manager.WithRetryDelay(time.Millisecond),
		manager.WithAutoSaveInterval(0),
	)
	m, err := manager.New(cfg, []storage.Adapter{memory.New()})
	require.NoError(t, err)
	require.NoError(t, m.Initialize(context.Background()))
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	return m
}

func legacyValue(t *testing.T, rec LegacyRecord) string {
	t.Helper()
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	return string(data)
}

// seedLegacy stores two legacy documents and one unrelated key.
func seedLegacy(t *testing.T, store LegacyStore) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "blocksuite-one", legacyValue(t, LegacyRecord{
		ID: "one", Title: "First", Data: json.RawMessage(`{"blocks":["a"]}`), Timestamp: 1700000000000,
	})))
	require.NoError(t, store.Set(ctx, "blocksuite-two", legacyValue(t, LegacyRecord{
		ID: "two", Title: "Second", Data: json.RawMessage(`{"blocks":["b"]}`), Timestamp: 1700000001000,
	})))
	require.NoError(t, store.Set(ctx, "theme", "dark"))
}

func TestDryRun(t *testing.T) {
	legacy, _ := openTestLegacyStore(t)
	seedLegacy(t, legacy)
	m := newTestManager(t)
	ctx := context.Background()

	result, err := Run(ctx, m, legacy, Options{DryRun: true, DeleteAfterMigration: true})
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Equal(t, 2, result.MigratedCount)
	assert.Zero(t, result.FailedCount)

	keys, err := legacy.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"blocksuite-one", "blocksuite-two", "theme"}, keys, "legacy store untouched")

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.DocumentCount, "nothing written")
}

func TestMigrate(t *testing.T) {
	legacy, _ := openTestLegacyStore(t)
	seedLegacy(t, legacy)
	m := newTestManager(t)
	ctx := context.Background()

	result, err := Run(ctx, m, legacy, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.MigratedCount)
	assert.Zero(t, result.SkippedCount)
	assert.Empty(t, result.Errors)

	doc, err := m.Load(ctx, "one")
	require.NoError(t, err)
	assert.Equal(t, "First", doc.Metadata.Title)
	assert.Equal(t, core.DocumentTypeRichText, doc.Metadata.Type)
	assert.JSONEq(t, `{"blocks":["a"]}`, string(doc.Content))
	assert.Equal(t, true, doc.Metadata.CustomData[core.CustomDataMigrated])
	assert.Equal(t, "blocksuite-one", doc.Metadata.CustomData[core.CustomDataOriginalKey])
	assert.True(t, doc.Metadata.CreatedAt.Equal(time.UnixMilli(1700000000000)))

	_, found, err := legacy.Get(ctx, "blocksuite-one")
	require.NoError(t, err)
	assert.True(t, found, "legacy records are kept unless deletion is requested")
}

func TestMigrateIsIdempotent(t *testing.T) {
	legacy, _ := openTestLegacyStore(t)
	seedLegacy(t, legacy)
	m := newTestManager(t)
	ctx := context.Background()

	_, err := Run(ctx, m, legacy, Options{})
	require.NoError(t, err)

	result, err := Run(ctx, m, legacy, Options{})
	require.NoError(t, err)
	assert.Zero(t, result.MigratedCount)
	assert.Equal(t, 2, result.SkippedCount)

	doc, err := m.Load(ctx, "one")
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Metadata.Version, "skipped records are not rewritten")
}

func TestDeleteAfterMigrationWithBackup(t *testing.T) {
	legacy, _ := openTestLegacyStore(t)
	seedLegacy(t, legacy)
	m := newTestManager(t)
	ctx := context.Background()

	original, _, err := legacy.Get(ctx, "blocksuite-one")
	require.NoError(t, err)

	result, err := Run(ctx, m, legacy, Options{DeleteAfterMigration: true, BackupBeforeDelete: true})
	require.NoError(t, err)
	assert.Equal(t, 2, result.MigratedCount)

	keys, err := legacy.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"backup:blocksuite-one", "backup:blocksuite-two", "theme"}, keys)

	backup, found, err := legacy.Get(ctx, "backup:blocksuite-one")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, original, backup)
}

func TestDeleteOnlyAfterConfirmedWrite(t *testing.T) {
	legacy, _ := openTestLegacyStore(t)
	seedLegacy(t, legacy)
	m := newTestManager(t)
	ctx := context.Background()

	// Occupies the id of the first record with an unrelated document
	_, err := m.Save(ctx, &core.Document{
		Metadata: core.DocumentMetadata{ID: "one", Type: core.DocumentTypeRichText},
		Content:  json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	result, err := Run(ctx, m, legacy, Options{DeleteAfterMigration: true})
	require.NoError(t, err)
	assert.Equal(t, 1, result.MigratedCount)
	assert.Equal(t, 1, result.FailedCount)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "blocksuite-one", result.Errors[0].Key)
	assert.ErrorIs(t, result.Errors[0], storage.ErrAlreadyExists)

	_, found, err := legacy.Get(ctx, "blocksuite-one")
	require.NoError(t, err)
	assert.True(t, found, "failed record stays in the legacy store")
	_, found, err = legacy.Get(ctx, "blocksuite-two")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRetryDeletesPreviouslyMigrated(t *testing.T) {
	legacy, _ := openTestLegacyStore(t)
	seedLegacy(t, legacy)
	m := newTestManager(t)
	ctx := context.Background()

	_, err := Run(ctx, m, legacy, Options{})
	require.NoError(t, err)

	result, err := Run(ctx, m, legacy, Options{DeleteAfterMigration: true})
	require.NoError(t, err)
	assert.Equal(t, 2, result.SkippedCount)

	keys, err := legacy.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"theme"}, keys)
}

func TestCorruptRecord(t *testing.T) {
	legacy, _ := openTestLegacyStore(t)
	seedLegacy(t, legacy)
	ctx := context.Background()
	require.NoError(t, legacy.Set(ctx, "blocksuite-broken", "{not json"))
	m := newTestManager(t)

	var progress bytes.Buffer
	result, err := Run(ctx, m, legacy, Options{Progress: &progress})
	require.NoError(t, err)
	assert.Equal(t, 2, result.MigratedCount)
	assert.Equal(t, 1, result.FailedCount)
	require.Len(t, result.Errors, 1)
	assert.ErrorIs(t, result.Errors[0], storage.ErrCorruptedData)
	assert.Contains(t, progress.String(), "3/3")
	assert.Contains(t, progress.String(), "1 failed")
}

func TestCustomPrefixAndType(t *testing.T) {
	legacy, _ := openTestLegacyStore(t)
	ctx := context.Background()
	require.NoError(t, legacy.Set(ctx, "board-x", legacyValue(t, LegacyRecord{Data: json.RawMessage(`{"shapes":[]}`)})))
	m := newTestManager(t)

	result, err := Run(ctx, m, legacy, Options{Prefix: "board-", DefaultType: core.DocumentTypeWhiteboard})
	require.NoError(t, err)
	assert.Equal(t, 1, result.MigratedCount)

	doc, err := m.Load(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, core.DocumentTypeWhiteboard, doc.Metadata.Type)
	assert.Equal(t, "Untitled", doc.Metadata.Title)
}

func TestToDocument(t *testing.T) {
	t.Run("null data", func(t *testing.T) {
		doc, err := ToDocument("blocksuite-a", `{"id":"a","data":null}`, Options{})
		require.NoError(t, err)
		assert.JSONEq(t, `{}`, string(doc.Content))
		assert.True(t, doc.Metadata.CreatedAt.IsZero())
	})

	t.Run("missing id and key is only the prefix", func(t *testing.T) {
		_, err := ToDocument("blocksuite-", `{"title":"x"}`, Options{})
		assert.ErrorIs(t, err, storage.ErrInvalidData)
	})
}

func TestRunRequiresStores(t *testing.T) {
	_, err := Run(context.Background(), nil, nil, Options{})
	assert.ErrorIs(t, err, ErrLegacyStoreRequired)

	legacy, _ := openTestLegacyStore(t)
	_, err = Run(context.Background(), nil, legacy, Options{})
	assert.ErrorIs(t, err, ErrStoreRequired)
}
