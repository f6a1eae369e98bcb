package memory

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/threaddocs/core"
	"github.com/poiesic/threaddocs/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T, opts ...Option) *Adapter {
	t.Helper()
	a := New(opts...)
	require.NoError(t, a.Initialize(context.Background()))
	t.Cleanup(func() { a.Close() })
	return a
}

func newDoc(id, threadID string) *core.Document {
	return &core.Document{
		Metadata: core.DocumentMetadata{
			ID:       id,
			ThreadID: threadID,
			Title:    "Untitled",
			Type:     core.DocumentTypeRichText,
		},
		Content: json.RawMessage(`{"blocks":[]}`),
	}
}

func TestRoundTrip(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	doc := newDoc("d1", "t1")
	doc.Metadata.Tags = []string{"x"}
	doc.Metadata.CustomData = map[string]any{"k": "v"}
	_, err := a.Save(ctx, doc)
	require.NoError(t, err)

	loaded, err := a.Load(ctx, "d1")
	require.NoError(t, err)
	assert.JSONEq(t, string(doc.Content), string(loaded.Content))
	assert.Equal(t, doc.Metadata.Tags, loaded.Metadata.Tags)
	assert.Equal(t, "v", loaded.Metadata.CustomData["k"])

	// Mutating the loaded copy must not affect the store
	loaded.Metadata.Tags[0] = "mutated"
	again, err := a.Load(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "x", again.Metadata.Tags[0])
}

func TestVersionMonotonicity(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	var prev *core.Document
	for i := 1; i <= 3; i++ {
		saved, err := a.Save(ctx, newDoc("d1", "t1"))
		require.NoError(t, err)
		assert.Equal(t, i, saved.Metadata.Version)
		if prev != nil {
			assert.False(t, saved.Metadata.UpdatedAt.Before(prev.Metadata.UpdatedAt))
			assert.True(t, saved.Metadata.CreatedAt.Equal(prev.Metadata.CreatedAt))
		}
		prev = saved
	}
}

func TestConcurrentSavesIncrementVersion(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Save(ctx, newDoc("d1", "t1"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	doc, err := a.Load(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 20, doc.Metadata.Version)
}

func TestDeleteIdempotent(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	_, err := a.Save(ctx, newDoc("d1", "t1"))
	require.NoError(t, err)
	require.NoError(t, a.Delete(ctx, "d1"))
	require.NoError(t, a.Delete(ctx, "d1"))
	require.NoError(t, a.Delete(ctx, "unknown"))

	_, err = a.Load(ctx, "d1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	stats, err := a.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.EstimatedBytes)
}

func TestList(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	for _, doc := range []*core.Document{newDoc("a", "t1"), newDoc("b", "t2"), newDoc("c", "t1")} {
		_, err := a.Save(ctx, doc)
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}

	docs, err := a.List(ctx, core.ListFilter{})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "c", docs[0].Metadata.ID)

	docs, err = a.List(ctx, core.ListFilter{ThreadID: "t1", Offset: 1})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a", docs[0].Metadata.ID)

	docs, err = a.List(ctx, core.ListFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestQuota(t *testing.T) {
	a := newTestAdapter(t, WithQuota(1024))
	ctx := context.Background()

	_, err := a.Save(ctx, newDoc("small", "t1"))
	require.NoError(t, err)

	big := newDoc("big", "t1")
	payload, err := json.Marshal(map[string]string{"text": strings.Repeat("x", 2048)})
	require.NoError(t, err)
	big.Content = payload

	_, err = a.Save(ctx, big)
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrQuotaExceeded)
	assert.False(t, storage.IsRetryable(err))

	stats, err := a.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DocumentCount)
	assert.Equal(t, int64(1024), stats.QuotaBytes)
	assert.Equal(t, stats.QuotaBytes-stats.EstimatedBytes, stats.RemainingBytes)
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	a := New()
	assert.True(t, a.IsAvailable(ctx))

	_, err := a.Load(ctx, "d1")
	assert.ErrorIs(t, err, storage.ErrStorageUnavailable, "not initialized")

	require.NoError(t, a.Initialize(ctx))
	require.NoError(t, a.Initialize(ctx))
	_, err = a.Save(ctx, newDoc("d1", "t1"))
	require.NoError(t, err)

	require.NoError(t, a.Close())
	assert.False(t, a.IsAvailable(ctx))
	_, err = a.Load(ctx, "d1")
	assert.ErrorIs(t, err, storage.ErrStorageUnavailable)
	assert.ErrorIs(t, a.Initialize(ctx), storage.ErrStorageUnavailable)
}

func TestCanceledContext(t *testing.T) {
	a := newTestAdapter(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Save(ctx, newDoc("d1", "t1"))
	require.Error(t, err)
	assert.Equal(t, storage.CodeTimeout, storage.CodeOf(err))
	assert.False(t, storage.IsRetryable(err))
}

func TestLinksAndClear(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.SaveLink(ctx, core.ThreadDocumentLink{ThreadID: "t2", DocumentID: "d2"}))
	require.NoError(t, a.SaveLink(ctx, core.ThreadDocumentLink{ThreadID: "t1", DocumentID: "d1"}))
	assert.ErrorIs(t, a.SaveLink(ctx, core.ThreadDocumentLink{ThreadID: "t3"}), storage.ErrInvalidData)

	links, err := a.ListLinks(ctx)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "t1", links[0].ThreadID)

	_, err = a.Save(ctx, newDoc("d1", "t1"))
	require.NoError(t, err)
	require.NoError(t, a.Clear(ctx))

	links, err = a.ListLinks(ctx)
	require.NoError(t, err)
	assert.Empty(t, links)
	exists, err := a.Exists(ctx, "d1")
	require.NoError(t, err)
	assert.False(t, exists)
}
