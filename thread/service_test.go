package thread

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/threaddocs/core"
	"github.com/poiesic/threaddocs/manager"
	"github.com/poiesic/threaddocs/storage"
	"github.com/poiesic/threaddocs/storage/badger"
	"github.com/poiesic/threaddocs/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T, adapter storage.Adapter) *manager.Manager {
	t.Helper()
	cfg := manager.NewConfig(
		manager.WithPrimary(adapter.Name()),
		manager.WithFallbacks(),
		manager.WithRetryDelay(time.Millisecond),
		manager.WithAutoSaveInterval(0),
	)
	m, err := manager.New(cfg, []storage.Adapter{adapter})
	require.NoError(t, err)
	require.NoError(t, m.Initialize(context.Background()))
	return m
}

func newTestService(t *testing.T) (*Service, *manager.Manager) {
	t.Helper()
	m := newManager(t, memory.New())
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	s := NewService(m)
	require.NoError(t, s.Initialize(context.Background()))
	return s, m
}

func TestFreshThread(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	doc, err := s.GetDocumentForThread(ctx, "t1", GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Metadata.Version)
	assert.Equal(t, "t1", doc.Metadata.ThreadID)
	assert.Equal(t, core.DocumentTypeRichText, doc.Metadata.Type)
	assert.Equal(t, DefaultTitle, doc.Metadata.Title)
	assert.Contains(t, doc.Metadata.ID, "doc_t1_")
	assert.JSONEq(t, `{}`, string(doc.Content))

	again, err := s.GetDocumentForThread(ctx, "t1", GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, doc.Metadata.ID, again.Metadata.ID)
	assert.Equal(t, 1, again.Metadata.Version)

	link, ok := s.GetLink("t1")
	require.True(t, ok)
	assert.Equal(t, doc.Metadata.ID, link.DocumentID)
	assert.True(t, link.IsPrimary)
}

func TestGetWithoutCreate(t *testing.T) {
	s, m := newTestService(t)
	ctx := context.Background()

	_, err := s.GetDocumentForThread(ctx, "t1", GetOptions{CreateIfMissing: Bool(false)})
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, ok := s.GetLink("t1")
	assert.False(t, ok, "thread stays unlinked")
	docs, err := m.List(ctx, core.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestGetCreatesRequestedType(t *testing.T) {
	s, _ := newTestService(t)

	doc, err := s.GetDocumentForThread(context.Background(), "t1", GetOptions{Type: core.DocumentTypeWhiteboard})
	require.NoError(t, err)
	assert.Equal(t, core.DocumentTypeWhiteboard, doc.Metadata.Type)
}

func TestDanglingLinkSelfHeals(t *testing.T) {
	s, m := newTestService(t)
	ctx := context.Background()

	original, err := s.GetDocumentForThread(ctx, "t1", GetOptions{})
	require.NoError(t, err)

	// Deleted out of band
	require.NoError(t, m.Delete(ctx, original.Metadata.ID))

	healed, err := s.GetDocumentForThread(ctx, "t1", GetOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, original.Metadata.ID, healed.Metadata.ID)
	assert.Equal(t, 1, healed.Metadata.Version)

	link, ok := s.GetLink("t1")
	require.True(t, ok)
	assert.Equal(t, healed.Metadata.ID, link.DocumentID)

	persisted, err := m.ListLinks(ctx)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, healed.Metadata.ID, persisted[0].DocumentID)
}

func TestDanglingLinkWithoutCreate(t *testing.T) {
	s, m := newTestService(t)
	ctx := context.Background()

	original, err := s.GetDocumentForThread(ctx, "t1", GetOptions{})
	require.NoError(t, err)
	require.NoError(t, m.Delete(ctx, original.Metadata.ID))

	_, err = s.GetDocumentForThread(ctx, "t1", GetOptions{CreateIfMissing: Bool(false)})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, ok := s.GetLink("t1")
	assert.False(t, ok)
	persisted, err := m.ListLinks(ctx)
	require.NoError(t, err)
	assert.Empty(t, persisted, "dangling link is removed from the store")
}

func TestCreateIsIdempotentForLinkedThread(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	first, err := s.CreateDocumentForThread(ctx, "t1", core.DocumentTypeRichText, json.RawMessage(`{"blocks":[1]}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"blocks":[1]}`, string(first.Content))

	second, err := s.CreateDocumentForThread(ctx, "t1", core.DocumentTypeWhiteboard, nil)
	require.NoError(t, err)
	assert.Equal(t, first.Metadata.ID, second.Metadata.ID)
	assert.Equal(t, core.DocumentTypeRichText, second.Metadata.Type)
}

func TestConcurrentCreationSharesDocument(t *testing.T) {
	s, m := newTestService(t)
	ctx := context.Background()

	const callers = 16
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc, err := s.GetDocumentForThread(ctx, "t1", GetOptions{})
			if assert.NoError(t, err) {
				ids[i] = doc.Metadata.ID
			}
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	docs, err := m.List(ctx, core.ListFilter{ThreadID: "t1"})
	require.NoError(t, err)
	assert.Len(t, docs, 1, "exactly one document is created")
}

func TestLinkDocumentToThread(t *testing.T) {
	s, m := newTestService(t)
	ctx := context.Background()

	err := s.LinkDocumentToThread(ctx, "t1", "missing", true)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, ok := s.GetLink("t1")
	assert.False(t, ok)

	doc, err := m.Save(ctx, &core.Document{
		Metadata: core.DocumentMetadata{ID: "shared", Title: "Shared", Type: core.DocumentTypeWhiteboard},
		Content:  json.RawMessage(`{"shapes":[]}`),
	})
	require.NoError(t, err)

	require.NoError(t, s.LinkDocumentToThread(ctx, "t1", doc.Metadata.ID, false))
	link, ok := s.GetLink("t1")
	require.True(t, ok)
	assert.False(t, link.IsPrimary)

	got, err := s.GetDocumentForThread(ctx, "t1", GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "shared", got.Metadata.ID)
}

func TestUnlinkKeepsDocument(t *testing.T) {
	s, m := newTestService(t)
	ctx := context.Background()

	doc, err := s.GetDocumentForThread(ctx, "t1", GetOptions{})
	require.NoError(t, err)

	require.NoError(t, s.UnlinkDocumentFromThread(ctx, "t1"))
	require.NoError(t, s.UnlinkDocumentFromThread(ctx, "t1"))

	_, ok := s.GetLink("t1")
	assert.False(t, ok)
	exists, err := m.Exists(ctx, doc.Metadata.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	links, err := m.ListLinks(ctx)
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestLinksAccessor(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	for _, id := range []string{"t3", "t1", "t2"} {
		_, err := s.GetDocumentForThread(ctx, id, GetOptions{})
		require.NoError(t, err)
	}

	links := s.Links()
	require.Len(t, links, 3)
	assert.Equal(t, "t1", links[0].ThreadID)
	assert.Equal(t, "t3", links[2].ThreadID)
}

func TestInvalidInput(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	_, err := s.GetDocumentForThread(ctx, "", GetOptions{})
	assert.ErrorIs(t, err, storage.ErrInvalidData)
	assert.ErrorIs(t, err, ErrThreadIDRequired)
	assert.ErrorIs(t, s.LinkDocumentToThread(ctx, "", "d1", true), ErrThreadIDRequired)
	assert.ErrorIs(t, s.UnlinkDocumentFromThread(ctx, ""), ErrThreadIDRequired)
}

func TestNotInitialized(t *testing.T) {
	m := newManager(t, memory.New())
	defer m.Shutdown(context.Background())

	s := NewService(m)
	_, err := s.GetDocumentForThread(context.Background(), "t1", GetOptions{})
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestRehydrateAfterRestart(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "store")

	m := newManager(t, badger.New(dir))
	s := NewService(m)
	require.NoError(t, s.Initialize(ctx))
	created, err := s.GetDocumentForThread(ctx, "t1", GetOptions{})
	require.NoError(t, err)
	require.NoError(t, m.Shutdown(ctx))

	restarted := newManager(t, badger.New(dir))
	defer restarted.Shutdown(ctx)
	s = NewService(restarted)
	require.NoError(t, s.Initialize(ctx))

	link, ok := s.GetLink("t1")
	require.True(t, ok)
	assert.Equal(t, created.Metadata.ID, link.DocumentID)

	doc, err := s.GetDocumentForThread(ctx, "t1", GetOptions{CreateIfMissing: Bool(false)})
	require.NoError(t, err)
	assert.Equal(t, created.Metadata.ID, doc.Metadata.ID)
}

func TestInitializeAdoptsTaggedLinkDocuments(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, memory.New())
	defer m.Shutdown(ctx)

	target, err := m.Save(ctx, &core.Document{
		Metadata: core.DocumentMetadata{ID: "d1", ThreadID: "t1", Type: core.DocumentTypeRichText},
		Content:  json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	tagged, err := storage.LinkToDocument(core.ThreadDocumentLink{ThreadID: "t1", DocumentID: target.Metadata.ID, IsPrimary: true})
	require.NoError(t, err)
	_, err = m.Save(ctx, tagged)
	require.NoError(t, err)

	s := NewService(m)
	require.NoError(t, s.Initialize(ctx))

	link, ok := s.GetLink("t1")
	require.True(t, ok)
	assert.Equal(t, "d1", link.DocumentID)

	persisted, err := m.ListLinks(ctx)
	require.NoError(t, err)
	require.Len(t, persisted, 1)

	exists, err := m.Exists(ctx, core.LinkDocumentID("t1"))
	require.NoError(t, err)
	assert.False(t, exists, "tagged document is removed once adopted")
}

func TestServiceOverDocumentOnlyStore(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, documentsOnly{memory.New()})
	defer m.Shutdown(ctx)

	s := NewService(m)
	require.NoError(t, s.Initialize(ctx))
	doc, err := s.GetDocumentForThread(ctx, "t1", GetOptions{})
	require.NoError(t, err)

	exists, err := m.Exists(ctx, core.LinkDocumentID("t1"))
	require.NoError(t, err)
	assert.True(t, exists, "link stored as tagged document")

	reloaded := NewService(m)
	require.NoError(t, reloaded.Initialize(ctx))
	link, ok := reloaded.GetLink("t1")
	require.True(t, ok)
	assert.Equal(t, doc.Metadata.ID, link.DocumentID)
}

func TestSoftDeletedLinkDocumentStaysUnlinked(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, documentsOnly{memory.New()})
	defer m.Shutdown(ctx)

	s := NewService(m)
	require.NoError(t, s.Initialize(ctx))
	first, err := s.GetDocumentForThread(ctx, "t1", GetOptions{})
	require.NoError(t, err)

	_, err = storage.SoftDelete(ctx, m, core.LinkDocumentID("t1"))
	require.NoError(t, err)

	reloaded := NewService(m)
	require.NoError(t, reloaded.Initialize(ctx))
	_, ok := reloaded.GetLink("t1")
	assert.False(t, ok, "cache agrees with the link store")
	persisted, err := m.ListLinks(ctx)
	require.NoError(t, err)
	assert.Empty(t, persisted)

	second, err := reloaded.GetDocumentForThread(ctx, "t1", GetOptions{})
	require.NoError(t, err)
	assert.NotEqual(t, first.Metadata.ID, second.Metadata.ID)

	restarted := NewService(m)
	require.NoError(t, restarted.Initialize(ctx))
	link, ok := restarted.GetLink("t1")
	require.True(t, ok, "new link survives a restart")
	assert.Equal(t, second.Metadata.ID, link.DocumentID)
}

// documentsOnly hides the adapter's link collection.
type documentsOnly struct {
	storage.Adapter
}
