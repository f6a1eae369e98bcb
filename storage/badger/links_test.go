package badger

import (
	"context"
	"testing"
	"time"

	"github.com/poiesic/threaddocs/core"
	"github.com/poiesic/threaddocs/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinks(t *testing.T) {
	adapter := newTestAdapter(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, adapter.SaveLink(ctx, core.ThreadDocumentLink{ThreadID: "t2", DocumentID: "d2", CreatedAt: now, IsPrimary: true}))
	require.NoError(t, adapter.SaveLink(ctx, core.ThreadDocumentLink{ThreadID: "t1", DocumentID: "d1", CreatedAt: now, IsPrimary: true}))

	links, err := adapter.ListLinks(ctx)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "t1", links[0].ThreadID)
	assert.Equal(t, "t2", links[1].ThreadID)

	// Upsert replaces the target
	require.NoError(t, adapter.SaveLink(ctx, core.ThreadDocumentLink{ThreadID: "t1", DocumentID: "d3", CreatedAt: now, IsPrimary: true}))
	links, err = adapter.ListLinks(ctx)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "d3", links[0].DocumentID)

	require.NoError(t, adapter.DeleteLink(ctx, "t1"))
	require.NoError(t, adapter.DeleteLink(ctx, "t1"), "deleting a missing link is not an error")
	links, err = adapter.ListLinks(ctx)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "t2", links[0].ThreadID)

	// Links are not documents
	stats, err := adapter.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.DocumentCount)
}

func TestSaveLinkInvalid(t *testing.T) {
	adapter := newTestAdapter(t)

	err := adapter.SaveLink(context.Background(), core.ThreadDocumentLink{ThreadID: "t1"})
	assert.ErrorIs(t, err, storage.ErrInvalidData)
}
