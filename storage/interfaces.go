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

package storage

import (
	"context"

	"github.com/poiesic/threaddocs/core"
)

// Adapter is a backend-specific executor of document CRUD.
// Implementations classify every backend failure into a *StorageError;
// the retry policy of the manager depends on that classification.
type Adapter interface {
	// Name identifies the backend (e.g. "badger", "memory").
	Name() string

	// IsAvailable probes whether the backend can be used.
	// Must not panic or block for long; returns false on any doubt.
	IsAvailable(ctx context.Context) bool

	// Initialize opens the underlying store and its schema.
	// Calling it again on a ready adapter is a no-op.
	Initialize(ctx context.Context) error

	// Save persists the document and its metadata projection atomically.
	// Content is stored verbatim. The adapter owns Version (stored+1) and
	// UpdatedAt (now); values supplied by the caller are not trusted, except
	// that a positive Version is checked against the stored version.
	// Returns the persisted document.
	Save(ctx context.Context, doc *core.Document) (*core.Document, error)

	// Load retrieves a document by ID.
	// Returns a NOT_FOUND error if it doesn't exist.
	Load(ctx context.Context, id string) (*core.Document, error)

	// Delete removes a document from both collections.
	// Deleting a missing document is not an error.
	Delete(ctx context.Context, id string) error

	// List returns documents matching the filter, most recently updated first.
	List(ctx context.Context, filter core.ListFilter) ([]*core.Document, error)

	// Exists reports whether a metadata record is present for id.
	Exists(ctx context.Context, id string) (bool, error)

	// Stats reports document count, estimated usage and quota state.
	Stats(ctx context.Context) (*core.Stats, error)

	// Clear removes every record. Test and reset paths only.
	Clear(ctx context.Context) error

	// Close releases the backend. Later calls fail with STORAGE_UNAVAILABLE.
	Close() error
}

// LinkStore is implemented by adapters with a dedicated collection for
// thread-document links.
type LinkStore interface {
	// SaveLink upserts the link for link.ThreadID.
	SaveLink(ctx context.Context, link core.ThreadDocumentLink) error

	// DeleteLink removes the link for threadID. Missing links are not an error.
	DeleteLink(ctx context.Context, threadID string) error

	// ListLinks returns every persisted link.
	ListLinks(ctx context.Context) ([]core.ThreadDocumentLink, error)
}
