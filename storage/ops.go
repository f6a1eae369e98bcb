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
	"time"

	"github.com/poiesic/threaddocs/core"
)

// PrepareSave builds the record an adapter persists for doc, given the
// metadata currently stored under the same id (nil when new).
//
// Rules applied:
//   - doc must pass core.ValidateDocument
//   - a positive doc Version must equal the stored version
//   - Version becomes stored+1, or 1 for a new document
//   - UpdatedAt becomes now, never earlier than the stored UpdatedAt
//   - CreatedAt is kept from the stored record; new documents keep a
//     caller supplied CreatedAt and default to now
//   - ContentHash is recomputed from Content
//
// The returned document is a copy; doc is not modified.
func PrepareSave(doc *core.Document, stored *core.DocumentMetadata, now time.Time) (*core.Document, error) {
	if err := core.ValidateDocument(doc); err != nil {
		return nil, InvalidData(err)
	}

	next := doc.Clone()
	if stored == nil {
		next.Metadata.Version = 1
		if next.Metadata.CreatedAt.IsZero() {
			next.Metadata.CreatedAt = now
		}
	} else {
		if doc.Metadata.Version > 0 && doc.Metadata.Version != stored.Version {
			return nil, VersionConflict(doc.Metadata.ID, doc.Metadata.Version, stored.Version)
		}
		next.Metadata.Version = stored.Version + 1
		next.Metadata.CreatedAt = stored.CreatedAt
		if now.Before(stored.UpdatedAt) {
			now = stored.UpdatedAt
		}
	}
	next.Metadata.UpdatedAt = now
	next.ContentHash = core.HashContent(next.Content)
	return next, nil
}

// ReadWriter loads and saves documents. Every Adapter is one.
type ReadWriter interface {
	Load(ctx context.Context, id string) (*core.Document, error)
	Save(ctx context.Context, doc *core.Document) (*core.Document, error)
}

// SoftDelete marks a document deleted without removing it. The loaded
// version is sent back, so a concurrent save makes it fail with
// VERSION_CONFLICT instead of being overwritten.
func SoftDelete(ctx context.Context, store ReadWriter, id string) (*core.Document, error) {
	doc, err := store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	doc.Metadata.IsDeleted = true
	return store.Save(ctx, doc)
}
