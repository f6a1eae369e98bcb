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

package core

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"
	"time"
)

// DocumentType identifies which editor surface produced a document.
type DocumentType string

const (
	// DocumentTypeRichText is a block-based rich-text document.
	DocumentTypeRichText DocumentType = "richtext"
	// DocumentTypeWhiteboard is a freeform whiteboard canvas.
	DocumentTypeWhiteboard DocumentType = "whiteboard"
)

// Valid reports whether t is a known document type.
func (t DocumentType) Valid() bool {
	return t == DocumentTypeRichText || t == DocumentTypeWhiteboard
}

// Custom data keys with meaning to the storage layer.
const (
	CustomDataThreadLink  = "isThreadLink"
	CustomDataDocumentID  = "documentId"
	CustomDataMigrated    = "migratedFromLocalStorage"
	CustomDataOriginalKey = "originalKey"
)

// DocumentMetadata is the lightweight, indexable part of a document.
type DocumentMetadata struct {
	ID         string         `json:"id"`
	ThreadID   string         `json:"threadId"`
	Title      string         `json:"title"`
	Type       DocumentType   `json:"type"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
	Version    int            `json:"version"` // Incremented by the adapter on every save
	Tags       []string       `json:"tags,omitempty"`
	IsDeleted  bool           `json:"isDeleted,omitempty"`
	CustomData map[string]any `json:"customData,omitempty"`
}

// Clone returns a deep copy of the slices and maps held by m.
// CustomData values are copied shallowly.
func (m DocumentMetadata) Clone() DocumentMetadata {
	m.Tags = slices.Clone(m.Tags)
	m.CustomData = maps.Clone(m.CustomData)
	return m
}

// Document pairs metadata with an opaque editor snapshot.
// Content is owned by the editor and never inspected by storage.
type Document struct {
	Metadata    DocumentMetadata `json:"metadata"`
	Content     json.RawMessage  `json:"content"`
	ContentHash string           `json:"contentHash,omitempty"`
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	return &Document{
		Metadata:    d.Metadata.Clone(),
		Content:     slices.Clone(d.Content),
		ContentHash: d.ContentHash,
	}
}

// ThreadDocumentLink associates a conversation thread with its primary document.
type ThreadDocumentLink struct {
	ThreadID   string    `json:"threadId"`
	DocumentID string    `json:"documentId"`
	CreatedAt  time.Time `json:"createdAt"`
	IsPrimary  bool      `json:"isPrimary"`
}

// ListFilter narrows a document listing.
// Limit and Offset are only applied when positive.
type ListFilter struct {
	ThreadID       string
	Type           DocumentType
	IncludeDeleted bool
	IncludeLinks   bool // Include tagged thread-link documents
	OnlyLinks      bool // Only tagged thread-link documents; implies IncludeLinks
	Limit          int
	Offset         int
}

// Matches reports whether metadata passes the filter's predicates.
// Pagination is not considered.
func (f ListFilter) Matches(m *DocumentMetadata) bool {
	if m.IsDeleted && !f.IncludeDeleted {
		return false
	}
	isLink := IsThreadLinkDocument(m)
	if isLink && !f.IncludeLinks && !f.OnlyLinks {
		return false
	}
	if f.OnlyLinks && !isLink {
		return false
	}
	if f.ThreadID != "" && m.ThreadID != f.ThreadID {
		return false
	}
	if f.Type != "" && m.Type != f.Type {
		return false
	}
	return true
}

// Paginate applies Offset and Limit to an already filtered result set.
func Paginate[T any](items []T, f ListFilter) []T {
	if f.Offset > 0 {
		if f.Offset >= len(items) {
			return items[:0]
		}
		items = items[f.Offset:]
	}
	if f.Limit > 0 && len(items) > f.Limit {
		items = items[:f.Limit]
	}
	return items
}

// SortByUpdated orders metadata by UpdatedAt descending, then by ID.
func SortByUpdated(metas []*DocumentMetadata) {
	slices.SortFunc(metas, func(x, y *DocumentMetadata) int {
		if c := y.UpdatedAt.Compare(x.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(x.ID, y.ID)
	})
}

// Stats describes the storage footprint of an adapter.
// Quota fields are zero when the adapter has no quota configured.
type Stats struct {
	Backend        string  `json:"backend"`
	DocumentCount  int     `json:"documentCount"`
	EstimatedBytes int64   `json:"estimatedBytes"`
	QuotaBytes     int64   `json:"quotaBytes,omitempty"`
	RemainingBytes int64   `json:"remainingBytes,omitempty"`
	UsagePercent   float64 `json:"usagePercent,omitempty"`
}

// ApplyQuota fills the quota derived fields.
func (s *Stats) ApplyQuota(quota int64) {
	if quota <= 0 {
		return
	}
	s.QuotaBytes = quota
	s.RemainingBytes = max(quota-s.EstimatedBytes, 0)
	s.UsagePercent = float64(s.EstimatedBytes) / float64(quota) * 100.0
}
