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
	"fmt"
)

// ValidateDocument validates a Document before it is persisted.
//
// Validation rules:
//   - Metadata.ID must not be empty
//   - Metadata.Type must be a known DocumentType
//   - Metadata.Version must not be negative
//   - Content, when present, must be valid JSON
//
// NOT validated:
//   - ThreadID (migrated documents may not belong to a thread)
//   - Content shape (owned by the editor)
//   - Timestamps and version value (set by the adapter)
func ValidateDocument(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document is nil", ErrInvalidDocument)
	}

	if doc.Metadata.ID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, ErrEmptyDocumentID)
	}

	if !doc.Metadata.Type.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidDocument, ErrInvalidDocumentType, doc.Metadata.Type)
	}

	if doc.Metadata.Version < 0 {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, ErrNegativeVersion)
	}

	if len(doc.Content) > 0 && !json.Valid(doc.Content) {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, ErrInvalidContent)
	}

	return nil
}

// ValidateLink validates a ThreadDocumentLink.
func ValidateLink(link *ThreadDocumentLink) error {
	if link == nil {
		return fmt.Errorf("%w: link is nil", ErrInvalidLink)
	}
	if link.ThreadID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidLink, ErrEmptyThreadID)
	}
	if link.DocumentID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidLink, ErrEmptyDocumentID)
	}
	return nil
}

// IsThreadLinkDocument reports whether a document is a tagged link record.
func IsThreadLinkDocument(m *DocumentMetadata) bool {
	flag, _ := m.CustomData[CustomDataThreadLink].(bool)
	return flag
}
