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
	"encoding/json"
	"fmt"

	"github.com/poiesic/threaddocs/core"
)

// DocumentLinkStore persists links as tagged documents on an adapter that
// has no link collection of its own. The link for thread T is stored as
// document "link_T" with customData.isThreadLink = true.
type DocumentLinkStore struct {
	adapter Adapter
}

var _ LinkStore = (*DocumentLinkStore)(nil)

// NewDocumentLinkStore wraps adapter.
func NewDocumentLinkStore(adapter Adapter) *DocumentLinkStore {
	return &DocumentLinkStore{adapter: adapter}
}

// LinksFor returns the adapter's own LinkStore when it has one, and a
// DocumentLinkStore over it otherwise.
func LinksFor(adapter Adapter) LinkStore {
	if ls, ok := adapter.(LinkStore); ok {
		return ls
	}
	return NewDocumentLinkStore(adapter)
}

// SaveLink stores link as a tagged document, replacing any previous one.
func (s *DocumentLinkStore) SaveLink(ctx context.Context, link core.ThreadDocumentLink) error {
	doc, err := LinkToDocument(link)
	if err != nil {
		return err
	}
	_, err = s.adapter.Save(ctx, doc)
	return err
}

// DeleteLink removes the tagged document for threadID.
func (s *DocumentLinkStore) DeleteLink(ctx context.Context, threadID string) error {
	return s.adapter.Delete(ctx, core.LinkDocumentID(threadID))
}

// TaggedLinkFilter selects live tagged link documents. Soft-deleted link
// documents are not links. Adapters apply it to metadata, so ordinary
// documents are never loaded.
func TaggedLinkFilter() core.ListFilter {
	return core.ListFilter{OnlyLinks: true}
}

// ListLinks decodes every tagged link document.
func (s *DocumentLinkStore) ListLinks(ctx context.Context) ([]core.ThreadDocumentLink, error) {
	docs, err := s.adapter.List(ctx, TaggedLinkFilter())
	if err != nil {
		return nil, err
	}
	var links []core.ThreadDocumentLink
	for _, doc := range docs {
		link, err := LinkFromDocument(doc)
		if err != nil {
			return nil, err
		}
		links = append(links, *link)
	}
	return links, nil
}

// LinkToDocument encodes a link as a tagged document.
func LinkToDocument(link core.ThreadDocumentLink) (*core.Document, error) {
	if err := core.ValidateLink(&link); err != nil {
		return nil, InvalidData(err)
	}
	content, err := json.Marshal(link)
	if err != nil {
		return nil, NewError(CodeInvalidData, false, "link could not be encoded", err)
	}
	return &core.Document{
		Metadata: core.DocumentMetadata{
			ID:        core.LinkDocumentID(link.ThreadID),
			ThreadID:  link.ThreadID,
			Title:     "thread link",
			Type:      core.DocumentTypeRichText,
			CreatedAt: link.CreatedAt,
			CustomData: map[string]any{
				core.CustomDataThreadLink: true,
				core.CustomDataDocumentID: link.DocumentID,
			},
		},
		Content: content,
	}, nil
}

// LinkFromDocument decodes a tagged link document.
func LinkFromDocument(doc *core.Document) (*core.ThreadDocumentLink, error) {
	if !core.IsThreadLinkDocument(&doc.Metadata) {
		return nil, InvalidData(fmt.Errorf("%w: document %q is not a thread link", core.ErrInvalidLink, doc.Metadata.ID))
	}
	var link core.ThreadDocumentLink
	if len(doc.Content) > 0 && json.Unmarshal(doc.Content, &link) == nil && link.DocumentID != "" {
		return &link, nil
	}
	// Older records only carry the target in custom data.
	target, _ := doc.Metadata.CustomData[core.CustomDataDocumentID].(string)
	legacy := &core.ThreadDocumentLink{
		ThreadID:   doc.Metadata.ThreadID,
		DocumentID: target,
		CreatedAt:  doc.Metadata.CreatedAt,
		IsPrimary:  true,
	}
	if err := core.ValidateLink(legacy); err != nil {
		return nil, InvalidData(err)
	}
	return legacy, nil
}
