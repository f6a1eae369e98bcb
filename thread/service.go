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

// Package thread binds conversation threads to their primary document.
//
// A thread is either unlinked or linked to exactly one document. Links are
// cached in memory and persisted through the storage manager, so they
// survive restarts and are rehydrated by Initialize. A link whose document
// has disappeared is dropped and replaced on the next lookup.
package thread

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/poiesic/threaddocs/core"
	"github.com/poiesic/threaddocs/storage"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrThreadIDRequired is wrapped when an operation gets an empty thread id.
	ErrThreadIDRequired = errors.New("thread id is required")

	// ErrNotInitialized is wrapped by operations called before Initialize.
	ErrNotInitialized = errors.New("thread service not initialized")
)

// DefaultTitle is the title given to documents created for a thread.
const DefaultTitle = "Untitled"

// emptyContent is the snapshot stored when no initial content is given.
var emptyContent = json.RawMessage(`{}`)

// Store is the storage surface the service needs.
// *manager.Manager implements it.
type Store interface {
	Save(ctx context.Context, doc *core.Document) (*core.Document, error)
	Load(ctx context.Context, id string) (*core.Document, error)
	Delete(ctx context.Context, id string) error
	Exists(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, filter core.ListFilter) ([]*core.Document, error)
	SaveLink(ctx context.Context, link core.ThreadDocumentLink) error
	DeleteLink(ctx context.Context, threadID string) error
	ListLinks(ctx context.Context) ([]core.ThreadDocumentLink, error)
}

// Service resolves, creates and links documents for threads.
type Service struct {
	store       Store
	logger      *slog.Logger
	defaultType core.DocumentType

	mu          sync.RWMutex
	links       map[string]core.ThreadDocumentLink
	initialized bool

	creating singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
	}
}

// WithDefaultType sets the type of documents created without an explicit type.
// Default is core.DocumentTypeRichText.
func WithDefaultType(t core.DocumentType) Option {
	return func(s *Service) {
		s.defaultType = t
	}
}

// NewService creates a Service over store. Call Initialize before use.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		logger:      slog.Default().With("component", "thread"),
		defaultType: core.DocumentTypeRichText,
		links:       make(map[string]core.ThreadDocumentLink),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize loads every persisted link into the cache. Links still stored
// as tagged documents from older versions are moved to the link store.
func (s *Service) Initialize(ctx context.Context) error {
	links, err := s.store.ListLinks(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.links = make(map[string]core.ThreadDocumentLink, len(links))
	for _, link := range links {
		s.links[link.ThreadID] = link
	}

	adopted, err := s.adoptTaggedLinks(ctx)
	if err != nil {
		return err
	}

	s.initialized = true
	s.logger.Info("thread links rehydrated", "links", len(s.links), "adopted", adopted)
	return nil
}

// adoptTaggedLinks must be called with s.mu held.
//
// It lists with the same filter as storage.DocumentLinkStore, so on a store
// without a link collection every tagged document is already cached and is
// never deleted here.
func (s *Service) adoptTaggedLinks(ctx context.Context) (int, error) {
	docs, err := s.store.List(ctx, storage.TaggedLinkFilter())
	if err != nil {
		return 0, err
	}

	adopted := 0
	for _, doc := range docs {
		link, err := storage.LinkFromDocument(doc)
		if err != nil {
			s.logger.Warn("skipping unreadable link document", "id", doc.Metadata.ID, "error", err)
			continue
		}
		if _, ok := s.links[link.ThreadID]; ok {
			continue
		}
		if err := s.store.SaveLink(ctx, *link); err != nil {
			return adopted, err
		}
		s.links[link.ThreadID] = *link
		adopted++
		if err := s.store.Delete(ctx, doc.Metadata.ID); err != nil {
			s.logger.Warn("failed to remove adopted link document", "id", doc.Metadata.ID, "error", err)
		}
	}
	return adopted, nil
}

// GetOptions controls GetDocumentForThread.
type GetOptions struct {
	// CreateIfMissing creates a document when the thread has none.
	// nil means true.
	CreateIfMissing *bool

	// Type of a created document. Empty uses the service default.
	Type core.DocumentType
}

// Bool returns a pointer to v, for GetOptions.CreateIfMissing.
func Bool(v bool) *bool {
	return &v
}

func (o GetOptions) createIfMissing() bool {
	return o.CreateIfMissing == nil || *o.CreateIfMissing
}

// GetDocumentForThread returns the document linked to threadID.
//
// A link to a document that no longer exists is removed and treated as no
// link. Without a link a new document is created unless
// opts.CreateIfMissing is false, in which case a NOT_FOUND error is returned.
func (s *Service) GetDocumentForThread(ctx context.Context, threadID string, opts GetOptions) (*core.Document, error) {
	if err := s.check(threadID); err != nil {
		return nil, err
	}

	if link, ok := s.GetLink(threadID); ok {
		doc, err := s.store.Load(ctx, link.DocumentID)
		switch {
		case err == nil:
			return doc, nil
		case errors.Is(err, storage.ErrNotFound):
			s.logger.Warn("dropping dangling thread link", "threadId", threadID, "documentId", link.DocumentID)
			s.evict(ctx, threadID, link.DocumentID)
		default:
			return nil, err
		}
	}

	if !opts.createIfMissing() {
		return nil, storage.NewError(storage.CodeNotFound, false, "no document linked to thread", nil).
			With("threadId", threadID)
	}
	return s.CreateDocumentForThread(ctx, threadID, opts.Type, nil)
}

// CreateDocumentForThread creates and links a new document for threadID.
// If the thread is already linked to an existing document, that document is
// returned instead. Concurrent calls for the same thread share one result;
// the first caller's ctx governs the shared work.
//
// The document is saved before the link, so a failure in between leaves an
// unlinked document rather than a link to nothing.
func (s *Service) CreateDocumentForThread(ctx context.Context, threadID string, docType core.DocumentType, initialContent json.RawMessage) (*core.Document, error) {
	if err := s.check(threadID); err != nil {
		return nil, err
	}

	v, err, shared := s.creating.Do(threadID, func() (any, error) {
		return s.create(ctx, threadID, docType, initialContent)
	})
	if err != nil {
		return nil, err
	}
	doc := v.(*core.Document)
	if shared {
		s.logger.Debug("joined in-flight document creation", "threadId", threadID, "documentId", doc.Metadata.ID)
		return doc.Clone(), nil
	}
	return doc, nil
}

func (s *Service) create(ctx context.Context, threadID string, docType core.DocumentType, initialContent json.RawMessage) (*core.Document, error) {
	if link, ok := s.GetLink(threadID); ok {
		doc, err := s.store.Load(ctx, link.DocumentID)
		if err == nil {
			return doc, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		s.evict(ctx, threadID, link.DocumentID)
	}

	if docType == "" {
		docType = s.defaultType
	}
	content := initialContent
	if len(content) == 0 {
		content = emptyContent
	}

	now := time.Now().UTC()
	saved, err := s.store.Save(ctx, &core.Document{
		Metadata: core.DocumentMetadata{
			ID:        core.NewDocumentID(threadID),
			ThreadID:  threadID,
			Title:     DefaultTitle,
			Type:      docType,
			CreatedAt: now,
		},
		Content: content,
	})
	if err != nil {
		return nil, err
	}

	link := core.ThreadDocumentLink{
		ThreadID:   threadID,
		DocumentID: saved.Metadata.ID,
		CreatedAt:  now,
		IsPrimary:  true,
	}
	if err := s.store.SaveLink(ctx, link); err != nil {
		s.logger.Error("document saved but link not persisted", "threadId", threadID, "documentId", saved.Metadata.ID, "error", err)
		return nil, err
	}
	s.cache(link)

	s.logger.Info("created document for thread", "threadId", threadID, "documentId", saved.Metadata.ID, "type", docType)
	return saved, nil
}

// LinkDocumentToThread links threadID to an existing document, replacing
// any previous link. Returns NOT_FOUND when the document does not exist.
func (s *Service) LinkDocumentToThread(ctx context.Context, threadID, documentID string, isPrimary bool) error {
	if err := s.check(threadID); err != nil {
		return err
	}
	exists, err := s.store.Exists(ctx, documentID)
	if err != nil {
		return err
	}
	if !exists {
		return storage.NotFound(documentID).With("threadId", threadID)
	}

	link := core.ThreadDocumentLink{
		ThreadID:   threadID,
		DocumentID: documentID,
		CreatedAt:  time.Now().UTC(),
		IsPrimary:  isPrimary,
	}
	if err := s.store.SaveLink(ctx, link); err != nil {
		return err
	}
	s.cache(link)
	return nil
}

// UnlinkDocumentFromThread removes the link for threadID. The document
// itself is kept.
func (s *Service) UnlinkDocumentFromThread(ctx context.Context, threadID string) error {
	if err := s.check(threadID); err != nil {
		return err
	}
	if err := s.store.DeleteLink(ctx, threadID); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.links, threadID)
	s.mu.Unlock()
	return nil
}

// GetLink returns the cached link for threadID.
func (s *Service) GetLink(threadID string) (core.ThreadDocumentLink, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	link, ok := s.links[threadID]
	return link, ok
}

// Links returns all cached links ordered by thread id.
func (s *Service) Links() []core.ThreadDocumentLink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	links := make([]core.ThreadDocumentLink, 0, len(s.links))
	for _, link := range s.links {
		links = append(links, link)
	}
	slices.SortFunc(links, func(a, b core.ThreadDocumentLink) int {
		return strings.Compare(a.ThreadID, b.ThreadID)
	})
	return links
}

func (s *Service) check(threadID string) error {
	if threadID == "" {
		return storage.InvalidData(ErrThreadIDRequired)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return storage.NewError(storage.CodeStorageUnavailable, false, "thread service is not initialized", ErrNotInitialized)
	}
	return nil
}

func (s *Service) cache(link core.ThreadDocumentLink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[link.ThreadID] = link
}

// evict drops a dangling link from the cache and the link store, unless
// the thread was relinked to another document meanwhile.
func (s *Service) evict(ctx context.Context, threadID, documentID string) {
	s.mu.Lock()
	current, ok := s.links[threadID]
	if !ok || current.DocumentID != documentID {
		s.mu.Unlock()
		return
	}
	delete(s.links, threadID)
	s.mu.Unlock()

	if err := s.store.DeleteLink(ctx, threadID); err != nil {
		s.logger.Warn("failed to delete dangling link", "threadId", threadID, "error", err)
	}
}
