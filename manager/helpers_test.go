package manager

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/threaddocs/core"
	"github.com/poiesic/threaddocs/storage"
	"github.com/poiesic/threaddocs/storage/memory"
	"github.com/stretchr/testify/require"
)

// scriptedAdapter is a memory adapter whose Save and Initialize can be
// made to fail on demand.
type scriptedAdapter struct {
	*memory.Adapter
	name        string
	unavailable bool
	initErr     error

	mu         sync.Mutex
	saveErrs   []error // returned in order before delegating
	saveErr    error   // returned on every call when set
	savePanic  bool
	saveCalls  int
	closeCalls int
}

func newScripted(name string) *scriptedAdapter {
	return &scriptedAdapter{Adapter: memory.New(), name: name}
}

func (s *scriptedAdapter) Name() string { return s.name }

func (s *scriptedAdapter) IsAvailable(ctx context.Context) bool {
	return !s.unavailable && s.Adapter.IsAvailable(ctx)
}

func (s *scriptedAdapter) Initialize(ctx context.Context) error {
	if s.initErr != nil {
		return s.initErr
	}
	return s.Adapter.Initialize(ctx)
}

func (s *scriptedAdapter) Save(ctx context.Context, doc *core.Document) (*core.Document, error) {
	s.mu.Lock()
	s.saveCalls++
	if s.savePanic {
		s.mu.Unlock()
		panic("boom")
	}
	if s.saveErr != nil {
		err := s.saveErr
		s.mu.Unlock()
		return nil, err
	}
	if len(s.saveErrs) > 0 {
		err := s.saveErrs[0]
		s.saveErrs = s.saveErrs[1:]
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()
	return s.Adapter.Save(ctx, doc)
}

func (s *scriptedAdapter) Close() error {
	s.mu.Lock()
	s.closeCalls++
	s.mu.Unlock()
	return s.Adapter.Close()
}

func (s *scriptedAdapter) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveCalls
}

func retryableErr() error {
	return storage.NewError(storage.CodeConcurrentModification, true, "transaction conflict", nil)
}

func testConfig(opts ...ConfigOption) *Config {
	base := []ConfigOption{
		WithPrimary("primary"),
		WithFallbacks("fallback"),
		WithRetryDelay(time.Millisecond),
		WithAutoSaveInterval(0),
	}
	return NewConfig(append(base, opts...)...)
}

func newTestManager(t *testing.T, cfg *Config, adapters ...storage.Adapter) *Manager {
	t.Helper()
	m, err := New(cfg, adapters)
	require.NoError(t, err)
	require.NoError(t, m.Initialize(context.Background()))
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	return m
}

func newDoc(id string) *core.Document {
	return &core.Document{
		Metadata: core.DocumentMetadata{
			ID:       id,
			ThreadID: "t1",
			Title:    "Untitled",
			Type:     core.DocumentTypeRichText,
		},
		Content: json.RawMessage(`{"blocks":[]}`),
	}
}
