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

package manager

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/threaddocs/core"
	"github.com/poiesic/threaddocs/storage"
)

// QueueOptions controls how a queued save is ordered and reported.
type QueueOptions struct {
	// Priority orders the queue, highest first. Equal priorities keep
	// insertion order.
	Priority int

	// OnSuccess is called with the persisted document.
	OnSuccess func(*core.Document)

	// OnError is called after every failed attempt, including attempts
	// that are re-enqueued.
	OnError func(error)
}

type queueItem struct {
	doc      *core.Document
	opts     QueueOptions
	queuedAt time.Time
	retries  int
}

// QueueSave schedules doc for a background save and returns immediately.
// The document is copied; later changes by the caller are not saved.
func (m *Manager) QueueSave(doc *core.Document, opts QueueOptions) error {
	if doc == nil {
		return storage.InvalidData(core.ErrInvalidDocument)
	}
	m.enqueue(&queueItem{
		doc:      doc.Clone(),
		opts:     opts,
		queuedAt: time.Now().UTC(),
	})
	return nil
}

// QueueLen returns the number of pending saves.
func (m *Manager) QueueLen() int {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	return len(m.queue)
}

func (m *Manager) enqueue(item *queueItem) {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	m.queue = append(m.queue, item)
	slices.SortStableFunc(m.queue, func(a, b *queueItem) int {
		return cmp.Compare(b.opts.Priority, a.opts.Priority)
	})
}

func (m *Manager) dequeue() *queueItem {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	if len(m.queue) == 0 {
		return nil
	}
	item := m.queue[0]
	m.queue[0] = nil
	m.queue = m.queue[1:]
	return item
}

// Flush saves every queued item, one at a time, until the queue is empty.
// Failures are reported through each item's OnError; Flush itself only
// fails when the manager is not initialized or ctx is done.
func (m *Manager) Flush(ctx context.Context) error {
	if _, err := m.adapter(); err != nil {
		return err
	}
	m.drainMu.Lock()
	defer m.drainMu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return storage.Classify(err, "flush")
		}
		if !m.processNext(ctx) {
			return nil
		}
	}
}

// processNext saves the head of the queue. The caller must hold drainMu.
// Returns false when the queue was empty.
func (m *Manager) processNext(ctx context.Context) bool {
	item := m.dequeue()
	if item == nil {
		return false
	}

	saved, err := m.Save(ctx, item.doc)
	if err == nil {
		m.logger.Debug("queued save completed", "id", saved.Metadata.ID, "version", saved.Metadata.Version,
			"waited", time.Since(item.queuedAt))
		if item.opts.OnSuccess != nil {
			item.opts.OnSuccess(saved)
		}
		return true
	}

	if item.opts.OnError != nil {
		item.opts.OnError(err)
	}
	if storage.IsRetryable(err) && item.retries < m.cfg.QueueRetries() {
		item.retries++
		m.logger.Debug("re-enqueueing failed save", "id", item.doc.Metadata.ID, "retries", item.retries, "error", err)
		m.enqueue(item)
		return true
	}
	m.logger.Error("queued save failed", "id", item.doc.Metadata.ID, "retries", item.retries, "error", err)
	return true
}

func (m *Manager) runAutoSave(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.drainTick(ctx)
		}
	}
}

// drainTick hands one queue item to the single auto-save worker. When a
// drain is already in flight the tick is skipped.
func (m *Manager) drainTick(ctx context.Context) {
	if m.QueueLen() == 0 {
		return
	}
	m.mu.RLock()
	pool := m.pool
	m.mu.RUnlock()
	if pool == nil {
		return
	}

	err := pool.Submit(func() {
		if !m.drainMu.TryLock() {
			return
		}
		defer m.drainMu.Unlock()
		// An in-flight save finishes even if shutdown starts meanwhile.
		m.processNext(context.WithoutCancel(ctx))
	})
	switch {
	case err == nil:
	case errors.Is(err, ants.ErrPoolOverload):
		m.logger.Debug("auto-save drain already in flight")
	default:
		m.logger.Warn("auto-save drain not scheduled", "error", err)
	}
}
