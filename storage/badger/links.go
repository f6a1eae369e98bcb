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

package badger

import (
	"context"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/threaddocs/core"
	"github.com/poiesic/threaddocs/storage"
)

// SaveLink persists the link for a thread, replacing any previous one.
func (a *Adapter) SaveLink(ctx context.Context, link core.ThreadDocumentLink) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ready(ctx, "save_link"); err != nil {
		return err
	}
	if err := core.ValidateLink(&link); err != nil {
		return storage.InvalidData(err)
	}

	value := storage.MarshalLink(&link)
	err := a.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(makeLinkKey(link.ThreadID), value); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return classify(err, "save_link")
	}
	return nil
}

// DeleteLink removes the link for a thread. Missing links are ignored.
func (a *Adapter) DeleteLink(ctx context.Context, threadID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ready(ctx, "delete_link"); err != nil {
		return err
	}

	err := a.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Delete(makeLinkKey(threadID)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return classify(err, "delete_link")
	}
	return nil
}

// ListLinks returns every persisted link ordered by thread id.
func (a *Adapter) ListLinks(ctx context.Context) ([]core.ThreadDocumentLink, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if err := a.ready(ctx, "list_links"); err != nil {
		return nil, err
	}

	var links []core.ThreadDocumentLink
	err := a.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(linkPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			err := iter.Item().Value(func(val []byte) error {
				link, err := storage.UnmarshalLink(val)
				if err != nil {
					return err
				}
				links = append(links, *link)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, classify(err, "list_links")
	}
	return links, nil
}
