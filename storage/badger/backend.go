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
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// errNotDirectory is returned when the database path names a regular file.
var errNotDirectory = errors.New("database path is not a directory")

// Backend owns the BadgerDB handle shared by the adapter's collections.
type Backend struct {
	db *badger.DB
}

// slogBridge routes badger's printf-style logging into slog.
type slogBridge struct {
	logger *slog.Logger
}

var _ badger.Logger = (*slogBridge)(nil)

func (b *slogBridge) Errorf(msg string, items ...any) {
	b.logger.Error(fmt.Sprintf(msg, items...))
}

func (b *slogBridge) Warningf(msg string, items ...any) {
	b.logger.Warn(fmt.Sprintf(msg, items...))
}

// Badger's info output is chatty (compactions, value log GC), so it is
// demoted to debug.
func (b *slogBridge) Infof(msg string, items ...any) {
	b.logger.Debug(fmt.Sprintf(msg, items...))
}

func (b *slogBridge) Debugf(msg string, items ...any) {
	b.logger.Debug(fmt.Sprintf(msg, items...))
}

// OpenBackend opens the database directory at filePath, creating it when
// missing. With inMemory set the path is ignored and nothing touches disk.
// A nil logger falls back to slog.Default().
func OpenBackend(filePath string, inMemory bool, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := ensureDir(filePath); err != nil {
			return nil, err
		}
		// Saves are acknowledged to callers as durable.
		opts = badger.DefaultOptions(filePath).WithSyncWrites(true)
	}
	opts.Logger = &slogBridge{logger: logger.With("component", "badger")}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Backend{db: db}, nil
}

func ensureDir(path string) error {
	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		return os.MkdirAll(path, 0o755)
	case err != nil:
		return err
	case !info.IsDir():
		return fmt.Errorf("%w: %s", errNotDirectory, path)
	}
	return nil
}

// Close closes the database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// IsClosed reports whether Close has been called.
func (b *Backend) IsClosed() bool {
	return b.db.IsClosed()
}

// WithTx runs fn in a transaction that is discarded afterwards.
// Write transactions must be committed by fn.
func (b *Backend) WithTx(fn func(tx *badger.Txn) error, isWrite bool) error {
	tx := b.db.NewTransaction(isWrite)
	defer tx.Discard()
	return fn(tx)
}

// DropAll deletes every key in the database.
func (b *Backend) DropAll() error {
	return b.db.DropAll()
}
