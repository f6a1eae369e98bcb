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

// Package storage provides the storage abstraction layer for threaddocs.
//
// This package defines the Adapter contract that decouples document
// persistence from the manager and the thread service. Adapters for a local
// persistent store (BadgerDB) and an in-memory fallback live in
// subpackages and can be used interchangeably.
//
// # Error Classification
//
// Adapters are the only layer that sees raw backend errors. Every failure
// leaving an adapter is a *StorageError carrying a code from the closed set
// below and a Retryable flag decided at classification time:
//
//   - Connection: CONNECTION_FAILED, TIMEOUT, NETWORK_ERROR
//   - Data: NOT_FOUND, ALREADY_EXISTS, INVALID_DATA, CORRUPTED_DATA
//   - Permission: PERMISSION_DENIED, QUOTA_EXCEEDED
//   - Conflict: VERSION_CONFLICT, CONCURRENT_MODIFICATION
//   - System: STORAGE_UNAVAILABLE, UNKNOWN_ERROR
//
// Use errors.Is with the package sentinels to test for a code:
//
//	if errors.Is(err, storage.ErrNotFound) {
//	    // create it
//	}
//
// # Records
//
// Each document is persisted twice in one unit of work: the full Document
// and its DocumentMetadata projection. Listing and existence checks read
// only the metadata collection. Records are JSON; the Content payload is
// an opaque editor snapshot and is stored verbatim.
//
// # Thread Links
//
// Adapters may implement LinkStore to keep thread-document links in a
// dedicated collection. For adapters that don't, DocumentLinkStore encodes
// each link as a tagged document with id "link_{threadId}".
//
// # Context Support
//
// All adapter methods accept context.Context. Adapters check it before
// starting work; an operation already handed to the backend runs to
// completion.
package storage
