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
	"encoding/binary"
	"time"

	"github.com/poiesic/threaddocs/core"
)

// Key prefixes for different record types
const (
	documentPrefix    = "docrec:"
	metadataPrefix    = "docmeta:"
	threadIndexPrefix = "docthr:"
	typeIndexPrefix   = "doctyp:"
	updatedPrefix     = "docupd:"
	linkPrefix        = "thrlink:"
)

// indexSeparator terminates the variable length component of index keys so
// that a scan for thread "a" does not match thread "ab".
const indexSeparator = 0x00

// makeDocumentKey generates a key for a full document record.
func makeDocumentKey(id string) []byte {
	return []byte(documentPrefix + id)
}

// makeMetadataKey generates a key for a metadata record.
func makeMetadataKey(id string) []byte {
	return []byte(metadataPrefix + id)
}

// makeThreadIndexKey generates a composite key for the thread index.
// Format: prefix threadID 0x00 id
func makeThreadIndexKey(threadID, id string) []byte {
	return append(makePartialThreadIndexKey(threadID), id...)
}

// makePartialThreadIndexKey generates the scan prefix for one thread.
func makePartialThreadIndexKey(threadID string) []byte {
	buf := make([]byte, 0, len(threadIndexPrefix)+len(threadID)+1)
	buf = append(buf, threadIndexPrefix...)
	buf = append(buf, threadID...)
	return append(buf, indexSeparator)
}

// makeTypeIndexKey generates a composite key for the type index.
// Format: prefix type 0x00 id
func makeTypeIndexKey(docType core.DocumentType, id string) []byte {
	return append(makePartialTypeIndexKey(docType), id...)
}

// makePartialTypeIndexKey generates the scan prefix for one document type.
func makePartialTypeIndexKey(docType core.DocumentType) []byte {
	buf := make([]byte, 0, len(typeIndexPrefix)+len(docType)+1)
	buf = append(buf, typeIndexPrefix...)
	buf = append(buf, docType...)
	return append(buf, indexSeparator)
}

// makeUpdatedIndexKey generates a composite key for the updatedAt index.
// Format: prefix timestamp id
func makeUpdatedIndexKey(updatedAt time.Time, id string) []byte {
	prefixBytes := []byte(updatedPrefix)
	buf := make([]byte, len(prefixBytes)+8+len(id))
	offset := copy(buf, prefixBytes)
	// Write in BigEndian order so lexicographic sort works correctly
	binary.BigEndian.PutUint64(buf[offset:], uint64(updatedAt.UnixMicro()))
	offset += 8
	copy(buf[offset:], id)
	return buf
}

// makeLinkKey generates a key for a thread link record.
func makeLinkKey(threadID string) []byte {
	return []byte(linkPrefix + threadID)
}
