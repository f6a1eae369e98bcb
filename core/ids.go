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
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
	"github.com/google/uuid"
)

const (
	documentIDPrefix = "doc_"
	linkIDPrefix     = "link_"
	randomSuffixLen  = 9
)

// NewDocumentID generates an id for a new document in a thread.
// Format: doc_{threadID}_{unixMillis}_{random}. The random suffix is taken
// from a v4 UUID, so ids are collision resistant but not secret.
func NewDocumentID(threadID string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:randomSuffixLen]
	var b strings.Builder
	b.WriteString(documentIDPrefix)
	b.WriteString(threadID)
	b.WriteByte('_')
	b.WriteString(strconv.FormatInt(time.Now().UnixMilli(), 10))
	b.WriteByte('_')
	b.WriteString(suffix)
	return b.String()
}

// LinkDocumentID returns the id of the tagged document that encodes the
// link for threadID when a backend has no dedicated link collection.
func LinkDocumentID(threadID string) string {
	return linkIDPrefix + threadID
}

// HashContent returns the hex encoded BLAKE2b-256 digest of a snapshot.
func HashContent(content []byte) string {
	h, _ := blake2b.New(32, nil)
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}
