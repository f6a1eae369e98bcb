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
	"encoding/json"
	"fmt"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/threaddocs/core"
)

// MarshalDocument serializes a full Document record.
func MarshalDocument(doc *core.Document) ([]byte, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, NewError(CodeInvalidData, false, "document could not be encoded", err)
	}
	return data, nil
}

// UnmarshalDocument deserializes a full Document record.
func UnmarshalDocument(data []byte) (*core.Document, error) {
	var doc core.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, NewError(CodeCorruptedData, false, "document record could not be decoded", err)
	}
	return &doc, nil
}

// MarshalMetadata serializes a metadata index record.
func MarshalMetadata(meta *core.DocumentMetadata) ([]byte, error) {
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, NewError(CodeInvalidData, false, "metadata could not be encoded", err)
	}
	return data, nil
}

// UnmarshalMetadata deserializes a metadata index record.
func UnmarshalMetadata(data []byte) (*core.DocumentMetadata, error) {
	var meta core.DocumentMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, NewError(CodeCorruptedData, false, "metadata record could not be decoded", err)
	}
	return &meta, nil
}

// linkMUS is the binary MUS codec of link records. CreatedAt is stored as
// Unix microseconds.
type linkMUS struct{}

// LinkMUS encodes ThreadDocumentLink values.
var LinkMUS = linkMUS{}

func (linkMUS) Marshal(v core.ThreadDocumentLink, bs []byte) (n int) {
	n = ord.String.Marshal(v.ThreadID, bs)
	n += ord.String.Marshal(v.DocumentID, bs[n:])
	n += varint.Int64.Marshal(v.CreatedAt.UnixMicro(), bs[n:])
	return n + ord.Bool.Marshal(v.IsPrimary, bs[n:])
}

func (linkMUS) Unmarshal(bs []byte) (v core.ThreadDocumentLink, n int, err error) {
	v.ThreadID, n, err = ord.String.Unmarshal(bs)
	if err != nil {
		return
	}
	var n1 int
	v.DocumentID, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	var micros int64
	micros, n1, err = varint.Int64.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.CreatedAt = time.UnixMicro(micros).UTC()
	v.IsPrimary, n1, err = ord.Bool.Unmarshal(bs[n:])
	n += n1
	return
}

func (linkMUS) Size(v core.ThreadDocumentLink) (size int) {
	size = ord.String.Size(v.ThreadID)
	size += ord.String.Size(v.DocumentID)
	size += varint.Int64.Size(v.CreatedAt.UnixMicro())
	return size + ord.Bool.Size(v.IsPrimary)
}

// MarshalLink serializes a thread link record.
func MarshalLink(link *core.ThreadDocumentLink) []byte {
	buf := make([]byte, LinkMUS.Size(*link))
	LinkMUS.Marshal(*link, buf)
	return buf
}

// UnmarshalLink deserializes a thread link record.
func UnmarshalLink(data []byte) (*core.ThreadDocumentLink, error) {
	link, n, err := LinkMUS.Unmarshal(data)
	if err == nil && n != len(data) {
		err = fmt.Errorf("%d trailing bytes", len(data)-n)
	}
	if err != nil {
		return nil, NewError(CodeCorruptedData, false, "link record could not be decoded", err)
	}
	return &link, nil
}
