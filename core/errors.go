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

import "errors"

// Domain validation errors
var (
	// ErrInvalidDocument indicates a Document failed validation.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrInvalidLink indicates a ThreadDocumentLink failed validation.
	ErrInvalidLink = errors.New("invalid thread link")

	// ErrEmptyDocumentID indicates the metadata ID field is empty.
	ErrEmptyDocumentID = errors.New("document id cannot be empty")

	// ErrEmptyThreadID indicates a thread identifier is empty.
	ErrEmptyThreadID = errors.New("thread id cannot be empty")

	// ErrInvalidDocumentType indicates an unknown DocumentType value.
	ErrInvalidDocumentType = errors.New("invalid document type")

	// ErrInvalidContent indicates the content payload is not valid JSON.
	ErrInvalidContent = errors.New("content must be valid JSON")

	// ErrNegativeVersion indicates a version below zero.
	ErrNegativeVersion = errors.New("version cannot be negative")
)
