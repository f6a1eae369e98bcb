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

import "errors"

var (
	// ErrNoBackendAvailable is returned by Initialize when neither the
	// primary nor any fallback adapter could be opened.
	ErrNoBackendAvailable = errors.New("no storage backend available")

	// ErrNotInitialized is wrapped by operations called before Initialize
	// or after Shutdown.
	ErrNotInitialized = errors.New("storage manager not initialized")

	// ErrUnknownBackend indicates the config names an adapter that was not registered.
	ErrUnknownBackend = errors.New("unknown storage backend")

	// ErrDuplicateBackend indicates two registered adapters share a name.
	ErrDuplicateBackend = errors.New("duplicate storage backend")
)
