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

import "context"

// NewMemoryAdapter creates an initialized in-memory badger adapter for testing.
// Caller must Close it when done.
func NewMemoryAdapter(opts ...Option) (*Adapter, error) {
	adapter := New("", append(opts, WithInMemory(true))...)
	if err := adapter.Initialize(context.Background()); err != nil {
		return nil, err
	}
	return adapter, nil
}
