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

package migrate

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// ProgressTracker writes a single updating progress line for a migration run.
type ProgressTracker struct {
	mu       sync.Mutex
	writer   io.Writer
	total    int
	every    int
	done     int
	failed   int
	reported int
	start    time.Time
	started  bool
}

// NewProgressTracker creates a tracker for total records that reports
// after every n processed records. n below 1 is treated as 1.
func NewProgressTracker(writer io.Writer, total, n int) *ProgressTracker {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressTracker{
		writer: writer,
		total:  total,
		every:  max(n, 1),
	}
}

// Start resets the counters and the clock.
func (p *ProgressTracker) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.start = time.Now()
	p.started = true
	p.done, p.failed, p.reported = 0, 0, 0
}

// Record counts one processed record.
func (p *ProgressTracker) Record(failed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.done = min(p.done+1, p.total)
	if failed {
		p.failed++
	}
	if p.done-p.reported >= p.every {
		p.report()
		p.reported = p.done
	}
}

// Finish prints the final line.
func (p *ProgressTracker) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.report()
	fmt.Fprintln(p.writer)
}

// Elapsed returns the time since Start.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return 0
	}
	return time.Since(p.start)
}

// report must be called with the lock held.
func (p *ProgressTracker) report() {
	pct := 100.0
	if p.total > 0 {
		pct = float64(p.done) / float64(p.total) * 100.0
	}
	fmt.Fprintf(p.writer, "\rmigrating: %d/%d (%.1f%%), %d failed, %s",
		p.done, p.total, pct, p.failed, time.Since(p.start).Round(time.Millisecond))
}
