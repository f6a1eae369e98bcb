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

import (
	"context"
	"fmt"
	"time"

	"github.com/poiesic/threaddocs/storage"
)

// executeWithRetry runs operation up to MaxRetries+1 times.
// A failure is retried only when it is classified retryable; retry n waits
// RetryDelay*n first. Errors are always returned classified.
func executeWithRetry[T any](ctx context.Context, m *Manager, op string, operation func() (T, error)) (T, error) {
	var zero T
	maxRetries := m.cfg.MaxRetries

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			// Linear backoff: RetryDelay * attempt
			timer := time.NewTimer(m.cfg.RetryDelay * time.Duration(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, storage.Classify(ctx.Err(), op)
			case <-timer.C:
			}
		}

		result, err := safeCall(operation)
		if err == nil {
			if attempt > 0 {
				m.logger.Info("operation succeeded after retry", "operation", op, "retries", attempt)
			}
			return result, nil
		}

		lastErr = storage.Classify(err, op)
		if !storage.IsRetryable(lastErr) {
			return zero, lastErr
		}
		if attempt < maxRetries {
			m.logger.Debug("operation failed, will retry", "operation", op, "attempt", attempt+1, "maxRetries", maxRetries, "error", lastErr)
		}
	}

	m.logger.Warn("operation failed after retries", "operation", op, "retries", maxRetries, "error", lastErr)
	return zero, lastErr
}

// safeCall converts a panic inside an adapter into an UNKNOWN_ERROR.
func safeCall[T any](operation func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = storage.NewError(storage.CodeUnknownError, true, "adapter panicked", fmt.Errorf("%v", r))
		}
	}()
	return operation()
}
