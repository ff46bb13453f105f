// Copyright 2025 Stacklok, Inc.
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

package ldap

import "context"

// workerPool bounds how many goroutines may be inside LDAP directory calls
// at once, since go-ldap's *Conn is a synchronous client with no connection
// pooling of its own.
type workerPool struct {
	tokens chan struct{}
}

func newWorkerPool(size int) *workerPool {
	return &workerPool{tokens: make(chan struct{}, size)}
}

func (w *workerPool) acquire(ctx context.Context) error {
	select {
	case w.tokens <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *workerPool) release() { <-w.tokens }

// runOn blocks until a pool slot is free or ctx is cancelled, then runs fn
// on the calling goroutine while holding the slot, and returns fn's result.
func runOn[T any](ctx context.Context, pool *workerPool, fn func() (T, error)) (T, error) {
	var zero T
	if err := pool.acquire(ctx); err != nil {
		return zero, err
	}
	defer pool.release()
	return fn()
}
