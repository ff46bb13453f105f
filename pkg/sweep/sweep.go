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

// Package sweep implements the background expiry sweepers (spec.md §5's
// "Design Notes" redesign flag): one time.Ticker-driven goroutine per store,
// rather than a single shared process-wide tick.
package sweep

import (
	"context"
	"sync"
	"time"

	"github.com/elpablos/seacat-auth/pkg/logger"
)

// DefaultInterval is used when NewSweeper is not given WithInterval.
const DefaultInterval = time.Minute

// DefaultBatchSize is used when NewSweeper is not given WithBatchSize.
const DefaultBatchSize = 256

// Store is satisfied by both pkg/session.Store and pkg/tokenstore.Store:
// each sweeps at most batchSize expired records per call and reports how
// many it removed.
type Store interface {
	SweepExpired(ctx context.Context, batchSize int) (int, error)
}

// Recorder observes sweep activity. pkg/metrics.Recorder satisfies this;
// nil is a valid no-op Recorder via NopRecorder.
type Recorder interface {
	ObserveSweep(name string, removed int, err error)
}

// NopRecorder discards every observation.
type NopRecorder struct{}

// ObserveSweep implements Recorder.
func (NopRecorder) ObserveSweep(string, int, error) {}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) { s.interval = d }
}

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) Option {
	return func(s *Sweeper) { s.batchSize = n }
}

// WithRecorder attaches a Recorder. The zero value otherwise uses NopRecorder.
func WithRecorder(r Recorder) Option {
	return func(s *Sweeper) {
		if r == nil {
			r = NopRecorder{}
		}
		s.recorder = r
	}
}

// Sweeper drives one Store's SweepExpired on a fixed interval until Close.
// A single Sweeper is bound to a single Store; a deployment that sweeps both
// the session store and the token store runs two Sweepers, per spec.md §5's
// "one ticker per store" resolution.
type Sweeper struct {
	name      string
	store     Store
	interval  time.Duration
	batchSize int
	recorder  Recorder

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewSweeper constructs a Sweeper over store, identified by name for
// logging/metrics purposes. It does not start sweeping until Start is
// called.
func NewSweeper(name string, store Store, opts ...Option) *Sweeper {
	s := &Sweeper{
		name:      name,
		store:     store,
		interval:  DefaultInterval,
		batchSize: DefaultBatchSize,
		recorder:  NopRecorder{},
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the sweeper's goroutine. It returns immediately; the
// goroutine runs until ctx is cancelled or Close is called.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		defer close(s.done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

func (s *Sweeper) tick(ctx context.Context) {
	removed, err := s.store.SweepExpired(ctx, s.batchSize)
	s.recorder.ObserveSweep(s.name, removed, err)
	if err != nil {
		logger.Errorw("sweep: sweep failed", "sweeper", s.name, "error", err)
		return
	}
	if removed > 0 {
		logger.Debugw("sweep: removed expired records", "sweeper", s.name, "removed", removed)
	}
}

// Close stops the sweeper's goroutine and waits for it to exit. Safe to call
// multiple times and safe to call before Start (no-op in that case).
func (s *Sweeper) Close() {
	s.once.Do(func() {
		if s.cancel == nil {
			return
		}
		s.cancel()
		<-s.done
	})
}
