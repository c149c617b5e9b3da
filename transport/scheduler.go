/*
Copyright (c) st2110go contributors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package transport

import (
	"context"
	"sync"
)

// GoroutineScheduler implements Scheduler with one goroutine per
// lcore, each driving its registered tick functions back-to-back in
// registration order, guaranteeing single-threaded entry per lcore
// per tick (§5 "Scheduling model").
type GoroutineScheduler struct {
	mu     sync.Mutex
	lcores map[int]*lcoreLoop
}

type lcoreLoop struct {
	mu    sync.Mutex
	ticks []func()
	wake  chan struct{}
}

// NewGoroutineScheduler returns an empty scheduler.
func NewGoroutineScheduler() *GoroutineScheduler {
	return &GoroutineScheduler{lcores: make(map[int]*lcoreLoop)}
}

// Register implements Scheduler.
func (s *GoroutineScheduler) Register(ctx context.Context, lcore int, tick func()) func() {
	s.mu.Lock()
	loop, ok := s.lcores[lcore]
	if !ok {
		loop = &lcoreLoop{wake: make(chan struct{}, 1)}
		s.lcores[lcore] = loop
		go loop.run(ctx)
	}
	s.mu.Unlock()

	loop.mu.Lock()
	loop.ticks = append(loop.ticks, tick)
	idx := len(loop.ticks) - 1
	loop.mu.Unlock()

	cancelled := false
	return func() {
		loop.mu.Lock()
		if !cancelled && idx < len(loop.ticks) {
			loop.ticks[idx] = func() {}
			cancelled = true
		}
		loop.mu.Unlock()
	}
}

// run drives every registered tick function on this lcore in a tight
// cooperative loop until ctx is done. Tick functions must not block
// (§5); the loop does not otherwise rate-limit itself, leaving pacing
// to each session's own epoch/tick logic.
func (l *lcoreLoop) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		l.mu.Lock()
		ticks := make([]func(), len(l.ticks))
		copy(ticks, l.ticks)
		l.mu.Unlock()
		for _, t := range ticks {
			t()
		}
	}
}
