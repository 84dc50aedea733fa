// Copyright 2023 MeerkatDB Contributors
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

package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap/zapcore"
)

// RecentEntries keeps the last 1024 log entries in memory
// so they can be returned by the getLog command.
var RecentEntries = NewCircularBuffer(1024)

// CircularBuffer is a fixed-size in-memory storage of log entries.
type CircularBuffer struct {
	mu    sync.RWMutex
	log   []*zapcore.Entry
	index int
}

// NewCircularBuffer creates a circular buffer for log entries of the given size.
func NewCircularBuffer(size int) *CircularBuffer {
	if size < 1 {
		panic(fmt.Sprintf("buffer size must be at least 1, but %d provided", size))
	}

	return &CircularBuffer{
		log: make([]*zapcore.Entry, size),
	}
}

// append adds an entry to the buffer, evicting the oldest one if needed.
func (cb *CircularBuffer) append(entry *zapcore.Entry) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.log[cb.index] = entry
	cb.index = (cb.index + 1) % len(cb.log)
}

// Get returns stored entries from the oldest to the newest.
func (cb *CircularBuffer) Get() []zapcore.Entry {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	entries := make([]zapcore.Entry, 0, len(cb.log))

	for i := 0; i < len(cb.log); i++ {
		k := (i + cb.index) % len(cb.log)

		if cb.log[k] != nil {
			entries = append(entries, *cb.log[k])
		}
	}

	return entries
}
