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

// Package ctxutil provides context helpers.
package ctxutil

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// baseDuration is the exponential backoff base for DurationWithJitter.
const baseDuration = 100 * time.Millisecond

// WithDelay returns a context that is canceled after a given amount of time after done channel is closed.
func WithDelay(done <-chan struct{}, delay time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		select {
		case <-ctx.Done():
			return

		case <-done:
			t := time.NewTimer(delay)
			defer t.Stop()

			select {
			case <-ctx.Done():
				return
			case <-t.C:
				cancel()
			}
		}
	}()

	return ctx, cancel
}

// Sleep pauses the current goroutine until d has passed or ctx is canceled.
func Sleep(ctx context.Context, d time.Duration) {
	sleepCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	<-sleepCtx.Done()
}

// SleepWithJitter pauses the current goroutine for an exponentially backed-off
// duration with jitter, based on the retry number, until it has passed or ctx
// is canceled.
func SleepWithJitter(ctx context.Context, cap time.Duration, retry int64) {
	Sleep(ctx, DurationWithJitter(cap, retry))
}

// DurationWithJitter returns a duration for the given retry number
// using the "full jitter" exponential backoff algorithm:
// a random duration between baseDuration and min(cap, baseDuration * 2 ** retry).
//
// See https://www.awsarchitectureblog.com/2015/03/backoff.html.
func DurationWithJitter(cap time.Duration, retry int64) time.Duration {
	if retry < 1 {
		panic("retry must be a positive number")
	}

	if cap <= baseDuration {
		panic("cap must be greater than base duration")
	}

	maxDuration := int64(cap)
	if retry < 63 {
		if d := int64(baseDuration) * int64(math.Pow(2, float64(retry))); d < maxDuration {
			maxDuration = d
		}
	}

	return time.Duration(rand.Int63n(maxDuration-int64(baseDuration)) + int64(baseDuration))
}
