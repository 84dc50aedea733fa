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

package cdc

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/meerkatdb/meerkatdb/internal/cdc/objstore"
	"github.com/meerkatdb/meerkatdb/internal/util/ctxutil"
	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
)

const (
	namespace = "meerkatdb"
	subsystem = "cdc"
)

// Batch insert retry bounds.
const (
	maxInsertAttempts = 5
	insertRetryCap    = 30 * time.Second
)

// Ingester moves staged files from an object store into a destination.
//
// A single poller lists files matching the configured glob and hands
// unclaimed ones to a bounded worker pool. A file is claimed when it has
// no marker in the destination and is not already in flight; the claim is
// dropped without a marker on failures that a later poll should retry.
type Ingester struct {
	config *Config
	store  objstore.ObjectStore
	dest   Destination
	decode decodeFunc
	l      *zap.Logger

	rw       sync.Mutex
	inFlight map[string]struct{}
	done     map[string]struct{}

	files *prometheus.CounterVec
	rows  prometheus.Counter
	queue prometheus.Gauge
}

// NewIngesterParams represents the parameters of NewIngester.
type NewIngesterParams struct {
	Config      *Config
	Store       objstore.ObjectStore
	Destination Destination
	L           *zap.Logger
}

// NewIngester validates the configuration and creates a new Ingester.
func NewIngester(params *NewIngesterParams) (*Ingester, error) {
	config := *params.Config
	config.setDefaults()

	if err := config.validate(); err != nil {
		return nil, err
	}

	decode, err := decoderFor(config.Format)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	return &Ingester{
		config:   &config,
		store:    params.Store,
		dest:     params.Destination,
		decode:   decode,
		l:        params.L,
		inFlight: map[string]struct{}{},
		done:     map[string]struct{}{},
		files: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "files_total",
				Help:      "Total number of staged files with a written marker, labeled by status.",
			},
			[]string{"status"},
		),
		rows: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "rows_total",
				Help:      "Total number of change rows inserted into the destination.",
			},
		),
		queue: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "queue_depth",
				Help:      "The current number of claimed staged files waiting for a worker.",
			},
		),
	}, nil
}

// Run creates the destination tables and ingests staged files until ctx is canceled.
func (ing *Ingester) Run(ctx context.Context) error {
	if err := ing.dest.CreateTables(ctx); err != nil {
		return lazyerrors.Error(err)
	}

	// the channel capacity bounds how far polling can run ahead of the workers;
	// a full channel pauses the poller until a worker drains it
	pending := make(chan string, ing.config.MaxThreads*2)

	eg, egCtx := errgroup.WithContext(ctx)

	for i := 0; i < ing.config.MaxThreads; i++ {
		eg.Go(func() error {
			for key := range pending {
				ing.queue.Dec()
				ing.processFile(egCtx, key)
			}

			return nil
		})
	}

	eg.Go(func() error {
		defer close(pending)

		ticker := time.NewTicker(ing.config.PollInterval)
		defer ticker.Stop()

		for {
			ing.poll(egCtx, pending)

			select {
			case <-egCtx.Done():
				return egCtx.Err()
			case <-ticker.C:
			}
		}
	})

	return eg.Wait()
}

// poll lists staged files and enqueues unclaimed ones in key order.
func (ing *Ingester) poll(ctx context.Context, pending chan<- string) {
	infos, err := ing.store.List(ctx, ing.config.PathGlob)
	if err != nil {
		if ctx.Err() == nil {
			ing.l.Warn("Failed to list staged files", zap.Error(err))
		}

		return
	}

	for _, info := range infos {
		if ctx.Err() != nil {
			return
		}

		if !ing.claim(info.Key) {
			continue
		}

		processed, err := ing.dest.Processed(ctx, info.Key)
		if err != nil {
			if ctx.Err() == nil {
				ing.l.Warn("Failed to check marker", zap.String("path", info.Key), zap.Error(err))
			}

			ing.release(info.Key)

			return
		}

		if processed {
			ing.markDone(info.Key)
			continue
		}

		select {
		case pending <- info.Key:
			ing.queue.Inc()
		case <-ctx.Done():
			ing.release(info.Key)
			return
		}
	}
}

// claim reserves a key for processing.
// It reports false if the key was already handled or is in flight.
func (ing *Ingester) claim(key string) bool {
	ing.rw.Lock()
	defer ing.rw.Unlock()

	if _, ok := ing.done[key]; ok {
		return false
	}

	if _, ok := ing.inFlight[key]; ok {
		return false
	}

	ing.inFlight[key] = struct{}{}

	return true
}

// release drops the claim so that a later poll retries the key.
func (ing *Ingester) release(key string) {
	ing.rw.Lock()
	defer ing.rw.Unlock()

	delete(ing.inFlight, key)
}

// markDone drops the claim and stops further polls from reclaiming the key.
func (ing *Ingester) markDone(key string) {
	ing.rw.Lock()
	defer ing.rw.Unlock()

	delete(ing.inFlight, key)
	ing.done[key] = struct{}{}
}

// processFile downloads, decodes, and inserts one staged file, then writes
// its marker. Fetch and insert failures leave the file unmarked for a later
// poll; decode failures write a failed marker, and the file is not retried.
func (ing *Ingester) processFile(ctx context.Context, key string) {
	start := time.Now()

	r, err := ing.store.Get(ctx, key)
	if err != nil {
		if ctx.Err() == nil {
			ing.l.Warn("Failed to fetch staged file", zap.String("path", key), zap.Error(err))
		}

		ing.release(key)

		return
	}

	data, err := io.ReadAll(r)
	_ = r.Close()

	if err != nil {
		ing.l.Warn("Failed to read staged file", zap.String("path", key), zap.Error(err))
		ing.release(key)

		return
	}

	rows, err := ing.decode(data)
	if err != nil {
		ing.l.Warn("Failed to decode staged file", zap.String("path", key), zap.Error(err))
		ing.fail(ctx, key, err)

		return
	}

	total := len(rows)

	for len(rows) > 0 {
		n := len(rows)
		if n > ing.config.MaxBlockSize {
			n = ing.config.MaxBlockSize
		}

		if err = ing.insertWithRetry(ctx, rows[:n]); err != nil {
			if ctx.Err() == nil {
				ing.l.Warn("Failed to insert batch", zap.String("path", key), zap.Error(err))
			}

			ing.release(key)

			return
		}

		ing.rows.Add(float64(n))
		rows = rows[n:]
	}

	if ing.config.AfterProcessing == AfterProcessingDelete {
		if err = ing.store.Delete(ctx, key); err != nil {
			ing.l.Warn("Failed to delete staged file", zap.String("path", key), zap.Error(err))
		}
	}

	marker := &Marker{
		Path:   key,
		Status: StatusProcessed,
		Rows:   total,
	}

	if err = ing.dest.MarkProcessed(ctx, marker); err != nil {
		// rows are already inserted; reprocessing after the retry is
		// harmless because the destination collapses duplicates
		if ctx.Err() == nil {
			ing.l.Warn("Failed to write marker", zap.String("path", key), zap.Error(err))
		}

		ing.release(key)

		return
	}

	ing.markDone(key)
	ing.files.WithLabelValues(StatusProcessed).Inc()

	ing.l.Info(
		"Staged file processed",
		zap.String("path", key), zap.Int("rows", total), zap.Duration("duration", time.Since(start)),
	)
}

// fail writes a failed marker for a file that must not be retried automatically.
func (ing *Ingester) fail(ctx context.Context, key string, cause error) {
	marker := &Marker{
		Path:   key,
		Status: StatusFailed,
		Error:  cause.Error(),
	}

	if err := ing.dest.MarkProcessed(ctx, marker); err != nil {
		if ctx.Err() == nil {
			ing.l.Warn("Failed to write failed marker", zap.String("path", key), zap.Error(err))
		}

		ing.release(key)

		return
	}

	ing.markDone(key)
	ing.files.WithLabelValues(StatusFailed).Inc()
}

// insertWithRetry inserts one batch of rows, retrying transient destination
// failures with exponential backoff and jitter.
func (ing *Ingester) insertWithRetry(ctx context.Context, rows []Row) error {
	var attempt int64

	for {
		err := ing.dest.InsertBatch(ctx, rows)
		if err == nil {
			return nil
		}

		attempt++

		if ctx.Err() != nil || attempt >= maxInsertAttempts {
			return lazyerrors.Error(err)
		}

		ing.l.Debug("Retrying batch insert", zap.Int64("attempt", attempt), zap.Error(err))
		ctxutil.SleepWithJitter(ctx, insertRetryCap, attempt)
	}
}

// Describe implements prometheus.Collector.
func (ing *Ingester) Describe(ch chan<- *prometheus.Desc) {
	ing.files.Describe(ch)
	ing.rows.Describe(ch)
	ing.queue.Describe(ch)
}

// Collect implements prometheus.Collector.
func (ing *Ingester) Collect(ch chan<- prometheus.Metric) {
	ing.files.Collect(ch)
	ing.rows.Collect(ch)
	ing.queue.Collect(ch)
}

// check interfaces
var (
	_ prometheus.Collector = (*Ingester)(nil)
)
