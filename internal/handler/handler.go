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

// Package handler processes client commands and turns them into backend operations.
package handler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/meerkatdb/meerkatdb/internal/backends"
	"github.com/meerkatdb/meerkatdb/internal/clientconn/connmetrics"
	"github.com/meerkatdb/meerkatdb/internal/clientconn/cursor"
	"github.com/meerkatdb/meerkatdb/internal/credentials"
	"github.com/meerkatdb/meerkatdb/internal/scram"
)

// Handler provides a set of methods to process clients' requests sent over wire protocol.
//
// MsgXXX methods handle OP_MSG commands.
// CmdQuery handles a limited subset of OP_QUERY messages.
//
// Handler instance is shared between all client connections.
type Handler struct {
	*NewOpts

	b backends.Backend

	cursors  *cursor.Registry
	scram    *scram.Manager
	commands map[string]*command

	startTime time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOpts represents handler configuration.
//
//nolint:vet // for readability
type NewOpts struct {
	Backend     backends.Backend
	Credentials credentials.Provider

	L           *zap.Logger
	ConnMetrics *connmetrics.ConnMetrics

	// Auth requires clients to authenticate before running non-anonymous commands.
	Auth bool

	// test options
	CursorIdleTimeout time.Duration
}

// New returns a new handler.
func New(opts *NewOpts) (*Handler, error) {
	if opts.Backend == nil {
		return nil, errors.New("handler.New: backend is required")
	}

	if opts.Credentials == nil {
		return nil, errors.New("handler.New: credentials provider is required")
	}

	if opts.CursorIdleTimeout == 0 {
		opts.CursorIdleTimeout = cursor.DefaultIdleTimeout
	}

	h := &Handler{
		NewOpts: opts,

		b: opts.Backend,

		cursors:   cursor.NewRegistry(opts.L.Named("cursors")),
		scram:     scram.NewManager(opts.Credentials, opts.L.Named("scram")),
		startTime: time.Now(),
	}

	h.initCommands()

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	h.wg.Add(1)

	go func() {
		defer h.wg.Done()

		h.scram.Run(ctx)
	}()

	h.wg.Add(1)

	go func() {
		defer h.wg.Done()

		h.runCursorCleanup(ctx)
	}()

	return h, nil
}

// runCursorCleanup closes idle cursors until ctx is canceled.
func (h *Handler) runCursorCleanup(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if expired := h.cursors.CleanupExpired(h.CursorIdleTimeout); expired > 0 {
				h.L.Info("Closed idle cursors", zap.Int("expired", expired))
			}

		case <-ctx.Done():
			return
		}
	}
}

// Cursors returns the cursor registry shared by all connections.
func (h *Handler) Cursors() *cursor.Registry {
	return h.cursors
}

// Close gracefully shutdowns handler.
// It should be called after listener closes all client connections and stops listening.
func (h *Handler) Close() {
	h.cancel()
	h.wg.Wait()
}

// Describe implements prometheus.Collector interface.
func (h *Handler) Describe(ch chan<- *prometheus.Desc) {
	h.b.Describe(ch)
	h.Credentials.Describe(ch)
	h.cursors.Describe(ch)
	h.scram.Describe(ch)
}

// Collect implements prometheus.Collector interface.
func (h *Handler) Collect(ch chan<- prometheus.Metric) {
	h.b.Collect(ch)
	h.Credentials.Collect(ch)
	h.cursors.Collect(ch)
	h.scram.Collect(ch)
}

// check interfaces
var (
	_ prometheus.Collector = (*Handler)(nil)
)
