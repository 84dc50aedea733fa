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

// Package scram provides the server side of SCRAM-SHA-256 authentication conversations.
package scram

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/xdg-go/stringprep"
	"go.uber.org/zap"

	"github.com/meerkatdb/meerkatdb/internal/credentials"
	"github.com/meerkatdb/meerkatdb/internal/util/ctxutil"
	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
	"github.com/meerkatdb/meerkatdb/internal/util/password"
)

// ErrAuthenticationFailed is returned for every authentication failure.
// The actual reason is logged but never returned,
// so that protocol replies can't be used to probe for existing usernames.
var ErrAuthenticationFailed = errors.New("authentication failed")

// ErrUnsupportedMechanism is returned for authentication mechanisms other than SCRAM-SHA-256.
var ErrUnsupportedMechanism = errors.New("unsupported authentication mechanism")

const (
	namespace = "meerkatdb"
	subsystem = "scram"

	// convExpiry is how long an idle conversation is kept before the sweeper removes it.
	convExpiry = 5 * time.Minute

	// sweepInterval is how often expired conversations are removed.
	sweepInterval = time.Minute
)

// Manager tracks server-side SCRAM conversations across client connections.
//
//nolint:vet // for readability
type Manager struct {
	l     *zap.Logger
	creds credentials.Provider

	rw     sync.RWMutex
	convs  map[int32]*conv
	lastID int32
}

// NewManager creates a new conversation manager over the given credential store.
func NewManager(creds credentials.Provider, l *zap.Logger) *Manager {
	return &Manager{
		l:     l,
		creds: creds,
		convs: map[int32]*conv{},
	}
}

// Start begins a new conversation from the client-first message and returns
// the assigned conversation ID and the server-first message.
//
// For an unknown username the conversation continues against deterministic
// fake credentials and fails only at the proof verification step,
// indistinguishably from a wrong password.
func (m *Manager) Start(ctx context.Context, mechanism, authDB string, clientFirst []byte) (int32, string, error) {
	if mechanism != "SCRAM-SHA-256" {
		return 0, "", ErrUnsupportedMechanism
	}

	msg, err := parseMessage(string(clientFirst), m.l)
	if err != nil {
		m.l.Debug("Failed to parse client-first message", zap.Error(err))
		return 0, "", ErrAuthenticationFailed
	}

	if !msg.isClientFirst() {
		m.l.Debug("Payload is not a client-first message")
		return 0, "", ErrAuthenticationFailed
	}

	username, err := stringprep.SASLprep.Prepare(msg.n)
	if err != nil {
		m.l.Debug("Failed to prepare username", zap.Error(err))
		return 0, "", ErrAuthenticationFailed
	}

	var fake bool

	cred, err := m.creds.Lookup(ctx, username, authDB)

	switch {
	case err == nil:
		// nothing

	case errors.Is(err, credentials.ErrNotFound):
		fake = true
		f := password.FakeScramSHA256(username)
		cred = &credentials.Credential{
			Username:       username,
			AuthDB:         authDB,
			StoredKey:      f.StoredKey,
			ServerKey:      f.ServerKey,
			Salt:           f.Salt,
			IterationCount: f.IterationCount,
		}

	default:
		return 0, "", lazyerrors.Error(err)
	}

	c, serverFirst, err := newConv(username, authDB, fake, cred, msg)
	if err != nil {
		return 0, "", lazyerrors.Error(err)
	}

	m.rw.Lock()
	defer m.rw.Unlock()

	m.lastID++
	if m.lastID <= 0 {
		m.lastID = 1
	}

	id := m.lastID
	m.convs[id] = c

	m.l.Debug(
		"Started SCRAM conversation",
		zap.Int32("id", id), zap.String("username", username), zap.String("db", authDB), zap.Bool("fake", fake),
	)

	return id, serverFirst, nil
}

// Continue processes the client-final message of an existing conversation and returns
// the server-final message together with the authenticated username and database.
//
// After the proof was verified, one more call with an empty payload is allowed
// because some drivers finish the conversation with an extra round trip.
// Any other deviation from the exchange discards the conversation.
func (m *Manager) Continue(id int32, clientFinal []byte) (string, string, string, error) {
	m.rw.Lock()
	defer m.rw.Unlock()

	c := m.convs[id]
	if c == nil {
		m.l.Debug("Unknown SCRAM conversation", zap.Int32("id", id))
		return "", "", "", ErrAuthenticationFailed
	}

	c.lastActive = time.Now()

	if c.done() {
		delete(m.convs, id)

		if len(clientFinal) != 0 {
			m.l.Debug("Unexpected payload for a completed SCRAM conversation", zap.Int32("id", id))
			return "", "", "", ErrAuthenticationFailed
		}

		return "", c.username, c.authDB, nil
	}

	msg, err := parseMessage(string(clientFinal), m.l)
	if err != nil {
		delete(m.convs, id)
		m.l.Debug("Failed to parse client-final message", zap.Int32("id", id), zap.Error(err))

		return "", "", "", ErrAuthenticationFailed
	}

	if !msg.isClientFinal() {
		delete(m.convs, id)
		m.l.Debug("Payload is not a client-final message", zap.Int32("id", id))

		return "", "", "", ErrAuthenticationFailed
	}

	serverFinal, err := c.clientFinal(msg)
	if err != nil {
		delete(m.convs, id)
		m.l.Debug(
			"SCRAM proof verification failed",
			zap.Int32("id", id), zap.String("username", c.username), zap.Bool("fake", c.fake), zap.Error(err),
		)

		return "", "", "", ErrAuthenticationFailed
	}

	m.l.Debug(
		"SCRAM conversation done",
		zap.Int32("id", id), zap.String("username", c.username), zap.String("db", c.authDB),
	)

	return serverFinal, c.username, c.authDB, nil
}

// Run removes expired conversations until ctx is canceled.
func (m *Manager) Run(ctx context.Context) {
	for {
		ctxutil.Sleep(ctx, sweepInterval)

		if ctx.Err() != nil {
			return
		}

		m.sweep()
	}
}

// sweep removes conversations that were idle for longer than convExpiry.
func (m *Manager) sweep() {
	m.rw.Lock()
	defer m.rw.Unlock()

	for id, c := range m.convs {
		if time.Since(c.lastActive) > convExpiry {
			delete(m.convs, id)
			m.l.Debug("Removed expired SCRAM conversation", zap.Int32("id", id))
		}
	}
}

// Describe implements prometheus.Collector.
func (m *Manager) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(m, ch)
}

// Collect implements prometheus.Collector.
func (m *Manager) Collect(ch chan<- prometheus.Metric) {
	m.rw.RLock()
	defer m.rw.RUnlock()

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "conversations"),
			"The current number of SCRAM conversations.",
			nil, nil,
		),
		prometheus.GaugeValue,
		float64(len(m.convs)),
	)
}

// check interfaces
var (
	_ prometheus.Collector = (*Manager)(nil)
)
