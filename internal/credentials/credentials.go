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

// Package credentials provides the SCRAM-SHA-256 credential store.
//
// Credentials are stored as RFC 5802 verifiers (stored key, server key, salt,
// iteration count); the cleartext password is never persisted.
package credentials

import (
	"context"
	"errors"
	"net/url"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
)

var (
	// ErrNotFound is returned when the user does not exist.
	ErrNotFound = errors.New("credential not found")

	// ErrAlreadyExists is returned by Store when the user already exists.
	ErrAlreadyExists = errors.New("credential already exists")
)

// Credential is the stored SCRAM-SHA-256 verifier of a single user.
type Credential struct {
	Username       string
	AuthDB         string
	StoredKey      []byte
	ServerKey      []byte
	Salt           []byte
	IterationCount int
}

// Provider is a credential store.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	prometheus.Collector

	// Lookup returns the credential of the given user, or ErrNotFound.
	Lookup(ctx context.Context, username, authDB string) (*Credential, error)

	// Store saves the credential of a new user.
	// It returns ErrAlreadyExists if the user is already present.
	Store(ctx context.Context, cred *Credential) error

	// Delete removes the credential of the given user, or returns ErrNotFound.
	Delete(ctx context.Context, username, authDB string) error

	// List returns the sorted usernames of the given authentication database.
	List(ctx context.Context, authDB string) ([]string, error)

	// Close frees all resources.
	Close()
}

// NewProvider creates a credential store for the given URI.
//
// An empty URI selects the in-memory store.
// `postgres://` and `postgresql://` URIs select the PostgreSQL store,
// `file:` URIs the SQLite store.
func NewProvider(uri string, l *zap.Logger) (Provider, error) {
	if uri == "" {
		return NewMemory(), nil
	}

	u, err := url.Parse(uri)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	switch u.Scheme {
	case "memory":
		return NewMemory(), nil

	case "postgres", "postgresql":
		return newPostgres(uri, l)

	case "file":
		return newSQLite(uri, l)

	default:
		return nil, lazyerrors.Errorf("unsupported credential store URI scheme %q", u.Scheme)
	}
}

// Parts of Prometheus metric names.
const (
	namespace = "meerkatdb"
	subsystem = "credentials"
)
