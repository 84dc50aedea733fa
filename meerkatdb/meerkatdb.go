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

// Package meerkatdb provides embeddable MeerkatDB implementation.
package meerkatdb

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"

	"go.uber.org/zap"

	"github.com/meerkatdb/meerkatdb/internal/backends/memory"
	"github.com/meerkatdb/meerkatdb/internal/clientconn"
	"github.com/meerkatdb/meerkatdb/internal/clientconn/connmetrics"
	"github.com/meerkatdb/meerkatdb/internal/credentials"
	"github.com/meerkatdb/meerkatdb/internal/handler"
	"github.com/meerkatdb/meerkatdb/internal/util/password"
)

// ListenerConfig represents listener configuration.
type ListenerConfig struct {
	// Listen TCP address.
	// If empty, TCP listener is disabled.
	Addr string

	// Listen TLS address.
	// If empty, TLS listener is disabled.
	TLS string

	// Server certificate for the TLS listener.
	TLSCertFile string

	// Server key for the TLS listener.
	TLSKeyFile string

	// Root CA certificate for the TLS listener.
	// If set, client certificates are required and verified.
	TLSCAFile string
}

// AuthConfig represents the user created on startup.
type AuthConfig struct {
	Username string
	Password string
}

// Config represents MeerkatDB configuration.
type Config struct {
	Listener ListenerConfig

	// Auth enables authentication and creates the given user
	// in the admin database on startup.
	// If nil, all clients are trusted.
	Auth *AuthConfig

	// CredentialsURL selects the credential store;
	// `memory://`, `file:`, and `postgres://` URLs are supported.
	// If empty, credentials are kept in memory and lost on shutdown.
	CredentialsURL string

	// Logger used by all components.
	// If nil, zap's global logger is used.
	Logger *zap.Logger
}

// MeerkatDB represents an instance of embeddable MeerkatDB implementation.
type MeerkatDB struct {
	config *Config

	lis *clientconn.Listener
}

// New creates a new instance of embeddable MeerkatDB implementation.
func New(config *Config) (*MeerkatDB, error) {
	if config.Listener.Addr == "" && config.Listener.TLS == "" {
		return nil, errors.New("both Listener.Addr and Listener.TLS are empty")
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.L().Named("meerkatdb")
	}

	b, err := memory.NewBackend(&memory.NewBackendParams{
		L: logger.Named("memory"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to construct backend: %s", err)
	}

	creds, err := credentials.NewProvider(config.CredentialsURL, logger.Named("credentials"))
	if err != nil {
		return nil, fmt.Errorf("failed to construct credential store: %s", err)
	}

	if config.Auth != nil {
		if err = createUser(creds, config.Auth); err != nil {
			return nil, err
		}
	}

	metrics := connmetrics.NewListenerMetrics()

	h, err := handler.New(&handler.NewOpts{
		Backend:     b,
		Credentials: creds,
		L:           logger.Named("handler"),
		ConnMetrics: metrics.ConnMetrics,
		Auth:        config.Auth != nil,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to construct handler: %s", err)
	}

	lis := clientconn.NewListener(&clientconn.NewListenerOpts{
		TCP:         config.Listener.Addr,
		TLS:         config.Listener.TLS,
		TLSCertFile: config.Listener.TLSCertFile,
		TLSKeyFile:  config.Listener.TLSKeyFile,
		TLSCAFile:   config.Listener.TLSCAFile,
		Metrics:     metrics,
		Handler:     h,
		Logger:      logger,
	})

	return &MeerkatDB{
		config: config,
		lis:    lis,
	}, nil
}

// Run runs MeerkatDB until ctx is canceled.
//
// When this method returns, listener and all connections are closed.
func (mdb *MeerkatDB) Run(ctx context.Context) error {
	defer mdb.lis.Handler.Close()

	err := mdb.lis.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	if err != nil {
		// Do not expose internal error details.
		// If you need stable error values and/or types for some cases, please create an issue.
		err = errors.New(err.Error())
	}

	return err
}

// Addr returns the address the server listens on.
//
// The TCP address is returned if both TCP and TLS listeners are enabled.
// It blocks until the listener is listening.
func (mdb *MeerkatDB) Addr() net.Addr {
	if mdb.config.Listener.Addr != "" {
		return mdb.lis.TCPAddr()
	}

	return mdb.lis.TLSAddr()
}

// MongoDBURI returns MongoDB URI for this MeerkatDB instance.
//
// The TCP URI is returned if both TCP and TLS listeners are enabled.
func (mdb *MeerkatDB) MongoDBURI() string {
	var u *url.URL

	if mdb.config.Listener.Addr != "" {
		u = &url.URL{
			Scheme: "mongodb",
			Host:   mdb.lis.TCPAddr().String(),
			Path:   "/",
		}
	} else {
		u = &url.URL{
			Scheme:   "mongodb",
			Host:     mdb.lis.TLSAddr().String(),
			Path:     "/",
			RawQuery: url.Values{"tls": []string{"true"}}.Encode(),
		}
	}

	return u.String()
}

// createUser stores the configured user's credential in the admin database.
//
// A user that is already present in a persistent store is left unchanged.
func createUser(creds credentials.Provider, auth *AuthConfig) error {
	if auth.Username == "" || auth.Password == "" {
		return errors.New("both Auth.Username and Auth.Password must be set")
	}

	hash, err := password.SCRAMSHA256Hash(auth.Password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %s", err)
	}

	cred := &credentials.Credential{
		Username:       auth.Username,
		AuthDB:         "admin",
		StoredKey:      hash.StoredKey,
		ServerKey:      hash.ServerKey,
		Salt:           hash.Salt,
		IterationCount: hash.IterationCount,
	}

	err = creds.Store(context.Background(), cred)
	if err != nil && !errors.Is(err, credentials.ErrAlreadyExists) {
		return fmt.Errorf("failed to create user: %s", err)
	}

	return nil
}
