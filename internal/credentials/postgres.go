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

package credentials

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	zapadapter "github.com/jackc/pgx-zap"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
	"github.com/meerkatdb/meerkatdb/internal/util/resource"
)

// postgres stores credentials in a PostgreSQL table.
type postgres struct {
	p     *pgxpool.Pool
	l     *zap.Logger
	token *resource.Token
}

// postgresSchema creates the credentials table.
const postgresSchema = `CREATE TABLE IF NOT EXISTS meerkatdb_credentials (
	username text NOT NULL,
	auth_db text NOT NULL,
	stored_key bytea NOT NULL,
	server_key bytea NOT NULL,
	salt bytea NOT NULL,
	iteration_count integer NOT NULL,
	PRIMARY KEY (username, auth_db)
)`

// newPostgres creates a pool of connections to PostgreSQL
// and ensures the credentials table exists.
func newPostgres(uri string, l *zap.Logger) (Provider, error) {
	config, err := pgxpool.ParseConfig(uri)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	config.ConnConfig.RuntimeParams["timezone"] = "UTC"
	config.ConnConfig.RuntimeParams["application_name"] = "MeerkatDB"

	// try to log everything; logger's configuration will skip extra levels if needed
	config.ConnConfig.Tracer = &tracelog.TraceLog{
		Logger:   zapadapter.NewLogger(l.Named("pgx")),
		LogLevel: tracelog.LogLevelTrace,
	}

	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		var v string

		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		if err := conn.QueryRow(ctx, `SHOW server_version`).Scan(&v); err != nil {
			return lazyerrors.Error(err)
		}

		l.Debug("Connected to PostgreSQL.", zap.String("version", v))

		return nil
	}

	// the pool itself is not tied to the caller's lifetime
	ctx := context.TODO()

	p, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err = p.Exec(ctx, postgresSchema); err != nil {
		p.Close()
		return nil, lazyerrors.Error(err)
	}

	res := &postgres{
		p:     p,
		l:     l,
		token: resource.NewToken(),
	}

	resource.Track(res, res.token)

	return res, nil
}

// Lookup implements the Provider interface.
func (s *postgres) Lookup(ctx context.Context, username, authDB string) (*Credential, error) {
	q := `SELECT stored_key, server_key, salt, iteration_count FROM meerkatdb_credentials ` +
		`WHERE username = $1 AND auth_db = $2`

	cred := Credential{
		Username: username,
		AuthDB:   authDB,
	}

	err := s.p.QueryRow(ctx, q, username, authDB).Scan(
		&cred.StoredKey, &cred.ServerKey, &cred.Salt, &cred.IterationCount,
	)

	switch {
	case err == nil:
		return &cred, nil
	case errors.Is(err, pgx.ErrNoRows):
		return nil, ErrNotFound
	default:
		return nil, lazyerrors.Error(err)
	}
}

// Store implements the Provider interface.
func (s *postgres) Store(ctx context.Context, cred *Credential) error {
	q := `INSERT INTO meerkatdb_credentials ` +
		`(username, auth_db, stored_key, server_key, salt, iteration_count) ` +
		`VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.p.Exec(ctx, q,
		cred.Username, cred.AuthDB, cred.StoredKey, cred.ServerKey, cred.Salt, cred.IterationCount,
	)
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return ErrAlreadyExists
	}

	return lazyerrors.Error(err)
}

// Delete implements the Provider interface.
func (s *postgres) Delete(ctx context.Context, username, authDB string) error {
	q := `DELETE FROM meerkatdb_credentials WHERE username = $1 AND auth_db = $2`

	tag, err := s.p.Exec(ctx, q, username, authDB)
	if err != nil {
		return lazyerrors.Error(err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// List implements the Provider interface.
func (s *postgres) List(ctx context.Context, authDB string) ([]string, error) {
	q := `SELECT username FROM meerkatdb_credentials WHERE auth_db = $1 ORDER BY username`

	rows, err := s.p.Query(ctx, q, authDB)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}
	defer rows.Close()

	var res []string

	for rows.Next() {
		var username string
		if err = rows.Scan(&username); err != nil {
			return nil, lazyerrors.Error(err)
		}

		res = append(res, username)
	}

	if err = rows.Err(); err != nil {
		return nil, lazyerrors.Error(err)
	}

	return res, nil
}

// Close implements the Provider interface.
func (s *postgres) Close() {
	s.p.Close()
	resource.Untrack(s, s.token)
}

// Describe implements prometheus.Collector.
func (s *postgres) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(s, ch)
}

// Collect implements prometheus.Collector.
func (s *postgres) Collect(ch chan<- prometheus.Metric) {
	stat := s.p.Stat()

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "pool_conns"),
			"The current number of PostgreSQL connections in the pool.",
			nil, prometheus.Labels{"store": "postgres"},
		),
		prometheus.GaugeValue,
		float64(stat.TotalConns()),
	)

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "pool_acquired"),
			"The current number of acquired PostgreSQL connections.",
			nil, prometheus.Labels{"store": "postgres"},
		),
		prometheus.GaugeValue,
		float64(stat.AcquiredConns()),
	)
}

// check interfaces
var (
	_ Provider = (*postgres)(nil)
)
