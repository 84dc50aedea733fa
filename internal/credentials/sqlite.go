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
	"database/sql"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // register database/sql driver

	"github.com/meerkatdb/meerkatdb/internal/util/fsql"
	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
)

// sqlite stores credentials in a SQLite database.
type sqlite struct {
	db *fsql.DB
}

// sqliteSchema creates the credentials table.
const sqliteSchema = `CREATE TABLE IF NOT EXISTS meerkatdb_credentials (
	username TEXT NOT NULL,
	auth_db TEXT NOT NULL,
	stored_key BLOB NOT NULL,
	server_key BLOB NOT NULL,
	salt BLOB NOT NULL,
	iteration_count INTEGER NOT NULL,
	PRIMARY KEY (username, auth_db)
)`

// newSQLite opens or creates a SQLite database for the given `file:` URI
// and ensures the credentials table exists.
func newSQLite(uri string, l *zap.Logger) (Provider, error) {
	db, err := sql.Open("sqlite", uri)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	db.SetConnMaxIdleTime(0)
	db.SetConnMaxLifetime(0)

	// a single connection prevents SQLITE_BUSY for concurrent writes
	// and keeps in-memory databases alive
	db.SetMaxIdleConns(1)
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, lazyerrors.Error(err)
	}

	var v string
	if err = db.QueryRowContext(context.Background(), `SELECT sqlite_version()`).Scan(&v); err != nil {
		_ = db.Close()
		return nil, lazyerrors.Error(err)
	}

	l.Debug("Connected to SQLite.", zap.String("version", v), zap.String("uri", uri))

	res := &sqlite{
		db: fsql.WrapDB(db, "credentials", l),
	}

	if _, err = res.db.ExecContext(context.Background(), sqliteSchema); err != nil {
		_ = res.db.Close()
		return nil, lazyerrors.Error(err)
	}

	return res, nil
}

// Lookup implements the Provider interface.
func (s *sqlite) Lookup(ctx context.Context, username, authDB string) (*Credential, error) {
	q := `SELECT stored_key, server_key, salt, iteration_count FROM meerkatdb_credentials ` +
		`WHERE username = ? AND auth_db = ?`

	cred := Credential{
		Username: username,
		AuthDB:   authDB,
	}

	err := s.db.QueryRowContext(ctx, q, username, authDB).Scan(
		&cred.StoredKey, &cred.ServerKey, &cred.Salt, &cred.IterationCount,
	)

	switch {
	case err == nil:
		return &cred, nil
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrNotFound
	default:
		return nil, lazyerrors.Error(err)
	}
}

// Store implements the Provider interface.
func (s *sqlite) Store(ctx context.Context, cred *Credential) error {
	return s.db.InTransaction(ctx, func(tx *fsql.Tx) error {
		var one int

		q := `SELECT 1 FROM meerkatdb_credentials WHERE username = ? AND auth_db = ?`
		err := tx.QueryRowContext(ctx, q, cred.Username, cred.AuthDB).Scan(&one)

		switch {
		case err == nil:
			return ErrAlreadyExists
		case errors.Is(err, sql.ErrNoRows):
			// insert below
		default:
			return lazyerrors.Error(err)
		}

		q = `INSERT INTO meerkatdb_credentials ` +
			`(username, auth_db, stored_key, server_key, salt, iteration_count) ` +
			`VALUES (?, ?, ?, ?, ?, ?)`

		_, err = tx.ExecContext(ctx, q,
			cred.Username, cred.AuthDB, cred.StoredKey, cred.ServerKey, cred.Salt, cred.IterationCount,
		)
		if err != nil {
			return lazyerrors.Error(err)
		}

		return nil
	})
}

// Delete implements the Provider interface.
func (s *sqlite) Delete(ctx context.Context, username, authDB string) error {
	q := `DELETE FROM meerkatdb_credentials WHERE username = ? AND auth_db = ?`

	res, err := s.db.ExecContext(ctx, q, username, authDB)
	if err != nil {
		return lazyerrors.Error(err)
	}

	ra, err := res.RowsAffected()
	if err != nil {
		return lazyerrors.Error(err)
	}

	if ra == 0 {
		return ErrNotFound
	}

	return nil
}

// List implements the Provider interface.
func (s *sqlite) List(ctx context.Context, authDB string) ([]string, error) {
	q := `SELECT username FROM meerkatdb_credentials WHERE auth_db = ? ORDER BY username`

	rows, err := s.db.QueryContext(ctx, q, authDB)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}
	defer rows.Close() //nolint:errcheck // only reading

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
func (s *sqlite) Close() {
	_ = s.db.Close()
}

// Describe implements prometheus.Collector.
func (s *sqlite) Describe(ch chan<- *prometheus.Desc) {
	s.db.Describe(ch)
}

// Collect implements prometheus.Collector.
func (s *sqlite) Collect(ch chan<- prometheus.Metric) {
	s.db.Collect(ch)
}

// check interfaces
var (
	_ Provider = (*sqlite)(nil)
)
