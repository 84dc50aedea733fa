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

// Package clickhouse emits DDL and read SQL for the columnar destination
// and implements the change-row store on top of it.
package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/meerkatdb/meerkatdb/internal/cdc"
	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
)

// NewStoreParams represents the parameters of NewStore.
type NewStoreParams struct {
	// Addr lists native protocol host:port addresses.
	Addr []string

	Username string
	Password string

	TableOptions *TableOptions

	// SourceDatabase names the logical source in tombstone rows.
	SourceDatabase string

	L *zap.Logger
}

// Store is a change-row destination backed by ClickHouse.
type Store struct {
	conn   driver.Conn
	opts   *TableOptions
	source string
	l      *zap.Logger
}

// NewStore connects to ClickHouse and pings it.
func NewStore(ctx context.Context, params *NewStoreParams) (*Store, error) {
	if err := params.TableOptions.validate(); err != nil {
		return nil, err
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: params.Addr,
		Auth: clickhouse.Auth{
			Database: params.TableOptions.Database,
			Username: params.Username,
			Password: params.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	if err = conn.Ping(ctx); err != nil {
		return nil, lazyerrors.Error(err)
	}

	source := params.SourceDatabase
	if source == "" {
		source = "meerkatdb"
	}

	return &Store{
		conn:   conn,
		opts:   params.TableOptions,
		source: source,
		l:      params.L,
	}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.conn.Close()
}

// CreateTables implements cdc.Destination.
func (s *Store) CreateTables(ctx context.Context) error {
	for _, q := range []string{
		s.opts.CreateTableSQL(),
		s.opts.TombstoneTableSQL(),
		s.opts.MarkerTableSQL(),
	} {
		if err := s.conn.Exec(ctx, q); err != nil {
			return lazyerrors.Error(err)
		}
	}

	return nil
}

// Processed implements cdc.Destination.
func (s *Store) Processed(ctx context.Context, path string) (bool, error) {
	query := fmt.Sprintf("SELECT count() FROM %s.%s WHERE path = ?", s.opts.Database, markerTable)

	var count uint64
	if err := s.conn.QueryRow(ctx, query, path).Scan(&count); err != nil {
		return false, lazyerrors.Error(err)
	}

	return count > 0, nil
}

// InsertBatch implements cdc.Destination.
//
// Rows with is_deleted set are mirrored into the tombstone table.
func (s *Store) InsertBatch(ctx context.Context, rows []cdc.Row) error {
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s.%s", s.opts.Database, s.opts.Table))
	if err != nil {
		return lazyerrors.Error(err)
	}

	var deleted []cdc.Row

	for _, row := range rows {
		err = batch.Append(
			row.Collection,
			row.DocID,
			row.Data,
			time.UnixMilli(row.UpdatedAt).UTC(),
			row.Version,
			row.IsDeleted,
		)
		if err != nil {
			return lazyerrors.Error(err)
		}

		if row.IsDeleted != 0 {
			deleted = append(deleted, row)
		}
	}

	if err = batch.Send(); err != nil {
		return lazyerrors.Error(err)
	}

	if len(deleted) > 0 {
		if err = s.insertTombstones(ctx, deleted); err != nil {
			return lazyerrors.Error(err)
		}
	}

	return nil
}

// insertTombstones records explicit delete events.
func (s *Store) insertTombstones(ctx context.Context, rows []cdc.Row) error {
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s.%s_tombstones", s.opts.Database, s.opts.Table))
	if err != nil {
		return lazyerrors.Error(err)
	}

	for _, row := range rows {
		if err = batch.Append(row.Collection, s.source, row.DocID, time.UnixMilli(row.UpdatedAt).UTC()); err != nil {
			return lazyerrors.Error(err)
		}
	}

	return batch.Send()
}

// MarkProcessed implements cdc.Destination.
//
// The marker table replaces rows by path, so writing the same marker twice
// has no effect beyond updating its timestamp.
func (s *Store) MarkProcessed(ctx context.Context, marker *cdc.Marker) error {
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s.%s", s.opts.Database, markerTable))
	if err != nil {
		return lazyerrors.Error(err)
	}

	err = batch.Append(
		marker.Path,
		marker.Status,
		uint64(marker.Rows),
		marker.Error,
		time.Now().UTC(),
	)
	if err != nil {
		return lazyerrors.Error(err)
	}

	return batch.Send()
}

// OptimizeFinal forces a merge of the realtime table
// so that reads without FINAL see collapsed versions.
func (s *Store) OptimizeFinal(ctx context.Context) error {
	query := fmt.Sprintf("OPTIMIZE TABLE %s.%s FINAL", s.opts.Database, s.opts.Table)

	if err := s.conn.Exec(ctx, query); err != nil {
		return lazyerrors.Error(err)
	}

	return nil
}

// check interfaces
var (
	_ cdc.Destination = (*Store)(nil)
)
