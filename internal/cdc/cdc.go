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

// Package cdc moves change records staged as immutable object-store files
// into a columnar analytics destination, exactly once per file.
package cdc

import "context"

// Row is a single change record carried by a staged file.
// Fields match the columns of the destination realtime table.
type Row struct {
	Collection string `parquet:"collection"`
	DocID      string `parquet:"doc_id"`

	// Data is the changed document as JSON.
	Data string `parquet:"data"`

	// UpdatedAt is milliseconds since the Unix epoch.
	UpdatedAt int64 `parquet:"updated_at"`

	// Version is strictly monotone per (Collection, DocID) within a source;
	// the destination keeps the row with the greatest version.
	Version uint64 `parquet:"version"`

	// IsDeleted is 1 for a delete tombstone, 0 otherwise.
	IsDeleted uint8 `parquet:"is_deleted"`
}

// Marker statuses.
const (
	StatusProcessed = "processed"
	StatusFailed    = "failed"
)

// Marker records the outcome of processing one staged file.
type Marker struct {
	Path   string
	Status string // StatusProcessed or StatusFailed
	Rows   int
	Error  string // failure cause for StatusFailed
}

// Destination consumes decoded change rows, typically a columnar store.
//
// Implementations must collapse re-inserted rows sharing
// (collection, doc_id, version) so that reprocessing a staged file
// has no net effect.
type Destination interface {
	// CreateTables creates the destination tables if they do not exist yet.
	CreateTables(ctx context.Context) error

	// Processed reports whether any marker, successful or failed,
	// exists for the given file path.
	Processed(ctx context.Context, path string) (bool, error)

	// InsertBatch inserts one batch of rows.
	InsertBatch(ctx context.Context, rows []Row) error

	// MarkProcessed writes the marker for a fully handled file.
	MarkProcessed(ctx context.Context, marker *Marker) error
}
