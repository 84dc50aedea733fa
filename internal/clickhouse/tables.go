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

package clickhouse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// markerTable is the name of the per-database marker table.
const markerTable = "processed_files"

// defaultTombstoneTTLDays bounds tombstone retention when no TTL is configured.
const defaultTombstoneTTLDays = 30

// identRe matches valid unquoted ClickHouse identifiers.
var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// TableOptions describes the realtime destination table.
type TableOptions struct {
	Database string
	Table    string

	// Shared selects the multi-collection layout ordered by
	// (collection, doc_id) instead of a per-collection (doc_id) key.
	Shared bool

	// PartitionByCollection adds PARTITION BY (collection, toYYYYMM(updated_at)).
	PartitionByCollection bool

	// TTLDays expires rows that many days after their last update. Zero disables.
	TTLDays int
}

// validate returns an error naming the offending option, if any.
func (opts *TableOptions) validate() error {
	if !identRe.MatchString(opts.Database) {
		return fmt.Errorf("database %q is not a valid identifier", opts.Database)
	}

	if !identRe.MatchString(opts.Table) {
		return fmt.Errorf("table %q is not a valid identifier", opts.Table)
	}

	if opts.TTLDays < 0 {
		return fmt.Errorf("ttlDays must not be negative, got %d", opts.TTLDays)
	}

	return nil
}

// CreateTableSQL returns DDL for the realtime table.
//
// The ReplacingMergeTree engine collapses rows sharing the order key,
// keeping the one with the greatest version; reads either use FINAL
// or tolerate not yet merged duplicates.
func (opts *TableOptions) CreateTableSQL() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "CREATE TABLE IF NOT EXISTS %s.%s (\n", opts.Database, opts.Table)
	sb.WriteString("  collection LowCardinality(String),\n")
	sb.WriteString("  doc_id String,\n")
	sb.WriteString("  data String,\n")
	sb.WriteString("  updated_at DateTime64(3),\n")
	sb.WriteString("  version UInt64,\n")
	sb.WriteString("  is_deleted UInt8\n")
	sb.WriteString(")\n")
	sb.WriteString("ENGINE = ReplacingMergeTree(version)\n")

	if opts.PartitionByCollection {
		sb.WriteString("PARTITION BY (collection, toYYYYMM(updated_at))\n")
	}

	if opts.Shared {
		sb.WriteString("ORDER BY (collection, doc_id)")
	} else {
		sb.WriteString("ORDER BY (doc_id)")
	}

	if opts.TTLDays > 0 {
		sb.WriteString("\nTTL toDateTime(updated_at) + INTERVAL " + strconv.Itoa(opts.TTLDays) + " DAY")
	}

	return sb.String()
}

// TombstoneTableSQL returns DDL for the companion delete-events table.
// Tombstones expire after TTLDays, or after a default retention when unset.
func (opts *TableOptions) TombstoneTableSQL() string {
	days := opts.TTLDays
	if days == 0 {
		days = defaultTombstoneTTLDays
	}

	var sb strings.Builder

	fmt.Fprintf(&sb, "CREATE TABLE IF NOT EXISTS %s.%s_tombstones (\n", opts.Database, opts.Table)
	sb.WriteString("  collection LowCardinality(String),\n")
	sb.WriteString("  database LowCardinality(String),\n")
	sb.WriteString("  doc_id String,\n")
	sb.WriteString("  deleted_at DateTime64(3)\n")
	sb.WriteString(")\n")
	sb.WriteString("ENGINE = MergeTree\n")
	sb.WriteString("ORDER BY (collection, database, doc_id)\n")
	sb.WriteString("TTL toDateTime(deleted_at) + INTERVAL " + strconv.Itoa(days) + " DAY")

	return sb.String()
}

// MarkerTableSQL returns DDL for the processed-files marker table.
// Markers replace by path, so rewriting one is idempotent.
func (opts *TableOptions) MarkerTableSQL() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "CREATE TABLE IF NOT EXISTS %s.%s (\n", opts.Database, markerTable)
	sb.WriteString("  path String,\n")
	sb.WriteString("  status LowCardinality(String),\n")
	sb.WriteString("  rows UInt64,\n")
	sb.WriteString("  error String,\n")
	sb.WriteString("  processed_at DateTime64(3)\n")
	sb.WriteString(")\n")
	sb.WriteString("ENGINE = ReplacingMergeTree(processed_at)\n")
	sb.WriteString("ORDER BY (path)")

	return sb.String()
}
