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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCreateTableSQL(t *testing.T) {
	t.Parallel()

	t.Run("Shared", func(t *testing.T) {
		t.Parallel()

		opts := &TableOptions{
			Database:              "analytics",
			Table:                 "realtime",
			Shared:                true,
			PartitionByCollection: true,
			TTLDays:               30,
		}

		expected := `CREATE TABLE IF NOT EXISTS analytics.realtime (
  collection LowCardinality(String),
  doc_id String,
  data String,
  updated_at DateTime64(3),
  version UInt64,
  is_deleted UInt8
)
ENGINE = ReplacingMergeTree(version)
PARTITION BY (collection, toYYYYMM(updated_at))
ORDER BY (collection, doc_id)
TTL toDateTime(updated_at) + INTERVAL 30 DAY`

		assert.Equal(t, expected, opts.CreateTableSQL())
	})

	t.Run("PerCollection", func(t *testing.T) {
		t.Parallel()

		opts := &TableOptions{
			Database: "analytics",
			Table:    "users",
		}

		expected := `CREATE TABLE IF NOT EXISTS analytics.users (
  collection LowCardinality(String),
  doc_id String,
  data String,
  updated_at DateTime64(3),
  version UInt64,
  is_deleted UInt8
)
ENGINE = ReplacingMergeTree(version)
ORDER BY (doc_id)`

		assert.Equal(t, expected, opts.CreateTableSQL())
	})
}

func TestTombstoneTableSQL(t *testing.T) {
	t.Parallel()

	opts := &TableOptions{
		Database: "analytics",
		Table:    "realtime",
		Shared:   true,
	}

	expected := `CREATE TABLE IF NOT EXISTS analytics.realtime_tombstones (
  collection LowCardinality(String),
  database LowCardinality(String),
  doc_id String,
  deleted_at DateTime64(3)
)
ENGINE = MergeTree
ORDER BY (collection, database, doc_id)
TTL toDateTime(deleted_at) + INTERVAL 30 DAY`

	assert.Equal(t, expected, opts.TombstoneTableSQL())

	opts.TTLDays = 7
	assert.Contains(t, opts.TombstoneTableSQL(), "INTERVAL 7 DAY")
}

func TestMarkerTableSQL(t *testing.T) {
	t.Parallel()

	opts := &TableOptions{
		Database: "analytics",
		Table:    "realtime",
	}

	expected := `CREATE TABLE IF NOT EXISTS analytics.processed_files (
  path String,
  status LowCardinality(String),
  rows UInt64,
  error String,
  processed_at DateTime64(3)
)
ENGINE = ReplacingMergeTree(processed_at)
ORDER BY (path)`

	assert.Equal(t, expected, opts.MarkerTableSQL())
}

func TestTableOptionsValidate(t *testing.T) {
	t.Parallel()

	for name, tc := range map[string]struct {
		opts TableOptions
		err  string
	}{
		"DatabaseInvalid": {
			opts: TableOptions{Database: "bad-name", Table: "realtime"},
			err:  `database "bad-name" is not a valid identifier`,
		},
		"TableInvalid": {
			opts: TableOptions{Database: "analytics", Table: "x;DROP TABLE y"},
			err:  `table "x;DROP TABLE y" is not a valid identifier`,
		},
		"TTLNegative": {
			opts: TableOptions{Database: "analytics", Table: "realtime", TTLDays: -1},
			err:  "ttlDays must not be negative, got -1",
		},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			assert.EqualError(t, tc.opts.validate(), tc.err)
		})
	}

	valid := TableOptions{Database: "analytics", Table: "realtime"}
	assert.NoError(t, valid.validate())
}
