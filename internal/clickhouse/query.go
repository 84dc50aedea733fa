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
	"strconv"
	"strings"
	"time"
)

// ReadBuilder composes SELECT statements for the realtime table.
// Methods return the builder for chaining; the zero value is not usable,
// use TableOptions.Read.
type ReadBuilder struct {
	database string
	table    string
	cols     []string
	final    bool
	where    []string
	orderBy  []string
	limit    int
	offset   int
}

// Read returns a builder selecting from the realtime table.
func (opts *TableOptions) Read() *ReadBuilder {
	return &ReadBuilder{
		database: opts.Database,
		table:    opts.Table,
	}
}

// Select sets the selected columns. The default is *.
func (b *ReadBuilder) Select(cols ...string) *ReadBuilder {
	b.cols = cols
	return b
}

// Final applies the version collapse at read time
// instead of waiting for a background merge.
func (b *ReadBuilder) Final() *ReadBuilder {
	b.final = true
	return b
}

// Collection filters by collection.
func (b *ReadBuilder) Collection(c string) *ReadBuilder {
	b.where = append(b.where, "collection = "+quoteString(c))
	return b
}

// DocID filters by document ID.
func (b *ReadBuilder) DocID(id string) *ReadBuilder {
	b.where = append(b.where, "doc_id = "+quoteString(id))
	return b
}

// ExcludeDeleted filters out soft-deleted rows.
func (b *ReadBuilder) ExcludeDeleted() *ReadBuilder {
	b.where = append(b.where, "is_deleted = 0")
	return b
}

// UpdatedAfter keeps rows updated strictly after t.
func (b *ReadBuilder) UpdatedAfter(t time.Time) *ReadBuilder {
	b.where = append(b.where, "updated_at > fromUnixTimestamp64Milli("+strconv.FormatInt(t.UnixMilli(), 10)+")")
	return b
}

// UpdatedBefore keeps rows updated strictly before t.
func (b *ReadBuilder) UpdatedBefore(t time.Time) *ReadBuilder {
	b.where = append(b.where, "updated_at < fromUnixTimestamp64Milli("+strconv.FormatInt(t.UnixMilli(), 10)+")")
	return b
}

// Where adds a raw predicate. The caller is responsible for quoting.
func (b *ReadBuilder) Where(raw string) *ReadBuilder {
	b.where = append(b.where, raw)
	return b
}

// OrderBy sets the ordering columns.
func (b *ReadBuilder) OrderBy(cols ...string) *ReadBuilder {
	b.orderBy = cols
	return b
}

// Limit caps the number of returned rows. Zero means no limit.
func (b *ReadBuilder) Limit(n int) *ReadBuilder {
	b.limit = n
	return b
}

// Offset skips the first k rows.
func (b *ReadBuilder) Offset(k int) *ReadBuilder {
	b.offset = k
	return b
}

// SQL returns the composed statement.
func (b *ReadBuilder) SQL() string {
	var sb strings.Builder

	sb.WriteString("SELECT ")

	if len(b.cols) == 0 {
		sb.WriteString("*")
	} else {
		sb.WriteString(strings.Join(b.cols, ", "))
	}

	sb.WriteString(" FROM ")
	sb.WriteString(b.database)
	sb.WriteString(".")
	sb.WriteString(b.table)

	if b.final {
		sb.WriteString(" FINAL")
	}

	if len(b.where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.where, " AND "))
	}

	if len(b.orderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(b.orderBy, ", "))
	}

	if b.limit > 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(b.limit))
	}

	if b.offset > 0 {
		sb.WriteString(" OFFSET ")
		sb.WriteString(strconv.Itoa(b.offset))
	}

	return sb.String()
}

// quoteString returns s as a ClickHouse string literal.
// Single quotes are doubled; backslashes are escaped as well
// since ClickHouse treats them as escape characters.
func quoteString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "'", "''")

	return "'" + s + "'"
}
