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

// Package cursor provides the registry of server-side cursors.
//
// The registry is the single owner of all cursor state.
// Handlers refer to cursors by ID only and never advance or close them directly,
// so a cursor is either present in the registry or gone;
// there is no intermediate state to observe.
package cursor

import (
	"time"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/meerkatdb/meerkatdb/internal/util/resource"
)

// Cursor tracks a position in a stored result set.
//
// Exported fields are immutable after creation.
// The position and the last-use time are owned by the registry
// and change only under its lock.
type Cursor struct {
	created time.Time
	token   *resource.Token

	DB         string
	Collection string

	docs     []bsoncore.Document
	lastUsed time.Time

	ID        int64
	ConnID    int64
	BatchSize int32

	pos int
}

// Namespace returns the "database.collection" namespace of the cursor.
func (c *Cursor) Namespace() string {
	return c.DB + "." + c.Collection
}
