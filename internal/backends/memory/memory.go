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

// Package memory provides an in-process memory backend.
//
// All data is kept in Go maps and slices guarded by a single backend-level RWMutex
// and is lost when the process exits.
package memory

import (
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/meerkatdb/meerkatdb/internal/backends"
)

// dbData is the stored state of a single database.
type dbData struct {
	colls map[string]*collData
}

// collData is the stored state of a single collection.
//
// Stored documents are never modified in place: updates replace the whole document,
// so documents handed out to callers stay valid after the backend lock is released.
type collData struct {
	docs    []bsoncore.Document
	ids     map[string]struct{}
	indexes []backends.IndexInfo
}

// newCollData creates empty collection state with the implicit _id index.
func newCollData() *collData {
	return &collData{
		ids: map[string]struct{}{},
		indexes: []backends.IndexInfo{{
			Name:   "_id_",
			Key:    []backends.IndexKeyPair{{Field: "_id"}},
			Unique: true,
		}},
	}
}

// size returns the total size of stored documents in bytes.
func (c *collData) size() int64 {
	var res int64
	for _, doc := range c.docs {
		res += int64(len(doc))
	}

	return res
}
