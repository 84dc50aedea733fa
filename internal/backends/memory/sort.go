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

package memory

import (
	"golang.org/x/exp/slices"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
)

// sortKey is a single field of a sort specification.
type sortKey struct {
	path       string
	descending bool
}

// parseSort converts a sort document into sort keys.
// Every value must be 1 or -1.
func parseSort(sort bsoncore.Document) ([]sortKey, error) {
	elems, err := sort.Elements()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	keys := make([]sortKey, 0, len(elems))

	for _, elem := range elems {
		v, ok := asFloat64(elem.Value())
		if !ok || (v != 1 && v != -1) {
			return nil, unsupported("$sort key ordering must be 1 (for ascending) or -1 (for descending)")
		}

		keys = append(keys, sortKey{path: elem.Key(), descending: v == -1})
	}

	return keys, nil
}

// sortDocuments sorts documents in place.
// The sort is stable, so documents that compare equal keep their insertion order.
func sortDocuments(docs []bsoncore.Document, keys []sortKey) {
	if len(keys) == 0 {
		return
	}

	slices.SortStableFunc(docs, func(a, b bsoncore.Document) int {
		for _, key := range keys {
			c := compareValues(sortValue(a, key), sortValue(b, key))
			if key.descending {
				c = -c
			}

			if c != 0 {
				return c
			}
		}

		return 0
	})
}

// sortValue returns the value a document sorts by for the given key.
// An array sorts by its smallest element in ascending order and its largest in descending;
// missing fields and empty arrays sort as null.
func sortValue(doc bsoncore.Document, key sortKey) bsoncore.Value {
	var flat []bsoncore.Value

	for _, v := range lookupPathValues(doc, key.path) {
		if arr, ok := v.ArrayOK(); ok {
			if elems, err := bsoncore.Document(arr).Values(); err == nil {
				flat = append(flat, elems...)
				continue
			}
		}

		flat = append(flat, v)
	}

	if len(flat) == 0 {
		return nullValue
	}

	best := flat[0]

	for _, v := range flat[1:] {
		c := compareValues(v, best)
		if (!key.descending && c < 0) || (key.descending && c > 0) {
			best = v
		}
	}

	return best
}
