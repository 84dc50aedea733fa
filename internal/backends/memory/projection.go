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
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
)

// projectDocument applies a projection to the document, keeping the field order.
//
// Only whole top-level fields can be projected, and the projection must be all
// inclusions or all exclusions; _id is included by default and may go either way.
func projectDocument(doc, projection bsoncore.Document) (bsoncore.Document, error) {
	elems, err := projection.Elements()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	if len(elems) == 0 {
		return doc, nil
	}

	fields := make(map[string]bool, len(elems))

	var inclusion, modeSet bool

	idIncluded := true

	for _, elem := range elems {
		key := elem.Key()

		if strings.Contains(key, ".") {
			return nil, unsupported("projection on path '" + key + "' is not supported")
		}

		v := elem.Value()

		var include bool

		switch v.Type {
		case bsontype.Boolean:
			include, _ = v.BooleanOK()
		case bsontype.Double, bsontype.Int32, bsontype.Int64:
			f, _ := asFloat64(v)
			include = f != 0
		default:
			return nil, unsupported(fmt.Sprintf("%s: %s is not a valid projection value", key, v.String()))
		}

		if key == "_id" {
			idIncluded = include
			continue
		}

		switch {
		case !modeSet:
			inclusion = include
			modeSet = true

		case include != inclusion && inclusion:
			return nil, unsupported("Cannot do exclusion on field " + key + " in inclusion projection")

		case include != inclusion:
			return nil, unsupported("Cannot do inclusion on field " + key + " in exclusion projection")
		}

		fields[key] = include
	}

	// {_id: 1} alone includes only _id; {_id: 0} alone excludes only _id
	if !modeSet {
		inclusion = idIncluded
	}

	docElems, err := doc.Elements()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	idx, res := bsoncore.AppendDocumentStart(nil)

	for _, elem := range docElems {
		key := elem.Key()

		var keep bool

		switch {
		case key == "_id":
			keep = idIncluded
		case inclusion:
			keep = fields[key]
		default:
			_, excluded := fields[key]
			keep = !excluded
		}

		if keep {
			res = bsoncore.AppendValueElement(res, key, elem.Value())
		}
	}

	res, err = bsoncore.AppendDocumentEnd(res, idx)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	return res, nil
}
