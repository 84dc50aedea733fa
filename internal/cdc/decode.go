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

package cdc

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"strconv"

	"github.com/parquet-go/parquet-go"

	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
)

// csvColumns is the required CSV header, in canonical order.
var csvColumns = []string{"collection", "doc_id", "data", "updated_at", "version", "is_deleted"}

// decodeFunc parses the content of one staged file into rows.
type decodeFunc func(data []byte) ([]Row, error)

// decoderFor returns the decoder for the given format.
func decoderFor(format Format) (decodeFunc, error) {
	switch format {
	case FormatParquet:
		return decodeParquet, nil
	case FormatJSONEachRow:
		return decodeJSONEachRow, nil
	case FormatCSV:
		return decodeCSV, nil
	default:
		return nil, lazyerrors.Errorf("unhandled format %q", format)
	}
}

// jsonRow mirrors Row for JSONEachRow files.
// The data field may be either a JSON string or an embedded object.
type jsonRow struct {
	Collection string          `json:"collection"`
	DocID      string          `json:"doc_id"`
	Data       json.RawMessage `json:"data"`
	UpdatedAt  int64           `json:"updated_at"`
	Version    uint64          `json:"version"`
	IsDeleted  uint8           `json:"is_deleted"`
}

// dataString returns the data field in its string form,
// unquoting it if it was written as a JSON string.
func dataString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", lazyerrors.Error(err)
		}

		return s, nil
	}

	return string(raw), nil
}

func decodeJSONEachRow(data []byte) ([]Row, error) {
	var res []Row

	dec := json.NewDecoder(bytes.NewReader(data))

	for {
		var jr jsonRow

		if err := dec.Decode(&jr); err != nil {
			if errors.Is(err, io.EOF) {
				return res, nil
			}

			return nil, lazyerrors.Error(err)
		}

		d, err := dataString(jr.Data)
		if err != nil {
			return nil, lazyerrors.Error(err)
		}

		res = append(res, Row{
			Collection: jr.Collection,
			DocID:      jr.DocID,
			Data:       d,
			UpdatedAt:  jr.UpdatedAt,
			Version:    jr.Version,
			IsDeleted:  jr.IsDeleted,
		})
	}
}

func decodeCSV(data []byte) ([]Row, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[name] = i
	}

	for _, name := range csvColumns {
		if _, ok := cols[name]; !ok {
			return nil, lazyerrors.Errorf("missing CSV column %q", name)
		}
	}

	var res []Row

	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return res, nil
		}

		if err != nil {
			return nil, lazyerrors.Error(err)
		}

		updatedAt, err := strconv.ParseInt(rec[cols["updated_at"]], 10, 64)
		if err != nil {
			return nil, lazyerrors.Error(err)
		}

		version, err := strconv.ParseUint(rec[cols["version"]], 10, 64)
		if err != nil {
			return nil, lazyerrors.Error(err)
		}

		isDeleted, err := strconv.ParseUint(rec[cols["is_deleted"]], 10, 8)
		if err != nil {
			return nil, lazyerrors.Error(err)
		}

		if isDeleted > 1 {
			return nil, lazyerrors.Errorf("is_deleted must be 0 or 1, got %d", isDeleted)
		}

		res = append(res, Row{
			Collection: rec[cols["collection"]],
			DocID:      rec[cols["doc_id"]],
			Data:       rec[cols["data"]],
			UpdatedAt:  updatedAt,
			Version:    version,
			IsDeleted:  uint8(isDeleted),
		})
	}
}

func decodeParquet(data []byte) ([]Row, error) {
	rows, err := parquet.Read[Row](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	return rows, nil
}
