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
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"

	"github.com/meerkatdb/meerkatdb/internal/cdc/objstore"
	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
)

// encodeFunc writes rows as the content of one staged file.
type encodeFunc func(w io.Writer, rows []Row) error

// Stager writes change rows into immutable staged files
// for an ingester to pick up.
type Stager struct {
	uploader objstore.Uploader
	encode   encodeFunc
	ext      string
}

// NewStager creates a Stager writing files in the given format.
func NewStager(uploader objstore.Uploader, format Format) (*Stager, error) {
	var encode encodeFunc
	var ext string

	switch format {
	case FormatParquet:
		encode, ext = encodeParquet, ".parquet"
	case FormatJSONEachRow:
		encode, ext = encodeJSONEachRow, ".json"
	case FormatCSV:
		encode, ext = encodeCSV, ".csv"
	default:
		return nil, lazyerrors.Errorf("unhandled format %q", format)
	}

	return &Stager{
		uploader: uploader,
		encode:   encode,
		ext:      ext,
	}, nil
}

// Stage writes one staged file with the given rows and returns its object key.
//
// Keys follow cdc/{database}/{collection}/YYYYMM/{uuid}{ext};
// a fresh UUID makes every file unique and immutable.
func (s *Stager) Stage(ctx context.Context, database, collection string, rows []Row) (string, error) {
	var buf bytes.Buffer

	if err := s.encode(&buf, rows); err != nil {
		return "", lazyerrors.Error(err)
	}

	key := fmt.Sprintf(
		"cdc/%s/%s/%s/%s%s",
		database, collection, time.Now().UTC().Format("200601"), uuid.NewString(), s.ext,
	)

	if err := s.uploader.Put(ctx, key, &buf); err != nil {
		return "", lazyerrors.Error(err)
	}

	return key, nil
}

func encodeParquet(w io.Writer, rows []Row) error {
	if err := parquet.Write[Row](w, rows); err != nil {
		return lazyerrors.Error(err)
	}

	return nil
}

// encodeJSONEachRow writes one JSON object per line.
// The data field is written as a JSON string, the canonical form
// for a string destination column.
func encodeJSONEachRow(w io.Writer, rows []Row) error {
	enc := json.NewEncoder(w)

	for _, row := range rows {
		d, err := json.Marshal(row.Data)
		if err != nil {
			return lazyerrors.Error(err)
		}

		jr := jsonRow{
			Collection: row.Collection,
			DocID:      row.DocID,
			Data:       d,
			UpdatedAt:  row.UpdatedAt,
			Version:    row.Version,
			IsDeleted:  row.IsDeleted,
		}

		if err := enc.Encode(jr); err != nil {
			return lazyerrors.Error(err)
		}
	}

	return nil
}

func encodeCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvColumns); err != nil {
		return lazyerrors.Error(err)
	}

	for _, row := range rows {
		rec := []string{
			row.Collection,
			row.DocID,
			row.Data,
			strconv.FormatInt(row.UpdatedAt, 10),
			strconv.FormatUint(row.Version, 10),
			strconv.FormatUint(uint64(row.IsDeleted), 10),
		}

		if err := cw.Write(rec); err != nil {
			return lazyerrors.Error(err)
		}
	}

	cw.Flush()

	return cw.Error()
}
