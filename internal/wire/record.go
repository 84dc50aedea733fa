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

package wire

import (
	"bufio"
	"errors"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
	"github.com/meerkatdb/meerkatdb/internal/util/must"
)

// Record is a single recorded wire protocol message.
type Record struct {
	Header  *MsgHeader
	Body    MsgBody
	HeaderB []byte
	BodyB   []byte
}

// LoadRecords finds all .bin files recursively under the given directory,
// selects up to the limit of them randomly (if limit > 0),
// and parses their content.
func LoadRecords(dir string, limit int) ([]Record, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return lazyerrors.Error(err)
		}

		if info.IsDir() || filepath.Ext(path) != ".bin" {
			return nil
		}

		files = append(files, path)

		return nil
	})
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	if limit > 0 && len(files) > limit {
		rand.Shuffle(len(files), func(i, j int) { files[i], files[j] = files[j], files[i] })
		files = files[:limit]
	}

	var res []Record

	for _, file := range files {
		records, err := loadRecordFile(file)
		if err != nil {
			return nil, lazyerrors.Errorf("%s: %w", file, err)
		}

		res = append(res, records...)
	}

	return res, nil
}

// loadRecordFile parses a single .bin file containing zero or more messages.
func loadRecordFile(file string) ([]Record, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	defer f.Close() //nolint:errcheck // read-only file

	bufr := bufio.NewReader(f)

	var res []Record

	for {
		header, body, err := ReadMessage(bufr)
		if errors.Is(err, ErrZeroRead) {
			break
		}

		if err != nil {
			return nil, lazyerrors.Error(err)
		}

		res = append(res, Record{
			Header:  header,
			Body:    body,
			HeaderB: must.NotFail(header.MarshalBinary()),
			BodyB:   must.NotFail(body.MarshalBinary()),
		})
	}

	return res, nil
}
