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

// Package objstore provides access to the object store holding staged change files.
package objstore

import (
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"
)

// ObjectInfo describes a single stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectStore provides access to immutable staged files.
//
// List returns objects whose keys match the given glob, sorted by key.
// Get returns the content of the object with the given key;
// the caller must close the returned reader.
type ObjectStore interface {
	List(ctx context.Context, glob string) ([]ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// Uploader is implemented by object stores that also accept writes.
// It is used by the staging side of the pipeline.
type Uploader interface {
	Put(ctx context.Context, key string, r io.Reader) error
}

// placeholderRe matches {placeholder} segments of a path glob.
var placeholderRe = regexp.MustCompile(`\{[^{}]*\}`)

// globPrefix returns the literal key prefix of glob up to the first wildcard.
// It is used to narrow object listings before exact matching.
func globPrefix(glob string) string {
	if i := strings.IndexAny(glob, "*?{["); i >= 0 {
		return glob[:i]
	}

	return glob
}

// matchGlob reports whether key matches glob.
//
// `*` matches any run of characters within a single path segment,
// and `{placeholder}` is equivalent to `*`.
func matchGlob(glob, key string) (bool, error) {
	matched, err := path.Match(placeholderRe.ReplaceAllString(glob, "*"), key)
	if err != nil {
		return false, fmt.Errorf("objstore: invalid path glob %q: %w", glob, err)
	}

	return matched, nil
}
