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

package objstore

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"
)

// memoryObject is a single stored object.
type memoryObject struct {
	data         []byte
	lastModified time.Time
}

// Memory implements ObjectStore and Uploader in process memory.
// It is used by tests and by embedded setups without an S3 endpoint.
type Memory struct {
	rw      sync.RWMutex
	objects map[string]memoryObject
}

// NewMemory creates a new empty in-memory object store.
func NewMemory() *Memory {
	return &Memory{
		objects: map[string]memoryObject{},
	}
}

// List implements ObjectStore.
func (st *Memory) List(ctx context.Context, glob string) ([]ObjectInfo, error) {
	st.rw.RLock()
	defer st.rw.RUnlock()

	keys := maps.Keys(st.objects)
	slices.Sort(keys)

	res := make([]ObjectInfo, 0, len(keys))

	for _, key := range keys {
		matched, err := matchGlob(glob, key)
		if err != nil {
			return nil, lazyerrors.Error(err)
		}

		if !matched {
			continue
		}

		obj := st.objects[key]
		res = append(res, ObjectInfo{
			Key:          key,
			Size:         int64(len(obj.data)),
			LastModified: obj.lastModified,
		})
	}

	return res, nil
}

// Get implements ObjectStore.
func (st *Memory) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	st.rw.RLock()
	defer st.rw.RUnlock()

	obj, ok := st.objects[key]
	if !ok {
		return nil, lazyerrors.Errorf("no such object: %q", key)
	}

	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// Delete implements ObjectStore.
func (st *Memory) Delete(ctx context.Context, key string) error {
	st.rw.Lock()
	defer st.rw.Unlock()

	if _, ok := st.objects[key]; !ok {
		return lazyerrors.Errorf("no such object: %q", key)
	}

	delete(st.objects, key)

	return nil
}

// Put implements Uploader. Existing objects are overwritten.
func (st *Memory) Put(ctx context.Context, key string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return lazyerrors.Error(err)
	}

	st.rw.Lock()
	defer st.rw.Unlock()

	st.objects[key] = memoryObject{
		data:         data,
		lastModified: time.Now(),
	}

	return nil
}

// check interfaces
var (
	_ ObjectStore = (*Memory)(nil)
	_ Uploader    = (*Memory)(nil)
)
