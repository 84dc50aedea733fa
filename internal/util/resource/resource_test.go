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

package resource

import (
	"runtime/pprof"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testObject struct {
	token *Token
}

// entryCount returns the number of entries for obj in its pprof profile.
func entryCount(t *testing.T, obj any) int {
	t.Helper()

	if p := pprof.Lookup(profileName(obj)); p != nil {
		return p.Count()
	}

	return 0
}

func TestTrack(t *testing.T) {
	obj := &testObject{token: NewToken()}
	Track(obj, obj.token)

	assert.Equal(t, 1, entryCount(t, obj))

	Untrack(obj, obj.token)
	assert.Equal(t, 0, entryCount(t, obj))
}

func TestTrackPanics(t *testing.T) {
	obj := &testObject{token: NewToken()}

	assert.Panics(t, func() { Track[testObject](nil, obj.token) })
	assert.Panics(t, func() { Track(obj, nil) })

	// token must be the field of the tracked object itself
	assert.Panics(t, func() { Track(obj, NewToken()) })

	require.NotPanics(t, func() { Track(obj, obj.token) })
	require.NotPanics(t, func() { Untrack(obj, obj.token) })
}
