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

package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider(t *testing.T) {
	t.Parallel()

	filename := filepath.Join(t.TempDir(), "state.json")
	p1, err := NewProvider(filename)
	require.NoError(t, err)

	s1 := p1.Get()
	assert.NotEmpty(t, s1.UUID)
	assert.False(t, s1.Start.IsZero())

	s2 := p1.Get()
	assert.Equal(t, s1, s2)
	assert.NotSame(t, s1, s2)

	p2, err := NewProvider(filename)
	require.NoError(t, err)

	s3 := p2.Get()
	assert.Equal(t, s1.UUID, s3.UUID)

	require.NoError(t, os.Remove(filename))

	p3, err := NewProvider(filename)
	require.NoError(t, err)

	s4 := p3.Get()
	assert.NotEqual(t, s1.UUID, s4.UUID)
}

func TestProviderUpdate(t *testing.T) {
	t.Parallel()

	filename := filepath.Join(t.TempDir(), "state.json")
	p1, err := NewProvider(filename)
	require.NoError(t, err)

	ch := p1.Subscribe()

	// scheduled on subscription
	<-ch

	require.NoError(t, p1.Update(func(s *State) { s.EnableTelemetry() }))

	<-ch

	s := p1.Get()
	require.NotNil(t, s.Telemetry)
	assert.True(t, *s.Telemetry)
	assert.Equal(t, "enabled", s.TelemetryString())

	// telemetry decision survives restarts
	p2, err := NewProvider(filename)
	require.NoError(t, err)

	s = p2.Get()
	require.NotNil(t, s.Telemetry)
	assert.True(t, *s.Telemetry)

	require.NoError(t, p2.Update(func(s *State) {
		s.TelemetryLocked = true
		s.DisableTelemetry()
	}))

	require.NotNil(t, p2.Get().Telemetry)
	assert.True(t, *p2.Get().Telemetry)
}

func TestProviderNotPersisted(t *testing.T) {
	t.Parallel()

	p1, err := NewProvider("")
	require.NoError(t, err)

	p2, err := NewProvider("")
	require.NoError(t, err)

	assert.NotEqual(t, p1.Get().UUID, p2.Get().UUID)
}
