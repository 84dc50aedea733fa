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

package lazyerrors

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError(t *testing.T) {
	t.Parallel()

	err := Error(io.EOF)
	assert.Contains(t, err.Error(), "lazyerrors_test.go:")
	assert.Contains(t, err.Error(), "TestError")
	assert.Contains(t, err.Error(), "EOF")
	assert.True(t, errors.Is(err, io.EOF))

	assert.Panics(t, func() { Error(nil) })
}

func TestErrorf(t *testing.T) {
	t.Parallel()

	err := Errorf("read: %w", io.ErrUnexpectedEOF)
	assert.Contains(t, err.Error(), "lazyerrors_test.go:")
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestUnwrapAll(t *testing.T) {
	t.Parallel()

	err := Error(Error(Errorf("wrapped: %w", io.EOF)))
	require.Equal(t, io.EOF, UnwrapAll(err))

	require.Nil(t, UnwrapAll(nil))
}
