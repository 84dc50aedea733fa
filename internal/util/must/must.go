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

// Package must provides helper functions that panic on error.
//
// Those functions should be used only when the error would indicate a bug
// in the caller, not a runtime condition.
package must

import "github.com/meerkatdb/meerkatdb/internal/util/lazyerrors"

// NotFail panics if the error is not nil, returns res otherwise.
func NotFail[T any](res T, err error) T {
	NoError(err)
	return res
}

// NoError panics if the error is not nil.
func NoError(err error) {
	if err != nil {
		panic(lazyerrors.Error(err))
	}
}

// NotBeZero panics if the given value is the zero value of its type.
func NotBeZero[T comparable](v T) {
	var zero T
	if v == zero {
		panic("value is zero")
	}
}
