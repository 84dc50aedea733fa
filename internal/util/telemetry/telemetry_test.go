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

package telemetry

import (
	"testing"

	"github.com/AlekSi/pointer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestFlag(t *testing.T) {
	t.Parallel()

	for name, tc := range map[string]struct {
		text        string
		expected    *bool
		expectedErr bool
	}{
		"empty":     {text: "", expected: nil},
		"undecided": {text: "undecided", expected: nil},
		"enable":    {text: "enable", expected: pointer.ToBool(true)},
		"true":      {text: "true", expected: pointer.ToBool(true)},
		"1":         {text: "1", expected: pointer.ToBool(true)},
		"disable":   {text: "disable", expected: pointer.ToBool(false)},
		"false":     {text: "false", expected: pointer.ToBool(false)},
		"0":         {text: "0", expected: pointer.ToBool(false)},
		"OptOut":    {text: "OptOut", expected: pointer.ToBool(false)},
		"invalid":   {text: "whatever", expectedErr: true},
	} {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var f Flag
			err := f.UnmarshalText([]byte(tc.text))

			if tc.expectedErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.expected, f.v)
		})
	}
}

func TestInitialState(t *testing.T) {
	t.Parallel()

	for name, tc := range map[string]struct {
		flag           *bool
		dnt            string
		execName       string
		prev           *bool
		expectedState  *bool
		expectedLocked bool
		expectedErr    bool
	}{
		"Undecided": {},
		"FlagEnable": {
			flag:           pointer.ToBool(true),
			expectedState:  pointer.ToBool(true),
			expectedLocked: true,
		},
		"FlagDisable": {
			flag:           pointer.ToBool(false),
			expectedState:  pointer.ToBool(false),
			expectedLocked: true,
		},
		"PreviousDecision": {
			prev:          pointer.ToBool(true),
			expectedState: pointer.ToBool(true),
		},
		"FlagOverridesPrevious": {
			flag:           pointer.ToBool(false),
			prev:           pointer.ToBool(true),
			expectedState:  pointer.ToBool(false),
			expectedLocked: true,
		},
		"DNT": {
			dnt:            "1",
			expectedState:  pointer.ToBool(false),
			expectedLocked: true,
		},
		"DNTUnset": {
			dnt:           "0",
			prev:          pointer.ToBool(true),
			expectedState: pointer.ToBool(true),
		},
		"DNTConflict": {
			dnt:         "true",
			flag:        pointer.ToBool(true),
			expectedErr: true,
		},
		"DNTInvalid": {
			dnt:         "whatever",
			expectedErr: true,
		},
		"ExecName": {
			execName:       "meerkatdb_donottrack",
			expectedState:  pointer.ToBool(false),
			expectedLocked: true,
		},
	} {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			f := NewFlag(tc.flag)
			l := zaptest.NewLogger(t)

			actual, locked, err := initialState(f, tc.dnt, tc.execName, tc.prev, l)

			if tc.expectedErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.expectedState, actual)
			assert.Equal(t, tc.expectedLocked, locked)
		})
	}
}
