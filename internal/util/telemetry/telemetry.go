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

// Package telemetry provides basic anonymous usage telemetry.
package telemetry

import (
	"fmt"
	"strings"

	"github.com/AlekSi/pointer"
	"go.uber.org/zap"
)

// Flag represents the telemetry CLI flag value.
//
// It may be undecided (nil), explicitly enabled (true), or explicitly disabled (false).
type Flag struct {
	v *bool
}

// NewFlag returns a new Flag with the given value.
func NewFlag(v *bool) *Flag {
	return &Flag{v: v}
}

// UnmarshalText implements [encoding.TextUnmarshaler],
// and with it the kong.MapperValue interface.
func (f *Flag) UnmarshalText(text []byte) error {
	switch s := strings.ToLower(string(text)); s {
	case "", "undecided":
		f.v = nil
	case "1", "t", "true", "y", "yes", "on", "enable", "enabled", "optin", "opt-in", "allow":
		f.v = pointer.ToBool(true)
	case "0", "f", "false", "n", "no", "off", "disable", "disabled", "optout", "opt-out", "forbid":
		f.v = pointer.ToBool(false)
	default:
		return fmt.Errorf("failed to parse telemetry state %q", s)
	}

	return nil
}

// initialState decides the initial telemetry state from the flag,
// the DO_NOT_TRACK environment variable, the executable name,
// and the previously persisted state, in that order of precedence.
//
// It returns the decided state (nil for undecided) and whether the state is locked.
func initialState(f *Flag, dnt, execName string, prev *bool, l *zap.Logger) (*bool, bool, error) {
	var dntSet bool

	switch s := strings.ToLower(dnt); s {
	case "", "0", "f", "false", "n", "no", "off", "disable", "disabled", "optout", "opt-out", "forbid":
		// not set
	case "1", "t", "true", "y", "yes", "on", "enable", "enabled", "optin", "opt-in", "allow":
		dntSet = true
	default:
		return nil, false, fmt.Errorf("failed to parse DO_NOT_TRACK %q", s)
	}

	execDisable := strings.Contains(strings.ToLower(execName), "donottrack")

	if dntSet || execDisable {
		if pointer.GetBool(f.v) {
			return nil, false, fmt.Errorf("telemetry can't be enabled")
		}

		l.Info("Telemetry is disabled by DO_NOT_TRACK.")
		return pointer.ToBool(false), true, nil
	}

	// a state set on the command line can't be changed at runtime
	if f.v != nil {
		return pointer.ToBool(*f.v), true, nil
	}

	return prev, false, nil
}
