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

// Package state stores MeerkatDB process state.
package state

import (
	"time"

	"github.com/AlekSi/pointer"
	"github.com/google/uuid"

	"github.com/meerkatdb/meerkatdb/internal/util/must"
)

// State represents MeerkatDB process state.
//
//nolint:vet // for readability
type State struct {
	UUID string `json:"uuid"`

	// Start is the process start time; it is not persisted.
	Start time.Time `json:"-"`

	// Telemetry is nil while the telemetry state is undecided.
	Telemetry *bool `json:"telemetry,omitempty"`

	// TelemetryLocked is true if the telemetry state can't be changed
	// with a command; it is not persisted.
	TelemetryLocked bool `json:"-"`

	// LatestVersion is the latest version reported by the telemetry endpoint.
	LatestVersion string `json:"latestVersion,omitempty"`
}

// TelemetryString returns a human-readable telemetry state.
func (s *State) TelemetryString() string {
	switch {
	case s.Telemetry == nil:
		return "undecided"
	case *s.Telemetry:
		return "enabled"
	default:
		return "disabled"
	}
}

// EnableTelemetry enables telemetry. It does nothing if the state is locked.
func (s *State) EnableTelemetry() {
	if s.TelemetryLocked {
		return
	}

	s.Telemetry = pointer.ToBool(true)
	s.LatestVersion = ""
}

// DisableTelemetry disables telemetry. It does nothing if the state is locked.
func (s *State) DisableTelemetry() {
	if s.TelemetryLocked {
		return
	}

	s.Telemetry = pointer.ToBool(false)
	s.LatestVersion = ""
}

// fill replaces invalid or missing fields with valid values.
func (s *State) fill() {
	if _, err := uuid.Parse(s.UUID); err != nil {
		s.UUID = must.NotFail(uuid.NewRandom()).String()
	}

	if s.Start.IsZero() {
		s.Start = time.Now()
	}
}

// deepCopy returns a deep copy of the state.
func (s *State) deepCopy() *State {
	if s == nil {
		return nil
	}

	c := *s

	if s.Telemetry != nil {
		c.Telemetry = pointer.ToBool(*s.Telemetry)
	}

	return &c
}
