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

// Package version provides information about MeerkatDB version and build configuration.
//
// # Go build tags
//
// The following Go build tags (also known as build constraints) affect builds of MeerkatDB:
//
//	meerkatdb_debug - enables debug build
//
// Debug builds behave differently in a few aspects:
//   - they are slower;
//   - some internal errors cause crashes instead of being handled more gracefully;
//   - stack traces are collected more liberally.
package version

import (
	"runtime"
	runtimedebug "runtime/debug"
)

// Info provides details about the current build.
//
//nolint:vet // for readability
type Info struct {
	Version          string
	Commit           string
	Branch           string
	Dirty            bool
	Package          string
	DebugBuild       bool
	BuildEnvironment map[string]string

	// MongoDBVersion is a fake MongoDB version for clients
	// that check major.minor to adjust their behavior.
	MongoDBVersion string

	// MongoDBVersionArray is MongoDBVersion, but as an array.
	MongoDBVersionArray [4]int32
}

// unknown is a placeholder for unknown version, commit, and branch values.
const unknown = "unknown"

// info singleton instance set by init().
var info *Info

// Get returns current build's info.
//
// It returns a shared instance without any synchronization.
// If the caller needs to modify the instance, it should make sure there are no concurrent accesses.
func Get() *Info {
	return info
}

func init() {
	info = &Info{
		Version:    unknown,
		Commit:     unknown,
		Branch:     unknown,
		Package:    unknown,
		DebugBuild: debugBuild,
		BuildEnvironment: map[string]string{
			"go.runtime": runtime.Version(),
		},
		MongoDBVersion:      "7.0.42",
		MongoDBVersionArray: [...]int32{7, 0, 42, 0},
	}

	buildInfo, ok := runtimedebug.ReadBuildInfo()
	if !ok {
		return
	}

	if buildInfo.Main.Version != "" && buildInfo.Main.Version != "(devel)" {
		info.Version = buildInfo.Main.Version
	}

	for _, s := range buildInfo.Settings {
		info.BuildEnvironment[s.Key] = s.Value

		switch s.Key {
		case "vcs.revision":
			info.Commit = s.Value
		case "vcs.modified":
			info.Dirty = s.Value == "true"
		case "-race":
			if s.Value == "true" {
				info.DebugBuild = true
			}
		}
	}
}
