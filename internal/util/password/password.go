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

// Package password provides utilities for password hashing and verification.
package password

// ScramSHA256 represents derived SCRAM-SHA-256 credential parameters
// that should be stored instead of the password itself.
//
//nolint:vet // for readability
type ScramSHA256 struct {
	StoredKey      []byte
	ServerKey      []byte
	Salt           []byte
	IterationCount int
}
