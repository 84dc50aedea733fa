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

// Package backends provides common interfaces and code for all backend implementations.
//
// # Design principles
//
//  1. Interfaces are relatively high-level and "fat".
//     We are generally doing one backend interface call per command handler call.
//     For example, the `insert` command handler calls only
//     `b.Database("database").Collection("collection").InsertAll(ctx, params)`;
//     that method creates the database if needed, creates the collection if needed,
//     and inserts all documents, stopping at the first error.
//     There is no method to insert one document into an existing collection.
//     That shifts some complexity from handlers into backend implementations,
//     but allows implementations to be much more effective.
//  2. Backend objects are stateful; Database and Collection objects are stateless and cheap.
//     All state is kept by the Backend that created them,
//     so handlers can create and discard Database and Collection objects on the fly.
//     Creating a Database or Collection object does not create the database or collection itself;
//     they are created implicitly by the first write.
//     For that reason, there are no separate methods to create databases
//     or to check whether a database or collection exists:
//     reads of missing namespaces return valid empty results,
//     and methods that require an existing namespace return errors with well-known codes.
//  3. Methods accept and return documents in their wire encoding (bsoncore.Document).
//     Backends do not re-validate documents; the wire layer already did.
//  4. Errors that handlers are expected to observe are returned as *Error with an ErrorCode;
//     all other errors are opaque. See checkError.
package backends
