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

package cdc

import (
	"fmt"
	"net/url"
	"time"
)

// Format is the encoding of staged files.
type Format string

// Supported staged file formats.
const (
	FormatParquet     Format = "Parquet"
	FormatJSONEachRow Format = "JSONEachRow"
	FormatCSV         Format = "CSV"
)

// AfterProcessing selects what happens to a staged file once its marker is written.
type AfterProcessing string

// Supported afterProcessing values.
const (
	AfterProcessingKeep   AfterProcessing = "keep"
	AfterProcessingDelete AfterProcessing = "delete"
)

// Config validation bounds and defaults.
const (
	minPollInterval     = 100 * time.Millisecond
	defaultPollInterval = time.Second

	defaultMaxThreads = 4
	maxMaxThreads     = 64

	defaultMaxBlockSize = 65536
)

// Config represents the ingester configuration.
type Config struct {
	// Endpoint is the object store base URL. It must use the https scheme.
	// Leave empty when the ingester runs on an in-process object store.
	Endpoint string

	// Bucket is the object store bucket holding staged files.
	Bucket string

	// PathGlob selects staged files to ingest.
	// `*` matches within one path segment; `{placeholder}` is equivalent to `*`.
	PathGlob string

	// Format is the encoding of staged files.
	Format Format

	// PollInterval is the listing cadence. At least 100ms, default 1s.
	PollInterval time.Duration

	// MaxThreads is the worker count, between 1 and 64, default 4.
	MaxThreads int

	// MaxBlockSize is the number of rows per insert batch, default 65536.
	MaxBlockSize int

	// AfterProcessing selects whether a processed file is kept or deleted.
	// Replaying a deleted file requires staging it again.
	AfterProcessing AfterProcessing

	// OrderedMode processes files in path order with a single worker;
	// MaxThreads is clamped to 1.
	OrderedMode bool
}

// setDefaults fills unset options with their defaults
// and applies the ordered mode clamp.
func (c *Config) setDefaults() {
	if c.PollInterval == 0 {
		c.PollInterval = defaultPollInterval
	}

	if c.MaxThreads == 0 {
		c.MaxThreads = defaultMaxThreads
	}

	if c.OrderedMode {
		c.MaxThreads = 1
	}

	if c.MaxBlockSize == 0 {
		c.MaxBlockSize = defaultMaxBlockSize
	}

	if c.AfterProcessing == "" {
		c.AfterProcessing = AfterProcessingKeep
	}
}

// validate returns an error naming the offending option, if any.
// It expects defaults to be set.
func (c *Config) validate() error {
	if c.Endpoint != "" {
		u, err := url.Parse(c.Endpoint)
		if err != nil {
			return fmt.Errorf("endpoint %q is not a valid URL: %w", c.Endpoint, err)
		}

		if u.Scheme != "https" {
			return fmt.Errorf("endpoint %q must use the https scheme", c.Endpoint)
		}

		if c.Bucket == "" {
			return fmt.Errorf("bucket is required when endpoint is set")
		}
	}

	if c.PathGlob == "" {
		return fmt.Errorf("path is required")
	}

	switch c.Format {
	case FormatParquet, FormatJSONEachRow, FormatCSV:
		// nothing
	default:
		return fmt.Errorf("format %q is not supported", c.Format)
	}

	if c.PollInterval < minPollInterval {
		return fmt.Errorf("pollInterval must be at least %s, got %s", minPollInterval, c.PollInterval)
	}

	if c.MaxThreads < 1 || c.MaxThreads > maxMaxThreads {
		return fmt.Errorf("maxThreads must be between 1 and %d, got %d", maxMaxThreads, c.MaxThreads)
	}

	if c.MaxBlockSize < 1 {
		return fmt.Errorf("maxBlockSize must be positive, got %d", c.MaxBlockSize)
	}

	switch c.AfterProcessing {
	case AfterProcessingKeep, AfterProcessingDelete:
		// nothing
	default:
		return fmt.Errorf("afterProcessing %q is not supported", c.AfterProcessing)
	}

	return nil
}
