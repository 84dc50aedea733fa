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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AlekSi/pointer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/meerkatdb/meerkatdb/internal/clientconn/connmetrics"
	"github.com/meerkatdb/meerkatdb/internal/util/state"
	"github.com/meerkatdb/meerkatdb/internal/util/testutil"
)

func TestNewReporterLock(t *testing.T) {
	t.Parallel()

	provider, err := state.NewProvider("")
	require.NoError(t, err)

	opts := NewReporterOpts{
		F:           NewFlag(pointer.ToBool(true)),
		ConnMetrics: connmetrics.NewListenerMetrics().ConnMetrics,
		P:           provider,
		L:           zaptest.NewLogger(t),
	}

	_, err = NewReporter(&opts)
	require.NoError(t, err)

	assert.True(t, provider.Get().TelemetryLocked)
	require.NotNil(t, provider.Get().Telemetry)
	assert.True(t, *provider.Get().Telemetry)
}

func TestReporterReport(t *testing.T) {
	t.Parallel()

	var received *request

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		received = &req

		w.WriteHeader(http.StatusCreated)
		require.NoError(t, json.NewEncoder(w).Encode(response{LatestVersion: "v1.0.0-next"}))
	}))
	defer srv.Close()

	provider, err := state.NewProvider("")
	require.NoError(t, err)

	r, err := NewReporter(&NewReporterOpts{
		URL:           srv.URL,
		F:             NewFlag(pointer.ToBool(true)),
		ConnMetrics:   connmetrics.NewListenerMetrics().ConnMetrics,
		P:             provider,
		L:             zaptest.NewLogger(t),
		ReportTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	r.report(testutil.Ctx(t))

	require.NotNil(t, received)
	assert.Equal(t, provider.Get().UUID, received.UUID)
	assert.Equal(t, "v1.0.0-next", provider.Get().LatestVersion)
}

func TestReporterDisabled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request sent while telemetry is disabled")
	}))
	defer srv.Close()

	provider, err := state.NewProvider("")
	require.NoError(t, err)

	r, err := NewReporter(&NewReporterOpts{
		URL:           srv.URL,
		F:             NewFlag(pointer.ToBool(false)),
		ConnMetrics:   connmetrics.NewListenerMetrics().ConnMetrics,
		P:             provider,
		L:             zaptest.NewLogger(t),
		ReportTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	r.report(testutil.Ctx(t))
}
