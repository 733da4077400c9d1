// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.Received(0x202)
	m.Received(0x202)
	m.Dropped()
	m.Ignored(ReasonShort)
	m.Stepped(4000, 2800, -500, -200)
	m.Sent(nil)
	m.Sent(errors.New("tx"))
	m.SetArmed(true)
	m.Expired()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesReceived.WithLabelValues("0x202")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesIgnored.WithLabelValues(ReasonShort)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ControllerSteps))
	assert.Equal(t, 4000.0, testutil.ToFloat64(m.PumpCommand))
	assert.Equal(t, -500.0, testutil.ToFloat64(m.EtaT))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transmissions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SendFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Armed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WatchdogExpiries))

	_, err = New(reg)
	assert.Error(t, err, "double registration must fail")
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Received(1)
	m.Dropped()
	m.Ignored(ReasonNotData)
	m.Stepped(1, 2, 3, 4)
	m.Sent(nil)
	m.SetArmed(false)
	m.Expired()
}

func TestServer_Routes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)
	m.SetArmed(true)

	srv := NewServer(":0", reg, func() any {
		return map[string]bool{"armed": true}
	}, logr.Discard())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "canloop_transmission_armed 1")

	resp, err = http.Get(ts.URL + "/status")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"armed":true}`, strings.TrimSpace(string(body)))

	resp, err = http.Post(ts.URL+"/status", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
