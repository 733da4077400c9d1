// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"", zapcore.InfoLevel},
		{"info", zapcore.InfoLevel},
		{"debug", zapcore.DebugLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"trace", zapcore.Level(-2)},
	}

	for _, tt := range tests {
		lvl, err := parseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, lvl.Level(), tt.in)
	}

	_, err := parseLevel("loud")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	log, sync, err := New(Options{Level: "debug", Format: "json"})
	require.NoError(t, err)
	defer sync()
	assert.True(t, log.V(1).Enabled())
	assert.False(t, log.V(2).Enabled())

	_, _, err = New(Options{Format: "xml"})
	assert.Error(t, err)
}
