// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package node

import (
	"time"

	"github.com/go-logr/logr"

	"github.com/Thermoquad/canloop/internal/controller"
	"github.com/Thermoquad/canloop/internal/metrics"
)

// Defaults
const (
	DefaultPeriod        = 1000 * time.Millisecond
	DefaultIdle          = 3000 * time.Millisecond
	DefaultQueueCapacity = 128
)

type options struct {
	log      logr.Logger
	metrics  *metrics.Metrics
	period   time.Duration
	idle     time.Duration
	capacity int
	cfg      controller.Config
}

func defaultOptions() options {
	return options{
		log:      logr.Discard(),
		period:   DefaultPeriod,
		idle:     DefaultIdle,
		capacity: DefaultQueueCapacity,
		cfg:      controller.DefaultConfig(),
	}
}

// Option configures a Node.
type Option func(*options)

// WithLogger sets the logger. Frames are logged at V(1).
func WithLogger(log logr.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithMetrics records node activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithPeriod sets the command transmission period.
func WithPeriod(d time.Duration) Option {
	return func(o *options) { o.period = d }
}

// WithIdle sets the inactivity window after which transmission is disarmed.
func WithIdle(d time.Duration) Option {
	return func(o *options) { o.idle = d }
}

// WithQueueCapacity sets the receive queue size.
func WithQueueCapacity(n int) Option {
	return func(o *options) { o.capacity = n }
}

// WithControllerConfig replaces the startup controller configuration.
func WithControllerConfig(cfg controller.Config) Option {
	return func(o *options) { o.cfg = cfg }
}
