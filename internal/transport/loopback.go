// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Thermoquad/canloop/pkg/loopbus"
)

// LoopbackQueueSize is the per-endpoint receive buffer of a Hub.
const LoopbackQueueSize = 256

// Hub is an in-process broadcast medium. Frames published on one endpoint
// are delivered to every other endpoint attached to the same hub.
type Hub struct {
	mu        sync.RWMutex
	endpoints []*Loopback
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{}
}

// Endpoint attaches a new bus to the hub.
func (h *Hub) Endpoint(name string) *Loopback {
	lb := &Loopback{
		hub:   h,
		name:  name,
		inbox: make(chan loopbus.Frame, LoopbackQueueSize),
		done:  make(chan struct{}),
	}
	h.mu.Lock()
	h.endpoints = append(h.endpoints, lb)
	h.mu.Unlock()
	return lb
}

func (h *Hub) broadcast(from *Loopback, f loopbus.Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ep := range h.endpoints {
		if ep != from {
			ep.deliver(f)
		}
	}
}

// Loopback is one endpoint of a Hub.
type Loopback struct {
	hub      *Hub
	name     string
	handlers handlers
	inbox    chan loopbus.Frame
	done     chan struct{}
	once     sync.Once
	closed   atomic.Bool
	dropped  atomic.Uint64
}

func (l *Loopback) deliver(f loopbus.Frame) {
	if l.closed.Load() {
		return
	}
	select {
	case l.inbox <- f:
	default:
		l.dropped.Add(1)
	}
}

// Subscribe implements Bus.
func (l *Loopback) Subscribe(h Handler) { l.handlers.add(h) }

// Publish implements Bus.
func (l *Loopback) Publish(f loopbus.Frame) error {
	if l.closed.Load() {
		return ErrBusClosed
	}
	l.hub.broadcast(l, f)
	return nil
}

// Run implements Bus.
func (l *Loopback) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return ErrBusClosed
		case f := <-l.inbox:
			l.handlers.dispatch(f)
		}
	}
}

// Close implements Bus.
func (l *Loopback) Close() error {
	l.once.Do(func() {
		l.closed.Store(true)
		close(l.done)
	})
	return nil
}

// Name implements Bus.
func (l *Loopback) Name() string { return fmt.Sprintf("Loopback: %s", l.name) }

// Dropped returns the number of frames discarded because the receive buffer
// was full.
func (l *Loopback) Dropped() uint64 { return l.dropped.Load() }
