// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package transport moves loopbus frames between nodes. Every transport
// delivers received frames to subscribed handlers from a single reader
// goroutine started by Run.
package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/Thermoquad/canloop/pkg/loopbus"
)

// ErrBusClosed is returned by Publish and Run after Close.
var ErrBusClosed = errors.New("bus closed")

// Handler receives one frame. It runs on the reader goroutine and must not
// block.
type Handler func(loopbus.Frame)

// Bus is a broadcast frame transport.
type Bus interface {
	// Subscribe registers a receive handler. Handlers added after Run has
	// started see only subsequent frames.
	Subscribe(h Handler)
	// Publish transmits a frame. A node never receives its own frames.
	Publish(f loopbus.Frame) error
	// Run reads frames until ctx is done or the bus is closed.
	Run(ctx context.Context) error
	// Close releases the underlying device and unblocks Run.
	Close() error
	// Name describes the bus for banners and logs.
	Name() string
}

// handlers is a concurrency-safe fan-out list shared by the implementations.
type handlers struct {
	mu   sync.RWMutex
	list []Handler
}

func (h *handlers) add(fn Handler) {
	h.mu.Lock()
	h.list = append(h.list, fn)
	h.mu.Unlock()
}

func (h *handlers) dispatch(f loopbus.Frame) {
	h.mu.RLock()
	list := h.list
	h.mu.RUnlock()
	for _, fn := range list {
		fn(f)
	}
}
