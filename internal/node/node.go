// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

// Package node runs the controller as a bus node.
//
// Three contexts touch a Node. The bus reader calls Ingest, which only
// enqueues. A single worker goroutine decodes frames and owns the controller
// engine. The transmitter and the watchdog timer share a mutex-guarded gate
// and read the latest command through one atomic word.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/Thermoquad/canloop/internal/controller"
	"github.com/Thermoquad/canloop/internal/metrics"
	"github.com/Thermoquad/canloop/internal/transport"
	"github.com/Thermoquad/canloop/pkg/loopbus"
)

var (
	// ErrQueueFull is logged when Ingest drops a frame.
	ErrQueueFull = errors.New("receive queue full")
	// ErrNodeClosed is returned by operations on a closed node.
	ErrNodeClosed = errors.New("node closed")
)

// Node is a controller bus node.
type Node struct {
	bus     transport.Bus
	log     logr.Logger
	metrics *metrics.Metrics
	period  time.Duration
	idle    time.Duration

	queue     chan loopbus.Frame
	configReq chan chan controller.Config
	done      chan struct{}
	workerEnd chan struct{}

	// worker-owned
	engine *controller.Engine

	command  atomic.Uint32 // omega<<16 | v
	snapshot atomic.Pointer[engineSnapshot]
	shut     atomic.Bool
	counters counters

	mu       sync.Mutex
	started  bool
	closed   bool
	armed    bool
	txStop   chan struct{}
	txDone   chan struct{}
	watchdog *time.Timer
	watchGen uint64
	watchWG  sync.WaitGroup
}

type counters struct {
	received      atomic.Uint64
	dropped       atomic.Uint64
	ignored       atomic.Uint64
	steps         atomic.Uint64
	transmissions atomic.Uint64
	sendFailures  atomic.Uint64
	expiries      atomic.Uint64
	armed         atomic.Bool
}

// engineSnapshot is published by the worker after every processed frame.
type engineSnapshot struct {
	hasFeedback bool
	enabled     bool
	setpoint    float64
	etaT, etaM  float64
}

// New creates a node bound to bus and subscribes its fast path. The node
// does not own the bus; closing the node leaves the bus open.
func New(bus transport.Bus, opts ...Option) (*Node, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	switch {
	case o.period <= 0:
		return nil, fmt.Errorf("period must be positive, got %v", o.period)
	case o.idle <= 0:
		return nil, fmt.Errorf("idle window must be positive, got %v", o.idle)
	case o.capacity <= 0:
		return nil, fmt.Errorf("queue capacity must be positive, got %d", o.capacity)
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}

	n := &Node{
		bus:       bus,
		log:       o.log.WithName("node"),
		metrics:   o.metrics,
		period:    o.period,
		idle:      o.idle,
		queue:     make(chan loopbus.Frame, o.capacity),
		configReq: make(chan chan controller.Config),
		done:      make(chan struct{}),
		workerEnd: make(chan struct{}),
		engine:    controller.NewEngine(o.cfg),
	}
	n.publishSnapshot(false)
	n.metrics.SetArmed(false)

	bus.Subscribe(func(f loopbus.Frame) { n.Ingest(f) })
	return n, nil
}

// Start launches the worker. The node closes itself when ctx is done.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrNodeClosed
	}
	if n.started {
		return errors.New("node already started")
	}
	n.started = true

	go n.work()
	go func() {
		select {
		case <-ctx.Done():
			n.Close()
		case <-n.done:
		}
	}()

	n.log.Info("node started", "bus", n.bus.Name(), "period", n.period, "idle", n.idle, "queue", cap(n.queue))
	return nil
}

// Ingest is the receive fast path. It never blocks; when the queue is full
// the frame is dropped and false is returned.
func (n *Node) Ingest(f loopbus.Frame) bool {
	if n.shut.Load() {
		return false
	}
	select {
	case n.queue <- f:
		return true
	default:
		d := n.counters.dropped.Add(1)
		n.metrics.Dropped()
		if d == 1 || d%100 == 0 {
			n.log.Error(ErrQueueFull, "dropping frame", "id", fmt.Sprintf("0x%03X", f.StandardID()), "dropped", d)
		}
		return false
	}
}

// Config returns the controller configuration as seen by the worker.
func (n *Node) Config(ctx context.Context) (controller.Config, error) {
	reply := make(chan controller.Config, 1)
	select {
	case n.configReq <- reply:
	case <-n.done:
		return controller.Config{}, ErrNodeClosed
	case <-ctx.Done():
		return controller.Config{}, ctx.Err()
	}
	select {
	case cfg := <-reply:
		return cfg, nil
	case <-ctx.Done():
		return controller.Config{}, ctx.Err()
	}
}

// Close stops both timers, waits for any in-flight transmission and worker
// item, and releases the worker. No command is sent after Close returns.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.shut.Store(true)

	n.watchGen++
	if n.watchdog != nil && n.watchdog.Stop() {
		n.watchWG.Done()
	}
	if n.armed {
		n.disarmLocked()
	}
	started := n.started
	n.mu.Unlock()

	n.watchWG.Wait()
	close(n.done)
	if started {
		<-n.workerEnd
	}
	n.log.Info("node closed")
	return nil
}

// ============================================================
// Worker
// ============================================================

func (n *Node) work() {
	defer close(n.workerEnd)
	for {
		select {
		case <-n.done:
			return
		case f := <-n.queue:
			n.process(f)
		case reply := <-n.configReq:
			reply <- n.engine.Config()
		}
	}
}

func (n *Node) process(f loopbus.Frame) {
	msg, err := loopbus.Decode(f)
	if err != nil {
		n.ignore(f, err)
		return
	}
	n.counters.received.Add(1)
	n.metrics.Received(f.StandardID())
	n.log.V(1).Info("RX", "id", fmt.Sprintf("0x%03X", f.StandardID()), "type", loopbus.FormatMessageType(f.ID), "data", f.HexPayload())

	switch m := msg.(type) {
	case loopbus.Enable:
		n.log.Info("enable received")
		n.publishSnapshot(true)
		return

	case loopbus.Setpoint:
		n.engine.SetSetpoint(m)
		n.log.Info("setpoint updated", "ts_sp", n.engine.Config().Setpoint.String())

	case loopbus.TemperatureGains:
		n.engine.SetTemperatureGains(m)
		cfg := n.engine.Config()
		n.log.Info("temperature gains updated", "kp", cfg.KpT.String(), "ki", cfg.KiT.String(), "kd", cfg.KdT.String(), "kaw", cfg.KawT.String())

	case loopbus.FlowGains:
		n.engine.SetFlowGains(m)
		cfg := n.engine.Config()
		n.log.Info("flow gains updated", "kp", cfg.Kpm.String(), "ki", cfg.Kim.String(), "kaw", cfg.Kawm.String(), "kvw", cfg.Kvw.String(), "kwv", cfg.Kwv.String())

	case loopbus.Feedback:
		cmd := n.engine.Observe(m)
		n.command.Store(packCommand(cmd))
		n.counters.steps.Add(1)
		etaT, etaM := n.engine.Integrators()
		n.metrics.Stepped(cmd.OmegaRPM, cmd.VRPM, etaT.Float64(), etaM.Float64())
		n.log.V(1).Info("step", "omega", cmd.OmegaRPM, "v", cmd.VRPM, "eta_t", etaT.String(), "eta_m", etaM.String())
		n.feedbackSeen()

	case loopbus.Command:
		// another controller's output; nothing to do
	}
	n.publishSnapshot(n.snapshot.Load().enabled)
}

func (n *Node) ignore(f loopbus.Frame, err error) {
	n.counters.ignored.Add(1)
	reason := metrics.ReasonShort
	switch {
	case errors.Is(err, loopbus.ErrUnknownID):
		reason = metrics.ReasonUnknownID
	case errors.Is(err, loopbus.ErrNotData):
		reason = metrics.ReasonNotData
	}
	n.metrics.Ignored(reason)
	n.log.V(1).Info("ignoring frame", "id", fmt.Sprintf("0x%X", f.ID), "len", f.Len, "reason", err.Error())
}

func (n *Node) publishSnapshot(enabled bool) {
	etaT, etaM := n.engine.Integrators()
	n.snapshot.Store(&engineSnapshot{
		hasFeedback: n.engine.HasFeedback(),
		enabled:     enabled,
		setpoint:    n.engine.Config().Setpoint.Float64(),
		etaT:        etaT.Float64(),
		etaM:        etaM.Float64(),
	})
}

// ============================================================
// Transmission gate and watchdog
// ============================================================

// feedbackSeen arms transmission and restarts the watchdog.
func (n *Node) feedbackSeen() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	if !n.armed {
		n.armLocked()
	}

	n.watchGen++
	gen := n.watchGen
	if n.watchdog != nil && n.watchdog.Stop() {
		n.watchWG.Done()
	}
	n.watchWG.Add(1)
	n.watchdog = time.AfterFunc(n.idle, func() {
		defer n.watchWG.Done()
		n.expire(gen)
	})
}

func (n *Node) expire(gen uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed || gen != n.watchGen || !n.armed {
		return
	}
	n.disarmLocked()
	n.counters.expiries.Add(1)
	n.metrics.Expired()
	n.log.Info("no feedback, transmission disarmed", "idle", n.idle)
}

func (n *Node) armLocked() {
	n.txStop = make(chan struct{})
	n.txDone = make(chan struct{})
	go n.transmit(n.txStop, n.txDone)
	n.armed = true
	n.counters.armed.Store(true)
	n.metrics.SetArmed(true)
	n.log.Info("transmission armed", "period", n.period)
}

// disarmLocked stops the transmitter and waits for it to exit.
func (n *Node) disarmLocked() {
	close(n.txStop)
	<-n.txDone
	n.armed = false
	n.counters.armed.Store(false)
	n.metrics.SetArmed(false)
}

func (n *Node) transmit(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(n.period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			select {
			case <-stop:
				return
			default:
			}
			n.send()
		}
	}
}

func (n *Node) send() {
	cmd := unpackCommand(n.command.Load())
	f := loopbus.NewCommandFrame(cmd.OmegaRPM, cmd.VRPM)

	err := n.bus.Publish(f)
	n.metrics.Sent(err)
	if err != nil {
		n.counters.sendFailures.Add(1)
		n.log.Error(err, "failed to send command, will retry next period")
		return
	}
	n.counters.transmissions.Add(1)
	n.log.V(1).Info("TX", "id", fmt.Sprintf("0x%03X", loopbus.IDCommand), "omega", cmd.OmegaRPM, "v", cmd.VRPM)
}

func packCommand(c controller.Command) uint32 {
	return uint32(c.OmegaRPM)<<16 | uint32(c.VRPM)
}

func unpackCommand(w uint32) controller.Command {
	return controller.Command{OmegaRPM: uint16(w >> 16), VRPM: uint16(w)}
}
