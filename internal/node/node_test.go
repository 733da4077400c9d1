// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package node

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Thermoquad/canloop/internal/controller"
	"github.com/Thermoquad/canloop/internal/metrics"
	"github.com/Thermoquad/canloop/internal/transport"
	"github.com/Thermoquad/canloop/pkg/fixed"
	"github.com/Thermoquad/canloop/pkg/loopbus"
)

// commandLog records command frames seen by the plant endpoint.
type commandLog struct {
	mu       sync.Mutex
	commands []loopbus.Command
}

func (c *commandLog) add(f loopbus.Frame) {
	if f.StandardID() != loopbus.IDCommand {
		return
	}
	cmd, err := loopbus.DecodeCommand(f.Payload())
	if err != nil || f.Len != loopbus.CommandLength {
		return
	}

	c.mu.Lock()
	c.commands = append(c.commands, cmd)
	c.mu.Unlock()
}

func (c *commandLog) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.commands)
}

func (c *commandLog) last() loopbus.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.commands) == 0 {
		return loopbus.Command{}
	}
	return c.commands[len(c.commands)-1]
}

type failingBus struct{}

func (failingBus) Subscribe(transport.Handler)   {}
func (failingBus) Publish(loopbus.Frame) error   { return errors.New("bus down") }
func (failingBus) Run(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }
func (failingBus) Close() error                  { return nil }
func (failingBus) Name() string                  { return "failing" }

func feedbackFrame(ts, th, tc, fan float64, dt time.Duration) loopbus.Frame {
	return loopbus.NewFeedbackFrame(loopbus.PlantSample{Ts: ts, Th: th, Tc: tc, FanRPM: fan, Elapsed: dt})
}

var _ = Describe("Node", func() {
	var (
		hub       *transport.Hub
		ctrlBus   *transport.Loopback
		plantBus  *transport.Loopback
		bus       transport.Bus
		log       *commandLog
		n         *Node
		ctx       context.Context
		cancel    context.CancelFunc
		opts      []Option
		autoStart bool
	)

	BeforeEach(func() {
		hub = transport.NewHub()
		ctrlBus = hub.Endpoint("controller")
		plantBus = hub.Endpoint("plant")
		bus = ctrlBus
		log = &commandLog{}
		plantBus.Subscribe(log.add)

		ctx, cancel = context.WithCancel(context.Background())
		go ctrlBus.Run(ctx)
		go plantBus.Run(ctx)

		opts = []Option{WithPeriod(20 * time.Millisecond), WithIdle(150 * time.Millisecond)}
		autoStart = true
	})

	JustBeforeEach(func() {
		var err error
		n, err = New(bus, opts...)
		Expect(err).NotTo(HaveOccurred())
		if autoStart {
			Expect(n.Start(ctx)).To(Succeed())
		}
	})

	AfterEach(func() {
		Expect(n.Close()).To(Succeed())
		cancel()
		ctrlBus.Close()
		plantBus.Close()
	})

	Context("before any feedback", func() {
		It("holds the zero command and transmits nothing", func() {
			st := n.Status()
			Expect(st.State).To(Equal(StateNoFeedbackYet))
			Expect(st.HasFeedback).To(BeFalse())
			Expect(st.Armed).To(BeFalse())
			Expect(st.OmegaRPM).To(BeZero())
			Expect(st.VRPM).To(BeZero())

			Consistently(log.count, 100*time.Millisecond).Should(BeZero())
		})

		It("records Enable without arming", func() {
			Expect(n.Ingest(loopbus.NewEnableFrame())).To(BeTrue())
			Eventually(func() bool { return n.Status().Enabled }).Should(BeTrue())
			Expect(n.Status().Armed).To(BeFalse())
			Expect(n.Status().HasFeedback).To(BeFalse())
		})
	})

	Context("when feedback arrives below the setpoint", func() {
		It("becomes active, arms transmission and sends bounded commands", func() {
			Expect(n.Ingest(feedbackFrame(20, 25, 22.5, 1200, 10*time.Millisecond))).To(BeTrue())

			Eventually(func() bool { return n.Status().Armed }).Should(BeTrue())
			st := n.Status()
			Expect(st.State).To(Equal(StateActive))
			Expect(st.HasFeedback).To(BeTrue())
			Expect(st.OmegaRPM).To(BeNumerically("<=", 4000))
			Expect(st.VRPM).To(BeNumerically("<=", 2800))
			Expect(st.Steps).To(Equal(uint64(1)))

			Eventually(log.count).Should(BeNumerically(">=", 2))
			Expect(log.last()).To(Equal(loopbus.Command{OmegaRPM: 0, VRPM: 0}))
		})
	})

	Context("under a large sustained error", func() {
		It("saturates both actuators without exceeding their limits", func() {
			f := feedbackFrame(100, 25, 20, 0, 10*time.Millisecond)
			for i := 0; i < 200; i++ {
				Eventually(func() bool { return n.Ingest(f) }).Should(BeTrue())
			}

			Eventually(func() loopbus.Command {
				st := n.Status()
				return loopbus.Command{OmegaRPM: st.OmegaRPM, VRPM: st.VRPM}
			}).Should(Equal(loopbus.Command{OmegaRPM: 4000, VRPM: 2800}))

			Eventually(log.last).Should(Equal(loopbus.Command{OmegaRPM: 4000, VRPM: 2800}))
			Expect(n.Status().EtaM).To(BeNumerically(">=", -200))
			Expect(n.Status().EtaT).To(BeNumerically(">=", -500))
		})
	})

	Context("when feedback stops", func() {
		It("disarms after the idle window and re-arms on the next feedback", func() {
			n.Ingest(feedbackFrame(30, 25, 20, 0, 10*time.Millisecond))
			Eventually(func() bool { return n.Status().Armed }).Should(BeTrue())
			Eventually(log.count).Should(BeNumerically(">=", 1))

			Eventually(func() bool { return n.Status().Armed }, time.Second).Should(BeFalse())
			st := n.Status()
			Expect(st.WatchdogExpiries).To(Equal(uint64(1)))
			Expect(st.State).To(Equal(StateActive))
			held := loopbus.Command{OmegaRPM: st.OmegaRPM, VRPM: st.VRPM}
			Expect(held.OmegaRPM).To(BeNumerically(">", 0))

			time.Sleep(30 * time.Millisecond)
			sent := log.count()
			Consistently(log.count, 100*time.Millisecond).Should(Equal(sent))

			n.Ingest(feedbackFrame(30, 25, 20, 0, 10*time.Millisecond))
			Eventually(func() bool { return n.Status().Armed }).Should(BeTrue())
			Eventually(log.count).Should(BeNumerically(">", sent))
		})
	})

	Context("with parameter frames", func() {
		It("ignores an undersized TemperatureGains frame", func() {
			before, err := n.Config(ctx)
			Expect(err).NotTo(HaveOccurred())

			Expect(n.Ingest(loopbus.NewFrame(loopbus.IDTemperatureGains, []byte{0, 1, 0, 1, 0, 1}))).To(BeTrue())
			Eventually(func() uint64 { return n.Status().Ignored }).Should(Equal(uint64(1)))

			after, err := n.Config(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(after).To(Equal(before))
		})

		It("applies setpoint and gains", func() {
			n.Ingest(loopbus.NewSetpointFrame(30))
			n.Ingest(loopbus.NewTemperatureGainsFrame(2, 0.5, 0, 1))
			n.Ingest(loopbus.NewFlowGainsFrame(10, 0, 2, -0.15, -0.02))

			Eventually(func() uint64 { return n.Status().Received }).Should(Equal(uint64(3)))
			cfg, err := n.Config(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Setpoint).To(Equal(fixed.FromInt(30)))
			Expect(cfg.KpT).To(Equal(fixed.FromInt(2)))
			Expect(cfg.KiT).To(Equal(fixed.One / 2))
			Expect(cfg.KawT).To(Equal(fixed.One))
			Expect(cfg.Kpm).To(Equal(fixed.FromInt(10)))
			Expect(cfg.Kvw).To(BeZero())
			Expect(cfg.Kwv).To(BeZero())
			Expect(n.Status().Setpoint).To(BeNumerically("~", 30.0, 1e-9))
			Expect(n.Status().Armed).To(BeFalse())
		})

		It("ignores unknown and extended frames", func() {
			n.Ingest(loopbus.NewFrame(0x7AA, []byte{1, 2}))
			n.Ingest(loopbus.NewFrame(loopbus.IDFeedback|loopbus.FlagExtended, make([]byte, 8)))
			Eventually(func() uint64 { return n.Status().Ignored }).Should(Equal(uint64(2)))
			Expect(n.Status().HasFeedback).To(BeFalse())
		})

		It("receives frames through the bus", func() {
			Expect(plantBus.Publish(loopbus.NewSetpointFrame(40))).To(Succeed())
			Eventually(func() float64 { return n.Status().Setpoint }).Should(BeNumerically("~", 40.0, 1e-9))
		})
	})

	Context("when the queue overflows", func() {
		BeforeEach(func() {
			autoStart = false
			opts = append(opts, WithQueueCapacity(4))
		})

		It("drops and counts without blocking", func() {
			accepted := 0
			for i := 0; i < 6; i++ {
				if n.Ingest(loopbus.NewSetpointFrame(float64(20 + i))) {
					accepted++
				}
			}
			Expect(accepted).To(Equal(4))
			Expect(n.Status().Dropped).To(Equal(uint64(2)))

			Expect(n.Start(ctx)).To(Succeed())
			Eventually(func() uint64 { return n.Status().Received }).Should(Equal(uint64(4)))
			Expect(n.Status().Setpoint).To(BeNumerically("~", 23.0, 1e-9))
		})
	})

	Context("when closed", func() {
		It("stops emission synchronously", func() {
			n.Ingest(feedbackFrame(30, 25, 20, 0, 10*time.Millisecond))
			Eventually(log.count).Should(BeNumerically(">=", 1))

			Expect(n.Close()).To(Succeed())
			sent := n.Status().Transmissions
			Expect(n.Status().Armed).To(BeFalse())
			Consistently(func() uint64 { return n.Status().Transmissions }, 100*time.Millisecond).Should(Equal(sent))

			Expect(n.Ingest(feedbackFrame(30, 25, 20, 0, 10*time.Millisecond))).To(BeFalse())
			_, err := n.Config(ctx)
			Expect(err).To(MatchError(ErrNodeClosed))
			Expect(n.Close()).To(Succeed())
			Expect(n.Start(ctx)).To(MatchError(ErrNodeClosed))
		})

		It("closes when the start context is cancelled", func() {
			cancel()
			Eventually(func() bool { return n.Ingest(loopbus.NewEnableFrame()) }).Should(BeFalse())
		})

		It("rejects a second Start", func() {
			Expect(n.Start(ctx)).NotTo(Succeed())
		})
	})

	Context("when the bus rejects sends", func() {
		BeforeEach(func() {
			bus = failingBus{}
		})

		It("counts failures and stays armed", func() {
			n.Ingest(feedbackFrame(30, 25, 20, 0, 10*time.Millisecond))
			Eventually(func() uint64 { return n.Status().SendFailures }).Should(BeNumerically(">=", 2))
			Expect(n.Status().Armed).To(BeTrue())
			Expect(n.Status().Transmissions).To(BeZero())
		})
	})

	Context("with metrics", func() {
		var m *metrics.Metrics

		BeforeEach(func() {
			var err error
			m, err = metrics.New(prometheus.NewRegistry())
			Expect(err).NotTo(HaveOccurred())
			opts = append(opts, WithMetrics(m))
		})

		It("records steps and arming", func() {
			n.Ingest(feedbackFrame(100, 25, 20, 0, 10*time.Millisecond))
			Eventually(func() float64 { return testutil.ToFloat64(m.ControllerSteps) }).Should(Equal(1.0))
			Eventually(func() float64 { return testutil.ToFloat64(m.Armed) }).Should(Equal(1.0))
			Eventually(func() float64 { return testutil.ToFloat64(m.Transmissions) }).Should(BeNumerically(">=", 1))
			Expect(testutil.ToFloat64(m.PumpCommand)).To(BeNumerically(">", 0))
			Expect(testutil.ToFloat64(m.FramesReceived.WithLabelValues("0x202"))).To(Equal(1.0))
		})
	})

	It("serializes status as JSON", func() {
		b, err := json.Marshal(n.Status())
		Expect(err).NotTo(HaveOccurred())
		Expect(string(b)).To(ContainSubstring(`"state":"no_feedback_yet"`))
		Expect(string(b)).To(ContainSubstring(`"armed":false`))
	})
})

var _ = Describe("New", func() {
	It("rejects invalid options", func() {
		bus := transport.NewHub().Endpoint("x")
		DeferCleanup(bus.Close)
		_, err := New(bus, WithPeriod(0))
		Expect(err).To(HaveOccurred())
		_, err = New(bus, WithIdle(-time.Second))
		Expect(err).To(HaveOccurred())
		_, err = New(bus, WithQueueCapacity(0))
		Expect(err).To(HaveOccurred())

		cfg := controller.DefaultConfig()
		cfg.TauDMin = 0
		_, err = New(bus, WithControllerConfig(cfg))
		Expect(err).To(MatchError(controller.ErrInvalidConfig))

		cfg = controller.DefaultConfig()
		cfg.Kpm = controller.MaxGain + 1
		_, err = New(bus, WithControllerConfig(cfg))
		Expect(err).To(MatchError(controller.ErrInvalidConfig))
	})

	It("accepts the default options without starting", func() {
		bus := transport.NewHub().Endpoint("x")
		DeferCleanup(bus.Close)
		n, err := New(bus)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(n.Close)
		Expect(n.Status().State).To(Equal(StateNoFeedbackYet))
	})

	It("packs commands into one word", func() {
		c := controller.Command{OmegaRPM: 0xBEEF, VRPM: 0x1234}
		Expect(unpackCommand(packCommand(c))).To(Equal(c))
	})
})
