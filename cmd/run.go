// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"os"
	"syscall"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/canloop/internal/metrics"
	"github.com/Thermoquad/canloop/internal/node"
	"github.com/Thermoquad/canloop/internal/transport"
)

var queueCapacity int

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the controller node on a bus",
	Long: `Run the controller node.

The node stays silent until the first FEEDBACK frame arrives. Each feedback
sample runs one control step and arms periodic COMMAND transmission; if no
feedback arrives within the idle window, transmission stops until feedback
resumes. SETPOINT and gain frames update the controller at runtime.

With --metrics-addr, Prometheus metrics are served on /metrics and a JSON
snapshot of the node on /status.`,
	RunE: runNode,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().IntVar(&queueCapacity, "queue", node.DefaultQueueCapacity, "Receive queue capacity")
}

func runNode(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("queue") {
		settings.Node.QueueCapacity = queueCapacity
	}

	bus, err := OpenBus(context.Background(), settings.Bus)
	if err != nil {
		return err
	}
	defer bus.Close()

	return serveNode(bus, nil)
}

// serveNode runs a controller node on bus until a signal arrives. Extra
// actors, such as a simulated plant, run in the same group.
func serveNode(bus transport.Bus, extra func(ctx context.Context, g *run.Group)) error {
	ctrl, err := settings.ControllerConfig()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	n, err := node.New(bus,
		node.WithLogger(logger),
		node.WithMetrics(m),
		node.WithPeriod(settings.Period()),
		node.WithIdle(settings.Idle()),
		node.WithQueueCapacity(settings.Node.QueueCapacity),
		node.WithControllerConfig(ctrl),
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	g.Add(func() error {
		return bus.Run(ctx)
	}, func(error) {
		bus.Close()
	})

	g.Add(func() error {
		if err := n.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	}, func(error) {
		cancel()
		n.Close()
	})

	if settings.Metrics.Addr != "" {
		srv := metrics.NewServer(settings.Metrics.Addr, reg, func() any { return n.Status() }, logger)
		g.Add(func() error {
			return srv.Run(ctx)
		}, func(error) {
			cancel()
		})
	}

	if extra != nil {
		extra(ctx, &g)
	}

	logger.Info("controller node starting", "bus", bus.Name(), "period", settings.Period(), "idle", settings.Idle())
	err = g.Run()

	var sig run.SignalError
	if errors.As(err, &sig) {
		logger.Info("shutting down", "signal", sig.Signal.String())
		return nil
	}
	return err
}
