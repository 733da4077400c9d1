// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/canloop/internal/plant"
	"github.com/Thermoquad/canloop/internal/transport"
)

var (
	plantInit   = plant.DefaultState()
	plantTickMS int
	plantStepMS int
)

var plantCmd = &cobra.Command{
	Use:   "plant",
	Short: "Simulate the cooling loop plant on a bus",
	Long: `Run the plant simulator: a lumped thermal and hydraulic model of the
heat source, coolant loop, pump and fan-cooled radiator.

The plant applies the latest COMMAND frame (pump clamped to 0-4000 rpm, fan to
0-2800 rpm), integrates the model every tick and sends a FEEDBACK frame.`,
	RunE: runPlant,
}

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Run the controller and a simulated plant in one process",
	Long: `Run the controller node against the plant simulator over an in-process
loopback bus. Useful for tuning gains without hardware.

Node flags (--period-ms, --idle-ms, --metrics-addr, --config) apply as for run.`,
	RunE: runSim,
}

func init() {
	rootCmd.AddCommand(plantCmd, simCmd)
	for _, c := range []*cobra.Command{plantCmd, simCmd} {
		f := c.Flags()
		f.Float64Var(&plantInit.Ts, "ts", plantInit.Ts, "Initial system temperature (°C)")
		f.Float64Var(&plantInit.Th, "th", plantInit.Th, "Initial hot-leg temperature (°C)")
		f.Float64Var(&plantInit.Tc, "tc", plantInit.Tc, "Initial cold-leg temperature (°C)")
		f.Float64Var(&plantInit.VPrev, "v-prev", plantInit.VPrev, "Initial fan speed (rpm)")
		f.Float64Var(&plantInit.Mdot, "mdot", plantInit.Mdot, "Initial coolant flow (kg/s)")
		f.IntVar(&plantTickMS, "tick-ms", int(plant.DefaultTick/time.Millisecond), "Feedback period in milliseconds")
		f.IntVar(&plantStepMS, "dt-ms", 0, "Fixed integration step in milliseconds (default: tick)")
	}
}

func newSimulator(bus transport.Bus) (*plant.Simulator, error) {
	opts := []plant.Option{
		plant.WithLogger(logger),
		plant.WithTick(time.Duration(plantTickMS) * time.Millisecond),
	}
	if plantStepMS > 0 {
		opts = append(opts, plant.WithStep(time.Duration(plantStepMS)*time.Millisecond))
	}
	return plant.NewSimulator(bus, plantInit, opts...)
}

func runPlant(cmd *cobra.Command, args []string) error {
	bus, err := OpenBus(context.Background(), settings.Bus)
	if err != nil {
		return err
	}
	defer bus.Close()

	sim, err := newSimulator(bus)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	g.Add(func() error { return bus.Run(ctx) }, func(error) { bus.Close() })
	g.Add(func() error { return sim.Run(ctx) }, func(error) { cancel() })

	logger.Info("plant starting", "bus", bus.Name(), "ts", plantInit.Ts, "th", plantInit.Th, "tc", plantInit.Tc)
	err = g.Run()

	var sig run.SignalError
	if errors.As(err, &sig) {
		return nil
	}
	return err
}

func runSim(cmd *cobra.Command, args []string) error {
	hub := transport.NewHub()
	ctrlBus := hub.Endpoint("controller")
	plantBus := hub.Endpoint("plant")
	defer plantBus.Close()

	sim, err := newSimulator(plantBus)
	if err != nil {
		return err
	}

	return serveNode(ctrlBus, func(ctx context.Context, g *run.Group) {
		simCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error { return plantBus.Run(simCtx) }, func(error) { plantBus.Close() })
		g.Add(func() error { return sim.Run(simCtx) }, func(error) { cancel() })
	})
}
