// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/canloop/pkg/loopbus"
)

// setParams are the values sent by the set command, in physical units.
type setParams struct {
	KpT, KiT, KdT, KawT      float64
	Kpm, Kim, Kawm, Kvw, Kwv float64
	sendParams, sendEnable   bool
}

// defaultSetParams match the controller defaults. The decoupling gains are
// negative and reach the controller as zero.
func defaultSetParams() setParams {
	return setParams{
		KpT: 100.6, KiT: 0.10, KdT: 4, KawT: 5,
		Kpm: 130, Kim: 0.01, Kawm: 10, Kvw: -0.15, Kwv: -0.02,
		sendParams: true,
	}
}

var (
	setArgs     = defaultSetParams()
	setNoParams bool
)

var setCmd = &cobra.Command{
	Use:   "set <setpoint_C>",
	Short: "Send a setpoint and controller gains",
	Long: `Send SETPOINT (0x301) followed by TEMPERATURE_GAINS (0x300) and FLOW_GAINS (0x302).

Gains are quantized to unsigned 8.8 (kp, ki, kd, kpm, kim) and 4.4 (kaw, kawm,
kvw, kwv) fixed point. Negative values cannot be represented and are sent as
zero.

Use --no-params to send only the setpoint, and --enable to send ENABLE first.`,
	Example: `  canloop set 30 --iface vcan0
  canloop set 30.0 --kp 120 --ki 0.15 --kd 5 --kaw 4 --kpm 150 --kim 0.02 --kawm 8 --iface vcan0`,
	Args: cobra.ExactArgs(1),
	RunE: runSet,
}

func init() {
	rootCmd.AddCommand(setCmd)
	f := setCmd.Flags()
	f.Float64Var(&setArgs.KpT, "kp", setArgs.KpT, "Temperature loop proportional gain")
	f.Float64Var(&setArgs.KiT, "ki", setArgs.KiT, "Temperature loop integral gain")
	f.Float64Var(&setArgs.KdT, "kd", setArgs.KdT, "Temperature loop derivative gain")
	f.Float64Var(&setArgs.KawT, "kaw", setArgs.KawT, "Temperature loop anti-windup gain")
	f.Float64Var(&setArgs.Kpm, "kpm", setArgs.Kpm, "Flow loop proportional gain")
	f.Float64Var(&setArgs.Kim, "kim", setArgs.Kim, "Flow loop integral gain")
	f.Float64Var(&setArgs.Kawm, "kawm", setArgs.Kawm, "Flow loop anti-windup gain")
	f.Float64Var(&setArgs.Kvw, "kvw", setArgs.Kvw, "Fan to pump decoupling gain")
	f.Float64Var(&setArgs.Kwv, "kwv", setArgs.Kwv, "Pump to fan decoupling gain")
	f.BoolVar(&setNoParams, "no-params", false, "Send only the setpoint")
	f.BoolVar(&setArgs.sendEnable, "enable", false, "Send ENABLE before the setpoint")
}

// setFrames builds the frames for a set request, in send order.
func setFrames(setpoint float64, p setParams) []loopbus.Frame {
	var frames []loopbus.Frame
	if p.sendEnable {
		frames = append(frames, loopbus.NewEnableFrame())
	}
	frames = append(frames, loopbus.NewSetpointFrame(setpoint))
	if p.sendParams {
		frames = append(frames,
			loopbus.NewTemperatureGainsFrame(p.KpT, p.KiT, p.KdT, p.KawT),
			loopbus.NewFlowGainsFrame(p.Kpm, p.Kim, p.Kawm, p.Kvw, p.Kwv),
		)
	}
	return frames
}

func runSet(cmd *cobra.Command, args []string) error {
	setpoint, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("invalid setpoint %q: %w", args[0], err)
	}
	p := setArgs
	p.sendParams = !setNoParams

	bus, err := OpenBus(context.Background(), settings.Bus)
	if err != nil {
		return err
	}
	defer bus.Close()

	for _, f := range setFrames(setpoint, p) {
		if err := bus.Publish(f); err != nil {
			return fmt.Errorf("send %s: %w", loopbus.FormatMessageType(f.ID), err)
		}
		fmt.Print(loopbus.FormatFrame(f))
	}
	return nil
}
