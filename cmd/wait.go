// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/canloop/pkg/loopbus"
)

var (
	waitTimeout int
	waitID      uint32
)

var waitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Test the bus by waiting for a valid FEEDBACK frame",
	Long: `Wait for a valid frame with the given identifier (FEEDBACK by default)
until timeout.

Frames with other identifiers, undersized payloads or non-data flags are
ignored.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error

Useful in scripts to check that a plant is running before starting the
controller.`,
	RunE: runWait,
}

func init() {
	rootCmd.AddCommand(waitCmd)
	waitCmd.Flags().IntVar(&waitTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
	waitCmd.Flags().Uint32Var(&waitID, "id", loopbus.IDFeedback, "Identifier to wait for")
}

// waitMatch reports whether f is a decodable frame with the wanted identifier.
func waitMatch(f loopbus.Frame, id uint32) bool {
	if !f.IsStandardData() || f.StandardID() != id {
		return false
	}
	_, err := loopbus.Decode(f)
	return err == nil
}

func runWait(cmd *cobra.Command, args []string) error {
	bus, err := OpenBus(context.Background(), settings.Bus)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer bus.Close()

	fmt.Printf("canloop - Bus Wait\n")
	fmt.Printf("Connection: %s\n", bus.Name())
	fmt.Printf("Timeout: %d seconds\n", waitTimeout)
	fmt.Printf("Waiting for %s (0x%03X)...\n\n", loopbus.FormatMessageType(waitID), waitID)

	frameChan := make(chan loopbus.Frame, 1)
	var skipped atomic.Int64
	bus.Subscribe(func(f loopbus.Frame) {
		if !waitMatch(f, waitID) {
			skipped.Add(1)
			return
		}
		select {
		case frameChan <- f:
		default:
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(waitTimeout)*time.Second)
	defer cancel()
	busDone := runBus(ctx, bus)

	select {
	case f := <-frameChan:
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Print(loopbus.FormatFrame(f))
		os.Exit(0)

	case err := <-busDone:
		if ctx.Err() != nil {
			break
		}
		if err == nil {
			err = fmt.Errorf("bus closed")
		}
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-ctx.Done():
	}

	fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds (%d other frames seen)\n", waitTimeout, skipped.Load())
	os.Exit(1)
	return nil
}
