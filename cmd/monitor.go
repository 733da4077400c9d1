// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/oklog/run"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/canloop/internal/recorder"
	"github.com/Thermoquad/canloop/pkg/loopbus"
)

var (
	monitorRecord     string
	statsInterval     int
	monitorErrorsOnly bool
)

// monitorQueueSize buffers frames between the bus reader and the printer
const monitorQueueSize = 256

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	headerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

var statsStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(lipgloss.Color("240")).
	Padding(0, 1)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Decode and display bus frames",
	Long: `Continuously decode and display canloop frames as they arrive.

Each frame is validated: short payloads, unknown identifiers, non-data frames
and implausible values (speeds above 10000 rpm, temperatures outside
-40..200 °C) are highlighted. Use --errors-only to hide valid frames.

With --record, every frame is also written to a CBOR capture file that can be
printed later with replay. Statistics are printed every --stats-interval
seconds (0 disables).`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().StringVar(&monitorRecord, "record", "", "Write a capture file")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics interval (seconds)")
	monitorCmd.Flags().BoolVar(&monitorErrorsOnly, "errors-only", false, "Show only frames that fail validation")
}

// renderFrame formats a frame and its validation errors for the terminal.
func renderFrame(f loopbus.Frame, errs []loopbus.ValidationError) string {
	if len(errs) == 0 {
		return loopbus.FormatFrame(f)
	}

	var b strings.Builder
	timestamp := f.Timestamp.Format("15:04:05.000")
	fmt.Fprintf(&b, "[%s] %s %s (0x%03X) len=%d  %s\n", timestamp,
		errorStyle.Render("INVALID"), loopbus.FormatMessageType(f.StandardID()), f.StandardID(), f.Len, f.HexPayload())
	for i, err := range errs {
		style := warningStyle
		switch err.Type {
		case loopbus.AnomalyShortPayload, loopbus.AnomalyLengthMismatch:
			style = errorStyle
		}
		fmt.Fprintf(&b, "  Issue %d: %s\n", i+1, style.Render(err.Message))
	}
	return b.String()
}

func runMonitor(cmd *cobra.Command, args []string) error {
	bus, err := OpenBus(context.Background(), settings.Bus)
	if err != nil {
		return err
	}
	defer bus.Close()

	var capture *recorder.Writer
	if monitorRecord != "" {
		capture, err = recorder.Create(monitorRecord, bus.Name())
		if err != nil {
			return fmt.Errorf("create capture: %w", err)
		}
		defer capture.Close()
	}

	fmt.Println(titleStyle.Render("canloop - Bus Monitor"))
	fmt.Println(headerStyle.Render("Connection: " + bus.Name()))
	if capture != nil {
		fmt.Println(headerStyle.Render(fmt.Sprintf("Recording: %s (session %s)", monitorRecord, capture.Header().Session)))
	}
	fmt.Println(headerStyle.Render("Press Ctrl+C to exit"))
	fmt.Println()

	frames := make(chan loopbus.Frame, monitorQueueSize)
	var dropped atomic.Uint64
	bus.Subscribe(func(f loopbus.Frame) {
		select {
		case frames <- f:
		default:
			dropped.Add(1)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stats := loopbus.NewStatistics()
	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	g.Add(func() error { return bus.Run(ctx) }, func(error) { bus.Close() })
	g.Add(func() error {
		var tick <-chan time.Time
		if statsInterval > 0 {
			ticker := time.NewTicker(time.Duration(statsInterval) * time.Second)
			defer ticker.Stop()
			tick = ticker.C
		}

		for {
			select {
			case <-ctx.Done():
				return nil

			case f := <-frames:
				errs := loopbus.ValidateFrame(f)
				stats.Update(f, errs)
				if capture != nil {
					if err := capture.Write(f); err != nil {
						return err
					}
				}
				if len(errs) > 0 || !monitorErrorsOnly {
					fmt.Print(renderFrame(f, errs))
				}

			case <-tick:
				fmt.Println(statsStyle.Render(strings.TrimRight(stats.String(), "\n")))
			}
		}
	}, func(error) {
		cancel()
	})

	err = g.Run()

	fmt.Println()
	fmt.Println(statsStyle.Render(strings.TrimRight(stats.String(), "\n")))
	if capture != nil {
		fmt.Printf("Recorded %d frames to %s\n", capture.Count(), monitorRecord)
	}
	if n := dropped.Load(); n > 0 {
		fmt.Println(warningStyle.Render(fmt.Sprintf("%d frames dropped by the display", n)))
	}

	var sig run.SignalError
	if errors.As(err, &sig) {
		return nil
	}
	return err
}
