// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/canloop/pkg/loopbus"
)

var censusDuration int

var censusCmd = &cobra.Command{
	Use:   "census",
	Short: "Count bus traffic per identifier for a while",
	Long: `Listen to the bus for --duration seconds and report which identifiers were
seen, how often, and which loop traffic they carry:

  controller     sends COMMAND (0x201)
  plant          sends FEEDBACK (0x202)
  parameter tool sends SETPOINT or gain frames (0x300-0x302)

Nothing is transmitted.

Exit codes:
  0 - Loop traffic was seen
  1 - No loop traffic within the window
  2 - Connection error`,
	RunE: runCensus,
}

func init() {
	rootCmd.AddCommand(censusCmd)
	censusCmd.Flags().IntVar(&censusDuration, "duration", 5, "Listening window in seconds")
}

// idCensus tallies one identifier.
type idCensus struct {
	id      uint32
	count   int
	invalid int
	first   time.Time
	last    time.Time
}

// rate is the observed frame rate, or zero for fewer than two frames.
func (c idCensus) rate() float64 {
	span := c.last.Sub(c.first).Seconds()
	if c.count < 2 || span <= 0 {
		return 0
	}
	return float64(c.count-1) / span
}

// busCensus collects frames from the bus reader goroutine.
type busCensus struct {
	mu     sync.Mutex
	ids    map[uint32]*idCensus
	others int
}

func newBusCensus() *busCensus {
	return &busCensus{ids: make(map[uint32]*idCensus)}
}

func (b *busCensus) observe(f loopbus.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !f.IsStandardData() {
		b.others++
		return
	}
	id := f.StandardID()
	c, ok := b.ids[id]
	if !ok {
		c = &idCensus{id: id, first: f.Timestamp}
		b.ids[id] = c
	}
	c.count++
	c.last = f.Timestamp
	if len(loopbus.ValidateFrame(f)) > 0 {
		c.invalid++
	}
}

// snapshot returns the tallies sorted by identifier.
func (b *busCensus) snapshot() ([]idCensus, int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]idCensus, 0, len(b.ids))
	for _, c := range b.ids {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out, b.others
}

// trafficRoles maps observed identifiers to the loop roles sending them,
// in a fixed order.
func trafficRoles(seen []idCensus) []string {
	var controller, plant, tool bool
	for _, c := range seen {
		switch c.id {
		case loopbus.IDCommand:
			controller = true
		case loopbus.IDFeedback:
			plant = true
		case loopbus.IDTemperatureGains, loopbus.IDSetpoint, loopbus.IDFlowGains:
			tool = true
		}
	}

	var roles []string
	if controller {
		roles = append(roles, "controller")
	}
	if plant {
		roles = append(roles, "plant")
	}
	if tool {
		roles = append(roles, "parameter tool")
	}
	return roles
}

func runCensus(cmd *cobra.Command, args []string) error {
	bus, err := OpenBus(context.Background(), settings.Bus)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer bus.Close()

	fmt.Printf("canloop - Bus Census\n")
	fmt.Printf("Connection: %s\n", bus.Name())
	fmt.Printf("Listening for %d seconds...\n\n", censusDuration)

	census := newBusCensus()
	bus.Subscribe(census.observe)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(censusDuration)*time.Second)
	defer cancel()
	busDone := runBus(ctx, bus)

	select {
	case err := <-busDone:
		if err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
			os.Exit(2)
		}
	case <-ctx.Done():
	}

	seen, others := census.snapshot()

	fmt.Printf("--- Census ---\n")
	for _, c := range seen {
		fmt.Printf("  0x%03X %-18s %6d frames %7.1f Hz", c.id, loopbus.FormatMessageType(c.id), c.count, c.rate())
		if c.invalid > 0 {
			fmt.Printf("  (%d invalid)", c.invalid)
		}
		fmt.Println()
	}
	if others > 0 {
		fmt.Printf("  %d extended, remote or error frames\n", others)
	}

	roles := trafficRoles(seen)
	if len(roles) == 0 {
		fmt.Printf("No loop traffic seen. Check the bus connection and node power.\n")
		os.Exit(1)
	}
	fmt.Printf("Traffic from: %s\n", strings.Join(roles, ", "))
	return nil
}
