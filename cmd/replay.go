// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/canloop/internal/recorder"
	"github.com/Thermoquad/canloop/pkg/loopbus"
)

var replayCmd = &cobra.Command{
	Use:   "replay <capture>",
	Short: "Print a capture file recorded by monitor",
	Long: `Decode and print every frame in a capture file, followed by statistics.

Replay does not open a bus; the bus flags are ignored.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVar(&monitorErrorsOnly, "errors-only", false, "Show only frames that fail validation")
}

func runReplay(cmd *cobra.Command, args []string) error {
	r, err := recorder.Open(args[0])
	if err != nil {
		return err
	}
	defer r.Close()

	h := r.Header()
	fmt.Println(titleStyle.Render("canloop - Capture Replay"))
	fmt.Println(headerStyle.Render(fmt.Sprintf("Session %s on %s, started %s", h.Session, h.Bus, h.StartTime().Format("2006-01-02 15:04:05"))))
	fmt.Println()

	stats := loopbus.NewStatistics()
	for {
		f, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		errs := loopbus.ValidateFrame(f)
		stats.Update(f, errs)
		if len(errs) > 0 || !monitorErrorsOnly {
			fmt.Print(renderFrame(f, errs))
		}
	}

	fmt.Println()
	fmt.Println(statsStyle.Render(strings.TrimRight(stats.String(), "\n")))
	return nil
}
