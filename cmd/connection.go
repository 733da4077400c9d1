// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/Thermoquad/canloop/internal/config"
	"github.com/Thermoquad/canloop/internal/transport"
)

// ErrNoBus is returned when no bus connection was configured.
var ErrNoBus = errors.New("one of --iface, --port or --url must be specified")

// dialTimeout bounds the websocket handshake
const dialTimeout = 15 * time.Second

// GetPassword prompts the user for a password on the terminal
func GetPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// OpenBus opens the configured bus. The websocket bridge takes precedence,
// then SocketCAN, then an SLCAN adapter.
func OpenBus(ctx context.Context, c config.BusConfig) (transport.Bus, error) {
	switch {
	case c.URL != "":
		password := c.Password
		if c.Username != "" && password == "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, err
			}
		}

		ctx, cancel := context.WithTimeout(ctx, dialTimeout)
		defer cancel()
		ws, err := transport.DialWebSocket(ctx, c.URL, c.Username, password, c.NoSSLVerify)
		if err != nil {
			return nil, err
		}
		return ws, nil

	case c.Interface != "":
		sc, err := transport.OpenSocketCAN(c.Interface)
		if err != nil {
			return nil, err
		}
		return sc, nil

	case c.Port != "":
		sl, err := transport.OpenSLCAN(c.Port, c.Baud, c.Bitrate)
		if err != nil {
			return nil, err
		}
		return sl, nil
	}
	return nil, ErrNoBus
}

// runBus starts the bus reader and returns a channel that yields its exit
// error. A cancelled context is not reported as an error.
func runBus(ctx context.Context, bus transport.Bus) <-chan error {
	done := make(chan error, 1)
	go func() {
		err := bus.Run(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, transport.ErrBusClosed) {
			err = nil
		}
		done <- err
	}()
	return done
}
