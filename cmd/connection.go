// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/Thermoquad/fiuctl/internal/config"
	"github.com/Thermoquad/fiuctl/internal/publish"
	"github.com/Thermoquad/fiuctl/pkg/driver"
	"github.com/Thermoquad/fiuctl/pkg/simulator"
	"github.com/Thermoquad/fiuctl/pkg/transport"
)

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("FIUCTL_PASSWORD"); pw != "" {
		return pw, nil
	}

	// Prompt user for password (hide input)
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

// openTransport builds the transport selected by the configuration. The
// returned transport is not open yet; driver.New opens it.
func openTransport(cfg *config.Config, simulated bool) (driver.Transport, string, error) {
	if simulated {
		bus := simulator.NewBus(cfg.FIU.Modules...)
		return bus, fmt.Sprintf("Simulator: modules %v", cfg.FIU.Modules), nil
	}

	if cfg.Transport.URL != "" {
		password := ""
		if cfg.Transport.Username != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		ws := transport.NewWebSocket(cfg.Transport.URL, transport.WebSocketOptions{
			Username:      cfg.Transport.Username,
			Password:      password,
			SkipSSLVerify: cfg.Transport.NoSSLVerify,
		})
		return ws, fmt.Sprintf("WebSocket: %s", cfg.Transport.URL), nil
	}

	if cfg.Transport.Port != "" {
		ps := transport.PortSettings{
			BaudRate: cfg.Transport.BaudRate,
			DataBits: cfg.Transport.DataBits,
			Parity:   cfg.Transport.Parity,
			StopBits: cfg.Transport.StopBits,
		}
		s := transport.NewSerial(cfg.Transport.Port, ps)
		return s, fmt.Sprintf("Serial: %s @ %s", cfg.Transport.Port, ps), nil
	}

	return nil, "", errors.New("either --port, --url or --simulate must be specified")
}

// session is an open driver plus the optional MQTT publisher feeding off it
type session struct {
	driver    *driver.Driver
	publisher *publish.Publisher
	connInfo  string
}

// openSession connects to the bus described by the loaded settings
func openSession(ctx context.Context, opts ...driver.Option) (*session, error) {
	cfg := settings
	if cfg == nil {
		cfg = config.Default()
	}

	t, connInfo, err := openTransport(cfg, simulate)
	if err != nil {
		return nil, err
	}

	s := &session{connInfo: connInfo}

	if cfg.MQTT.Enabled {
		p, err := publish.Connect(cfg.MQTT, logger)
		if err != nil {
			return nil, err
		}
		s.publisher = p
		opts = append(opts, driver.WithObserver(p.Observer()))
	}

	base := []driver.Option{
		driver.WithLogger(logger),
		driver.WithResponseTimeout(cfg.ResponseTimeout()),
		driver.WithPollInterval(cfg.PollInterval()),
		driver.WithSharedDMM(cfg.FIU.SharedDMM),
	}
	d, err := driver.New(ctx, cfg.FIU.Modules, t, append(base, opts...)...)
	if err != nil {
		if s.publisher != nil {
			s.publisher.Close()
		}
		return nil, err
	}
	s.driver = d
	return s, nil
}

// Close returns the bus to open circuit, closes it and disconnects from MQTT
func (s *session) Close() error {
	err := s.driver.Close()
	if s.publisher != nil {
		err = errors.Join(err, s.publisher.Close())
	}
	return err
}
