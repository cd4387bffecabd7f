// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/fiuctl/pkg/fiu"
	"github.com/Thermoquad/fiuctl/pkg/transport"
)

// maxFrameLen bounds a frame with no terminator; longer runs are flushed as
// garbage so the sniffer resynchronises on the next CR.
const maxFrameLen = 256

var sniffCmd = &cobra.Command{
	Use:   "sniff",
	Short: "Display bus traffic in human-readable format",
	Long: `Passively decode and display FIU commands and responses as they arrive.

Nothing is written to the bus. Use a second adapter on the same RS-485 pair
to watch another controller talk to the modules.

Supports both serial and WebSocket connections.`,
	RunE: runSniff,
}

func init() {
	rootCmd.AddCommand(sniffCmd)
}

func runSniff(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, connInfo, err := openTransport(settings, simulate)
	if err != nil {
		return err
	}
	if err := conn.Open(); err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("fiuctl - Bus Sniffer\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	var frames frameSplitter
	for ctx.Err() == nil {
		data, err := conn.ReadAvailable()
		if err != nil {
			if errors.Is(err, transport.ErrConnectionClosed) {
				logger.Info("connection closed")
				return nil
			}
			logger.Warn("read error", "error", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if len(data) == 0 {
			// Serial reads wait out their own poll window; the others
			// return at once
			time.Sleep(settings.PollInterval())
			continue
		}

		for _, frame := range frames.Push(data) {
			fmt.Print(fiu.FormatFrame(time.Now(), frame))
		}
	}
	return nil
}

// frameSplitter cuts a byte stream into CR-terminated frames
type frameSplitter struct {
	buf []byte
}

// Push appends data and returns every frame it completed, terminator
// included. A run of maxFrameLen bytes without a terminator is returned
// as is.
func (f *frameSplitter) Push(data []byte) [][]byte {
	f.buf = append(f.buf, data...)

	var frames [][]byte
	for {
		idx := bytes.IndexByte(f.buf, fiu.Terminator)
		if idx < 0 {
			break
		}
		frames = append(frames, append([]byte(nil), f.buf[:idx+1]...))
		f.buf = f.buf[idx+1:]
	}
	if len(f.buf) >= maxFrameLen {
		frames = append(frames, f.buf)
		f.buf = nil
	}
	return frames
}
