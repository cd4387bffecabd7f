// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/fiuctl/pkg/fiu"
)

// transact writes one command and waits for its reply. Caller holds d.mu.
//
// The context is only consulted before the write. Once a frame is on the bus
// the module acts on it, so the reply window always runs to completion.
func (d *Driver) transact(ctx context.Context, op string, module, channel int, cmd fiu.Command) (*fiu.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.drain()

	frame := fiu.Encode(cmd)
	start := time.Now()
	if _, err := d.transport.Write(frame); err != nil {
		err = fmt.Errorf("driver: %s: writing %s: %w", op, cmd, err)
		d.stats.Update(0, err)
		return nil, err
	}

	raw, err := d.readResponse()
	latency := time.Since(start)
	if err != nil {
		if fe := asFIUError(err); fe != nil {
			annotate(fe, op, module, channel, cmd)
			d.logger.Warn("no response", "op", op, "cmd", cmd.Body(), "partial", string(raw), "timeout", d.timeout)
		}
		d.stats.Update(latency, err)
		return nil, err
	}

	resp, err := fiu.Decode(raw)
	if err == nil {
		err = resp.Err()
	}
	if err != nil {
		if fe := asFIUError(err); fe != nil {
			annotate(fe, op, module, channel, cmd)
			fe.Raw = raw
		}
		d.stats.Update(latency, err)
		d.logger.Warn("command failed", "op", op, "cmd", cmd.Body(), "response", string(raw), "error", err)
		return nil, err
	}

	d.stats.Update(latency, nil)
	d.logger.Debug("transaction", "op", op, "cmd", cmd.Body(), "response", string(raw), "latency", latency)
	return resp, nil
}

// readResponse polls the transport until a terminator arrives or the
// response timeout elapses. Bytes after the terminator are dropped.
func (d *Driver) readResponse() ([]byte, error) {
	deadline := time.Now().Add(d.timeout)
	var buf []byte
	for {
		chunk, err := d.transport.ReadAvailable()
		if err != nil {
			return buf, fmt.Errorf("driver: reading response: %w", err)
		}
		buf = append(buf, chunk...)
		if idx := bytes.IndexByte(buf, fiu.Terminator); idx >= 0 {
			return buf[:idx+1], nil
		}
		if time.Now().After(deadline) {
			e := &fiu.Error{Code: fiu.CodeResponseTimeout, Module: -1, Channel: -1,
				Message: fmt.Sprintf("no terminator within %s", d.timeout)}
			if len(buf) > 0 {
				e.Raw = buf
			}
			return buf, e
		}
		if len(chunk) == 0 {
			time.Sleep(d.pollInterval)
		}
	}
}

// drain discards bytes left over from an earlier transaction, such as a late
// reply to a command that timed out.
func (d *Driver) drain() {
	for i := 0; i < 16; i++ {
		stale, err := d.transport.ReadAvailable()
		if err != nil || len(stale) == 0 {
			return
		}
		d.stats.StaleBytes += uint64(len(stale))
		d.logger.Debug("discarded stale bytes", "bytes", string(stale))
	}
}

func asFIUError(err error) *fiu.Error {
	var fe *fiu.Error
	if errors.As(err, &fe) {
		return fe
	}
	return nil
}

func annotate(fe *fiu.Error, op string, module, channel int, cmd fiu.Command) {
	fe.Op = op
	fe.Module = module
	fe.Channel = channel
	fe.Command = cmd.Body()
}
