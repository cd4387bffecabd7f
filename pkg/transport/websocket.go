// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrConnectionClosed is returned once the WebSocket peer has gone away
var ErrConnectionClosed = errors.New("websocket connection closed")

// WebSocketOptions configure a WebSocket transport
type WebSocketOptions struct {
	Username      string
	Password      string
	SkipSSLVerify bool
	DialTimeout   time.Duration
}

// WebSocket talks to a serial bridge that relays binary WebSocket messages
// to and from the RS-485 bus. A background reader buffers incoming bytes so
// ReadAvailable never blocks.
type WebSocket struct {
	url  string
	opts WebSocketOptions

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu      sync.Mutex
	buf     []byte
	readErr error
	done    chan struct{}
}

// NewWebSocket creates a WebSocket transport. The connection is made by Open.
func NewWebSocket(wsURL string, opts WebSocketOptions) *WebSocket {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 15 * time.Second
	}
	return &WebSocket{url: wsURL, opts: opts}
}

// Open dials the bridge, with HTTP Basic auth when a username is set
func (w *WebSocket) Open() error {
	u, err := url.Parse(w.url)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
		// OK
	default:
		return fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: w.opts.SkipSSLVerify,
		}
	}

	headers := http.Header{}
	if w.opts.Username != "" && w.opts.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(w.opts.Username + ":" + w.opts.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.opts.DialTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, w.url, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("WebSocket connection failed: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.buf = nil
	w.readErr = nil
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.readLoop(conn, w.done)
	return nil
}

func (w *WebSocket) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			w.readErr = err
			w.mu.Unlock()
			return
		}

		// Only binary messages carry bus traffic
		if messageType != websocket.BinaryMessage {
			continue
		}

		w.mu.Lock()
		w.buf = append(w.buf, data...)
		w.mu.Unlock()
	}
}

// Close closes the connection and waits for the reader to exit
func (w *WebSocket) Close() error {
	w.mu.Lock()
	conn, done := w.conn, w.done
	w.conn = nil
	w.mu.Unlock()
	if conn == nil {
		return nil
	}

	w.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	w.writeMu.Unlock()

	err := conn.Close()
	<-done
	return err
}

// Write sends p as one binary message
func (w *WebSocket) Write(p []byte) (int, error) {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return 0, ErrNotOpen
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// ReadAvailable returns everything received since the last call. Once the
// connection has failed and the buffer is empty it returns
// ErrConnectionClosed.
func (w *WebSocket) ReadAvailable() ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		out := w.buf
		w.buf = nil
		return out, nil
	}
	if w.conn == nil {
		return nil, ErrNotOpen
	}
	if w.readErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionClosed, w.readErr)
	}
	return nil, nil
}

// String describes the transport for logs and the UI
func (w *WebSocket) String() string {
	return fmt.Sprintf("WebSocket: %s", w.url)
}
