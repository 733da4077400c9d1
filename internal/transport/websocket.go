// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Thermoquad/canloop/pkg/loopbus"
)

// WebSocketFrameSize is the size of one binary bridge message:
// 4-byte LE identifier, 1-byte length, 8 data bytes.
const WebSocketFrameSize = 4 + 1 + loopbus.MaxDataLength

// DefaultWriteTimeout bounds a single bridge write.
const DefaultWriteTimeout = time.Second

// ErrMalformedMessage is returned when a bridge message has the wrong size.
var ErrMalformedMessage = errors.New("malformed websocket frame")

// WebSocket carries frames over a websocket bridge connection.
type WebSocket struct {
	conn     *websocket.Conn
	name     string
	handlers handlers
	writeMu  sync.Mutex
	timeout  atomic.Int64 // write timeout, ns
	closed   atomic.Bool
	once     sync.Once
}

// DialWebSocket connects to a websocket bridge with optional HTTP Basic auth.
func DialWebSocket(ctx context.Context, wsURL, username, password string, skipSSLVerify bool) (*WebSocket, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return NewWebSocket(conn, fmt.Sprintf("WebSocket: %s", wsURL)), nil
}

// NewWebSocket wraps an established connection. Bridge servers use it on
// the connection returned by websocket.Upgrader.
func NewWebSocket(conn *websocket.Conn, name string) *WebSocket {
	w := &WebSocket{conn: conn, name: name}
	w.SetWriteTimeout(DefaultWriteTimeout)
	return w
}

// SetWriteTimeout sets how long Publish may wait on a stalled peer before
// failing. Non-positive values restore DefaultWriteTimeout.
func (w *WebSocket) SetWriteTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultWriteTimeout
	}
	w.timeout.Store(int64(d))
}

// Subscribe implements Bus.
func (w *WebSocket) Subscribe(h Handler) { w.handlers.add(h) }

// Publish implements Bus.
func (w *WebSocket) Publish(f loopbus.Frame) error {
	if w.closed.Load() {
		return ErrBusClosed
	}
	msg := EncodeWebSocketFrame(f)

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := w.conn.SetWriteDeadline(time.Now().Add(time.Duration(w.timeout.Load()))); err != nil {
		return fmt.Errorf("write %s: %w", w.name, err)
	}
	if err := w.conn.WriteMessage(websocket.BinaryMessage, msg[:]); err != nil {
		return fmt.Errorf("write %s: %w", w.name, err)
	}
	return nil
}

// Run implements Bus. Text messages and wrongly sized binary messages are
// skipped.
func (w *WebSocket) Run(ctx context.Context) error {
	if w.closed.Load() {
		return ErrBusClosed
	}

	stop := context.AfterFunc(ctx, func() { w.Close() })
	defer stop()

	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if w.closed.Load() {
				return ErrBusClosed
			}
			return fmt.Errorf("read %s: %w", w.name, err)
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		f, err := DecodeWebSocketFrame(data)
		if err != nil {
			continue
		}
		w.handlers.dispatch(f)
	}
}

// Close implements Bus.
func (w *WebSocket) Close() error {
	var err error
	w.once.Do(func() {
		w.closed.Store(true)
		w.writeMu.Lock()
		w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		w.writeMu.Unlock()
		err = w.conn.Close()
	})
	return err
}

// Name implements Bus.
func (w *WebSocket) Name() string { return w.name }

// EncodeWebSocketFrame packs a frame into a bridge message.
func EncodeWebSocketFrame(f loopbus.Frame) [WebSocketFrameSize]byte {
	var b [WebSocketFrameSize]byte
	binary.LittleEndian.PutUint32(b[0:4], f.ID)
	b[4] = uint8(len(f.Payload()))
	copy(b[5:], f.Payload())
	return b
}

// DecodeWebSocketFrame unpacks a bridge message.
func DecodeWebSocketFrame(b []byte) (loopbus.Frame, error) {
	if len(b) != WebSocketFrameSize {
		return loopbus.Frame{}, fmt.Errorf("%w: %d bytes", ErrMalformedMessage, len(b))
	}
	n := int(b[4])
	if n > loopbus.MaxDataLength {
		return loopbus.Frame{}, fmt.Errorf("%w: length %d", ErrMalformedMessage, n)
	}
	return loopbus.NewFrame(binary.LittleEndian.Uint32(b[0:4]), b[5:5+n]), nil
}
