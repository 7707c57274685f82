package session

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// dialWebsocket opens a WebSocket transport carrying MQTT binary frames
// with the `mqtt` subprotocol, and adapts it to net.Conn so the protocol
// loop can treat every transport the same way.
func dialWebsocket(ctx context.Context, u *url.URL, host string, tlsCfg *tls.Config) (net.Conn, error) {
	wsURL := *u
	wsURL.Host = host
	if wsURL.Path == "" {
		wsURL.Path = "/mqtt"
	}

	dialer := websocket.Dialer{
		Subprotocols:    []string{"mqtt"},
		TLSClientConfig: tlsCfg,
	}
	conn, resp, err := dialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial: %w (status %s)", err, resp.Status)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return &wsConn{conn: conn}, nil
}

// wsConn adapts a gorilla websocket connection to net.Conn. Writes become
// single binary messages; reads drain binary messages in order.
type wsConn struct {
	conn   *websocket.Conn
	reader io.Reader
}

func (w *wsConn) Read(p []byte) (int, error) {
	for {
		if w.reader == nil {
			t, r, err := w.conn.NextReader()
			if err != nil {
				return 0, err
			}
			if t != websocket.BinaryMessage {
				// MQTT-over-WebSocket payloads are binary; skip anything else.
				continue
			}
			w.reader = r
		}

		n, err := w.reader.Read(p)
		if err == io.EOF {
			w.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (w *wsConn) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsConn) Close() error {
	return w.conn.Close()
}

func (w *wsConn) LocalAddr() net.Addr  { return w.conn.LocalAddr() }
func (w *wsConn) RemoteAddr() net.Addr { return w.conn.RemoteAddr() }

func (w *wsConn) SetDeadline(t time.Time) error {
	if err := w.conn.SetReadDeadline(t); err != nil {
		return err
	}
	return w.conn.SetWriteDeadline(t)
}

func (w *wsConn) SetReadDeadline(t time.Time) error  { return w.conn.SetReadDeadline(t) }
func (w *wsConn) SetWriteDeadline(t time.Time) error { return w.conn.SetWriteDeadline(t) }
