package session

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/termqapp/termq/internal/mqtt/packet"
)

// Endpoint errors.
var (
	ErrBadEndpoint       = errors.New("session: invalid broker endpoint")
	ErrUnsupportedScheme = errors.New("session: unsupported URL scheme")
)

// defaultConnectTimeout bounds the dial plus CONNECT/CONNACK handshake.
const defaultConnectTimeout = 10 * time.Second

// Endpoint describes one broker to connect to. It is treated as immutable
// once a connection attempt starts; changing brokers requires a full
// disconnect/connect cycle.
type Endpoint struct {
	// URL selects transport and address: mqtt://host:port (TCP),
	// mqtts://host:port (TLS), ws://host:port/path or wss:// (WebSocket).
	URL string

	// ClientID identifies this client to the broker. When empty a random
	// identifier is generated per connection attempt.
	ClientID string

	Username string
	Password string

	// KeepAlive is the PINGREQ interval. Zero disables keep-alive.
	KeepAlive time.Duration

	// CleanSession requests a fresh broker-side session. When false and the
	// broker resumes a previous session, in-flight handshakes are resumed
	// instead of abandoned after a reconnect.
	CleanSession bool

	// TLS overrides the TLS client configuration for mqtts:// and wss://.
	TLS *tls.Config

	// Will is the last-will message registered with the broker, published
	// on our behalf if the session ends ungracefully.
	Will *packet.Will

	// ConnectTimeout bounds dial plus handshake. Zero means the default.
	ConnectTimeout time.Duration

	// dialer overrides the transport dial, letting tests run the protocol
	// loop over an in-memory pipe.
	dialer func(ctx context.Context) (net.Conn, error)
}

// Validate checks that the endpoint URL is usable before any connection
// attempt starts.
func (e Endpoint) Validate() error {
	u, err := url.Parse(e.URL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadEndpoint, err)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("%w: missing host in %q", ErrBadEndpoint, e.URL)
	}
	switch u.Scheme {
	case "mqtt", "tcp", "mqtts", "ssl", "tls", "ws", "wss":
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// clientID returns the configured identifier, or a generated one.
func (e Endpoint) clientID() string {
	if e.ClientID != "" {
		return e.ClientID
	}
	return "termq-" + uuid.NewString()[:8]
}

// connectTimeout returns the configured handshake timeout.
func (e Endpoint) connectTimeout() time.Duration {
	if e.ConnectTimeout > 0 {
		return e.ConnectTimeout
	}
	return defaultConnectTimeout
}

// keepAliveSeconds returns the keep-alive interval as the CONNECT packet
// carries it.
func (e Endpoint) keepAliveSeconds() uint16 {
	secs := int64(e.KeepAlive / time.Second)
	if secs < 0 {
		return 0
	}
	if secs > 65535 {
		return 65535
	}
	return uint16(secs)
}

// dial opens the transport selected by the URL scheme.
func (e Endpoint) dial(ctx context.Context) (net.Conn, error) {
	if e.dialer != nil {
		return e.dialer(ctx)
	}

	u, err := url.Parse(e.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEndpoint, err)
	}

	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "mqtt", "tcp":
			host = net.JoinHostPort(u.Hostname(), "1883")
		case "mqtts", "ssl", "tls":
			host = net.JoinHostPort(u.Hostname(), "8883")
		case "ws":
			host = net.JoinHostPort(u.Hostname(), "80")
		case "wss":
			host = net.JoinHostPort(u.Hostname(), "443")
		}
	}

	dialer := &net.Dialer{}
	switch u.Scheme {
	case "mqtt", "tcp":
		return dialer.DialContext(ctx, "tcp", host)
	case "mqtts", "ssl", "tls":
		cfg := e.TLS
		if cfg == nil {
			cfg = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: cfg}
		return tlsDialer.DialContext(ctx, "tcp", host)
	case "ws", "wss":
		return dialWebsocket(ctx, u, host, e.TLS)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}
