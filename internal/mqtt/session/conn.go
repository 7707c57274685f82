package session

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/termqapp/termq/internal/mqtt/packet"
)

// Connection manager errors.
var (
	ErrNotConnected     = errors.New("session: not connected")
	ErrAlreadyConnected = errors.New("session: connection already in progress")
	ErrSendQueueFull    = errors.New("session: outbound queue full")
)

const defaultSendBuffer = 64

// connManager owns the transport lifecycle: dialing, the CONNECT/CONNACK
// handshake, keep-alive pings, the read loop, and the reconnect policy.
// All network I/O happens on its background goroutine; the rest of the
// core only exchanges packets with it over channels.
type connManager struct {
	log    zerolog.Logger
	events chan event
	out    chan packet.Packet

	backoffBase time.Duration
	backoffCap  time.Duration
	stableAfter time.Duration

	dropped atomic.Uint64

	mu      sync.Mutex
	state   ConnState
	running bool
	cancel  context.CancelFunc
}

func newConnManager(log zerolog.Logger, events chan event, base, cap, stable time.Duration, sendBuffer int) *connManager {
	if stable <= 0 {
		stable = defaultStableAfter
	}
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	return &connManager{
		log:         log,
		events:      events,
		out:         make(chan packet.Packet, sendBuffer),
		backoffBase: base,
		backoffCap:  cap,
		stableAfter: stable,
		state:       ConnState{Phase: PhaseDisconnected},
	}
}

// connect starts the protocol loop for ep. It returns immediately; the
// outcome is observed through state transitions.
func (m *connManager) connect(ep Endpoint) error {
	if err := ep.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return ErrAlreadyConnected
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.running = true
	m.cancel = cancel
	m.setStateLocked(ConnState{Phase: PhaseConnecting})

	go m.run(ctx, ep)
	return nil
}

// disconnect requests a clean shutdown. It cancels any pending reconnect
// backoff; the loop transitions to Disconnected terminally.
func (m *connManager) disconnect() {
	m.mu.Lock()
	cancel := m.cancel
	if cancel == nil && m.state.Phase == PhaseFailed {
		// The loop already exited on a terminal failure; acknowledge the
		// user's disconnect so the state reads cleanly.
		m.setStateLocked(ConnState{Phase: PhaseDisconnected})
	}
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// send enqueues a packet for the protocol loop to write. It never blocks.
func (m *connManager) send(pkt packet.Packet) error {
	if m.connState().Phase != PhaseConnected {
		return ErrNotConnected
	}
	select {
	case m.out <- pkt:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// connState returns a copy of the current connection state.
func (m *connManager) connState() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// droppedEvents returns how many inbound events were lost to queue
// overflow.
func (m *connManager) droppedEvents() uint64 {
	return m.dropped.Load()
}

func (m *connManager) setState(s ConnState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setStateLocked(s)
}

func (m *connManager) setStateLocked(s ConnState) {
	if !validTransition(m.state.Phase, s.Phase) {
		m.log.Warn().
			Stringer("from", m.state.Phase).
			Stringer("to", s.Phase).
			Msg("out-of-sequence connection state transition")
	}
	m.state = s
}

// emit hands a message event to the session core without ever blocking
// the protocol loop. Overflow drops the event and counts it.
func (m *connManager) emit(ev event) {
	select {
	case m.events <- ev:
	default:
		m.dropped.Add(1)
		m.log.Warn().Msg("event queue full, dropping inbound event")
	}
}

// emitLifecycle delivers a connection lifecycle event. Unlike message
// traffic these are never dropped: losing a connection-up event would
// leave the registry and pipeline desynchronized from the broker for the
// rest of the connection. The send blocks until the core drains the
// queue, which also keeps lifecycle events ordered after the messages
// read before them.
func (m *connManager) emitLifecycle(ev event) {
	m.events <- ev
}

// run is the protocol loop: one background goroutine that performs every
// network operation for the lifetime of one connect() call, including
// reconnects.
func (m *connManager) run(ctx context.Context, ep Endpoint) {
	defer func() {
		m.mu.Lock()
		m.running = false
		m.cancel = nil
		m.mu.Unlock()
	}()

	bo := newBackoff(m.backoffBase, m.backoffCap)

	for {
		conn, sessionPresent, err := m.handshake(ctx, ep)
		if err != nil {
			if ctx.Err() != nil {
				m.setState(ConnState{Phase: PhaseDisconnected})
				m.emitLifecycle(connDownEvent{Reason: "disconnect requested"})
				return
			}

			m.setState(ConnState{Phase: PhaseFailed, Reason: err.Error()})
			if isAuthRejection(err) {
				// Terminal: retrying with the same credentials cannot
				// succeed.
				m.log.Error().Err(err).Msg("broker refused connection")
				m.emitLifecycle(connDownEvent{Reason: err.Error()})
				return
			}

			if !m.waitRetry(ctx, bo, err.Error()) {
				return
			}
			continue
		}

		m.setState(ConnState{Phase: PhaseConnected})
		m.emitLifecycle(connUpEvent{SessionPresent: sessionPresent})
		m.log.Info().Str("broker", ep.URL).Bool("session_present", sessionPresent).Msg("connected")

		connectedAt := time.Now()
		reason := m.serve(ctx, conn, ep)

		if ctx.Err() != nil {
			m.setState(ConnState{Phase: PhaseDisconnected})
			m.emitLifecycle(connDownEvent{Reason: "disconnect requested"})
			m.log.Info().Msg("disconnected")
			return
		}

		if time.Since(connectedAt) >= m.stableAfter {
			bo.reset()
		}

		m.setState(ConnState{Phase: PhaseFailed, Reason: reason})
		m.emitLifecycle(connDownEvent{Reason: reason, WillRetry: true})
		m.log.Warn().Str("reason", reason).Msg("connection lost")

		if !m.waitRetry(ctx, bo, reason) {
			return
		}
	}
}

// waitRetry schedules the next reconnect attempt and blocks until its
// deadline or cancellation. It returns false when the loop should exit.
func (m *connManager) waitRetry(ctx context.Context, bo *backoff, reason string) bool {
	delay := bo.next()
	m.setState(ConnState{
		Phase:       PhaseReconnecting,
		Attempt:     bo.attempts(),
		NextRetryAt: time.Now().Add(delay),
		Reason:      reason,
	})

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		m.setState(ConnState{Phase: PhaseDisconnected})
		m.emitLifecycle(connDownEvent{Reason: "disconnect requested"})
		return false
	case <-timer.C:
	}

	m.setState(ConnState{Phase: PhaseConnecting})
	return true
}

// handshake dials the endpoint and completes the CONNECT/CONNACK
// exchange.
func (m *connManager) handshake(ctx context.Context, ep Endpoint) (net.Conn, bool, error) {
	dialCtx, cancel := context.WithTimeout(ctx, ep.connectTimeout())
	defer cancel()

	conn, err := ep.dial(dialCtx)
	if err != nil {
		return nil, false, err
	}

	raw, err := packet.Encode(&packet.Connect{
		ClientID:     ep.clientID(),
		Username:     ep.Username,
		Password:     ep.Password,
		KeepAlive:    ep.keepAliveSeconds(),
		CleanSession: ep.CleanSession,
		Will:         ep.Will,
	})
	if err != nil {
		conn.Close()
		return nil, false, err
	}

	deadline := time.Now().Add(ep.connectTimeout())
	_ = conn.SetDeadline(deadline)
	if _, err := conn.Write(raw); err != nil {
		conn.Close()
		return nil, false, err
	}

	pkt, err := packet.Read(conn)
	if err != nil {
		conn.Close()
		return nil, false, err
	}
	_ = conn.SetDeadline(time.Time{})

	connack, ok := pkt.(*packet.Connack)
	if !ok {
		conn.Close()
		return nil, false, errors.New("expected CONNACK, got " + pkt.Type().String())
	}
	if err := connack.Refused(); err != nil {
		conn.Close()
		if connack.AuthRejection() {
			return nil, false, &authError{err: err}
		}
		return nil, false, err
	}

	return conn, connack.SessionPresent, nil
}

// serve pumps one established connection until it fails or the context is
// canceled. It returns the failure reason.
func (m *connManager) serve(ctx context.Context, conn net.Conn, ep Endpoint) string {
	readCh := make(chan packet.Packet, 16)
	readErr := make(chan error, 1)
	readStop := make(chan struct{})
	defer close(readStop)
	go m.readLoop(conn, ep.KeepAlive, readCh, readErr, readStop)

	var pingC <-chan time.Time
	if ep.KeepAlive > 0 {
		ticker := time.NewTicker(ep.KeepAlive / 2)
		defer ticker.Stop()
		pingC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			// Clean shutdown: the DISCONNECT packet tells the broker to
			// drop the registered will message.
			if raw, err := packet.Encode(&packet.Disconnect{}); err == nil {
				_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
				_, _ = conn.Write(raw)
			}
			conn.Close()
			return "disconnect requested"

		case pkt := <-readCh:
			if _, ok := pkt.(*packet.Pingresp); ok {
				continue
			}
			m.emit(inboundEvent{Packet: pkt})

		case err := <-readErr:
			conn.Close()
			return err.Error()

		case pkt := <-m.out:
			if err := m.write(conn, pkt); err != nil {
				conn.Close()
				return err.Error()
			}

		case <-pingC:
			if err := m.write(conn, &packet.Pingreq{}); err != nil {
				conn.Close()
				return err.Error()
			}
		}
	}
}

// readLoop reads packets off the wire in broker order. Well-framed packets
// with malformed bodies are dropped and logged; the session continues.
// Framing failures lose the packet boundary, so they end the loop like
// transport errors.
func (m *connManager) readLoop(conn net.Conn, keepAlive time.Duration, out chan<- packet.Packet, fail chan<- error, stop <-chan struct{}) {
	for {
		if keepAlive > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(keepAlive * 2))
		}

		pkt, err := packet.Read(conn)
		if err != nil {
			if isDecodeError(err) {
				m.log.Warn().Err(err).Msg("dropping malformed packet")
				continue
			}
			select {
			case fail <- err:
			case <-stop:
			}
			return
		}

		select {
		case out <- pkt:
		case <-stop:
			return
		}
	}
}

func (m *connManager) write(conn net.Conn, pkt packet.Packet) error {
	raw, err := packet.Encode(pkt)
	if err != nil {
		// Encoding failures are programming errors in the caller; they
		// must not kill the connection.
		m.log.Error().Err(err).Stringer("type", pkt.Type()).Msg("dropping unencodable packet")
		return nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err = conn.Write(raw)
	return err
}

// isDecodeError distinguishes a well-framed but undecodable packet from a
// transport failure.
func isDecodeError(err error) bool {
	return errors.Is(err, packet.ErrMalformedPacket) ||
		errors.Is(err, packet.ErrUnknownType) ||
		errors.Is(err, packet.ErrInvalidQoS) ||
		errors.Is(err, packet.ErrEmptyTopic)
}

// authError marks a CONNACK refusal that no retry can fix.
type authError struct{ err error }

func (e *authError) Error() string { return e.err.Error() }
func (e *authError) Unwrap() error { return e.err }

func isAuthRejection(err error) bool {
	var ae *authError
	return errors.As(err, &ae)
}
