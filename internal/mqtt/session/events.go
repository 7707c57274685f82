package session

import (
	"time"

	"github.com/termqapp/termq/internal/mqtt/packet"
)

// event is anything the connection manager's protocol loop reports to the
// session core. Events are applied in the order the broker produced them.
// Message events may be shed under backpressure; lifecycle events are
// always delivered.
type event interface{ isEvent() }

// connUpEvent signals a successful connect or reconnect handshake.
type connUpEvent struct {
	// SessionPresent is the broker's CONNACK session-present flag. When
	// false, in-flight QoS>0 handshakes cannot be resumed and are
	// abandoned.
	SessionPresent bool
}

func (connUpEvent) isEvent() {}

// connDownEvent signals a lost or closed connection.
type connDownEvent struct {
	Reason string

	// WillRetry is true when the manager has scheduled an automatic
	// reconnect, false for a manual disconnect or a terminal failure.
	WillRetry bool
}

func (connDownEvent) isEvent() {}

// inboundEvent wraps one broker-to-client packet read off the wire.
type inboundEvent struct {
	Packet packet.Packet
}

func (inboundEvent) isEvent() {}

// NoticeLevel grades a notice for presentation.
type NoticeLevel int

// Notice levels.
const (
	NoticeInfo NoticeLevel = iota
	NoticeWarn
	NoticeError
)

// Notice is a user-facing, one-shot report of something that happened in
// the core: connection changes, failed or abandoned publishes, rejected
// subscriptions. The presentation layer drains notices each render.
type Notice struct {
	Level   NoticeLevel
	Message string
	Time    time.Time
}
