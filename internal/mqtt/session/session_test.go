package session

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termqapp/termq/internal/mqtt/packet"
)

// fakeClock drives retry deadlines without wall-clock waits.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestSession() (*Session, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)}
	s := New(Options{
		Logger:        zerolog.Nop(),
		Now:           clk.now,
		RetryInterval: time.Second,
		MaxRetries:    2,
	})
	return s, clk
}

// forceConnected puts the connection manager in the connected phase without
// a transport, so command and event handling can run synchronously.
func forceConnected(s *Session) {
	s.conn.mu.Lock()
	s.conn.state = ConnState{Phase: PhaseConnected}
	s.conn.mu.Unlock()
}

// drainOutbound collects everything queued for the protocol loop.
func drainOutbound(s *Session) []packet.Packet {
	var out []packet.Packet
	for {
		select {
		case pkt := <-s.conn.out:
			out = append(out, pkt)
		default:
			return out
		}
	}
}

// inject feeds an inbound packet to the core as if the protocol loop read
// it off the wire.
func inject(t *testing.T, s *Session, pkt packet.Packet) {
	t.Helper()
	select {
	case s.events <- inboundEvent{Packet: pkt}:
	default:
		t.Fatal("event queue full")
	}
	s.Pump()
}

func TestSubscribeIssuesSubscribe(t *testing.T) {
	s, _ := newTestSession()
	forceConnected(s)

	require.NoError(t, s.Submit(Subscribe("sensors/+/temp", 1)))
	s.Pump()

	out := drainOutbound(s)
	require.Len(t, out, 1)
	sub, ok := out[0].(*packet.Subscribe)
	require.True(t, ok)
	require.Len(t, sub.Subscriptions, 1)
	assert.Equal(t, "sensors/+/temp", sub.Subscriptions[0].Filter)
	assert.Equal(t, byte(1), sub.Subscriptions[0].QoS)

	subs := s.Subscriptions()
	require.Len(t, subs, 1)
	assert.Equal(t, "sensors/+/temp", subs[0].Filter)

	// Re-subscribing at the same QoS touches nothing.
	require.NoError(t, s.Submit(Subscribe("sensors/+/temp", 1)))
	s.Pump()
	assert.Empty(t, drainOutbound(s))
}

func TestSubscribeRejectsInvalidFilter(t *testing.T) {
	s, _ := newTestSession()
	forceConnected(s)

	require.NoError(t, s.Submit(Subscribe("a/#/b", 0)))
	notices := s.Notices()
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeError, notices[0].Level)
	assert.Empty(t, s.Subscriptions())
	assert.Empty(t, drainOutbound(s))
}

func TestSubscribeWhileDisconnectedIsDeferred(t *testing.T) {
	s, _ := newTestSession()

	require.NoError(t, s.Submit(Subscribe("sensors/#", 0)))
	s.Pump()

	// Registered locally, nothing on the wire until connect.
	require.Len(t, s.Subscriptions(), 1)
	assert.Empty(t, drainOutbound(s))
}

func TestSubackRejectionDropsFilter(t *testing.T) {
	s, _ := newTestSession()
	forceConnected(s)

	require.NoError(t, s.Submit(Subscribe("forbidden/#", 1)))
	s.Pump()
	out := drainOutbound(s)
	require.Len(t, out, 1)
	id := out[0].(*packet.Subscribe).PacketID

	inject(t, s, &packet.Suback{PacketID: id, ReturnCodes: []byte{packet.SubackFailure}})

	assert.Empty(t, s.Subscriptions())
	notices := s.Notices()
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeError, notices[0].Level)
	assert.Contains(t, notices[0].Message, "forbidden/#")
}

func TestSubackRecordsGrantedQoS(t *testing.T) {
	s, _ := newTestSession()
	forceConnected(s)

	require.NoError(t, s.Submit(Subscribe("sensors/#", 2)))
	s.Pump()
	out := drainOutbound(s)
	require.Len(t, out, 1)
	id := out[0].(*packet.Subscribe).PacketID

	inject(t, s, &packet.Suback{PacketID: id, ReturnCodes: []byte{1}})

	subs := s.Subscriptions()
	require.Len(t, subs, 1)
	assert.Equal(t, byte(1), subs[0].QoS)
}

func TestUnsubscribe(t *testing.T) {
	s, _ := newTestSession()
	forceConnected(s)

	require.NoError(t, s.Submit(Subscribe("a/#", 0)))
	s.Pump()
	drainOutbound(s)

	require.NoError(t, s.Submit(Unsubscribe("a/#")))
	s.Pump()

	out := drainOutbound(s)
	require.Len(t, out, 1)
	unsub, ok := out[0].(*packet.Unsubscribe)
	require.True(t, ok)
	assert.Equal(t, []string{"a/#"}, unsub.Filters)
	assert.Empty(t, s.Subscriptions())

	// Unsubscribing an unknown filter is a silent no-op.
	require.NoError(t, s.Submit(Unsubscribe("b/#")))
	s.Pump()
	assert.Empty(t, drainOutbound(s))
}

func TestInboundDeliveryThroughWildcard(t *testing.T) {
	s, _ := newTestSession()
	forceConnected(s)

	require.NoError(t, s.Submit(Subscribe("sensors/+/temp", 0)))
	s.Pump()
	drainOutbound(s)

	inject(t, s, &packet.Publish{Topic: "sensors/kitchen/temp", Payload: []byte("21.0"), Retain: true})
	inject(t, s, &packet.Publish{Topic: "sensors/kitchen/temp", Payload: []byte("21.5")})
	inject(t, s, &packet.Publish{Topic: "sensors/hall/temp", Payload: []byte("19.8")})

	// An unmatched topic is discarded and counted.
	inject(t, s, &packet.Publish{Topic: "actuators/relay", Payload: []byte("on")})

	topics := s.Topics()
	require.Len(t, topics, 2)
	assert.Equal(t, "sensors/hall/temp", topics[0].Topic)
	assert.Equal(t, "sensors/kitchen/temp", topics[1].Topic)
	assert.True(t, topics[1].HasRetained)
	assert.Equal(t, 2, topics[1].Count)

	hist := s.TopicSnapshot("sensors/kitchen/temp")
	require.Len(t, hist, 2)
	assert.Equal(t, "21.0", string(hist[0].Payload))
	assert.Equal(t, "21.5", string(hist[1].Payload))

	retained, ok := s.Retained("sensors/kitchen/temp")
	require.True(t, ok)
	assert.Equal(t, "21.0", string(retained.Payload))

	assert.Equal(t, uint64(1), s.Stats().Discarded)
}

func TestInboundQoS1SendsPuback(t *testing.T) {
	s, _ := newTestSession()
	forceConnected(s)

	require.NoError(t, s.Submit(Subscribe("t", 1)))
	s.Pump()
	drainOutbound(s)

	inject(t, s, &packet.Publish{Topic: "t", Payload: []byte("x"), QoS: 1, PacketID: 7})

	out := drainOutbound(s)
	require.Len(t, out, 1)
	ack, ok := out[0].(*packet.Puback)
	require.True(t, ok)
	assert.Equal(t, uint16(7), ack.PacketID)
	assert.Len(t, s.TopicSnapshot("t"), 1)
}

func TestInboundQoS2ExactlyOnce(t *testing.T) {
	s, _ := newTestSession()
	forceConnected(s)

	require.NoError(t, s.Submit(Subscribe("t", 2)))
	s.Pump()
	drainOutbound(s)

	inject(t, s, &packet.Publish{Topic: "t", Payload: []byte("x"), QoS: 2, PacketID: 9})
	out := drainOutbound(s)
	require.Len(t, out, 1)
	_, ok := out[0].(*packet.Pubrec)
	require.True(t, ok)

	// Redelivery before PUBREL: acknowledged again, stored once.
	inject(t, s, &packet.Publish{Topic: "t", Payload: []byte("x"), QoS: 2, PacketID: 9, Dup: true})
	out = drainOutbound(s)
	require.Len(t, out, 1)
	_, ok = out[0].(*packet.Pubrec)
	require.True(t, ok)
	assert.Len(t, s.TopicSnapshot("t"), 1)

	inject(t, s, &packet.Pubrel{PacketID: 9})
	out = drainOutbound(s)
	require.Len(t, out, 1)
	comp, ok := out[0].(*packet.Pubcomp)
	require.True(t, ok)
	assert.Equal(t, uint16(9), comp.PacketID)

	// After the handshake completes the identifier is free again.
	inject(t, s, &packet.Publish{Topic: "t", Payload: []byte("y"), QoS: 2, PacketID: 9})
	drainOutbound(s)
	assert.Len(t, s.TopicSnapshot("t"), 2)
}

func TestPublishQoS0(t *testing.T) {
	s, _ := newTestSession()
	forceConnected(s)

	require.NoError(t, s.Submit(Publish("t", []byte("x"), 0, false)))
	s.Pump()

	out := drainOutbound(s)
	require.Len(t, out, 1)
	pub, ok := out[0].(*packet.Publish)
	require.True(t, ok)
	assert.Zero(t, pub.PacketID)
	assert.Equal(t, 0, s.Stats().Inflight)
}

func TestPublishQoS1Acknowledged(t *testing.T) {
	s, _ := newTestSession()
	forceConnected(s)

	require.NoError(t, s.Submit(Publish("t", []byte("x"), 1, false)))
	s.Pump()

	out := drainOutbound(s)
	require.Len(t, out, 1)
	pub := out[0].(*packet.Publish)
	require.NotZero(t, pub.PacketID)
	assert.Equal(t, 1, s.Stats().Inflight)

	inject(t, s, &packet.Puback{PacketID: pub.PacketID})
	assert.Equal(t, 0, s.Stats().Inflight)
}

func TestPublishQoS2HandshakeWithRetries(t *testing.T) {
	s, clk := newTestSession()
	forceConnected(s)

	require.NoError(t, s.Submit(Publish("t", []byte("x"), 2, false)))
	s.Pump()
	out := drainOutbound(s)
	require.Len(t, out, 1)
	id := out[0].(*packet.Publish).PacketID

	// PUBREC lost: the PUBLISH is retransmitted with the DUP flag.
	clk.advance(2 * time.Second)
	s.Pump()
	out = drainOutbound(s)
	require.Len(t, out, 1)
	dup := out[0].(*packet.Publish)
	assert.True(t, dup.Dup)
	assert.Equal(t, id, dup.PacketID)

	inject(t, s, &packet.Pubrec{PacketID: id})
	out = drainOutbound(s)
	require.Len(t, out, 1)
	_, ok := out[0].(*packet.Pubrel)
	require.True(t, ok)

	// PUBCOMP lost: the PUBREL is retransmitted, never the PUBLISH.
	clk.advance(2 * time.Second)
	s.Pump()
	out = drainOutbound(s)
	require.Len(t, out, 1)
	_, ok = out[0].(*packet.Pubrel)
	require.True(t, ok)

	inject(t, s, &packet.Pubcomp{PacketID: id})
	assert.Equal(t, 0, s.Stats().Inflight)
}

func TestPublishFailsAfterRetriesExhausted(t *testing.T) {
	s, clk := newTestSession()
	forceConnected(s)

	require.NoError(t, s.Submit(Publish("doomed", []byte("x"), 1, false)))
	s.Pump()
	drainOutbound(s)

	for i := 0; i < 2; i++ {
		clk.advance(2 * time.Second)
		s.Pump()
		require.Len(t, drainOutbound(s), 1, "retry %d", i)
	}

	clk.advance(2 * time.Second)
	s.Pump()
	assert.Empty(t, drainOutbound(s))
	assert.Equal(t, 0, s.Stats().Inflight)

	notices := s.Notices()
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeError, notices[0].Level)
	assert.Contains(t, notices[0].Message, "doomed")
}

func TestPublishWhileDisconnectedFailsFast(t *testing.T) {
	s, _ := newTestSession()

	require.NoError(t, s.Submit(Publish("t", []byte("x"), 1, false)))
	notices := s.Notices()
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeError, notices[0].Level)
	assert.Equal(t, 0, s.Stats().Inflight)
}

func TestDisconnectAbandonsPendingPublishes(t *testing.T) {
	s, _ := newTestSession()
	forceConnected(s)

	for _, topic := range []string{"a", "b", "c"} {
		require.NoError(t, s.Submit(Publish(topic, []byte("x"), 2, false)))
	}
	s.Pump()
	drainOutbound(s)
	s.Notices()
	require.Equal(t, 3, s.Stats().Inflight)

	s.events <- connDownEvent{Reason: "disconnected"}
	s.Pump()

	assert.Equal(t, 0, s.Stats().Inflight)

	var abandoned int
	for _, n := range s.Notices() {
		if n.Level == NoticeWarn {
			abandoned++
		}
	}
	assert.Equal(t, 3, abandoned)
}

func TestReconnectFreshSessionResubscribesAndAbandons(t *testing.T) {
	s, _ := newTestSession()
	forceConnected(s)

	require.NoError(t, s.Submit(Subscribe("sensors/#", 1)))
	require.NoError(t, s.Submit(Publish("t", []byte("x"), 1, false)))
	s.Pump()
	drainOutbound(s)
	s.Notices()

	s.events <- connDownEvent{Reason: "broken pipe", WillRetry: true}
	s.Pump()
	// Pending handshakes survive the outage; their fate is decided by the
	// next CONNACK.
	require.Equal(t, 1, s.Stats().Inflight)

	s.events <- connUpEvent{SessionPresent: false}
	s.Pump()

	assert.Equal(t, 0, s.Stats().Inflight)

	out := drainOutbound(s)
	require.Len(t, out, 1)
	sub, ok := out[0].(*packet.Subscribe)
	require.True(t, ok)
	require.Len(t, sub.Subscriptions, 1)
	assert.Equal(t, "sensors/#", sub.Subscriptions[0].Filter)

	var abandoned int
	for _, n := range s.Notices() {
		if n.Level == NoticeWarn && strings.Contains(n.Message, "abandoned") {
			abandoned++
		}
	}
	assert.Equal(t, 1, abandoned)
}

func TestReconnectResumedSessionRetransmits(t *testing.T) {
	s, _ := newTestSession()
	forceConnected(s)

	require.NoError(t, s.Submit(Subscribe("sensors/#", 1)))
	require.NoError(t, s.Submit(Publish("t", []byte("x"), 1, false)))
	s.Pump()
	drainOutbound(s)

	s.events <- connDownEvent{Reason: "broken pipe", WillRetry: true}
	s.Pump()

	s.events <- connUpEvent{SessionPresent: true}
	s.Pump()

	// The broker kept our state: the in-flight PUBLISH resumes with the DUP
	// flag and no SUBSCRIBE is reissued.
	out := drainOutbound(s)
	require.Len(t, out, 1)
	pub, ok := out[0].(*packet.Publish)
	require.True(t, ok)
	assert.True(t, pub.Dup)
	assert.Equal(t, 1, s.Stats().Inflight)
}

func TestClearTopic(t *testing.T) {
	s, _ := newTestSession()
	forceConnected(s)

	require.NoError(t, s.Submit(Subscribe("t", 0)))
	s.Pump()
	drainOutbound(s)
	inject(t, s, &packet.Publish{Topic: "t", Payload: []byte("x"), Retain: true})
	require.Len(t, s.TopicSnapshot("t"), 1)

	require.NoError(t, s.Submit(ClearTopic("t")))
	s.Pump()

	assert.Empty(t, s.TopicSnapshot("t"))
	_, ok := s.Retained("t")
	assert.False(t, ok)
}

func TestSubmitQueueFull(t *testing.T) {
	s := New(Options{Logger: zerolog.Nop(), CommandBuffer: 1})

	require.NoError(t, s.Submit(Subscribe("a", 0)))
	assert.ErrorIs(t, s.Submit(Subscribe("b", 0)), ErrCommandQueueFull)
}

func TestConnectionLossDropsPendingSubscribes(t *testing.T) {
	s, _ := newTestSession()
	forceConnected(s)

	require.NoError(t, s.Submit(Subscribe("a/#", 1)))
	s.Pump()
	drainOutbound(s)
	require.Len(t, s.pendingSubs, 1)

	s.events <- connDownEvent{Reason: "broken pipe", WillRetry: true}
	s.Pump()

	// The SUBACK can never arrive; a stale entry would shadow a later
	// SUBSCRIBE that reuses the identifier.
	assert.Empty(t, s.pendingSubs)
}

// TestReconnectResubscribesUnderEventBacklog keeps the event queue full of
// message traffic across a connection loss. The lifecycle events must still
// come through, or the fresh broker session would silently end up without
// our filters.
func TestReconnectResubscribesUnderEventBacklog(t *testing.T) {
	broker := newFakeBroker(t)
	s := New(Options{
		Logger:      zerolog.Nop(),
		EventBuffer: 1,
		BackoffBase: 10 * time.Millisecond,
		BackoffCap:  50 * time.Millisecond,
		StableAfter: time.Hour,
	})
	defer s.Close()

	require.NoError(t, s.Submit(Connect(broker.endpoint())))
	s.Pump()
	conn := broker.accept(&packet.Connack{})
	require.Eventually(t, func() bool {
		return s.ConnState().Phase == PhaseConnected
	}, 2*time.Second, 5*time.Millisecond, "never connected")

	require.NoError(t, s.Submit(Subscribe("sensors/#", 1)))
	s.Pump()
	pkt, err := packet.Read(conn)
	require.NoError(t, err)
	require.Equal(t, packet.TypeSubscribe, pkt.Type())

	// Occupy the single-slot queue with message traffic, then kill the
	// transport underneath the manager.
	s.events <- inboundEvent{Packet: &packet.Publish{Topic: "sensors/x", Payload: []byte("1")}}
	conn.Close()

	// The teardown cannot finish until the core drains, so pump while
	// waiting for the redial.
	var conn2 net.Conn
	require.Eventually(t, func() bool {
		s.Pump()
		select {
		case conn2 = <-broker.conns:
			return true
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond, "no reconnect attempt")

	pkt, err = packet.Read(conn2)
	require.NoError(t, err)
	require.Equal(t, packet.TypeConnect, pkt.Type())

	// Refill the queue before answering, so the connection-up event also
	// contends with a full queue.
	s.Pump()
	s.events <- inboundEvent{Packet: &packet.Publish{Topic: "sensors/y", Payload: []byte("2")}}

	raw, err := packet.Encode(&packet.Connack{})
	require.NoError(t, err)
	_, err = conn2.Write(raw)
	require.NoError(t, err)

	subCh := make(chan *packet.Subscribe, 1)
	go func() {
		pkt, err := packet.Read(conn2)
		if err != nil {
			return
		}
		if sub, ok := pkt.(*packet.Subscribe); ok {
			subCh <- sub
		}
	}()

	// The fresh session re-issues the registry's filters.
	var sub *packet.Subscribe
	require.Eventually(t, func() bool {
		s.Pump()
		select {
		case sub = <-subCh:
			return true
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond, "filters were never re-issued")

	require.Len(t, sub.Subscriptions, 1)
	assert.Equal(t, "sensors/#", sub.Subscriptions[0].Filter)
}
