package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/termqapp/termq/internal/mqtt/packet"
)

// ErrCommandQueueFull is returned by Submit when the presentation layer
// outruns the core.
var ErrCommandQueueFull = errors.New("session: command queue full")

// Queue defaults.
const (
	defaultCommandBuffer = 32
	defaultEventBuffer   = 256
)

// Options configures a Session. Zero values select defaults.
type Options struct {
	// HistoryLimit caps each topic's message history.
	HistoryLimit int

	// RetryInterval and MaxRetries drive the publish pipeline's
	// acknowledgment deadlines.
	RetryInterval time.Duration
	MaxRetries    int

	// BackoffBase and BackoffCap bound the reconnect schedule;
	// StableAfter is how long a connection must survive before the
	// schedule resets.
	BackoffBase time.Duration
	BackoffCap  time.Duration
	StableAfter time.Duration

	// CommandBuffer, EventBuffer and SendBuffer size the queues crossing
	// the goroutine boundary.
	CommandBuffer int
	EventBuffer   int
	SendBuffer    int

	Logger zerolog.Logger

	// Now is the clock used for acknowledgment and retry deadlines.
	// Injectable so tests run without wall-clock waits.
	Now func() time.Time
}

// Session is the orchestrating core. It owns the subscription registry,
// message store and publish pipeline exclusively, mutating them only while
// draining events, and exposes copy-out snapshots to the presentation
// layer. None of its accessors block or touch the network.
type Session struct {
	log  zerolog.Logger
	now  func() time.Time
	cmds chan Command

	events chan event
	conn   *connManager

	reg   registry
	store *store
	pipe  *pipeline

	// inbound2 tracks QoS 2 packet identifiers already delivered, so a
	// redelivered PUBLISH is acknowledged but not stored twice.
	inbound2 map[uint16]struct{}

	// pendingSubs maps in-flight SUBSCRIBE packet identifiers to their
	// filters, in request order, for SUBACK result handling.
	pendingSubs map[uint16][]string
	ctlID       uint16

	notices []Notice
}

// New constructs a Session. The returned value is ready for Submit and
// snapshot calls; no goroutine starts until a connect command arrives.
func New(opts Options) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.CommandBuffer <= 0 {
		opts.CommandBuffer = defaultCommandBuffer
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}

	events := make(chan event, opts.EventBuffer)
	log := opts.Logger.With().Str("component", "session").Logger()

	return &Session{
		log:         log,
		now:         opts.Now,
		cmds:        make(chan Command, opts.CommandBuffer),
		events:      events,
		conn:        newConnManager(log, events, opts.BackoffBase, opts.BackoffCap, opts.StableAfter, opts.SendBuffer),
		store:       newStore(opts.HistoryLimit),
		pipe:        newPipeline(opts.RetryInterval, opts.MaxRetries),
		inbound2:    make(map[uint16]struct{}),
		pendingSubs: make(map[uint16][]string),
	}
}

// Submit enqueues a command. It never blocks; when the queue is full the
// caller gets ErrCommandQueueFull and may retry next frame.
func (s *Session) Submit(cmd Command) error {
	select {
	case s.cmds <- cmd:
		return nil
	default:
		return ErrCommandQueueFull
	}
}

// Close requests a clean disconnect. Pending acknowledgments are reported
// as abandoned through the notice stream.
func (s *Session) Close() {
	s.conn.disconnect()
}

// Pump applies queued commands and drained events to the core state. The
// presentation layer calls it once per render cycle; every snapshot
// accessor also pumps first so a lone accessor never reads stale state.
// Pump never blocks and performs no network I/O of its own.
func (s *Session) Pump() {
	for {
		select {
		case cmd := <-s.cmds:
			s.apply(cmd)
		default:
			s.drainEvents()
			s.sweep()
			return
		}
	}
}

func (s *Session) drainEvents() {
	for {
		select {
		case ev := <-s.events:
			s.handleEvent(ev)
		default:
			return
		}
	}
}

// ConnState returns a copy of the current connection state.
func (s *Session) ConnState() ConnState {
	s.Pump()
	return s.conn.connState()
}

// Subscriptions returns a copy of the active subscription set.
func (s *Session) Subscriptions() []Subscription {
	s.Pump()
	return s.reg.list()
}

// Topics summarizes every topic with recorded traffic, sorted by name.
func (s *Session) Topics() []TopicInfo {
	s.Pump()
	return s.store.topics()
}

// TopicSnapshot returns a point-in-time copy of one topic's history,
// oldest first.
func (s *Session) TopicSnapshot(topic string) []Message {
	s.Pump()
	return s.store.snapshot(topic)
}

// Retained returns the current retained message for a topic, if any.
func (s *Session) Retained(topic string) (Message, bool) {
	s.Pump()
	return s.store.retainedFor(topic)
}

// Stats returns the core's counters.
func (s *Session) Stats() Stats {
	s.Pump()
	return Stats{
		Discarded:     s.store.discarded,
		DroppedEvents: s.conn.droppedEvents(),
		Inflight:      s.pipe.inflight(),
	}
}

// Notices drains the accumulated user-facing notices.
func (s *Session) Notices() []Notice {
	s.Pump()
	out := s.notices
	s.notices = nil
	return out
}

func (s *Session) notef(level NoticeLevel, format string, args ...any) {
	s.notices = append(s.notices, Notice{
		Level:   level,
		Message: fmt.Sprintf(format, args...),
		Time:    s.now(),
	})
}

// apply executes one presentation-layer command.
func (s *Session) apply(cmd Command) {
	s.log.Debug().Stringer("command", cmd.Kind).Msg("applying command")

	switch cmd.Kind {
	case CommandConnect:
		if cmd.Endpoint == nil {
			s.notef(NoticeError, "connect: no endpoint")
			return
		}
		if err := s.conn.connect(*cmd.Endpoint); err != nil {
			s.notef(NoticeError, "connect: %v", err)
		}

	case CommandDisconnect:
		s.conn.disconnect()

	case CommandSubscribe:
		s.subscribe(cmd.Filter, cmd.QoS)

	case CommandUnsubscribe:
		if !s.reg.remove(cmd.Filter) {
			return
		}
		id := s.nextCtlID()
		if err := s.conn.send(&packet.Unsubscribe{PacketID: id, Filters: []string{cmd.Filter}}); err != nil && !errors.Is(err, ErrNotConnected) {
			s.notef(NoticeWarn, "unsubscribe %s: %v", cmd.Filter, err)
		}

	case CommandPublish:
		s.publish(cmd)

	case CommandClearTopic:
		s.store.clear(cmd.Topic)
	}
}

func (s *Session) subscribe(filter string, qos byte) {
	if err := ValidateFilter(filter); err != nil {
		s.notef(NoticeError, "subscribe: %v", err)
		return
	}
	if qos > 2 {
		s.notef(NoticeError, "subscribe %s: invalid QoS %d", filter, qos)
		return
	}

	isNew, changed := s.reg.add(filter, qos)
	if !isNew && !changed {
		// Re-subscribing to an existing filter at the same QoS is a no-op.
		return
	}
	if s.conn.connState().Phase != PhaseConnected {
		// The filter is registered; it is issued on (re)connect.
		return
	}
	s.sendSubscribe([]Subscription{{Filter: filter, QoS: qos}})
}

func (s *Session) sendSubscribe(subs []Subscription) {
	if len(subs) == 0 {
		return
	}

	id := s.nextCtlID()
	pkt := &packet.Subscribe{PacketID: id}
	filters := make([]string, 0, len(subs))
	for _, sub := range subs {
		pkt.Subscriptions = append(pkt.Subscriptions, packet.Subscription{Filter: sub.Filter, QoS: sub.QoS})
		filters = append(filters, sub.Filter)
	}

	s.pendingSubs[id] = filters
	if err := s.conn.send(pkt); err != nil {
		delete(s.pendingSubs, id)
		s.notef(NoticeWarn, "subscribe: %v", err)
	}
}

func (s *Session) publish(cmd Command) {
	if cmd.QoS > 2 {
		s.notef(NoticeError, "publish %s: invalid QoS %d", cmd.Topic, cmd.QoS)
		return
	}
	if s.conn.connState().Phase != PhaseConnected {
		s.notef(NoticeError, "publish %s: not connected", cmd.Topic)
		return
	}

	msg := Message{
		Topic:   cmd.Topic,
		Payload: cmd.Payload,
		QoS:     cmd.QoS,
		Retain:  cmd.Retain,
	}

	pkt := &packet.Publish{
		Topic:   cmd.Topic,
		Payload: cmd.Payload,
		QoS:     cmd.QoS,
		Retain:  cmd.Retain,
	}

	if cmd.QoS > 0 {
		id, err := s.pipe.open(msg, s.now())
		if err != nil {
			s.notef(NoticeError, "publish %s: %v", cmd.Topic, err)
			return
		}
		pkt.PacketID = id
	}

	if err := s.conn.send(pkt); err != nil {
		s.notef(NoticeError, "publish %s: %v", cmd.Topic, err)
	}
}

// nextCtlID allocates packet identifiers for SUBSCRIBE and UNSUBSCRIBE.
// These live in a separate counter from publish identifiers; responses are
// matched by packet type as well as identifier, so the spaces cannot
// confuse each other.
func (s *Session) nextCtlID() uint16 {
	s.ctlID++
	if s.ctlID == 0 {
		s.ctlID = 1
	}
	return s.ctlID
}

// handleEvent applies one protocol-loop event to the core state.
func (s *Session) handleEvent(ev event) {
	switch e := ev.(type) {
	case connUpEvent:
		s.notef(NoticeInfo, "connected")
		if e.SessionPresent {
			// The broker resumed our session: pick up in-flight handshakes
			// where they left off.
			for _, pkt := range s.pipe.resume(s.now()) {
				if err := s.conn.send(pkt); err != nil {
					s.log.Warn().Err(err).Msg("resume send failed")
				}
			}
			return
		}
		// Fresh broker-side session: nothing in flight can complete.
		for _, msg := range s.pipe.abandon() {
			s.notef(NoticeWarn, "publish abandoned on reconnect: %s (qos %d)", msg.Topic, msg.QoS)
		}
		s.inbound2 = make(map[uint16]struct{})
		s.sendSubscribe(s.reg.list())

	case connDownEvent:
		// SUBACKs outstanding on the dead connection can never arrive; a
		// stale entry would shadow a later SUBSCRIBE reusing the identifier.
		s.pendingSubs = make(map[uint16][]string)
		if e.WillRetry {
			s.notef(NoticeWarn, "connection lost: %s", e.Reason)
			return
		}
		s.notef(NoticeInfo, "%s", e.Reason)
		for _, msg := range s.pipe.abandon() {
			s.notef(NoticeWarn, "publish abandoned: %s (qos %d)", msg.Topic, msg.QoS)
		}

	case inboundEvent:
		s.handleInbound(e.Packet)
	}
}

func (s *Session) handleInbound(pkt packet.Packet) {
	switch p := pkt.(type) {
	case *packet.Publish:
		s.handleInboundPublish(p)

	case *packet.Puback:
		s.handleAck(packet.TypePuback, p.PacketID)
	case *packet.Pubrec:
		s.handleAck(packet.TypePubrec, p.PacketID)
	case *packet.Pubcomp:
		s.handleAck(packet.TypePubcomp, p.PacketID)

	case *packet.Pubrel:
		delete(s.inbound2, p.PacketID)
		if err := s.conn.send(&packet.Pubcomp{PacketID: p.PacketID}); err != nil {
			s.log.Warn().Err(err).Uint16("packet_id", p.PacketID).Msg("pubcomp send failed")
		}

	case *packet.Suback:
		s.handleSuback(p)

	case *packet.Unsuback:
		s.log.Debug().Uint16("packet_id", p.PacketID).Msg("unsubscribe acknowledged")

	default:
		s.log.Debug().Stringer("type", pkt.Type()).Msg("ignoring unexpected packet")
	}
}

func (s *Session) handleInboundPublish(p *packet.Publish) {
	msg := Message{
		Topic:      p.Topic,
		Payload:    p.Payload,
		QoS:        p.QoS,
		Retain:     p.Retain,
		Dup:        p.Dup,
		ReceivedAt: s.now(),
		PacketID:   p.PacketID,
	}

	deliver := true
	switch p.QoS {
	case 1:
		if err := s.conn.send(&packet.Puback{PacketID: p.PacketID}); err != nil {
			s.log.Warn().Err(err).Msg("puback send failed")
		}
	case 2:
		// Exactly-once: acknowledge every delivery, store only the first.
		if _, seen := s.inbound2[p.PacketID]; seen {
			deliver = false
		} else {
			s.inbound2[p.PacketID] = struct{}{}
		}
		if err := s.conn.send(&packet.Pubrec{PacketID: p.PacketID}); err != nil {
			s.log.Warn().Err(err).Msg("pubrec send failed")
		}
	}
	if !deliver {
		return
	}

	matches := s.reg.match(p.Topic)
	if len(matches) > 1 {
		s.log.Debug().
			Str("topic", p.Topic).
			Int("filters", len(matches)).
			Uint8("effective_qos", effectiveQoS(matches)).
			Msg("topic matched by overlapping filters")
	}
	s.store.ingest(msg, len(matches) > 0)
}

func (s *Session) handleAck(t packet.Type, id uint16) {
	res := s.pipe.ack(t, id, s.now())
	if !res.known {
		s.log.Debug().Stringer("type", t).Uint16("packet_id", id).Msg("ack for unknown publish")
		return
	}
	if res.respond != nil {
		if err := s.conn.send(res.respond); err != nil {
			s.log.Warn().Err(err).Uint16("packet_id", id).Msg("handshake response send failed")
		}
	}
	if res.completed {
		s.log.Debug().Str("topic", res.topic).Uint16("packet_id", id).Msg("publish acknowledged")
	}
}

func (s *Session) handleSuback(p *packet.Suback) {
	filters, ok := s.pendingSubs[p.PacketID]
	if !ok {
		s.log.Debug().Uint16("packet_id", p.PacketID).Msg("SUBACK for unknown subscribe")
		return
	}
	delete(s.pendingSubs, p.PacketID)

	for i, code := range p.ReturnCodes {
		if i >= len(filters) {
			break
		}
		filter := filters[i]
		if code == packet.SubackFailure {
			s.reg.remove(filter)
			s.notef(NoticeError, "subscription rejected: %s", filter)
			continue
		}
		// The broker may grant a lower QoS than requested; record what we
		// actually have.
		s.reg.add(filter, code)
	}
}

// sweep retransmits pending publishes whose deadline passed and surfaces
// permanent failures. It runs only while connected: during a reconnect the
// pipeline's fate is decided by the session-present flag instead.
func (s *Session) sweep() {
	if s.conn.connState().Phase != PhaseConnected {
		return
	}

	for _, r := range s.pipe.due(s.now()) {
		if r.failed {
			s.notef(NoticeError, "publish failed after retries: %s", r.topic)
			continue
		}
		if err := s.conn.send(r.pkt); err != nil {
			s.log.Warn().Err(err).Uint16("packet_id", r.id).Msg("retransmit send failed")
		}
	}
}
