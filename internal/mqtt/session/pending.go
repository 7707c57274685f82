package session

import (
	"errors"
	"time"

	"github.com/termqapp/termq/internal/mqtt/packet"
)

// ErrTooManyInflight is returned when every packet identifier is tied up
// in a pending acknowledgment.
var ErrTooManyInflight = errors.New("session: too many in-flight publishes")

// Pipeline defaults.
const (
	defaultMaxRetries    = 3
	defaultRetryInterval = 5 * time.Second
)

// publishPhase tracks where a pending QoS>0 publish sits in its handshake.
type publishPhase int

const (
	// awaitPuback: QoS 1 PUBLISH sent, waiting for PUBACK.
	awaitPuback publishPhase = iota
	// awaitPubrec: QoS 2 PUBLISH sent, waiting for PUBREC.
	awaitPubrec
	// awaitPubcomp: PUBREL sent, waiting for PUBCOMP.
	awaitPubcomp
)

// pendingPublish is one outbound QoS>0 message awaiting acknowledgment.
// Retry timing is a stored deadline checked each processing cycle, not a
// timer callback, so tests can drive it with an injected clock.
type pendingPublish struct {
	msg       Message
	phase     publishPhase
	retries   int
	nextRetry time.Time
}

// resend is one action produced by a deadline sweep: either a packet to
// put back on the wire or a permanent failure to surface.
type resend struct {
	pkt    packet.Packet
	failed bool
	topic  string
	id     uint16
}

// pipeline is the outbound publish pipeline: packet identifier allocation,
// pending-acknowledgment tracking, deadline-driven retransmission, and
// abandonment on session loss.
type pipeline struct {
	nextID        uint16
	pending       map[uint16]*pendingPublish
	retryInterval time.Duration
	maxRetries    int
}

func newPipeline(retryInterval time.Duration, maxRetries int) *pipeline {
	if retryInterval <= 0 {
		retryInterval = defaultRetryInterval
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &pipeline{
		pending:       make(map[uint16]*pendingPublish),
		retryInterval: retryInterval,
		maxRetries:    maxRetries,
	}
}

// allocate returns the next free packet identifier, wrapping at 65535 and
// skipping identifiers still tied to a pending acknowledgment.
func (p *pipeline) allocate() (uint16, error) {
	if len(p.pending) >= 65535 {
		return 0, ErrTooManyInflight
	}
	for {
		p.nextID++
		if p.nextID == 0 {
			p.nextID = 1
		}
		if _, taken := p.pending[p.nextID]; !taken {
			return p.nextID, nil
		}
	}
}

// open registers a QoS>0 message as pending and returns its packet
// identifier.
func (p *pipeline) open(msg Message, now time.Time) (uint16, error) {
	id, err := p.allocate()
	if err != nil {
		return 0, err
	}
	msg.PacketID = id

	phase := awaitPuback
	if msg.QoS == 2 {
		phase = awaitPubrec
	}
	p.pending[id] = &pendingPublish{
		msg:       msg,
		phase:     phase,
		nextRetry: now.Add(p.retryInterval),
	}
	return id, nil
}

// ackResult describes the outcome of applying a broker acknowledgment.
type ackResult struct {
	// known is false when the identifier matched no pending publish; the
	// ack is dropped.
	known bool

	// respond, when non-nil, must be written to the wire (PUBREL after
	// PUBREC).
	respond packet.Packet

	// completed is true once the handshake finished and the entry was
	// removed.
	completed bool

	topic string
}

// ack applies a PUBACK, PUBREC or PUBCOMP to the matching pending publish.
func (p *pipeline) ack(t packet.Type, id uint16, now time.Time) ackResult {
	pub, ok := p.pending[id]
	if !ok {
		return ackResult{}
	}

	switch {
	case t == packet.TypePuback && pub.phase == awaitPuback:
		delete(p.pending, id)
		return ackResult{known: true, completed: true, topic: pub.msg.Topic}

	case t == packet.TypePubrec && pub.phase == awaitPubrec:
		pub.phase = awaitPubcomp
		pub.retries = 0
		pub.nextRetry = now.Add(p.retryInterval)
		return ackResult{known: true, respond: &packet.Pubrel{PacketID: id}, topic: pub.msg.Topic}

	case t == packet.TypePubcomp && pub.phase == awaitPubcomp:
		delete(p.pending, id)
		return ackResult{known: true, completed: true, topic: pub.msg.Topic}
	}

	// Acknowledgment type does not fit the entry's phase; drop it.
	return ackResult{}
}

// due sweeps pending publishes whose retry deadline has passed. Entries
// under the retry limit are retransmitted with the duplicate flag set;
// exhausted entries are removed and reported failed.
func (p *pipeline) due(now time.Time) []resend {
	var out []resend
	for id, pub := range p.pending {
		if pub.nextRetry.After(now) {
			continue
		}

		if pub.retries >= p.maxRetries {
			delete(p.pending, id)
			out = append(out, resend{failed: true, topic: pub.msg.Topic, id: id})
			continue
		}

		pub.retries++
		pub.nextRetry = now.Add(p.retryInterval)

		switch pub.phase {
		case awaitPuback, awaitPubrec:
			out = append(out, resend{
				id:    id,
				topic: pub.msg.Topic,
				pkt: &packet.Publish{
					Topic:    pub.msg.Topic,
					Payload:  pub.msg.Payload,
					QoS:      pub.msg.QoS,
					Retain:   pub.msg.Retain,
					Dup:      true,
					PacketID: id,
				},
			})
		case awaitPubcomp:
			out = append(out, resend{id: id, topic: pub.msg.Topic, pkt: &packet.Pubrel{PacketID: id}})
		}
	}
	return out
}

// resume returns the packets needed to pick up every pending handshake
// after a reconnect that resumed the broker-side session. PUBLISH resends
// carry the duplicate flag.
func (p *pipeline) resume(now time.Time) []packet.Packet {
	var out []packet.Packet
	for id, pub := range p.pending {
		pub.nextRetry = now.Add(p.retryInterval)
		switch pub.phase {
		case awaitPuback, awaitPubrec:
			out = append(out, &packet.Publish{
				Topic:    pub.msg.Topic,
				Payload:  pub.msg.Payload,
				QoS:      pub.msg.QoS,
				Retain:   pub.msg.Retain,
				Dup:      true,
				PacketID: id,
			})
		case awaitPubcomp:
			out = append(out, &packet.Pubrel{PacketID: id})
		}
	}
	return out
}

// abandon clears every pending handshake and returns the affected
// messages so they can be reported, never silently dropped.
func (p *pipeline) abandon() []Message {
	if len(p.pending) == 0 {
		return nil
	}
	out := make([]Message, 0, len(p.pending))
	for id, pub := range p.pending {
		out = append(out, pub.msg)
		delete(p.pending, id)
	}
	return out
}

// inflight returns the number of pending handshakes.
func (p *pipeline) inflight() int {
	return len(p.pending)
}
