// Package session implements the MQTT session core: it owns the broker
// connection, tracks subscriptions, keeps a bounded per-topic history of
// inbound messages, and runs the outbound publish pipeline. The presentation
// layer talks to it exclusively through a command queue and read-only
// snapshots; nothing here ever blocks a render.
package session

import "time"

// Message is an application message as received from or handed to the
// broker. Messages are immutable after creation; the store and snapshots
// only ever copy them.
type Message struct {
	Topic      string
	Payload    []byte
	QoS        byte
	Retain     bool
	Dup        bool
	ReceivedAt time.Time
	PacketID   uint16 // QoS 1/2 only
}

// Subscription is an active topic filter with its requested QoS.
type Subscription struct {
	Filter string
	QoS    byte
}

// TopicInfo summarizes one concrete topic for list rendering.
type TopicInfo struct {
	Topic       string
	Count       int
	LastAt      time.Time
	HasRetained bool
}

// Stats is a point-in-time view of the core's counters.
type Stats struct {
	// Discarded counts inbound messages dropped because no active filter
	// matched their topic at arrival.
	Discarded uint64

	// DroppedEvents counts inbound events lost to event-queue overflow.
	DroppedEvents uint64

	// Inflight is the number of QoS>0 publishes awaiting acknowledgment.
	Inflight int
}
