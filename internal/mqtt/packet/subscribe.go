package packet

import (
	"bytes"
	"fmt"
)

// Subscription pairs a topic filter with its requested QoS inside a
// SUBSCRIBE packet.
type Subscription struct {
	Filter string
	QoS    byte
}

// Subscribe requests one or more topic filter subscriptions. Its fixed
// header carries the reserved flag bits 0010.
type Subscribe struct {
	PacketID      uint16
	Subscriptions []Subscription
}

// Type implements Packet.
func (*Subscribe) Type() Type { return TypeSubscribe }

func (*Subscribe) flags() byte { return 0x02 }

func (p *Subscribe) encodeBody(buf *bytes.Buffer) error {
	if len(p.Subscriptions) == 0 {
		return fmt.Errorf("%w: SUBSCRIBE with no filters", ErrMalformedPacket)
	}
	writeUint16(buf, p.PacketID)
	for _, s := range p.Subscriptions {
		if s.QoS > 2 {
			return ErrInvalidQoS
		}
		if s.Filter == "" {
			return ErrEmptyTopic
		}
		writeString(buf, s.Filter)
		buf.WriteByte(s.QoS)
	}
	return nil
}

func decodeSubscribe(buf *bytes.Buffer) (Packet, error) {
	id, err := readUint16(buf)
	if err != nil {
		return nil, err
	}
	p := &Subscribe{PacketID: id}
	for buf.Len() > 0 {
		filter, err := readString(buf)
		if err != nil {
			return nil, err
		}
		qos, err := buf.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: missing QoS byte", ErrMalformedPacket)
		}
		if qos > 2 {
			return nil, ErrInvalidQoS
		}
		p.Subscriptions = append(p.Subscriptions, Subscription{Filter: filter, QoS: qos})
	}
	if len(p.Subscriptions) == 0 {
		return nil, fmt.Errorf("%w: SUBSCRIBE with no filters", ErrMalformedPacket)
	}
	return p, nil
}

// SubackFailure is the return code a broker uses to reject one filter of a
// SUBSCRIBE request.
const SubackFailure byte = 0x80

// Suback acknowledges a SUBSCRIBE with one granted-QoS code per requested
// filter, in request order.
type Suback struct {
	PacketID    uint16
	ReturnCodes []byte
}

// Type implements Packet.
func (*Suback) Type() Type { return TypeSuback }

func (*Suback) flags() byte { return 0 }

func (p *Suback) encodeBody(buf *bytes.Buffer) error {
	writeUint16(buf, p.PacketID)
	buf.Write(p.ReturnCodes)
	return nil
}

func decodeSuback(buf *bytes.Buffer) (Packet, error) {
	id, err := readUint16(buf)
	if err != nil {
		return nil, err
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("%w: SUBACK with no return codes", ErrMalformedPacket)
	}
	return &Suback{
		PacketID:    id,
		ReturnCodes: append([]byte(nil), buf.Bytes()...),
	}, nil
}

// Unsubscribe removes one or more topic filter subscriptions. Its fixed
// header carries the reserved flag bits 0010.
type Unsubscribe struct {
	PacketID uint16
	Filters  []string
}

// Type implements Packet.
func (*Unsubscribe) Type() Type { return TypeUnsubscribe }

func (*Unsubscribe) flags() byte { return 0x02 }

func (p *Unsubscribe) encodeBody(buf *bytes.Buffer) error {
	if len(p.Filters) == 0 {
		return fmt.Errorf("%w: UNSUBSCRIBE with no filters", ErrMalformedPacket)
	}
	writeUint16(buf, p.PacketID)
	for _, f := range p.Filters {
		if f == "" {
			return ErrEmptyTopic
		}
		writeString(buf, f)
	}
	return nil
}

func decodeUnsubscribe(buf *bytes.Buffer) (Packet, error) {
	id, err := readUint16(buf)
	if err != nil {
		return nil, err
	}
	p := &Unsubscribe{PacketID: id}
	for buf.Len() > 0 {
		filter, err := readString(buf)
		if err != nil {
			return nil, err
		}
		p.Filters = append(p.Filters, filter)
	}
	if len(p.Filters) == 0 {
		return nil, fmt.Errorf("%w: UNSUBSCRIBE with no filters", ErrMalformedPacket)
	}
	return p, nil
}

// Unsuback acknowledges an UNSUBSCRIBE.
type Unsuback struct {
	PacketID uint16
}

// Type implements Packet.
func (*Unsuback) Type() Type { return TypeUnsuback }

func (*Unsuback) flags() byte { return 0 }

func (p *Unsuback) encodeBody(buf *bytes.Buffer) error {
	writeUint16(buf, p.PacketID)
	return nil
}
