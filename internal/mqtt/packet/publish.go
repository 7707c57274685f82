package packet

import (
	"bytes"
	"fmt"
	"strings"
)

// Publish carries an application message in either direction.
type Publish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retain   bool
	Dup      bool
	PacketID uint16 // present only when QoS > 0
}

// Type implements Packet.
func (*Publish) Type() Type { return TypePublish }

func (p *Publish) flags() byte {
	var f byte
	if p.Dup {
		f |= 0x08
	}
	f |= p.QoS << 1
	if p.Retain {
		f |= 0x01
	}
	return f
}

func (p *Publish) encodeBody(buf *bytes.Buffer) error {
	if p.QoS > 2 {
		return ErrInvalidQoS
	}
	if p.Topic == "" {
		return ErrEmptyTopic
	}
	if strings.ContainsAny(p.Topic, "+#") {
		return ErrWildcardsInTopic
	}

	writeString(buf, p.Topic)
	if p.QoS > 0 {
		writeUint16(buf, p.PacketID)
	}
	buf.Write(p.Payload)
	return nil
}

func decodePublish(flags byte, buf *bytes.Buffer) (Packet, error) {
	p := &Publish{
		Dup:    flags&0x08 != 0,
		QoS:    (flags >> 1) & 0x03,
		Retain: flags&0x01 != 0,
	}
	if p.QoS > 2 {
		return nil, ErrInvalidQoS
	}

	topic, err := readString(buf)
	if err != nil {
		return nil, err
	}
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	p.Topic = topic

	if p.QoS > 0 {
		id, err := readUint16(buf)
		if err != nil {
			return nil, err
		}
		if id == 0 {
			return nil, fmt.Errorf("%w: zero packet identifier", ErrMalformedPacket)
		}
		p.PacketID = id
	}

	// The rest of the body is the payload (possibly empty).
	p.Payload = append([]byte(nil), buf.Bytes()...)
	return p, nil
}

// Puback acknowledges a QoS 1 PUBLISH.
type Puback struct {
	PacketID uint16
}

// Type implements Packet.
func (*Puback) Type() Type { return TypePuback }

func (*Puback) flags() byte { return 0 }

func (p *Puback) encodeBody(buf *bytes.Buffer) error {
	writeUint16(buf, p.PacketID)
	return nil
}

// Pubrec is the first broker response in the QoS 2 handshake.
type Pubrec struct {
	PacketID uint16
}

// Type implements Packet.
func (*Pubrec) Type() Type { return TypePubrec }

func (*Pubrec) flags() byte { return 0 }

func (p *Pubrec) encodeBody(buf *bytes.Buffer) error {
	writeUint16(buf, p.PacketID)
	return nil
}

// Pubrel releases a QoS 2 exchange. Its fixed header carries the reserved
// flag bits 0010 required by MQTT 3.1.1.
type Pubrel struct {
	PacketID uint16
}

// Type implements Packet.
func (*Pubrel) Type() Type { return TypePubrel }

func (*Pubrel) flags() byte { return 0x02 }

func (p *Pubrel) encodeBody(buf *bytes.Buffer) error {
	writeUint16(buf, p.PacketID)
	return nil
}

// Pubcomp completes a QoS 2 exchange.
type Pubcomp struct {
	PacketID uint16
}

// Type implements Packet.
func (*Pubcomp) Type() Type { return TypePubcomp }

func (*Pubcomp) flags() byte { return 0 }

func (p *Pubcomp) encodeBody(buf *bytes.Buffer) error {
	writeUint16(buf, p.PacketID)
	return nil
}
