package packet

import (
	"bytes"
	"errors"
	"fmt"
)

// protocolName and protocolLevel identify MQTT 3.1.1 in the CONNECT
// variable header.
var protocolName = []byte{0x00, 0x04, 'M', 'Q', 'T', 'T'}

const protocolLevel = 4

// Will carries the last-will message registered at connect time. The broker
// publishes it on the client's behalf if the session ends ungracefully.
type Will struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// Connect is the client's session-opening packet.
type Connect struct {
	ClientID     string
	Username     string
	Password     string
	KeepAlive    uint16 // seconds; 0 disables the keep-alive mechanism
	CleanSession bool
	Will         *Will
}

// Type implements Packet.
func (*Connect) Type() Type { return TypeConnect }

func (*Connect) flags() byte { return 0 }

func (p *Connect) encodeBody(buf *bytes.Buffer) error {
	if p.Will != nil && p.Will.QoS > 2 {
		return ErrInvalidQoS
	}

	buf.Write(protocolName)
	buf.WriteByte(protocolLevel)

	var flags byte
	if p.CleanSession {
		flags |= 0x02
	}
	if p.Will != nil {
		flags |= 0x04
		flags |= p.Will.QoS << 3
		if p.Will.Retain {
			flags |= 0x20
		}
	}
	if p.Username != "" {
		flags |= 0x80
		if p.Password != "" {
			flags |= 0x40
		}
	}
	buf.WriteByte(flags)
	writeUint16(buf, p.KeepAlive)

	writeString(buf, p.ClientID)
	if p.Will != nil {
		writeString(buf, p.Will.Topic)
		writeBytes(buf, p.Will.Payload)
	}
	if p.Username != "" {
		writeString(buf, p.Username)
		if p.Password != "" {
			writeString(buf, p.Password)
		}
	}
	return nil
}

// CONNACK return codes per the 3.1.1 specification.
const (
	ConnAccepted           byte = 0
	ConnRefusedVersion     byte = 1
	ConnRefusedIdentifier  byte = 2
	ConnRefusedUnavailable byte = 3
	ConnRefusedCredentials byte = 4
	ConnRefusedNotAuthed   byte = 5
)

// ErrConnectionRefused is the base error wrapped by every non-zero CONNACK
// return code.
var ErrConnectionRefused = errors.New("packet: connection refused")

// Connack is the broker's response to CONNECT.
type Connack struct {
	SessionPresent bool
	ReturnCode     byte
}

// Type implements Packet.
func (*Connack) Type() Type { return TypeConnack }

func (*Connack) flags() byte { return 0 }

func (p *Connack) encodeBody(buf *bytes.Buffer) error {
	var ack byte
	if p.SessionPresent {
		ack = 1
	}
	buf.WriteByte(ack)
	buf.WriteByte(p.ReturnCode)
	return nil
}

// Refused returns a descriptive error for a non-zero return code, or nil
// when the connection was accepted.
func (p *Connack) Refused() error {
	switch p.ReturnCode {
	case ConnAccepted:
		return nil
	case ConnRefusedVersion:
		return fmt.Errorf("%w: unacceptable protocol version", ErrConnectionRefused)
	case ConnRefusedIdentifier:
		return fmt.Errorf("%w: client identifier rejected", ErrConnectionRefused)
	case ConnRefusedUnavailable:
		return fmt.Errorf("%w: server unavailable", ErrConnectionRefused)
	case ConnRefusedCredentials:
		return fmt.Errorf("%w: bad username or password", ErrConnectionRefused)
	case ConnRefusedNotAuthed:
		return fmt.Errorf("%w: not authorized", ErrConnectionRefused)
	default:
		return fmt.Errorf("%w: return code %d", ErrConnectionRefused, p.ReturnCode)
	}
}

// AuthRejection reports whether the refusal is an authentication or
// authorization failure, which callers treat as terminal rather than
// retryable.
func (p *Connack) AuthRejection() bool {
	return p.ReturnCode == ConnRefusedCredentials || p.ReturnCode == ConnRefusedNotAuthed
}

func decodeConnack(buf *bytes.Buffer) (Packet, error) {
	if buf.Len() < 2 {
		return nil, fmt.Errorf("%w: short CONNACK", ErrMalformedPacket)
	}
	flags, _ := buf.ReadByte()
	code, _ := buf.ReadByte()
	return &Connack{
		SessionPresent: flags&0x01 != 0,
		ReturnCode:     code,
	}, nil
}

func decodeConnect(buf *bytes.Buffer) (Packet, error) {
	name := buf.Next(len(protocolName))
	if !bytes.Equal(name, protocolName) {
		return nil, fmt.Errorf("%w: bad protocol name", ErrMalformedPacket)
	}
	level, err := buf.ReadByte()
	if err != nil || level != protocolLevel {
		return nil, fmt.Errorf("%w: unsupported protocol level", ErrMalformedPacket)
	}
	flags, err := buf.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: short CONNECT", ErrMalformedPacket)
	}

	p := &Connect{CleanSession: flags&0x02 != 0}
	if p.KeepAlive, err = readUint16(buf); err != nil {
		return nil, err
	}
	if p.ClientID, err = readString(buf); err != nil {
		return nil, err
	}
	if flags&0x04 != 0 {
		w := &Will{
			QoS:    (flags >> 3) & 0x03,
			Retain: flags&0x20 != 0,
		}
		if w.Topic, err = readString(buf); err != nil {
			return nil, err
		}
		if w.Payload, err = readBytes(buf); err != nil {
			return nil, err
		}
		p.Will = w
	}
	if flags&0x80 != 0 {
		if p.Username, err = readString(buf); err != nil {
			return nil, err
		}
		if flags&0x40 != 0 {
			if p.Password, err = readString(buf); err != nil {
				return nil, err
			}
		}
	}
	return p, nil
}

// Disconnect is the clean-shutdown packet. Sending it tells the broker to
// discard the registered will message.
type Disconnect struct{}

// Type implements Packet.
func (*Disconnect) Type() Type { return TypeDisconnect }

func (*Disconnect) flags() byte { return 0 }

func (*Disconnect) encodeBody(*bytes.Buffer) error { return nil }

// Pingreq is the client keep-alive probe.
type Pingreq struct{}

// Type implements Packet.
func (*Pingreq) Type() Type { return TypePingreq }

func (*Pingreq) flags() byte { return 0 }

func (*Pingreq) encodeBody(*bytes.Buffer) error { return nil }

// Pingresp is the broker's keep-alive answer.
type Pingresp struct{}

// Type implements Packet.
func (*Pingresp) Type() Type { return TypePingresp }

func (*Pingresp) flags() byte { return 0 }

func (*Pingresp) encodeBody(*bytes.Buffer) error { return nil }
