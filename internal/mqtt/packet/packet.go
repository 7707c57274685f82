// Package packet implements encoding and decoding of MQTT 3.1.1 control
// packets: the fixed-header framing shared by every packet type plus the
// variable header and payload layouts of the operationally relevant subset
// (CONNECT through DISCONNECT).
package packet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Type identifies an MQTT control packet type. Values match the high
// nibble of the fixed header's first byte.
type Type byte

// Control packet types.
const (
	TypeConnect     Type = 1
	TypeConnack     Type = 2
	TypePublish     Type = 3
	TypePuback      Type = 4
	TypePubrec      Type = 5
	TypePubrel      Type = 6
	TypePubcomp     Type = 7
	TypeSubscribe   Type = 8
	TypeSuback      Type = 9
	TypeUnsubscribe Type = 10
	TypeUnsuback    Type = 11
	TypePingreq     Type = 12
	TypePingresp    Type = 13
	TypeDisconnect  Type = 14
)

// String returns the packet type name as it appears in the protocol
// specification.
func (t Type) String() string {
	switch t {
	case TypeConnect:
		return "CONNECT"
	case TypeConnack:
		return "CONNACK"
	case TypePublish:
		return "PUBLISH"
	case TypePuback:
		return "PUBACK"
	case TypePubrec:
		return "PUBREC"
	case TypePubrel:
		return "PUBREL"
	case TypePubcomp:
		return "PUBCOMP"
	case TypeSubscribe:
		return "SUBSCRIBE"
	case TypeSuback:
		return "SUBACK"
	case TypeUnsubscribe:
		return "UNSUBSCRIBE"
	case TypeUnsuback:
		return "UNSUBACK"
	case TypePingreq:
		return "PINGREQ"
	case TypePingresp:
		return "PINGRESP"
	case TypeDisconnect:
		return "DISCONNECT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", byte(t))
	}
}

// Packet is any MQTT control packet that can be framed onto the wire.
type Packet interface {
	// Type returns the control packet type.
	Type() Type

	// flags returns the fixed-header flag nibble.
	flags() byte

	// encodeBody writes the variable header and payload.
	encodeBody(buf *bytes.Buffer) error
}

// maxRemainingLength is the protocol limit for the remaining-length field
// (four bytes of 7-bit digits).
const maxRemainingLength = 268435455

// Decode errors. ErrBadFraming and ErrPacketTooLarge are framing failures:
// the reader can no longer locate the next packet boundary and the
// connection must be torn down. The rest describe a well-framed packet
// whose body could not be decoded; the stream stays readable.
var (
	ErrMalformedPacket  = errors.New("packet: malformed packet")
	ErrUnknownType      = errors.New("packet: unknown packet type")
	ErrBadFraming       = errors.New("packet: unreadable remaining length")
	ErrPacketTooLarge   = errors.New("packet: remaining length exceeds limit")
	ErrInvalidQoS       = errors.New("packet: invalid QoS value")
	ErrEmptyTopic       = errors.New("packet: empty topic")
	ErrWildcardsInTopic = errors.New("packet: topic name contains wildcards")
)

// Encode frames a packet into a single byte slice ready to write to the
// transport.
func Encode(p Packet) ([]byte, error) {
	var body bytes.Buffer
	if err := p.encodeBody(&body); err != nil {
		return nil, err
	}
	if body.Len() > maxRemainingLength {
		return nil, ErrPacketTooLarge
	}

	var out bytes.Buffer
	out.WriteByte(byte(p.Type())<<4 | p.flags())
	writeRemainingLength(&out, body.Len())
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

// Read reads exactly one packet from r. It blocks until a full packet is
// available or the transport fails. Decode failures of a well-framed packet
// return the error alongside a nil packet so the caller can drop the packet
// and keep the session alive.
func Read(r io.Reader) (Packet, error) {
	var header [1]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	remaining, err := readRemainingLength(r)
	if err != nil {
		return nil, err
	}

	body := make([]byte, remaining)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	t := Type(header[0] >> 4)
	flags := header[0] & 0x0f
	buf := bytes.NewBuffer(body)

	switch t {
	case TypeConnack:
		return decodeConnack(buf)
	case TypePublish:
		return decodePublish(flags, buf)
	case TypePuback:
		return decodeAck(buf, func(id uint16) Packet { return &Puback{PacketID: id} })
	case TypePubrec:
		return decodeAck(buf, func(id uint16) Packet { return &Pubrec{PacketID: id} })
	case TypePubrel:
		return decodeAck(buf, func(id uint16) Packet { return &Pubrel{PacketID: id} })
	case TypePubcomp:
		return decodeAck(buf, func(id uint16) Packet { return &Pubcomp{PacketID: id} })
	case TypeSuback:
		return decodeSuback(buf)
	case TypeUnsuback:
		return decodeAck(buf, func(id uint16) Packet { return &Unsuback{PacketID: id} })
	case TypePingresp:
		return &Pingresp{}, nil
	case TypePingreq:
		return &Pingreq{}, nil
	case TypeDisconnect:
		return &Disconnect{}, nil
	case TypeConnect:
		return decodeConnect(buf)
	case TypeSubscribe:
		return decodeSubscribe(buf)
	case TypeUnsubscribe:
		return decodeUnsubscribe(buf)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, byte(t))
	}
}

// writeRemainingLength encodes n using the variable-length scheme of up to
// four 7-bit digits, least significant first.
func writeRemainingLength(buf *bytes.Buffer, n int) {
	for {
		digit := byte(n % 128)
		n /= 128
		if n > 0 {
			digit |= 0x80
		}
		buf.WriteByte(digit)
		if n == 0 {
			return
		}
	}
}

// readRemainingLength decodes the variable-length remaining-length field.
func readRemainingLength(r io.Reader) (int, error) {
	var (
		value      int
		multiplier = 1
		b          [1]byte
	)
	for i := 0; i < 4; i++ {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		value += int(b[0]&0x7f) * multiplier
		if b[0]&0x80 == 0 {
			if value > maxRemainingLength {
				return 0, ErrPacketTooLarge
			}
			return value, nil
		}
		multiplier *= 128
	}
	return 0, fmt.Errorf("%w: more than 4 length bytes", ErrBadFraming)
}

// writeString writes a length-prefixed UTF-8 string.
func writeString(buf *bytes.Buffer, s string) {
	writeBytes(buf, []byte(s))
}

// writeBytes writes a length-prefixed byte field.
func writeBytes(buf *bytes.Buffer, b []byte) {
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(b)))
	buf.Write(l[:])
	buf.Write(b)
}

// writeUint16 writes a big-endian two-byte integer.
func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

// readString reads a length-prefixed UTF-8 string.
func readString(buf *bytes.Buffer) (string, error) {
	b, err := readBytes(buf)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// readBytes reads a length-prefixed byte field.
func readBytes(buf *bytes.Buffer) ([]byte, error) {
	l, err := readUint16(buf)
	if err != nil {
		return nil, err
	}
	if buf.Len() < int(l) {
		return nil, fmt.Errorf("%w: truncated field", ErrMalformedPacket)
	}
	return buf.Next(int(l)), nil
}

// readUint16 reads a big-endian two-byte integer.
func readUint16(buf *bytes.Buffer) (uint16, error) {
	if buf.Len() < 2 {
		return 0, fmt.Errorf("%w: truncated integer", ErrMalformedPacket)
	}
	return binary.BigEndian.Uint16(buf.Next(2)), nil
}

// decodeAck decodes the shared packet-identifier-only layout used by
// PUBACK, PUBREC, PUBREL, PUBCOMP and UNSUBACK.
func decodeAck(buf *bytes.Buffer, mk func(uint16) Packet) (Packet, error) {
	id, err := readUint16(buf)
	if err != nil {
		return nil, err
	}
	return mk(id), nil
}
