package packet_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termqapp/termq/internal/mqtt/packet"
)

// roundTrip encodes a packet and reads it back through the framing layer.
func roundTrip(t *testing.T, p packet.Packet) packet.Packet {
	t.Helper()

	raw, err := packet.Encode(p)
	require.NoError(t, err)

	got, err := packet.Read(bytes.NewReader(raw))
	require.NoError(t, err)
	return got
}

func TestConnect_RoundTrip(t *testing.T) {
	in := &packet.Connect{
		ClientID:     "termq-abc123",
		Username:     "observer",
		Password:     "hunter2",
		KeepAlive:    30,
		CleanSession: true,
		Will: &packet.Will{
			Topic:   "clients/termq/status",
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
	}

	got, ok := roundTrip(t, in).(*packet.Connect)
	require.True(t, ok)
	assert.Equal(t, in, got)
}

func TestConnect_NoCredentialsNoWill(t *testing.T) {
	in := &packet.Connect{ClientID: "bare", KeepAlive: 60}

	got, ok := roundTrip(t, in).(*packet.Connect)
	require.True(t, ok)
	assert.Equal(t, in, got)
	assert.Nil(t, got.Will)
	assert.Empty(t, got.Username)
}

func TestConnack_Refused(t *testing.T) {
	accepted := &packet.Connack{ReturnCode: packet.ConnAccepted}
	assert.NoError(t, accepted.Refused())
	assert.False(t, accepted.AuthRejection())

	badCreds := &packet.Connack{ReturnCode: packet.ConnRefusedCredentials}
	assert.ErrorIs(t, badCreds.Refused(), packet.ErrConnectionRefused)
	assert.True(t, badCreds.AuthRejection())

	unavailable := &packet.Connack{ReturnCode: packet.ConnRefusedUnavailable}
	assert.ErrorIs(t, unavailable.Refused(), packet.ErrConnectionRefused)
	assert.False(t, unavailable.AuthRejection())
}

func TestPublish_RoundTripQoS0(t *testing.T) {
	in := &packet.Publish{
		Topic:   "sensors/room1/temp",
		Payload: []byte("21.5"),
		Retain:  true,
	}

	got, ok := roundTrip(t, in).(*packet.Publish)
	require.True(t, ok)
	assert.Equal(t, in.Topic, got.Topic)
	assert.Equal(t, in.Payload, got.Payload)
	assert.True(t, got.Retain)
	assert.Zero(t, got.PacketID)
}

func TestPublish_RoundTripQoS2WithDup(t *testing.T) {
	in := &packet.Publish{
		Topic:    "commands/door",
		Payload:  []byte(`{"open":true}`),
		QoS:      2,
		Dup:      true,
		PacketID: 517,
	}

	got, ok := roundTrip(t, in).(*packet.Publish)
	require.True(t, ok)
	assert.Equal(t, in, got)
}

func TestPublish_EmptyPayloadAllowed(t *testing.T) {
	in := &packet.Publish{Topic: "sensors/room1/temp"}

	got, ok := roundTrip(t, in).(*packet.Publish)
	require.True(t, ok)
	assert.Empty(t, got.Payload)
}

func TestPublish_RejectsWildcardTopic(t *testing.T) {
	_, err := packet.Encode(&packet.Publish{Topic: "sensors/+/temp"})
	assert.ErrorIs(t, err, packet.ErrWildcardsInTopic)
}

func TestPublish_RejectsZeroPacketIDOnDecode(t *testing.T) {
	raw, err := packet.Encode(&packet.Publish{Topic: "a/b", QoS: 1, PacketID: 0})
	require.NoError(t, err)

	_, err = packet.Read(bytes.NewReader(raw))
	assert.ErrorIs(t, err, packet.ErrMalformedPacket)
}

func TestAcks_RoundTrip(t *testing.T) {
	for _, in := range []packet.Packet{
		&packet.Puback{PacketID: 1},
		&packet.Pubrec{PacketID: 2},
		&packet.Pubrel{PacketID: 3},
		&packet.Pubcomp{PacketID: 4},
		&packet.Unsuback{PacketID: 5},
	} {
		got := roundTrip(t, in)
		assert.Equal(t, in, got, "packet type %s", in.Type())
	}
}

func TestSubscribe_RoundTrip(t *testing.T) {
	in := &packet.Subscribe{
		PacketID: 99,
		Subscriptions: []packet.Subscription{
			{Filter: "sensors/+/temp", QoS: 1},
			{Filter: "alerts/#", QoS: 2},
		},
	}

	got, ok := roundTrip(t, in).(*packet.Subscribe)
	require.True(t, ok)
	assert.Equal(t, in, got)
}

func TestSuback_RoundTrip(t *testing.T) {
	in := &packet.Suback{
		PacketID:    99,
		ReturnCodes: []byte{1, packet.SubackFailure},
	}

	got, ok := roundTrip(t, in).(*packet.Suback)
	require.True(t, ok)
	assert.Equal(t, in, got)
}

func TestUnsubscribe_RoundTrip(t *testing.T) {
	in := &packet.Unsubscribe{PacketID: 7, Filters: []string{"sensors/+/temp"}}

	got, ok := roundTrip(t, in).(*packet.Unsubscribe)
	require.True(t, ok)
	assert.Equal(t, in, got)
}

func TestControlPackets_ZeroLengthBody(t *testing.T) {
	for _, in := range []packet.Packet{
		&packet.Pingreq{},
		&packet.Pingresp{},
		&packet.Disconnect{},
	} {
		raw, err := packet.Encode(in)
		require.NoError(t, err)
		assert.Len(t, raw, 2, "fixed header only for %s", in.Type())

		got, err := packet.Read(bytes.NewReader(raw))
		require.NoError(t, err)
		assert.Equal(t, in, got)
	}
}

func TestRemainingLength_MultiByte(t *testing.T) {
	// 300-byte payload forces a two-byte remaining length.
	in := &packet.Publish{
		Topic:   "bulk",
		Payload: bytes.Repeat([]byte{0xab}, 300),
	}

	got, ok := roundTrip(t, in).(*packet.Publish)
	require.True(t, ok)
	assert.Len(t, got.Payload, 300)
}

func TestRead_UnknownType(t *testing.T) {
	_, err := packet.Read(bytes.NewReader([]byte{0xf0, 0x00}))
	assert.ErrorIs(t, err, packet.ErrUnknownType)
}

func TestRead_TruncatedBody(t *testing.T) {
	raw, err := packet.Encode(&packet.Publish{Topic: "a/b", Payload: []byte("xyz")})
	require.NoError(t, err)

	_, err = packet.Read(bytes.NewReader(raw[:len(raw)-2]))
	assert.Error(t, err)
}

func TestRead_BadRemainingLengthLosesFraming(t *testing.T) {
	// Four continuation bytes never terminate the varint, so the next
	// packet boundary is unknowable.
	raw := []byte{0x30, 0x80, 0x80, 0x80, 0x80}

	_, err := packet.Read(bytes.NewReader(raw))
	require.Error(t, err)
	assert.ErrorIs(t, err, packet.ErrBadFraming)
	assert.NotErrorIs(t, err, packet.ErrMalformedPacket)
}
