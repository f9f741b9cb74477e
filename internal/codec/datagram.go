// Package codec implements the fixed binary framing the connector manager
// reads to classify inbound datagrams and build heartbeat replies.
package codec

import (
	"errors"
	"fmt"
)

// TypeIndex is the fixed byte offset of the message type within a datagram's
// raw bytes. The manager only ever inspects this one offset to classify a frame.
const TypeIndex = 0

// Reserved type values the connector manager core reacts to directly.
// Any other value is treated as an opaque business message.
const (
	TypeHeartbeat byte = 0
	TypeACK       byte = 2
)

// Header layout, chosen as a concrete implementation detail: the wire format
// itself is explicitly out of scope beyond the fields below.
const (
	offsetType   = 0
	offsetAck    = 1
	offsetIDLen  = 2
	headerLength = 3
)

// ErrTooShort is returned by Decode when the input is smaller than the fixed header.
var ErrTooShort = errors.New("codec: datagram shorter than header")

// ErrTruncatedID is returned by Decode when the declared id length runs past
// the end of the buffer.
var ErrTruncatedID = errors.New("codec: datagram id truncated")

// Datagram is the decoded view over a ProtocolData's raw bytes. Decode is
// pure and allocates nothing: the ID and Body slices it returns alias raw.
type Datagram struct {
	Type byte
	ID   []byte
	Ack  bool
	Body []byte
}

// Decode parses the fixed header and splits id/body out of raw.
// It does not copy raw; ID and Body alias into it.
func Decode(raw []byte) (Datagram, error) {
	if len(raw) < headerLength {
		return Datagram{}, fmt.Errorf("%w: got %d bytes", ErrTooShort, len(raw))
	}

	idLen := int(raw[offsetIDLen])
	end := headerLength + idLen
	if end > len(raw) {
		return Datagram{}, fmt.Errorf("%w: declared %d, have %d", ErrTruncatedID, idLen, len(raw)-headerLength)
	}

	return Datagram{
		Type: raw[offsetType],
		Ack:  raw[offsetAck] != 0,
		ID:   raw[headerLength:end],
		Body: raw[end:],
	}, nil
}

// Encode serializes a Datagram back into raw bytes using this package's
// concrete wire layout.
func Encode(d Datagram) ([]byte, error) {
	if len(d.ID) > 0xff {
		return nil, fmt.Errorf("codec: id too long: %d bytes", len(d.ID))
	}

	out := make([]byte, headerLength+len(d.ID)+len(d.Body))
	out[offsetType] = d.Type
	if d.Ack {
		out[offsetAck] = 1
	}
	out[offsetIDLen] = byte(len(d.ID))
	copy(out[headerLength:], d.ID)
	copy(out[headerLength+len(d.ID):], d.Body)
	return out, nil
}

// BuildHeartbeat produces the raw bytes for a heartbeat reply datagram. The
// port and remoteHost are accepted to mirror the donor's ProtocolData.buildHeatbeat
// signature; the heartbeat frame itself carries no body beyond its header.
func BuildHeartbeat(_ int, _ string, channelID string) []byte {
	raw, err := Encode(Datagram{
		Type: TypeHeartbeat,
		Ack:  false,
		ID:   []byte(channelID),
	})
	if err != nil {
		// channelID can never exceed the 255-byte id cap in any real deployment;
		// fall back to a bare header rather than propagating an error from a
		// function the manager calls on every classification path.
		return []byte{TypeHeartbeat, 0, 0}
	}
	return raw
}
