package codec_test

import (
	"testing"

	"github.com/buqixiaomi/socket/internal/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	d := codec.Datagram{
		Type: 9,
		Ack:  true,
		ID:   []byte("m1"),
		Body: []byte("hello"),
	}

	raw, err := codec.Encode(d)
	require.NoError(t, err)

	decoded, err := codec.Decode(raw)
	require.NoError(t, err)

	assert.Equal(t, d.Type, decoded.Type)
	assert.True(t, decoded.Ack)
	assert.Equal(t, d.ID, decoded.ID)
	assert.Equal(t, d.Body, decoded.Body)
}

func TestDecode_TooShort(t *testing.T) {
	_, err := codec.Decode([]byte{0, 1})
	assert.ErrorIs(t, err, codec.ErrTooShort)
}

func TestDecode_TruncatedID(t *testing.T) {
	_, err := codec.Decode([]byte{0, 0, 5, 'a'})
	assert.ErrorIs(t, err, codec.ErrTruncatedID)
}

func TestDecode_NoAckFlag(t *testing.T) {
	raw, err := codec.Encode(codec.Datagram{Type: codec.TypeACK, Ack: false, ID: []byte("x")})
	require.NoError(t, err)

	d, err := codec.Decode(raw)
	require.NoError(t, err)
	assert.False(t, d.Ack)
	assert.Equal(t, codec.TypeACK, d.Type)
}

func TestBuildHeartbeat(t *testing.T) {
	raw := codec.BuildHeartbeat(8080, "127.0.0.1", "c1")

	d, err := codec.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, codec.TypeHeartbeat, d.Type)
	assert.False(t, d.Ack)
	assert.Equal(t, []byte("c1"), d.ID)
	assert.Empty(t, d.Body)
}

func TestEncode_IDTooLong(t *testing.T) {
	longID := make([]byte, 256)
	_, err := codec.Encode(codec.Datagram{ID: longID})
	assert.Error(t, err)
}
