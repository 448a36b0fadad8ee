package widget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rdmcore/internal/uid"
)

func TestEncodeCommandPadsOnPacketBoundary(t *testing.T) {
	// 7 header bytes + N payload + 1 EOF == 64 exactly when N == 56.
	frame, err := EncodeCommand(1, 0, GetUID, make([]byte, 56))
	require.NoError(t, err)
	assert.Equal(t, usbPacketSize+1, len(frame), "a frame landing exactly on the packet size gets one pad byte")
}

func TestEncodeCommandNoPadWhenNotOnBoundary(t *testing.T) {
	frame, err := EncodeCommand(1, 0, GetUID, make([]byte, 10))
	require.NoError(t, err)
	assert.NotEqual(t, 0, len(frame)%usbPacketSize)
}

func TestEncodeCommandRejectsOversizedPayload(t *testing.T) {
	_, err := EncodeCommand(1, 0, TxDMX, make([]byte, maxPayloadSize+1))
	assert.Error(t, err)
}

func TestDecodeResponseFrameRoundTrip(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 0x04}
	frame := buildResponseFrame(t, 7, 2, GetUID, 0, 0, payload)

	resp, err := DecodeResponseFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, uint8(7), resp.Token)
	assert.Equal(t, uint8(2), resp.Port)
	assert.Equal(t, GetUID, resp.CommandClass)
	assert.Equal(t, payload, resp.Payload)
}

func TestDecodeResponseFrameTooShort(t *testing.T) {
	_, err := DecodeResponseFrame([]byte{sofByte, 0, 0})
	assert.Error(t, err)
}

func TestDecodeResponseFrameBadEOF(t *testing.T) {
	frame := buildResponseFrame(t, 1, 0, GetUID, 0, 0, nil)
	frame[len(frame)-1] = 0x00
	_, err := DecodeResponseFrame(frame)
	assert.Error(t, err)
}

func TestGetSetTimingParse(t *testing.T) {
	payload := []byte{0x01, 0x00, 0x02, 0x00, 0x03, 0x00, 0xaa, 0xbb}
	timing, rest, err := ParseGetSetTiming(payload)
	require.NoError(t, err)
	assert.Equal(t, GetSetTiming{BreakStart: 1, MarkStart: 2, MarkEnd: 3}, timing)
	assert.Equal(t, []byte{0xaa, 0xbb}, rest)
}

func TestDUBTimingParse(t *testing.T) {
	payload := []byte{0x01, 0x00, 0x02, 0x00, 0xcc}
	timing, rest, err := ParseDUBTiming(payload)
	require.NoError(t, err)
	assert.Equal(t, DUBTiming{Start: 1, End: 2}, timing)
	assert.Equal(t, []byte{0xcc}, rest)
}

func TestDUBReplyRoundTrip(t *testing.T) {
	u := uid.New(0x7a70, 0x12345678)
	encoded := EncodeDUBReply(u)

	got, err := DecodeDUBReply(encoded)
	require.NoError(t, err)
	assert.Equal(t, u, got)
}

func TestDUBReplyWithPreamble(t *testing.T) {
	u := uid.New(0x0101, 0x02020202)
	encoded := EncodeDUBReply(u)
	withPreamble := append([]byte{0xfe, 0xfe, 0xfe}, encoded...)

	got, err := DecodeDUBReply(withPreamble)
	require.NoError(t, err)
	assert.Equal(t, u, got)
}

func TestDUBReplyChecksumMismatch(t *testing.T) {
	u := uid.New(0x0101, 0x02020202)
	encoded := EncodeDUBReply(u)
	encoded[len(encoded)-1] ^= 0xff

	_, err := DecodeDUBReply(encoded)
	assert.Error(t, err)
}

func TestDUBReplyMissingSeparator(t *testing.T) {
	_, err := DecodeDUBReply([]byte{0xfe, 0xfe, 0x01, 0x02})
	assert.Error(t, err)
}

// buildResponseFrame is a test helper that hand-assembles a response
// frame without padding, for use independent of EncodeCommand.
func buildResponseFrame(t *testing.T, token, port uint8, cc CommandClass, returnCode uint8, flags StatusFlags, payload []byte) []byte {
	t.Helper()
	frame := []byte{sofByte, token, port}
	frame = appendUint16LE(frame, uint16(cc))
	frame = appendUint16LE(frame, uint16(len(payload)))
	frame = append(frame, returnCode, byte(flags))
	frame = append(frame, payload...)
	frame = append(frame, eofByte)
	return frame
}
