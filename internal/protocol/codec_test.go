package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/annel0/mmo-hitfx/internal/vec"
)

func sampleMessage() *HitEffectMessage {
	return &HitEffectMessage{
		Delivery:       DeliveryOtherPeers,
		Phase:          PhaseConfirmed,
		Action:         "fireball",
		TriggeringPeer: 7,
		Owner:          100,
		Target:         200,
		Point:          vec.Vec3{1.5, -2, 3.25},
		Normal:         vec.Vec3{0, 1, 0},
		Sequence:       42,
		CorrelationID:  "c0ffee",
	}
}

func TestHitEffectWireRoundTrip(t *testing.T) {
	msg := sampleMessage()

	decoded, err := UnmarshalHitEffect(MarshalHitEffect(msg))
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	data := MarshalHitEffect(sampleMessage())
	data = protowire.AppendTag(data, 99, protowire.BytesType)
	data = protowire.AppendString(data, "future field")

	decoded, err := UnmarshalHitEffect(data)
	require.NoError(t, err)
	assert.Equal(t, sampleMessage(), decoded)
}

func TestUnmarshalRejectsTruncated(t *testing.T) {
	data := MarshalHitEffect(sampleMessage())

	_, err := UnmarshalHitEffect(data[:len(data)-3])
	assert.Error(t, err)
}

func TestFrameStreamWithCompression(t *testing.T) {
	codec, err := NewCodec(64)
	require.NoError(t, err)
	defer codec.Close()

	var stream bytes.Buffer
	big := sampleMessage()
	big.CorrelationID = strings.Repeat("x", 512)

	require.NoError(t, codec.WriteHello(&stream, Hello{Peer: 3}))
	require.NoError(t, codec.WriteHitEffect(&stream, big))
	require.NoError(t, codec.WriteHitEffect(&stream, sampleMessage()))

	f, err := codec.ReadFrame(&stream)
	require.NoError(t, err)
	require.Equal(t, FrameHello, f.Type)
	hello, err := UnmarshalHello(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, PeerID(3), hello.Peer)

	f, err = codec.ReadFrame(&stream)
	require.NoError(t, err)
	require.Equal(t, FrameHitEffect, f.Type)
	got, err := UnmarshalHitEffect(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, big, got, "сжатый кадр восстанавливается")

	f, err = codec.ReadFrame(&stream)
	require.NoError(t, err)
	got, err = UnmarshalHitEffect(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, sampleMessage(), got)

	_, err = codec.ReadFrame(&stream)
	assert.ErrorIs(t, err, io.EOF)
}

func TestCompressedFrameIsSmaller(t *testing.T) {
	codec, err := NewCodec(64)
	require.NoError(t, err)
	defer codec.Close()

	payload := bytes.Repeat([]byte("hit"), 300)
	data, err := codec.AppendFrame(nil, Frame{Type: FrameHitEffect, Payload: payload})
	require.NoError(t, err)

	assert.Less(t, len(data), len(payload))
	assert.Equal(t, byte(flagZstd), data[4])
}

func TestReadFrameErrors(t *testing.T) {
	codec, err := NewCodec(0)
	require.NoError(t, err)
	defer codec.Close()

	var tooBig bytes.Buffer
	_ = binary.Write(&tooBig, binary.LittleEndian, uint32(MaxFrameSize+1))
	_, err = codec.ReadFrame(&tooBig)
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	var tooShort bytes.Buffer
	_ = binary.Write(&tooShort, binary.LittleEndian, uint32(1))
	_, err = codec.ReadFrame(&tooShort)
	assert.ErrorIs(t, err, ErrMessageTooShort)

	var cut bytes.Buffer
	require.NoError(t, codec.WriteHello(&cut, Hello{Peer: 1}))
	truncated := bytes.NewReader(cut.Bytes()[:cut.Len()-1])
	_, err = codec.ReadFrame(truncated)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestAppendFrameTooLarge(t *testing.T) {
	codec, err := NewCodec(0)
	require.NoError(t, err)
	defer codec.Close()

	_, err = codec.AppendFrame(nil, Frame{Type: FrameHitEffect, Payload: make([]byte, MaxFrameSize)})
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestActionRequestOverStream(t *testing.T) {
	codec, err := NewCodec(0)
	require.NoError(t, err)
	defer codec.Close()

	req := &ActionRequest{
		Action:    "fireball",
		Owner:     100,
		Origin:    vec.Vec3{1, 2, 3},
		Direction: vec.Vec3{0, 0, 1},
	}

	var buf bytes.Buffer
	require.NoError(t, codec.WriteActionRequest(&buf, req))

	frame, err := codec.ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, FrameActionRequest, frame.Type)

	decoded, err := UnmarshalActionRequest(frame.Payload)
	require.NoError(t, err)
	assert.Equal(t, req, decoded)
}

func TestReadFrameUnknownTypeKeepsStreamAligned(t *testing.T) {
	codec, err := NewCodec(0)
	require.NoError(t, err)
	defer codec.Close()

	var buf bytes.Buffer
	require.NoError(t, codec.WriteFrame(&buf, Frame{Type: 42, Payload: []byte("from the future")}))
	require.NoError(t, codec.WriteHello(&buf, Hello{Peer: 5}))

	_, err = codec.ReadFrame(&buf)
	require.ErrorIs(t, err, ErrUnknownFrame)

	frame, err := codec.ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, FrameHello, frame.Type)
	hello, err := UnmarshalHello(frame.Payload)
	require.NoError(t, err)
	assert.Equal(t, PeerID(5), hello.Peer)
}

func TestReadFrameRejectsOversizedDecompression(t *testing.T) {
	codec, err := NewCodec(64)
	require.NoError(t, err)
	defer codec.Close()

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()

	// маленький сжатый кадр, который распаковывается в 16 * MaxFrameSize
	compressed := enc.EncodeAll(make([]byte, 16*MaxFrameSize), nil)
	require.Less(t, len(compressed)+2, MaxFrameSize, "сжатый кадр должен проходить проверку длины")

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(compressed)+2))
	buf.WriteByte(flagZstd)
	buf.WriteByte(byte(FrameActionRequest))
	buf.Write(compressed)

	_, err = codec.ReadFrame(&buf)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestAppendFrameChecksUncompressedSize(t *testing.T) {
	codec, err := NewCodec(64)
	require.NoError(t, err)
	defer codec.Close()

	_, err = codec.AppendFrame(nil, Frame{Type: FrameHitEffect, Payload: make([]byte, MaxFrameSize)})
	assert.ErrorIs(t, err, ErrFrameTooLarge, "сжимаемый кадр не должен обходить предел")
}

func TestUnmarshalRejectsOutOfRangeVarints(t *testing.T) {
	cases := []struct {
		name  string
		field protowire.Number
		value uint64
	}{
		{"delivery", fieldDelivery, 257},
		{"phase", fieldPhase, 300},
		{"peer", fieldTriggeringPeer, 1 << 33},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data := protowire.AppendTag(nil, tc.field, protowire.VarintType)
			data = protowire.AppendVarint(data, tc.value)

			_, err := UnmarshalHitEffect(data)
			assert.Error(t, err)
		})
	}
}
