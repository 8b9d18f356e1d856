package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/annel0/mmo-hitfx/internal/effects"
	"github.com/annel0/mmo-hitfx/internal/targeting"
	"github.com/annel0/mmo-hitfx/internal/vec"
)

var (
	// ErrMessageTooShort недостаточно данных для заголовка или поля
	ErrMessageTooShort = errors.New("protocol: message too short")
	// ErrFrameTooLarge кадр больше MaxFrameSize
	ErrFrameTooLarge = errors.New("protocol: frame too large")
	// ErrUnknownFrame неизвестный тип кадра
	ErrUnknownFrame = errors.New("protocol: unknown frame type")
)

// FrameType тип полезной нагрузки кадра
type FrameType uint8

const (
	FrameHello FrameType = iota + 1
	FrameHitEffect
	FrameActionRequest
)

func (t FrameType) known() bool {
	return t >= FrameHello && t <= FrameActionRequest
}

const (
	// MaxFrameSize предел размера кадра
	MaxFrameSize = 64 * 1024

	headerSize = 4
	flagZstd   = 1 << 0
)

// Frame кадр потока: [4B LE длина][флаги][тип][данные]
type Frame struct {
	Type    FrameType
	Payload []byte
}

// Номера полей HitEffectMessage
const (
	fieldDelivery protowire.Number = iota + 1
	fieldPhase
	fieldAction
	fieldTriggeringPeer
	fieldOwner
	fieldTarget
	fieldPoint
	fieldNormal
	fieldSequence
	fieldCorrelation
)

const fieldHelloPeer protowire.Number = 1

// Номера полей ActionRequest
const (
	fieldRequestAction protowire.Number = iota + 1
	fieldRequestOwner
	fieldRequestOrigin
	fieldRequestDirection
)

// Codec кодирует кадры; сжимает zstd полезную нагрузку крупнее порога.
// Безопасен для конкурентного использования.
type Codec struct {
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	threshold int
}

// NewCodec создаёт кодек. threshold <= 0 отключает сжатие при записи.
func NewCodec(threshold int) (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxFrameSize))
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &Codec{encoder: enc, decoder: dec, threshold: threshold}, nil
}

// Close освобождает ресурсы zstd
func (c *Codec) Close() {
	c.encoder.Close()
	c.decoder.Close()
}

// AppendFrame сериализует кадр
func (c *Codec) AppendFrame(dst []byte, f Frame) ([]byte, error) {
	payload := f.Payload
	if len(payload)+2 > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload)+2)
	}
	var flags byte
	if c.threshold > 0 && len(payload) > c.threshold {
		payload = c.encoder.EncodeAll(payload, nil)
		flags |= flagZstd
	}

	size := len(payload) + 2
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	dst = binary.LittleEndian.AppendUint32(dst, uint32(size))
	dst = append(dst, flags, byte(f.Type))
	return append(dst, payload...), nil
}

// WriteFrame пишет кадр целиком
func (c *Codec) WriteFrame(w io.Writer, f Frame) error {
	data, err := c.AppendFrame(nil, f)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// ReadFrame читает ровно один кадр из потока
func (c *Codec) ReadFrame(r io.Reader) (Frame, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, err
	}

	size := binary.LittleEndian.Uint32(header[:])
	if size < 2 {
		return Frame{}, ErrMessageTooShort
	}
	if size > MaxFrameSize {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, err
	}

	flags, typ, payload := body[0], FrameType(body[1]), body[2:]
	if !typ.known() {
		// кадр вычитан целиком, поток остаётся согласованным
		return Frame{Type: typ}, fmt.Errorf("%w: %d", ErrUnknownFrame, typ)
	}
	if flags&flagZstd != 0 {
		// распакованные данные ограничены тем же MaxFrameSize
		decoded, err := c.decoder.DecodeAll(payload, nil)
		if errors.Is(err, zstd.ErrDecoderSizeExceeded) || errors.Is(err, zstd.ErrWindowSizeExceeded) {
			return Frame{}, fmt.Errorf("%w: decompressed payload exceeds %d bytes", ErrFrameTooLarge, MaxFrameSize)
		}
		if err != nil {
			return Frame{}, fmt.Errorf("decompression failed: %w", err)
		}
		if len(decoded) > MaxFrameSize {
			return Frame{}, fmt.Errorf("%w: decompressed %d bytes", ErrFrameTooLarge, len(decoded))
		}
		payload = decoded
	}
	return Frame{Type: typ, Payload: payload}, nil
}

// WriteHitEffect кодирует и пишет сообщение эффекта
func (c *Codec) WriteHitEffect(w io.Writer, m *HitEffectMessage) error {
	return c.WriteFrame(w, Frame{Type: FrameHitEffect, Payload: MarshalHitEffect(m)})
}

// WriteHello пишет приветствие клиента
func (c *Codec) WriteHello(w io.Writer, h Hello) error {
	return c.WriteFrame(w, Frame{Type: FrameHello, Payload: MarshalHello(h)})
}

// WriteActionRequest пишет запрос действия клиента
func (c *Codec) WriteActionRequest(w io.Writer, r *ActionRequest) error {
	return c.WriteFrame(w, Frame{Type: FrameActionRequest, Payload: MarshalActionRequest(r)})
}

// MarshalHitEffect кодирует сообщение в protobuf wire-формат
func MarshalHitEffect(m *HitEffectMessage) []byte {
	b := make([]byte, 0, 96+len(m.Action)+len(m.CorrelationID))
	b = appendVarint(b, fieldDelivery, uint64(m.Delivery))
	b = appendVarint(b, fieldPhase, uint64(m.Phase))
	if m.Action != "" {
		b = protowire.AppendTag(b, fieldAction, protowire.BytesType)
		b = protowire.AppendString(b, string(m.Action))
	}
	b = appendVarint(b, fieldTriggeringPeer, uint64(m.TriggeringPeer))
	b = appendVarint(b, fieldOwner, uint64(m.Owner))
	b = appendVarint(b, fieldTarget, uint64(m.Target))
	b = appendVec3(b, fieldPoint, m.Point)
	b = appendVec3(b, fieldNormal, m.Normal)
	b = appendVarint(b, fieldSequence, m.Sequence)
	if m.CorrelationID != "" {
		b = protowire.AppendTag(b, fieldCorrelation, protowire.BytesType)
		b = protowire.AppendString(b, m.CorrelationID)
	}
	return b
}

// UnmarshalHitEffect декодирует сообщение; неизвестные поля пропускаются
func UnmarshalHitEffect(b []byte) (*HitEffectMessage, error) {
	m := &HitEffectMessage{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("hit effect tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType && isVarintField(num):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("hit effect field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			if err := setVarint(m, num, v); err != nil {
				return nil, err
			}
		case typ == protowire.BytesType && (num == fieldAction || num == fieldCorrelation):
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, fmt.Errorf("hit effect field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			if num == fieldAction {
				m.Action = effects.ActionID(s)
			} else {
				m.CorrelationID = s
			}
		case typ == protowire.BytesType && (num == fieldPoint || num == fieldNormal):
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("hit effect field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			v, err := decodeVec3(raw)
			if err != nil {
				return nil, err
			}
			if num == fieldPoint {
				m.Point = v
			} else {
				m.Normal = v
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("hit effect field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return m, nil
}

// MarshalHello кодирует приветствие
func MarshalHello(h Hello) []byte {
	return appendVarint(nil, fieldHelloPeer, uint64(h.Peer))
}

// UnmarshalHello декодирует приветствие
func UnmarshalHello(b []byte) (Hello, error) {
	var h Hello
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Hello{}, fmt.Errorf("hello tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if num == fieldHelloPeer && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Hello{}, fmt.Errorf("hello peer: %w", protowire.ParseError(n))
			}
			b = b[n:]
			if v > math.MaxUint32 {
				return Hello{}, fmt.Errorf("hello peer out of range: %d", v)
			}
			h.Peer = PeerID(v)
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return Hello{}, fmt.Errorf("hello field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
	}
	return h, nil
}

// MarshalActionRequest кодирует запрос действия
func MarshalActionRequest(r *ActionRequest) []byte {
	b := make([]byte, 0, 64+len(r.Action))
	if r.Action != "" {
		b = protowire.AppendTag(b, fieldRequestAction, protowire.BytesType)
		b = protowire.AppendString(b, string(r.Action))
	}
	b = appendVarint(b, fieldRequestOwner, uint64(r.Owner))
	b = appendVec3(b, fieldRequestOrigin, r.Origin)
	b = appendVec3(b, fieldRequestDirection, r.Direction)
	return b
}

// UnmarshalActionRequest декодирует запрос действия
func UnmarshalActionRequest(b []byte) (*ActionRequest, error) {
	r := &ActionRequest{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("action request tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldRequestAction && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, fmt.Errorf("action request field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			r.Action = effects.ActionID(s)
		case num == fieldRequestOwner && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("action request field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			r.Owner = targeting.EntityID(v)
		case (num == fieldRequestOrigin || num == fieldRequestDirection) && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("action request field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			v, err := decodeVec3(raw)
			if err != nil {
				return nil, err
			}
			if num == fieldRequestOrigin {
				r.Origin = v
			} else {
				r.Direction = v
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("action request field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return r, nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// appendVec3 пишет вектор как bytes из трёх fixed64
func appendVec3(b []byte, num protowire.Number, v vec.Vec3) []byte {
	if v == vec.Zero {
		return b
	}
	var raw [24]byte
	for i := 0; i < 3; i++ {
		binary.LittleEndian.PutUint64(raw[i*8:], math.Float64bits(v[i]))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, raw[:])
}

func decodeVec3(raw []byte) (vec.Vec3, error) {
	if len(raw) != 24 {
		return vec.Zero, fmt.Errorf("%w: vec3 needs 24 bytes, got %d", ErrMessageTooShort, len(raw))
	}
	var v vec.Vec3
	for i := 0; i < 3; i++ {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return v, nil
}

func isVarintField(num protowire.Number) bool {
	switch num {
	case fieldDelivery, fieldPhase, fieldTriggeringPeer, fieldOwner, fieldTarget, fieldSequence:
		return true
	}
	return false
}

func setVarint(m *HitEffectMessage, num protowire.Number, v uint64) error {
	switch num {
	case fieldDelivery:
		if v > math.MaxUint8 {
			return fmt.Errorf("hit effect delivery out of range: %d", v)
		}
		m.Delivery = Delivery(v)
	case fieldPhase:
		if v > math.MaxUint8 {
			return fmt.Errorf("hit effect phase out of range: %d", v)
		}
		m.Phase = PredictionPhase(v)
	case fieldTriggeringPeer:
		if v > math.MaxUint32 {
			return fmt.Errorf("hit effect peer out of range: %d", v)
		}
		m.TriggeringPeer = PeerID(v)
	case fieldOwner:
		m.Owner = targeting.EntityID(v)
	case fieldTarget:
		m.Target = targeting.EntityID(v)
	case fieldSequence:
		m.Sequence = v
	}
	return nil
}
