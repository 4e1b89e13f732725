package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrBadLength is wrapped by any decode error caused by a body whose
// length does not match the tag's fixed expected size.
var ErrBadLength = errors.New("wire: bad body length")

// ErrUnknownTag is never returned by Decode: unrecognized tags come
// back as an Unknown frame rather than being rejected at the
// transport layer, per the codec's contract.
var ErrUnknownTag = errors.New("wire: unknown tag")

// Unknown wraps a tag this codec does not recognize, together with
// its raw body, so callers can log or ignore it without losing the
// datagram at the transport layer.
type Unknown struct {
	Tag  Tag
	Body []byte
}

// Encode writes the 16-bit tag followed by body's packed bytes. body
// must already be in its final wire-layout form (e.g. the output of
// EncodeCbConfig, or a raw byte slice for pre-packed payloads).
func Encode(tag Tag, body []byte) ([]byte, error) {
	if TagHeaderSize+len(body) > MaxUDPBody {
		return nil, fmt.Errorf("wire: frame for %s exceeds MaxUDPBody (%d > %d)", tag, TagHeaderSize+len(body), MaxUDPBody)
	}
	out := make([]byte, TagHeaderSize+len(body))
	binary.LittleEndian.PutUint16(out[0:2], uint16(tag))
	copy(out[2:], body)
	return out, nil
}

// Decode reads the tag and returns a sum-type variant carrying the
// decoded body. Unrecognized tags are returned as Unknown without
// error. Fixed-size tags whose body length does not match the
// expected size return ErrBadLength, except FirmwarePacket whose
// DataLen field is the authoritative count.
func Decode(frame []byte) (any, error) {
	if len(frame) < TagHeaderSize {
		return nil, fmt.Errorf("%w: frame shorter than tag header", ErrBadLength)
	}
	tag := Tag(binary.LittleEndian.Uint16(frame[0:2]))
	body := frame[2:]
	switch tag {
	case TagHostToCbHeartbeat:
		cfg, err := DecodeCbConfig(body)
		if err != nil {
			return nil, err
		}
		return HostToCbHeartbeat{Config: cfg}, nil
	case TagCbToHostHeartbeat:
		tel, err := DecodeCbTelemetry(body)
		if err != nil {
			return nil, err
		}
		return CbToHostHeartbeat{Telemetry: tel}, nil
	case TagHostToCbGpio:
		g, err := DecodeGpioCommand(body)
		if err != nil {
			return nil, err
		}
		return HostToCbGpio{Command: g}, nil
	case TagCbToHostGpio:
		g, err := DecodeGpioStatus(body)
		if err != nil {
			return nil, err
		}
		return CbToHostGpio{Status: g}, nil
	case TagFirmwareReply:
		r, err := decodeAppResponse(body)
		if err != nil {
			return nil, err
		}
		return r, nil
	case TagFirmwareStart:
		s, err := decodeFirmwareStart(body)
		if err != nil {
			return nil, err
		}
		return s, nil
	case TagFirmwarePacket:
		p, err := decodeFirmwarePacket(body)
		if err != nil {
			return nil, err
		}
		return p, nil
	case TagFirmwareFinish:
		f, err := decodeFirmwareFinish(body)
		if err != nil {
			return nil, err
		}
		return f, nil
	case TagFirmwareUpdateCancel:
		if len(body) != 0 {
			return nil, fmt.Errorf("%w: FirmwareUpdateCancel wants 0 bytes, got %d", ErrBadLength, len(body))
		}
		return FirmwareUpdateCancel{}, nil
	case TagFirmwarePing:
		if len(body) != 0 {
			return nil, fmt.Errorf("%w: FirmwarePing wants 0 bytes, got %d", ErrBadLength, len(body))
		}
		return FirmwarePing{}, nil
	case TagFirmwareGetVersion:
		if len(body) != 0 {
			return nil, fmt.Errorf("%w: FirmwareGetVersion wants 0 bytes, got %d", ErrBadLength, len(body))
		}
		return FirmwareGetVersion{}, nil
	default:
		return Unknown{Tag: tag, Body: append([]byte(nil), body...)}, nil
	}
}

// HasTag is implemented by every decoded/encodable body so Encode's
// generic callers can recover the tag without a type switch.
type HasTag interface {
	WireTag() Tag
}

type HostToCbHeartbeat struct{ Config CbConfig }

func (HostToCbHeartbeat) WireTag() Tag { return TagHostToCbHeartbeat }
func (h HostToCbHeartbeat) EncodeFrame() ([]byte, error) {
	return Encode(TagHostToCbHeartbeat, EncodeCbConfig(h.Config))
}

type CbToHostHeartbeat struct{ Telemetry CbTelemetry }

func (CbToHostHeartbeat) WireTag() Tag { return TagCbToHostHeartbeat }
