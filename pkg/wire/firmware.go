package wire

import (
	"encoding/binary"
	"fmt"
)

// FirmwareSectorSize is the fixed chunk size FirmwarePacket streams
// the bundled image in.
const FirmwareSectorSize = 1024

// FirmwarePing/FirmwareGetVersion/FirmwareUpdateCancel carry no body;
// they exist purely as tagged markers for the synchronous updater.
type FirmwarePing struct{}

func (FirmwarePing) WireTag() Tag               { return TagFirmwarePing }
func (FirmwarePing) EncodeFrame() ([]byte, error) { return Encode(TagFirmwarePing, nil) }

type FirmwareGetVersion struct{}

func (FirmwareGetVersion) WireTag() Tag { return TagFirmwareGetVersion }
func (FirmwareGetVersion) EncodeFrame() ([]byte, error) {
	return Encode(TagFirmwareGetVersion, nil)
}

type FirmwareUpdateCancel struct{}

func (FirmwareUpdateCancel) WireTag() Tag { return TagFirmwareUpdateCancel }
func (FirmwareUpdateCancel) EncodeFrame() ([]byte, error) {
	return Encode(TagFirmwareUpdateCancel, nil)
}

// FirmwareReply wraps the AppUDPResponse every firmware request frame
// expects in return, including the version blob when replying to
// FirmwareGetVersion.
type FirmwareReply struct {
	Response AppUDPResponse
	Version  FirmwareVersion
}

// FirmwareVersion is the bundled/reported image version blob compared
// during the get-version step.
type FirmwareVersion struct {
	Major, Minor, Patch uint8
	Build               uint32
}

func (v FirmwareVersion) Less(other FirmwareVersion) bool {
	if v.Major != other.Major {
		return v.Major < other.Major
	}
	if v.Minor != other.Minor {
		return v.Minor < other.Minor
	}
	if v.Patch != other.Patch {
		return v.Patch < other.Patch
	}
	return v.Build < other.Build
}

const firmwareReplySize = 4 + 1 + 1 + 1 + 4

func decodeAppResponse(body []byte) (FirmwareReply, error) {
	if len(body) != 4 && len(body) != firmwareReplySize {
		return FirmwareReply{}, fmt.Errorf("%w: FirmwareReply wants 4 or %d bytes, got %d", ErrBadLength, firmwareReplySize, len(body))
	}
	r := FirmwareReply{Response: AppUDPResponse(binary.LittleEndian.Uint32(body[0:4]))}
	if len(body) == firmwareReplySize {
		r.Version = FirmwareVersion{
			Major: body[4],
			Minor: body[5],
			Patch: body[6],
			Build: binary.LittleEndian.Uint32(body[7:11]),
		}
	}
	return r, nil
}

// FirmwareStart opens a transfer: an IV plus flags selecting which
// integrity/authenticity checks the CB should perform as it receives
// sectors.
type FirmwareStart struct {
	IV          [16]byte
	CrcEnabled  uint8
	ShaEnabled  uint8
	SigEnabled  uint8
}

func (FirmwareStart) WireTag() Tag { return TagFirmwareStart }

const firmwareStartSize = 16 + 1 + 1 + 1

func (s FirmwareStart) EncodeFrame() ([]byte, error) {
	b := make([]byte, firmwareStartSize)
	copy(b[0:16], s.IV[:])
	b[16] = s.CrcEnabled
	b[17] = s.ShaEnabled
	b[18] = s.SigEnabled
	return Encode(TagFirmwareStart, b)
}

func decodeFirmwareStart(body []byte) (FirmwareStart, error) {
	if len(body) != firmwareStartSize {
		return FirmwareStart{}, fmt.Errorf("%w: FirmwareStart wants %d bytes, got %d", ErrBadLength, firmwareStartSize, len(body))
	}
	var s FirmwareStart
	copy(s.IV[:], body[0:16])
	s.CrcEnabled = body[16]
	s.ShaEnabled = body[17]
	s.SigEnabled = body[18]
	return s, nil
}

// FirmwarePacket carries one 1024-byte sector; DataLen is the
// authoritative length when Data is not fully used (the final
// sector), overriding the generic fixed-size-body policy.
type FirmwarePacket struct {
	LastPacket uint8
	Sector     uint16
	DataLen    uint16
	Data       [FirmwareSectorSize]byte
}

func (FirmwarePacket) WireTag() Tag { return TagFirmwarePacket }

const firmwarePacketHeaderSize = 1 + 2 + 2

func (p FirmwarePacket) EncodeFrame() ([]byte, error) {
	if p.DataLen > FirmwareSectorSize {
		return nil, fmt.Errorf("wire: FirmwarePacket.DataLen %d exceeds sector size %d", p.DataLen, FirmwareSectorSize)
	}
	b := make([]byte, firmwarePacketHeaderSize+int(p.DataLen))
	b[0] = p.LastPacket
	binary.LittleEndian.PutUint16(b[1:3], p.Sector)
	binary.LittleEndian.PutUint16(b[3:5], p.DataLen)
	copy(b[5:], p.Data[:p.DataLen])
	return Encode(TagFirmwarePacket, b)
}

func decodeFirmwarePacket(body []byte) (FirmwarePacket, error) {
	if len(body) < firmwarePacketHeaderSize {
		return FirmwarePacket{}, fmt.Errorf("%w: FirmwarePacket header truncated", ErrBadLength)
	}
	var p FirmwarePacket
	p.LastPacket = body[0]
	p.Sector = binary.LittleEndian.Uint16(body[1:3])
	p.DataLen = binary.LittleEndian.Uint16(body[3:5])
	if p.DataLen > FirmwareSectorSize {
		return FirmwarePacket{}, fmt.Errorf("wire: FirmwarePacket.DataLen %d exceeds sector size", p.DataLen)
	}
	want := firmwarePacketHeaderSize + int(p.DataLen)
	if len(body) != want {
		return FirmwarePacket{}, fmt.Errorf("%w: FirmwarePacket declares DataLen=%d but body is %d bytes", ErrBadLength, p.DataLen, len(body))
	}
	copy(p.Data[:p.DataLen], body[5:])
	return p, nil
}

// FirmwareFinish closes the transfer with the total length and an
// authenticity signature.
type FirmwareFinish struct {
	FirmwareLen  uint32
	Signature    [128]byte
	SignatureLen uint16
	Watermark    uint32
}

func (FirmwareFinish) WireTag() Tag { return TagFirmwareFinish }

const firmwareFinishSize = 4 + 128 + 2 + 4

func (f FirmwareFinish) EncodeFrame() ([]byte, error) {
	b := make([]byte, firmwareFinishSize)
	binary.LittleEndian.PutUint32(b[0:4], f.FirmwareLen)
	copy(b[4:132], f.Signature[:])
	binary.LittleEndian.PutUint16(b[132:134], f.SignatureLen)
	binary.LittleEndian.PutUint32(b[134:138], f.Watermark)
	return Encode(TagFirmwareFinish, b)
}

func decodeFirmwareFinish(body []byte) (FirmwareFinish, error) {
	if len(body) != firmwareFinishSize {
		return FirmwareFinish{}, fmt.Errorf("%w: FirmwareFinish wants %d bytes, got %d", ErrBadLength, firmwareFinishSize, len(body))
	}
	var f FirmwareFinish
	f.FirmwareLen = binary.LittleEndian.Uint32(body[0:4])
	copy(f.Signature[:], body[4:132])
	f.SignatureLen = binary.LittleEndian.Uint16(body[132:134])
	f.Watermark = binary.LittleEndian.Uint32(body[134:138])
	return f, nil
}
