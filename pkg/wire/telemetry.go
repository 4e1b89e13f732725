package wire

import (
	"encoding/binary"
	"fmt"
)

// CbTelemetry is the body of CbToHost_Heartbeat: live sensor readings
// plus uptime, used by the heartbeat/config service to detect CB
// resets and supervise liveness.
type CbTelemetry struct {
	CpHighMV      int16
	CpLowMV       int16
	PpMilliohms   uint16
	PpMV          int16
	RelayFeedback [3]uint8
	McuTempC      int16
	PcbTempC      int16
	ModemTempC    int16
	Pt1000_1C     int16
	Pt1000_2C     int16
	UptimeMs      uint32
}

const CbTelemetrySize = 2 + 2 + 2 + 2 + 3 + 2 + 2 + 2 + 2 + 2 + 4

func EncodeCbTelemetry(t CbTelemetry) []byte {
	b := make([]byte, CbTelemetrySize)
	binary.LittleEndian.PutUint16(b[0:2], uint16(t.CpHighMV))
	binary.LittleEndian.PutUint16(b[2:4], uint16(t.CpLowMV))
	binary.LittleEndian.PutUint16(b[4:6], t.PpMilliohms)
	binary.LittleEndian.PutUint16(b[6:8], uint16(t.PpMV))
	copy(b[8:11], t.RelayFeedback[:])
	binary.LittleEndian.PutUint16(b[11:13], uint16(t.McuTempC))
	binary.LittleEndian.PutUint16(b[13:15], uint16(t.PcbTempC))
	binary.LittleEndian.PutUint16(b[15:17], uint16(t.ModemTempC))
	binary.LittleEndian.PutUint16(b[17:19], uint16(t.Pt1000_1C))
	binary.LittleEndian.PutUint16(b[19:21], uint16(t.Pt1000_2C))
	binary.LittleEndian.PutUint32(b[21:25], t.UptimeMs)
	return b
}

func DecodeCbTelemetry(body []byte) (CbTelemetry, error) {
	if len(body) != CbTelemetrySize {
		return CbTelemetry{}, fmt.Errorf("%w: CbTelemetry wants %d bytes, got %d", ErrBadLength, CbTelemetrySize, len(body))
	}
	var t CbTelemetry
	t.CpHighMV = int16(binary.LittleEndian.Uint16(body[0:2]))
	t.CpLowMV = int16(binary.LittleEndian.Uint16(body[2:4]))
	t.PpMilliohms = binary.LittleEndian.Uint16(body[4:6])
	t.PpMV = int16(binary.LittleEndian.Uint16(body[6:8]))
	copy(t.RelayFeedback[:], body[8:11])
	t.McuTempC = int16(binary.LittleEndian.Uint16(body[11:13]))
	t.PcbTempC = int16(binary.LittleEndian.Uint16(body[13:15]))
	t.ModemTempC = int16(binary.LittleEndian.Uint16(body[15:17]))
	t.Pt1000_1C = int16(binary.LittleEndian.Uint16(body[17:19]))
	t.Pt1000_2C = int16(binary.LittleEndian.Uint16(body[19:21]))
	t.UptimeMs = binary.LittleEndian.Uint32(body[21:25])
	return t, nil
}
