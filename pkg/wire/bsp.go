package wire

import (
	"encoding/binary"
	"fmt"
)

// CpState is the control-pilot state reported by the CB, extended
// with the synthetic DF (diode fault) value beyond the IEC 61851-1
// letters.
type CpState uint8

const (
	CpStateA CpState = iota
	CpStateB
	CpStateC
	CpStateD
	CpStateE
	CpStateF
	CpStateDF
	CpStateInvalid
)

func (s CpState) String() string {
	switch s {
	case CpStateA:
		return "A"
	case CpStateB:
		return "B"
	case CpStateC:
		return "C"
	case CpStateD:
		return "D"
	case CpStateE:
		return "E"
	case CpStateF:
		return "F"
	case CpStateDF:
		return "DF"
	default:
		return "INVALID"
	}
}

type RelayState uint8

const (
	RelayOpen RelayState = iota
	RelayClosed
)

type PpStateType1 uint8

const (
	PpType1NotConnected PpStateType1 = iota
	PpType1ConnectedButtonPressed
	PpType1Connected
	PpType1Invalid
)

type PpStateType2 uint8

const (
	PpType2NC PpStateType2 = iota
	PpType2A13
	PpType2A20
	PpType2A32
	PpType2A70
	PpType2Fault
)

// Safety error flag bit positions, low bit first, per the CB's
// error_flags.raw bitfield. Bits beyond FlagDcHvOvError are reserved and
// must be ignored by readers.
const (
	FlagCpNotStateC uint32 = 1 << iota
	FlagPwmNotEnabled
	FlagPpInvalid
	FlagPlugTemperatureTooHigh
	FlagInternalTemperatureTooHigh
	FlagEmergencyInputLatched
	FlagRelayHealthLatched
	FlagVdd3V3OutOfRange
	FlagVddCoreOutOfRange
	FlagVdd12VOutOfRange
	FlagVddN12VOutOfRange
	FlagVddRefintOutOfRange
	FlagExternalAllowPowerOn
	FlagConfigMemError
	FlagDcHvOvEmergency
	FlagDcHvOvError
)

// PWM duty-cycle sentinels in units of 0.01%.
const (
	PwmDutyCycleX1       uint32 = 10000
	PwmDutyCycleDisabled uint32 = 10001
	PwmDutyCycleForceF   uint32 = 0
	PwmDutyCycleFailSafe uint32 = 65535
)

// BSPCommand is the single host→CB struct all eight bus operations
// mutate in place before re-transmission; it is zero-initialized at
// session start and never clobbers fields outside an operation's own
// scope.
type BSPCommand struct {
	ConnectorLock       uint8
	PwmDutyCycle        uint32
	AllowPowerOn        uint8
	Reset               uint8
	OvmEnable           uint8
	OvmResetErrors      uint8
	OvmLimitEmergencyMV uint32
	OvmLimitErrorMV     uint32
	EvSetCpState        CpState
	EvSetDiodefault     uint8
}

const BSPCommandSize = 1 + 4 + 1 + 1 + 1 + 1 + 4 + 4 + 1 + 1

// EncodeBSPCommand/DecodeBSPCommand pack the raw struct with no tag
// header: BSP command/status frames travel on the dedicated EVSE BSP
// UDP port (6001), separate from the tagged management multiplex on
// port 6000.
func EncodeBSPCommand(c BSPCommand) []byte {
	b := make([]byte, BSPCommandSize)
	b[0] = c.ConnectorLock
	binary.LittleEndian.PutUint32(b[1:5], c.PwmDutyCycle)
	b[5] = c.AllowPowerOn
	b[6] = c.Reset
	b[7] = c.OvmEnable
	b[8] = c.OvmResetErrors
	binary.LittleEndian.PutUint32(b[9:13], c.OvmLimitEmergencyMV)
	binary.LittleEndian.PutUint32(b[13:17], c.OvmLimitErrorMV)
	b[17] = uint8(c.EvSetCpState)
	b[18] = c.EvSetDiodefault
	return b
}

func DecodeBSPCommand(body []byte) (BSPCommand, error) {
	if len(body) != BSPCommandSize {
		return BSPCommand{}, fmt.Errorf("%w: BSPCommand wants %d bytes, got %d", ErrBadLength, BSPCommandSize, len(body))
	}
	var c BSPCommand
	c.ConnectorLock = body[0]
	c.PwmDutyCycle = binary.LittleEndian.Uint32(body[1:5])
	c.AllowPowerOn = body[5]
	c.Reset = body[6]
	c.OvmEnable = body[7]
	c.OvmResetErrors = body[8]
	c.OvmLimitEmergencyMV = binary.LittleEndian.Uint32(body[9:13])
	c.OvmLimitErrorMV = binary.LittleEndian.Uint32(body[13:17])
	c.EvSetCpState = CpState(body[17])
	c.EvSetDiodefault = body[18]
	return c, nil
}

// BSPStatus is the CB→host struct; the translator diffs ErrorFlags
// against its previous snapshot to drive edge-triggered raise/clear
// emission.
type BSPStatus struct {
	ResetReason  uint8
	CpState      CpState
	RelayState   RelayState
	ErrorFlags   uint32
	PpStateType1 PpStateType1
	PpStateType2 PpStateType2
	LockState    uint8
	HvMV         uint32
	StopCharging uint8
	CpDutyCycle  uint16
}

const BSPStatusSize = 1 + 1 + 1 + 4 + 1 + 1 + 1 + 4 + 1 + 2

func EncodeBSPStatus(s BSPStatus) []byte {
	b := make([]byte, BSPStatusSize)
	b[0] = s.ResetReason
	b[1] = uint8(s.CpState)
	b[2] = uint8(s.RelayState)
	binary.LittleEndian.PutUint32(b[3:7], s.ErrorFlags)
	b[7] = uint8(s.PpStateType1)
	b[8] = uint8(s.PpStateType2)
	b[9] = s.LockState
	binary.LittleEndian.PutUint32(b[10:14], s.HvMV)
	b[14] = s.StopCharging
	binary.LittleEndian.PutUint16(b[15:17], s.CpDutyCycle)
	return b
}

func DecodeBSPStatus(body []byte) (BSPStatus, error) {
	if len(body) != BSPStatusSize {
		return BSPStatus{}, fmt.Errorf("%w: BSPStatus wants %d bytes, got %d", ErrBadLength, BSPStatusSize, len(body))
	}
	var s BSPStatus
	s.ResetReason = body[0]
	s.CpState = CpState(body[1])
	s.RelayState = RelayState(body[2])
	s.ErrorFlags = binary.LittleEndian.Uint32(body[3:7])
	s.PpStateType1 = PpStateType1(body[7])
	s.PpStateType2 = PpStateType2(body[8])
	s.LockState = body[9]
	s.HvMV = binary.LittleEndian.Uint32(body[10:14])
	s.StopCharging = body[14]
	s.CpDutyCycle = binary.LittleEndian.Uint16(body[15:17])
	return s, nil
}
