package wire

import (
	"encoding/binary"
	"fmt"
)

const (
	NumGpios = 10
	NumUarts = 3
)

type GpioMode uint8

const (
	GpioInput GpioMode = iota
	GpioOutput
	GpioPwmInput
	GpioPwmOutput
	GpioRS485_2_DE
	GpioRcdSelftestOutput
	GpioRcdErrorInput
	GpioRcdPwmInput
	GpioMotorLock1
	GpioMotorLock2
)

type GpioPulls uint8

const (
	GpioNoPull GpioPulls = iota
	GpioPullUp
	GpioPullDown
)

type RelayMode uint8

const (
	RelayModePower RelayMode = iota
	RelayModeUser
)

type UartBaudrate uint8

const (
	Uart9600 UartBaudrate = iota
	Uart19200
	Uart38400
	Uart57600
	Uart115200
	Uart230400
	Uart250000
	Uart460800
	Uart500000
	Uart1000000
	Uart2000000
	Uart3000000
	Uart4000000
	Uart6000000
	Uart8000000
	Uart10000000
)

type UartStopbits uint8

const (
	UartOneStopBit UartStopbits = iota
	UartTwoStopBits
)

type UartParity uint8

const (
	UartParityNone UartParity = iota
	UartParityOdd
	UartParityEven
)

type CanBaudrate uint8

const (
	Can125000 CanBaudrate = iota
	Can250000
	Can500000
	Can1000000
)

// SafetyMode selects the proximity-pilot interpretation the CB
// applies: disabled, US Type 1 or EU Type 2.
type SafetyMode uint8

const (
	SafetyModeDisabled SafetyMode = iota
	SafetyModeUS
	SafetyModeEU
)

// RelayConfig mirrors one of the three physical relay outputs' switch
// timing and feedback monitoring configuration.
type RelayConfig struct {
	Mode             RelayMode
	FeedbackEnabled  uint8
	FeedbackDelayMs  uint16
	FeedbackInverted uint8
	PwmDutyCycle     uint8 // 100 = no PWM, 1-99 = duty cycle after delay
	PwmDelayMs       uint16
	SwitchoffDelayMs uint16
}

const relayConfigSize = 1 + 1 + 2 + 1 + 1 + 2 + 2 // 10 bytes

func (r RelayConfig) encode(b []byte) {
	b[0] = uint8(r.Mode)
	b[1] = r.FeedbackEnabled
	binary.LittleEndian.PutUint16(b[2:4], r.FeedbackDelayMs)
	b[4] = r.FeedbackInverted
	b[5] = r.PwmDutyCycle
	binary.LittleEndian.PutUint16(b[6:8], r.PwmDelayMs)
	binary.LittleEndian.PutUint16(b[8:10], r.SwitchoffDelayMs)
}

func decodeRelayConfig(b []byte) RelayConfig {
	return RelayConfig{
		Mode:             RelayMode(b[0]),
		FeedbackEnabled:  b[1],
		FeedbackDelayMs:  binary.LittleEndian.Uint16(b[2:4]),
		FeedbackInverted: b[4],
		PwmDutyCycle:     b[5],
		PwmDelayMs:       binary.LittleEndian.Uint16(b[6:8]),
		SwitchoffDelayMs: binary.LittleEndian.Uint16(b[8:10]),
	}
}

// SafetyConfig groups the proximity-pilot mode, CP averaging window,
// the three relay configs, the emergency-input polarity, and the
// PT1000 trip temperature.
type SafetyConfig struct {
	PpMode                  SafetyMode
	CpAvgMs                 uint8
	Relays                  [3]RelayConfig
	InvertedEmergencyInput  uint8
	TemperatureLimitPt1000C uint8
}

const safetyConfigSize = 1 + 1 + 3*relayConfigSize + 1 + 1

func (s SafetyConfig) encode(b []byte) {
	b[0] = uint8(s.PpMode)
	b[1] = s.CpAvgMs
	off := 2
	for i := range s.Relays {
		s.Relays[i].encode(b[off : off+relayConfigSize])
		off += relayConfigSize
	}
	b[off] = s.InvertedEmergencyInput
	b[off+1] = s.TemperatureLimitPt1000C
}

func decodeSafetyConfig(b []byte) SafetyConfig {
	var s SafetyConfig
	s.PpMode = SafetyMode(b[0])
	s.CpAvgMs = b[1]
	off := 2
	for i := range s.Relays {
		s.Relays[i] = decodeRelayConfig(b[off : off+relayConfigSize])
		off += relayConfigSize
	}
	s.InvertedEmergencyInput = b[off]
	s.TemperatureLimitPt1000C = b[off+1]
	return s
}

// GpioConfig describes one of the ten general-purpose pins.
type GpioConfig struct {
	Mode            GpioMode
	Pulls           GpioPulls
	StrapMdnsNaming uint8
	ModeConfig      uint16
}

const gpioConfigSize = 1 + 1 + 1 + 2

func (g GpioConfig) encode(b []byte) {
	b[0] = uint8(g.Mode)
	b[1] = uint8(g.Pulls)
	b[2] = g.StrapMdnsNaming
	binary.LittleEndian.PutUint16(b[3:5], g.ModeConfig)
}

func decodeGpioConfig(b []byte) GpioConfig {
	return GpioConfig{
		Mode:            GpioMode(b[0]),
		Pulls:           GpioPulls(b[1]),
		StrapMdnsNaming: b[2],
		ModeConfig:      binary.LittleEndian.Uint16(b[3:5]),
	}
}

// UartConfig describes one of the three UART peripherals.
type UartConfig struct {
	Baudrate UartBaudrate
	Stopbits UartStopbits
	Parity   UartParity
}

const uartConfigSize = 3

func (u UartConfig) encode(b []byte) {
	b[0] = uint8(u.Baudrate)
	b[1] = uint8(u.Stopbits)
	b[2] = uint8(u.Parity)
}

func decodeUartConfig(b []byte) UartConfig {
	return UartConfig{Baudrate: UartBaudrate(b[0]), Stopbits: UartStopbits(b[1]), Parity: UartParity(b[2])}
}

type CanConfig struct {
	Baudrate CanBaudrate
}

const canConfigSize = 1

// NetworkConfig carries the CB's self-advertised mDNS name.
type NetworkConfig struct {
	MdnsName [20]byte
}

const networkConfigSize = 20

// CbConfig is the complete configuration document the heartbeat/config
// service transmits every interval; it is the body of
// HostToCb_Heartbeat.
type CbConfig struct {
	ConfigVersion      uint32
	Safety             SafetyConfig
	Gpios              [NumGpios]GpioConfig
	Uarts              [NumUarts]UartConfig
	Can                CanConfig
	Network            NetworkConfig
	PlcPowersavingMode uint8
}

const CbConfigSize = 4 + safetyConfigSize + NumGpios*gpioConfigSize + NumUarts*uartConfigSize + canConfigSize + networkConfigSize + 1

func init() {
	if CbConfigSize > MaxCbStructSize {
		panic("wire: CbConfig exceeds MaxCbStructSize")
	}
}

// Name returns the mDNS name as a Go string, trimmed at the
// first NUL.
func (n NetworkConfig) Name() string {
	i := 0
	for ; i < len(n.MdnsName); i++ {
		if n.MdnsName[i] == 0 {
			break
		}
	}
	return string(n.MdnsName[:i])
}

// SetName copies s into the fixed mDNS name field, truncating or
// zero-padding as needed.
func (n *NetworkConfig) SetName(s string) {
	var buf [20]byte
	copy(buf[:], s)
	n.MdnsName = buf
}

// EncodeCbConfig packs c into its exact little-endian wire layout.
func EncodeCbConfig(c CbConfig) []byte {
	b := make([]byte, CbConfigSize)
	binary.LittleEndian.PutUint32(b[0:4], c.ConfigVersion)
	off := 4
	c.Safety.encode(b[off : off+safetyConfigSize])
	off += safetyConfigSize
	for i := range c.Gpios {
		c.Gpios[i].encode(b[off : off+gpioConfigSize])
		off += gpioConfigSize
	}
	for i := range c.Uarts {
		c.Uarts[i].encode(b[off : off+uartConfigSize])
		off += uartConfigSize
	}
	b[off] = uint8(c.Can.Baudrate)
	off += canConfigSize
	copy(b[off:off+networkConfigSize], c.Network.MdnsName[:])
	off += networkConfigSize
	b[off] = c.PlcPowersavingMode
	return b
}

// DecodeCbConfig is the inverse of EncodeCbConfig; it returns an error
// if body is not exactly CbConfigSize bytes.
func DecodeCbConfig(body []byte) (CbConfig, error) {
	if len(body) != CbConfigSize {
		return CbConfig{}, fmt.Errorf("%w: CbConfig wants %d bytes, got %d", ErrBadLength, CbConfigSize, len(body))
	}
	var c CbConfig
	c.ConfigVersion = binary.LittleEndian.Uint32(body[0:4])
	off := 4
	c.Safety = decodeSafetyConfig(body[off : off+safetyConfigSize])
	off += safetyConfigSize
	for i := range c.Gpios {
		c.Gpios[i] = decodeGpioConfig(body[off : off+gpioConfigSize])
		off += gpioConfigSize
	}
	for i := range c.Uarts {
		c.Uarts[i] = decodeUartConfig(body[off : off+uartConfigSize])
		off += uartConfigSize
	}
	c.Can = CanConfig{Baudrate: CanBaudrate(body[off])}
	off += canConfigSize
	copy(c.Network.MdnsName[:], body[off:off+networkConfigSize])
	off += networkConfigSize
	c.PlcPowersavingMode = body[off]
	return c, nil
}
