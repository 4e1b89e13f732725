package wire

import "fmt"

// GpioCommand/GpioStatus are the "minor twin" of the heartbeat/config
// channel: one value per configured GPIO, mode-dependent (digital
// level or PWM duty for outputs, measured level for inputs).
type GpioCommand struct {
	Values [NumGpios]uint16
}

type GpioStatus struct {
	Values [NumGpios]uint16
}

const gpioValuesSize = NumGpios * 2

func EncodeGpioCommand(g GpioCommand) []byte {
	return encodeGpioValues(g.Values)
}

func DecodeGpioCommand(body []byte) (GpioCommand, error) {
	v, err := decodeGpioValues(body)
	return GpioCommand{Values: v}, err
}

func EncodeGpioStatus(g GpioStatus) []byte {
	return encodeGpioValues(g.Values)
}

func DecodeGpioStatus(body []byte) (GpioStatus, error) {
	v, err := decodeGpioValues(body)
	return GpioStatus{Values: v}, err
}

func encodeGpioValues(values [NumGpios]uint16) []byte {
	b := make([]byte, gpioValuesSize)
	for i, v := range values {
		b[2*i] = byte(v)
		b[2*i+1] = byte(v >> 8)
	}
	return b
}

func decodeGpioValues(body []byte) ([NumGpios]uint16, error) {
	var values [NumGpios]uint16
	if len(body) != gpioValuesSize {
		return values, fmt.Errorf("%w: Gpio values want %d bytes, got %d", ErrBadLength, gpioValuesSize, len(body))
	}
	for i := range values {
		values[i] = uint16(body[2*i]) | uint16(body[2*i+1])<<8
	}
	return values, nil
}

type HostToCbGpio struct{ Command GpioCommand }

func (HostToCbGpio) WireTag() Tag { return TagHostToCbGpio }
func (h HostToCbGpio) EncodeFrame() ([]byte, error) {
	return Encode(TagHostToCbGpio, EncodeGpioCommand(h.Command))
}

type CbToHostGpio struct{ Status GpioStatus }

func (CbToHostGpio) WireTag() Tag { return TagCbToHostGpio }
