// Package gpio implements the GPIO passthrough of design §4.8: the
// minor twin of pkg/heartbeatsvc, carrying a fixed-width array of raw
// values out to the CB on HostToCb_Gpio and republishing whatever
// comes back on CbToHost_Gpio to the bus, with no interpretation of
// individual lines (that belongs to the board-specific BSP
// translators).
package gpio

import (
	"log/slog"

	"github.com/chargebridge/hostbridge/pkg/wire"
)

// Sender transmits an already-tagged wire frame.
type Sender interface {
	Send(frame []byte) error
}

// Publisher republishes an inbound GPIO snapshot to the bus.
type Publisher interface {
	Publish(topic string, payload any)
}

// Bridge is component M.
type Bridge struct {
	log  *slog.Logger
	send Sender
	pub  Publisher

	values [wire.NumGpios]uint16
}

func New(log *slog.Logger, send Sender, pub Publisher) *Bridge {
	return &Bridge{log: log, send: send, pub: pub}
}

// SetValue stages one output line for the next Push; line indices
// follow the CB's fixed GPIO numbering, and an index outside
// [0, wire.NumGpios) is logged and ignored.
func (b *Bridge) SetValue(line int, value uint16) {
	if line < 0 || line >= len(b.values) {
		b.log.Warn("gpio: line index out of range", "line", line)
		return
	}
	b.values[line] = value
}

// Push transmits the current staged snapshot as HostToCb_Gpio.
func (b *Bridge) Push() error {
	cmd := wire.HostToCbGpio{Command: wire.GpioCommand{Values: b.values}}
	frame, err := cmd.EncodeFrame()
	if err != nil {
		return err
	}
	return b.send.Send(frame)
}

// OnGpio handles an inbound CbToHost_Gpio decode, republishing it as a
// single bus event with the raw snapshot.
func (b *Bridge) OnGpio(status wire.CbToHostGpio) {
	b.pub.Publish("gpio_status", status.Status.Values)
}
