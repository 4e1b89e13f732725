// Package tunnel implements the passthrough tunnels of design §2
// Component N: a structurally simple relay between one fixed UDP port
// and one local transport (SocketCAN, a serial TTY, or nothing for
// the PLC loopback simulator), carrying raw length-prefixed payloads
// with no framing semantics of its own. Grounded on the teacher's own
// direct dependency github.com/brutella/can for the CAN0 side and on
// the Daedaluz-goserial example repo for the Serial1/Serial2 sides.
package tunnel

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/brutella/can"
	serial "github.com/daedaluz/goserial"
	"github.com/chargebridge/hostbridge/pkg/udpconn"
)

// lengthPrefixSize is the size of the local-payload length prefix
// in front of the single relayed unit each UDP datagram carries;
// unwrap rejects a datagram whose prefix does not match its body
// length. CAN frames and serial chunks share this same wrapping.
const lengthPrefixSize = 2

func wrap(payload []byte) []byte {
	out := make([]byte, lengthPrefixSize+len(payload))
	binary.LittleEndian.PutUint16(out[:lengthPrefixSize], uint16(len(payload)))
	copy(out[lengthPrefixSize:], payload)
	return out
}

func unwrap(frame []byte) ([]byte, error) {
	if len(frame) < lengthPrefixSize {
		return nil, fmt.Errorf("tunnel: frame shorter than length prefix")
	}
	n := binary.LittleEndian.Uint16(frame[:lengthPrefixSize])
	body := frame[lengthPrefixSize:]
	if int(n) != len(body) {
		return nil, fmt.Errorf("tunnel: length prefix %d does not match body %d", n, len(body))
	}
	return body, nil
}

// CANBridge relays CAN0 traffic per design §2/§6: one UDP endpoint
// (port 6003) paired with one SocketCAN interface.
type CANBridge struct {
	log *slog.Logger
	udp *udpconn.Endpoint
	bus *can.Bus
}

// NewCANBridge opens the named SocketCAN interface (e.g. "can0") and
// pairs it with udp, the already-open endpoint to the CB's CAN0 UDP
// port.
func NewCANBridge(log *slog.Logger, ifaceName string, udp *udpconn.Endpoint) (*CANBridge, error) {
	bus, err := can.NewBusForInterfaceWithName(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("tunnel: can0: %w", err)
	}
	b := &CANBridge{log: log, udp: udp, bus: bus}
	bus.SubscribeFunc(b.onCANFrame)
	return b, nil
}

func (b *CANBridge) onCANFrame(frame can.Frame) {
	payload := make([]byte, 4+1+int(frame.Length))
	binary.LittleEndian.PutUint32(payload[0:4], frame.ID)
	payload[4] = frame.Length
	copy(payload[5:], frame.Data[:frame.Length])
	if err := b.udp.Tx(wrap(payload)); err != nil {
		b.log.Error("can0 tunnel: udp tx failed", "err", err)
	}
}

// OnUDPDatagram decodes one relayed CAN frame arriving from the CB
// side and republishes it on the local SocketCAN bus.
func (b *CANBridge) OnUDPDatagram(datagram []byte) error {
	payload, err := unwrap(datagram)
	if err != nil {
		return err
	}
	if len(payload) < 5 {
		return fmt.Errorf("tunnel: can0 payload too short")
	}
	id := binary.LittleEndian.Uint32(payload[0:4])
	length := payload[4]
	var frame can.Frame
	frame.ID = id
	frame.Length = length
	copy(frame.Data[:], payload[5:])
	return b.bus.Publish(frame)
}

// Run starts the CAN bus's own receive loop; it blocks until the bus
// is disconnected or ctx-equivalent shutdown closes the interface.
func (b *CANBridge) Run() error { return b.bus.ConnectAndPublish() }

func (b *CANBridge) Close() error { return b.bus.Disconnect() }

// SerialBridge relays Serial1/Serial2 traffic: a UDP endpoint paired
// with a TTY opened via goserial.
type SerialBridge struct {
	log  *slog.Logger
	udp  *udpconn.Endpoint
	port *serial.Port
	name string
}

// NewSerialBridge opens devicePath (e.g. "/dev/ttyUSB0") with
// goserial's default blocking-read options and pairs it with udp.
func NewSerialBridge(log *slog.Logger, name, devicePath string, udp *udpconn.Endpoint) (*SerialBridge, error) {
	opts := serial.NewOptions()
	port, err := serial.Open(devicePath, opts)
	if err != nil {
		return nil, fmt.Errorf("tunnel: %s: %w", name, err)
	}
	return &SerialBridge{log: log, udp: udp, port: port, name: name}, nil
}

// ReadLoop blocks reading from the serial port and forwards each
// chunk read over the UDP endpoint, until the port is closed.
func (b *SerialBridge) ReadLoop() error {
	buf := make([]byte, 1024)
	for {
		n, err := b.port.Read(buf)
		if err != nil {
			return fmt.Errorf("tunnel: %s: read: %w", b.name, err)
		}
		if n == 0 {
			continue
		}
		if err := b.udp.Tx(wrap(buf[:n])); err != nil {
			b.log.Error("serial tunnel: udp tx failed", "name", b.name, "err", err)
		}
	}
}

// OnUDPDatagram writes one relayed chunk from the CB side out to the
// local TTY.
func (b *SerialBridge) OnUDPDatagram(datagram []byte) error {
	payload, err := unwrap(datagram)
	if err != nil {
		return err
	}
	_, err = b.port.Write(payload)
	return err
}

func (b *SerialBridge) Close() error { return b.port.Close() }

// PLCBridge is the PLC passthrough of design §2/§11: no real local
// transport exists for it in this environment, so it is a loopback
// simulator that answers any datagram with an empty acknowledgement,
// unless SetPowersaving(true) has put it into the silent idle mode.
// The session does not call SetPowersaving, so the simulator always
// answers there.
type PLCBridge struct {
	log         *slog.Logger
	udp         *udpconn.Endpoint
	powersaving bool
}

func NewPLCBridge(log *slog.Logger, udp *udpconn.Endpoint) *PLCBridge {
	return &PLCBridge{log: log, udp: udp}
}

// SetPowersaving switches the simulator's silent idle mode on or off;
// it is not tied to CbConfig.PlcPowersavingMode.
func (b *PLCBridge) SetPowersaving(on bool) { b.powersaving = on }

// OnUDPDatagram acknowledges a relayed PLC datagram; in powersaving
// mode the simulator stays silent, matching a real PLC modem's idle
// link behavior.
func (b *PLCBridge) OnUDPDatagram(datagram []byte) error {
	if b.powersaving {
		return nil
	}
	_, err := unwrap(datagram)
	if err != nil {
		return err
	}
	return b.udp.Tx(wrap(nil))
}
