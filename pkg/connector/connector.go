// Package connector implements the API connector of design §4.6: it
// owns one bus client, one UDP endpoint to the CB's BSP port, and the
// EVSE/EV and OVM translators, and runs the 1-second sync timer that
// drives both the translators' host-liveness supervisors and its own
// CB-liveness supervisor.
package connector

import (
	"errors"
	"log/slog"
	"time"

	"github.com/chargebridge/hostbridge/pkg/bsp"
	"github.com/chargebridge/hostbridge/pkg/wire"
)

// ErrMutuallyExclusiveBSP is a fatal configuration error: EVSE and EV
// board-support cannot both be enabled on the same connector.
var ErrMutuallyExclusiveBSP = errors.New("connector: evse_bsp and ev_bsp are mutually exclusive")

const cbLivenessTimeout = 2 * time.Second

// UDPSender is the minimal udpconn.Endpoint surface the connector
// needs, kept narrow so tests can substitute a fake.
type UDPSender interface {
	Tx(payload []byte) error
}

type bspSender struct{ udp UDPSender }

func (s bspSender) Send(cmd wire.BSPCommand) error { return s.udp.Tx(wire.EncodeBSPCommand(cmd)) }

// Connector is component K.
type Connector struct {
	log *slog.Logger
	udp UDPSender

	// one of these is non-nil, enforced by New's mutual-exclusivity check
	evse *bsp.Translator
	ev   *bsp.Translator

	ovm *bsp.OVMTranslator

	cmd wire.BSPCommand

	hasCbHeartbeat  bool
	lastCbHeartbeat time.Time
	hasDetermined   bool
	cbConnected     bool

	mainPub bsp.Publisher // whichever of evse/ev's publisher raises CommunicationFault
}

// New constructs the connector. evsePub/evPub/ovmPub are the
// bus.Client-backed publishers for each enabled interface (nil if
// that interface is disabled). Exactly one of enableEVSE/enableEV may
// be true.
func New(log *slog.Logger, udp UDPSender, enableEVSE, enableEV, enableOVM bool, evsePub, evPub, ovmPub bsp.Publisher) (*Connector, error) {
	if enableEVSE && enableEV {
		return nil, ErrMutuallyExclusiveBSP
	}
	c := &Connector{log: log, udp: udp}
	sender := bspSender{udp: udp}

	if enableEVSE {
		c.evse = bsp.NewTranslator(log.With("translator", "evse"), evsePub, sender, &c.cmd)
		c.mainPub = evsePub
	}
	if enableEV {
		c.ev = bsp.NewTranslator(log.With("translator", "ev"), evPub, sender, &c.cmd)
		c.mainPub = evPub
	}
	if enableOVM {
		c.ovm = bsp.NewOVMTranslator(log.With("translator", "ovm"), ovmPub, sender, &c.cmd)
	}
	return c, nil
}

// EVSE/EV/OVM expose the underlying translators for bus-operation
// dispatch (pkg/bus subscription handlers call into these).
func (c *Connector) EVSE() *bsp.Translator    { return c.evse }
func (c *Connector) EV() *bsp.Translator      { return c.ev }
func (c *Connector) OVM() *bsp.OVMTranslator  { return c.ovm }

// OnStatus fans one inbound BSP status out to every enabled
// translator and updates the CB-liveness timestamp.
func (c *Connector) OnStatus(now time.Time, status wire.BSPStatus) {
	if c.evse != nil {
		c.evse.OnStatus(status)
	}
	if c.ev != nil {
		c.ev.OnStatus(status)
	}
	if c.ovm != nil {
		c.ovm.OnStatus(status)
	}
	c.hasCbHeartbeat = true
	c.lastCbHeartbeat = now
}

// Sync runs the 1-second cadence: translator host-liveness/
// capabilities, plus this connector's own CB-liveness supervisor. The
// first tick always emits one of the connect/disconnect edges ("the
// initial comm check").
func (c *Connector) Sync(now time.Time) {
	if c.evse != nil {
		c.evse.Sync(now)
	}
	if c.ev != nil {
		c.ev.Sync(now)
	}

	nowConnected := c.hasCbHeartbeat && now.Sub(c.lastCbHeartbeat) < cbLivenessTimeout
	if !c.hasDetermined || nowConnected != c.cbConnected {
		c.cbConnected = nowConnected
		c.hasDetermined = true
		if c.mainPub != nil {
			if nowConnected {
				c.mainPub.Publish("clear_error", bsp.ErrorEvent{Kind: bsp.KindCommunicationFault, Subtype: "ChargeBridge not available"})
			} else {
				c.mainPub.Publish("raise_error", bsp.ErrorEvent{Kind: bsp.KindCommunicationFault, Subtype: "ChargeBridge not available"})
				// A disconnected CB falls into the same fail-safe as a
				// host-API stall (design §7).
				if c.evse != nil {
					c.evse.ApplyFailSafe()
				}
				if c.ev != nil {
					c.ev.ApplyFailSafe()
				}
			}
		}
	}
}

// Connected reports the last-determined CB-liveness boolean. The
// bridge supervisor does not read it; its connectivity comes from the
// heartbeat service.
func (c *Connector) Connected() bool { return c.cbConnected }
