package bsp

import (
	"log/slog"
	"math"
	"time"

	"github.com/chargebridge/hostbridge/pkg/wire"
)

// Publisher is the bus-facing side of a translator: it publishes a
// JSON-serializable payload to a topic relative to the translator's
// own prefix. The concrete implementation (pkg/bus) handles the
// actual MQTT publish and topic-prefixing.
type Publisher interface {
	Publish(topic string, payload any)
}

// Sender transmits the current BSP command struct to the CB; the
// translator calls it after every mutation, so "at most one command
// value is in flight" holds by construction (the UDP endpoint just
// overwrites its outbound slot).
type Sender interface {
	Send(cmd wire.BSPCommand) error
}

const (
	hostLivenessTimeout   = 2 * time.Second
	capabilitiesInterval  = 10 * time.Second
	communicationCheckSec = 1 * time.Second
)

// Translator is the EVSE-BSP translator of design §4.4: it owns the
// shared BSP command struct, diffs inbound statuses against the last
// observed one, and supervises host-API liveness via a counted
// heartbeat.
type Translator struct {
	log  *slog.Logger
	pub  Publisher
	send Sender

	cmd     *wire.BSPCommand
	enabled bool

	hasPrevStatus bool
	prevStatus    wire.BSPStatus

	lastHbTime     time.Time
	lastHbID       uint64
	hasHeartbeat   bool
	hostConnected  bool
	hostDetermined bool
	lastCapPublish time.Time
}

// NewTranslator builds a translator that mutates and transmits the
// shared BSP command struct cmd. The EVSE/EV translator and the OVM
// translator on the same connector are given the same *wire.BSPCommand
// (design §3, §4.5's "single command struct, never clobbers the
// other's fields"), so a Send carries the union of both interfaces'
// last-set state rather than overwriting it.
func NewTranslator(log *slog.Logger, pub Publisher, send Sender, cmd *wire.BSPCommand) *Translator {
	return &Translator{log: log, pub: pub, send: send, cmd: cmd}
}

// --- bus operations (host API -> CB command mutation) ---

func (t *Translator) Enable(on bool) {
	t.enabled = on
}

// PwmOn sets pwm_duty_cycle = round(f * 100), in hundredths of a
// percent; f=50.0 means 50.00% duty -> 5000.
func (t *Translator) PwmOn(f float64) {
	t.cmd.PwmDutyCycle = uint32(math.Round(f * 100))
	t.retransmit()
}

func (t *Translator) CPStateX1() {
	t.cmd.PwmDutyCycle = wire.PwmDutyCycleDisabled
	t.retransmit()
}

func (t *Translator) CPStateF() {
	t.cmd.PwmDutyCycle = wire.PwmDutyCycleForceF
	t.retransmit()
}

func (t *Translator) AllowPowerOn(on bool) {
	t.cmd.AllowPowerOn = boolToU8(on)
	t.retransmit()
}

func (t *Translator) Lock() {
	t.cmd.ConnectorLock = 1
	t.retransmit()
}

func (t *Translator) Unlock() {
	t.cmd.ConnectorLock = 0
	t.retransmit()
}

// ACSwitchThreePhasesWhileCharging, EvseReplug, ACOvercurrentLimit,
// SelfTest and Reset are accepted but not forwarded: documented
// no-ops for this revision, per design §4.4.
func (t *Translator) ACSwitchThreePhasesWhileCharging() { t.log.Debug("ac_switch_three_phases_while_charging: no-op") }
func (t *Translator) EvseReplug()                       { t.log.Debug("evse_replug: no-op") }
func (t *Translator) ACOvercurrentLimit()               { t.log.Debug("ac_overcurrent_limit: no-op") }
func (t *Translator) SelfTest()                         { t.log.Debug("self_test: no-op") }
func (t *Translator) Reset()                            { t.log.Debug("reset: no-op") }

// Heartbeat records one host-API heartbeat id for the liveness
// supervisor; ids must be monotonically increasing with no more than
// a single-id gap.
func (t *Translator) Heartbeat(now time.Time, id uint64) {
	if t.hasHeartbeat && (id < t.lastHbID || id > t.lastHbID+1) {
		t.log.Warn("host heartbeat id discontinuity", "prev", t.lastHbID, "got", id)
	}
	t.lastHbID = id
	t.hasHeartbeat = true
	t.lastHbTime = now
}

func (t *Translator) retransmit() {
	if err := t.send.Send(*t.cmd); err != nil {
		t.log.Error("bsp command send failed", "err", err)
	}
}

// ApplyFailSafe forces the fail-safe command values (PWM -> State F
// equivalent sentinel, power disallowed) and retransmits. Both the
// host-API liveness supervisor (on disconnect edge, §4.4) and the
// connector's CB-liveness supervisor (§4.6, §7) drive the BSP to this
// same state.
func (t *Translator) ApplyFailSafe() {
	t.cmd.AllowPowerOn = 0
	t.cmd.PwmDutyCycle = wire.PwmDutyCycleFailSafe
	t.retransmit()
}

func boolToU8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// --- inbound CB status -> bus events ---

// OnStatus diffs status against the previous snapshot and emits all
// resulting bus events: CP/relay/PP state, edge-triggered error
// raises/clears, and warning logs. The CP and PP events go out on
// every status; the relay event only when the relay state differs
// from the previous snapshot (Open before the first status).
// Emission of CP/relay events is gated on enabled=true; the error
// table is not.
func (t *Translator) OnStatus(status wire.BSPStatus) {
	prevFlags := uint32(0)
	if t.hasPrevStatus {
		prevFlags = t.prevStatus.ErrorFlags
	}
	raises, clears := DiffErrorFlags(prevFlags, status.ErrorFlags)
	for _, r := range raises {
		t.pub.Publish("raise_error", r)
	}
	for _, c := range clears {
		t.pub.Publish("clear_error", c)
	}
	for _, w := range ActiveWarnings(status.ErrorFlags) {
		t.log.Warn("bsp warning flag active", "flag", w)
	}

	if t.enabled {
		t.emitCPState(status.CpState)
		if status.RelayState != t.prevStatus.RelayState {
			t.pub.Publish("event", relayEventFor(status.RelayState))
		}
		t.emitProximityPilot(status)
	}

	t.hasPrevStatus = true
	t.prevStatus = status
}

func (t *Translator) emitCPState(cp wire.CpState) {
	switch cp {
	case wire.CpStateDF:
		t.pub.Publish("event", "E")
		t.pub.Publish("raise_error", ErrorEvent{Kind: KindDiodeFault, Message: "Diode Fault"})
	case wire.CpStateInvalid:
		t.pub.Publish("event", "E")
		t.pub.Publish("raise_error", ErrorEvent{Kind: KindMREC14PilotFault})
	case wire.CpStateA:
		t.pub.Publish("event", "A")
		t.pub.Publish("clear_error", ErrorEvent{Kind: KindMREC14PilotFault})
		t.pub.Publish("clear_error", ErrorEvent{Kind: KindDiodeFault})
	default:
		t.pub.Publish("event", cp.String())
	}
}

func relayEventFor(r wire.RelayState) string {
	if r == wire.RelayClosed {
		return "PowerOn"
	}
	return "PowerOff"
}

func (t *Translator) emitProximityPilot(status wire.BSPStatus) {
	switch status.PpStateType2 {
	case wire.PpType2NC:
		t.pub.Publish("ac_pp_ampacity", "None")
	case wire.PpType2A13:
		t.pub.Publish("ac_pp_ampacity", "A_13")
	case wire.PpType2A20:
		t.pub.Publish("ac_pp_ampacity", "A_20")
	case wire.PpType2A32:
		t.pub.Publish("ac_pp_ampacity", "A_32")
	case wire.PpType2A70:
		t.pub.Publish("ac_pp_ampacity", "A_63_3ph_70_1ph")
	case wire.PpType2Fault:
		t.pub.Publish("raise_error", ErrorEvent{Kind: KindMREC23ProximityFault})
	}
	if status.PpStateType1 == wire.PpType1ConnectedButtonPressed {
		t.pub.Publish("request_stop_transaction", "EVDisconnected")
	}
}

// Sync runs the 1-second host-liveness and capabilities cadence; the
// API connector's sync timer drives it. The first tick that finds the
// host disconnected (including the very first tick with no heartbeat
// yet) applies the fail-safe, as does every later disconnect edge.
func (t *Translator) Sync(now time.Time) {
	wasConnected := t.hostConnected
	firstTick := !t.hostDetermined
	nowConnected := t.hasHeartbeat && now.Sub(t.lastHbTime) < hostLivenessTimeout
	t.hostConnected = nowConnected
	t.hostDetermined = true

	if nowConnected && !wasConnected {
		t.publishCapabilities()
		t.pub.Publish("event", t.lastKnownCPEvent())
	}
	if !nowConnected && (wasConnected || firstTick) {
		t.ApplyFailSafe()
	}

	t.pub.Publish("communication_check", true)

	if t.lastCapPublish.IsZero() || now.Sub(t.lastCapPublish) >= capabilitiesInterval {
		t.publishCapabilities()
		t.lastCapPublish = now
	}
}

func (t *Translator) publishCapabilities() {
	t.pub.Publish("capabilities", map[string]any{"evse_bsp": true})
}

func (t *Translator) lastKnownCPEvent() string {
	if !t.hasPrevStatus {
		return "A"
	}
	return t.prevStatus.CpState.String()
}

// Command returns a copy of the current shared BSP command struct, as
// read by tests asserting the PWM/encoding invariants of §8.
func (t *Translator) Command() wire.BSPCommand { return *t.cmd }
