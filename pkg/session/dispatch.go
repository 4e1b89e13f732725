package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/chargebridge/hostbridge/pkg/bsp"
)

// heartbeatPayload is the inbound body of a "heartbeat" bus operation,
// carrying the host-API's monotonically increasing counter id (design
// §4.4/§4.5's host-liveness supervisor input).
type heartbeatPayload struct {
	ID uint64 `json:"id"`
}

type enablePayload struct {
	Enable bool `json:"enable"`
}

type pwmOnPayload struct {
	DutyCycle float64 `json:"duty_cycle"`
}

type allowPowerOnPayload struct {
	Allow bool `json:"allow"`
}

type limitsPayload struct {
	EmergencyV float64 `json:"emergency_v"`
	ErrorV     float64 `json:"error_v"`
}

// dispatchBSPOperation routes one decoded bus operation name to the
// matching Translator method, per design §4.4's eight EVSE/EV bus
// operations plus heartbeat.
func dispatchBSPOperation(t *bsp.Translator, now time.Time, operation string, payload []byte) error {
	switch operation {
	case "enable":
		var p enablePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("session: enable: %w", err)
		}
		t.Enable(p.Enable)
	case "pwm_on":
		var p pwmOnPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("session: pwm_on: %w", err)
		}
		t.PwmOn(p.DutyCycle)
	case "cp_state_X1":
		t.CPStateX1()
	case "cp_state_F":
		t.CPStateF()
	case "allow_power_on":
		var p allowPowerOnPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("session: allow_power_on: %w", err)
		}
		t.AllowPowerOn(p.Allow)
	case "lock":
		t.Lock()
	case "unlock":
		t.Unlock()
	case "ac_switch_three_phases_while_charging":
		t.ACSwitchThreePhasesWhileCharging()
	case "evse_replug":
		t.EvseReplug()
	case "ac_overcurrent_limit":
		t.ACOvercurrentLimit()
	case "self_test":
		t.SelfTest()
	case "reset":
		t.Reset()
	case "heartbeat":
		var p heartbeatPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("session: heartbeat: %w", err)
		}
		t.Heartbeat(now, p.ID)
	default:
		return fmt.Errorf("session: unrecognized bsp operation %q", operation)
	}
	return nil
}

// dispatchOVMOperation routes one decoded bus operation name to the
// matching OVMTranslator method, per design §4.5's over-voltage-monitor
// bus operations.
func dispatchOVMOperation(o *bsp.OVMTranslator, now time.Time, operation string, payload []byte) error {
	switch operation {
	case "set_limits":
		var p limitsPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("session: set_limits: %w", err)
		}
		o.SetLimits(p.EmergencyV, p.ErrorV)
	case "start":
		o.Start()
	case "stop":
		o.Stop()
	case "reset_over_voltage_error":
		o.ResetOverVoltageError()
	case "heartbeat":
		var p heartbeatPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("session: ovm heartbeat: %w", err)
		}
		o.Heartbeat(now, p.ID)
	default:
		return fmt.Errorf("session: unrecognized ovm operation %q", operation)
	}
	return nil
}
