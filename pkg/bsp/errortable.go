// Package bsp implements the bidirectional translators between the
// bus-facing EVSE/OVM operation API and the CB's packed BSP
// command/status structs, including the edge-triggered safety error
// classification shared by both translators.
package bsp

import "github.com/chargebridge/hostbridge/pkg/wire"

// ErrorKind names an error class in the charge-manager error
// taxonomy; vendor-specific faults share one kind with a Subtype.
type ErrorKind string

const (
	KindMREC5OverVoltage     ErrorKind = "MREC5OverVoltage"
	KindMREC14PilotFault     ErrorKind = "MREC14PilotFault"
	KindMREC19CableOverTemp  ErrorKind = "MREC19CableOverTempStop"
	KindMREC23ProximityFault ErrorKind = "MREC23ProximityFault"
	KindDiodeFault           ErrorKind = "DiodeFault"
	KindVendorError          ErrorKind = "VendorError"
	KindCommunicationFault   ErrorKind = "CommunicationFault"
)

// Severity qualifies an OVM error raise; unused by the EVSE table,
// which has no graded severities.
type Severity string

const (
	SeverityHigh   Severity = "High"
	SeverityMedium Severity = "Medium"
	SeverityLow    Severity = "Low"
)

// ErrorEvent is what a raise/clear edge publishes to the bus.
type ErrorEvent struct {
	Kind     ErrorKind
	Subtype  string
	Message  string
	Severity Severity
}

// flagSpec binds a (possibly OR'd) subset of error_flags bits to the
// error event it edge-raises/clears. isActive is a predicate rather
// than a single bit mask so the dc_hv_ov compatibility shim — which
// treats two distinct CB bits as one EVSE-facing pseudo-flag — fits
// the same table shape as every single-bit entry.
type flagSpec struct {
	name     string
	isActive func(flags uint32) bool
	event    ErrorEvent
}

func bitActive(bit uint32) func(uint32) bool {
	return func(flags uint32) bool { return flags&bit != 0 }
}

// evseFlagTable is the EVSE-BSP error table of design §4.4, in the
// order it appears there. dc_hv_ov is the literal compatibility shim:
// either CB sub-bit sets the combined EVSE-facing VendorError(DV_HV)
// flag. See SPEC_FULL.md §9's "Open question" entries.
var evseFlagTable = []flagSpec{
	{"pp_invalid", bitActive(wire.FlagPpInvalid), ErrorEvent{KindMREC23ProximityFault, "", "PP invalid", ""}},
	{"plug_temperature_too_high", bitActive(wire.FlagPlugTemperatureTooHigh), ErrorEvent{KindMREC19CableOverTemp, "", "Plug temperature too high", ""}},
	{"internal_temperature_too_high", bitActive(wire.FlagInternalTemperatureTooHigh), ErrorEvent{KindVendorError, "INTTEMP", "ChargeBridge internal over temperature", ""}},
	{"emergency_input_latched", bitActive(wire.FlagEmergencyInputLatched), ErrorEvent{KindVendorError, "EMGINPUT", "Emergency input latched", ""}},
	{"relay_health_latched", bitActive(wire.FlagRelayHealthLatched), ErrorEvent{KindVendorError, "RELAYS", "Relay welded error", ""}},
	{"vdd_3v3_out_of_range", bitActive(wire.FlagVdd3V3OutOfRange), ErrorEvent{KindVendorError, "3V3", "3V3 rail out of range", ""}},
	{"vdd_core_out_of_range", bitActive(wire.FlagVddCoreOutOfRange), ErrorEvent{KindVendorError, "VDDCORE", "Core rail out of range", ""}},
	{"vdd_12V_out_of_range", bitActive(wire.FlagVdd12VOutOfRange), ErrorEvent{KindVendorError, "VCC12", "12V rail out of range", ""}},
	{"vdd_N12V_out_of_range", bitActive(wire.FlagVddN12VOutOfRange), ErrorEvent{KindVendorError, "VCCN12", "-12V rail out of range", ""}},
	{"vdd_refint_out_of_range", bitActive(wire.FlagVddRefintOutOfRange), ErrorEvent{KindVendorError, "VCCREF", "Internal reference rail out of range", ""}},
	{"config_mem_error", bitActive(wire.FlagConfigMemError), ErrorEvent{KindVendorError, "CONFIGMEM", "Configuration memory error", ""}},
	{
		name: "dc_hv_ov",
		isActive: func(flags uint32) bool {
			return flags&(wire.FlagDcHvOvEmergency|wire.FlagDcHvOvError) != 0
		},
		event: ErrorEvent{KindVendorError, "DV_HV", "DC HV over voltage", ""},
	},
}

// warningFlags are printed while active but never raised/cleared as
// errors; they are recomputed from the latest status only, not
// edge-diffed.
var warningFlags = []struct {
	name string
	bit  uint32
}{
	{"cp_not_state_c", wire.FlagCpNotStateC},
	{"pwm_not_enabled", wire.FlagPwmNotEnabled},
	{"external_allow_power_on", wire.FlagExternalAllowPowerOn},
}

// DiffErrorFlags computes the edge-triggered raise/clear set between
// two error_flags snapshots: a raise is emitted only on prev-inactive
// -> next-active, a clear only on prev-active -> next-inactive. It is
// a pure function per design note 9, making the core testable without
// I/O.
func DiffErrorFlags(prev, next uint32) (raises, clears []ErrorEvent) {
	for _, spec := range evseFlagTable {
		wasActive := spec.isActive(prev)
		isActive := spec.isActive(next)
		switch {
		case !wasActive && isActive:
			raises = append(raises, spec.event)
		case wasActive && !isActive:
			clears = append(clears, spec.event)
		}
	}
	return raises, clears
}

// ActiveWarnings returns the names of warning-only flags set in
// flags, for logging only.
func ActiveWarnings(flags uint32) []string {
	var active []string
	for _, w := range warningFlags {
		if flags&w.bit != 0 {
			active = append(active, w.name)
		}
	}
	return active
}
