package bsp

import (
	"log/slog"
	"time"

	"github.com/chargebridge/hostbridge/pkg/wire"
)

// OVMTranslator is the over-voltage-monitor translator of design
// §4.5: a smaller surface sharing the same host-bound BSP command
// struct as Translator, restricted to hv_mV and the two dc_hv_ov
// sub-bits.
type OVMTranslator struct {
	log  *slog.Logger
	pub  Publisher
	send Sender

	cmd *wire.BSPCommand // shared with the owning connector's EVSE translator

	hasPrevFlags bool
	prevFlags    uint32

	hasHeartbeat  bool
	lastHbTime    time.Time
	lastHbID      uint64
}

func NewOVMTranslator(log *slog.Logger, pub Publisher, send Sender, cmd *wire.BSPCommand) *OVMTranslator {
	return &OVMTranslator{log: log, pub: pub, send: send, cmd: cmd}
}

func (o *OVMTranslator) SetLimits(emergencyV, errorV float64) {
	o.cmd.OvmLimitEmergencyMV = uint32(emergencyV * 1000)
	o.cmd.OvmLimitErrorMV = uint32(errorV * 1000)
	o.retransmit()
}

func (o *OVMTranslator) Start() {
	o.cmd.OvmEnable = 1
	o.cmd.OvmResetErrors = 0
	o.retransmit()
}

func (o *OVMTranslator) Stop() {
	o.cmd.OvmEnable = 0
	o.retransmit()
}

func (o *OVMTranslator) ResetOverVoltageError() {
	o.cmd.OvmResetErrors = 1
	o.retransmit()
}

func (o *OVMTranslator) Heartbeat(now time.Time, id uint64) {
	if o.hasHeartbeat && (id < o.lastHbID || id > o.lastHbID+1) {
		o.log.Warn("ovm host heartbeat id discontinuity", "prev", o.lastHbID, "got", id)
	}
	o.lastHbID = id
	o.hasHeartbeat = true
	o.lastHbTime = now
}

func (o *OVMTranslator) retransmit() {
	if err := o.send.Send(*o.cmd); err != nil {
		o.log.Error("ovm command send failed", "err", err)
	}
}

// OnStatus publishes voltage_measurement_V on every status and
// edge-raises/clears MREC5OverVoltage from the two dc_hv_ov sub-bits
// independently (unlike the EVSE table's OR'd compatibility shim).
func (o *OVMTranslator) OnStatus(status wire.BSPStatus) {
	o.pub.Publish("voltage_measurement_V", float64(status.HvMV)/1000.0)

	prev := uint32(0)
	if o.hasPrevFlags {
		prev = o.prevFlags
	}
	next := status.ErrorFlags

	wasEmergency := prev&wire.FlagDcHvOvEmergency != 0
	isEmergency := next&wire.FlagDcHvOvEmergency != 0
	if !wasEmergency && isEmergency {
		o.pub.Publish("raise_error", ErrorEvent{Kind: KindMREC5OverVoltage, Subtype: "Emergency", Severity: SeverityHigh})
	} else if wasEmergency && !isEmergency {
		o.pub.Publish("clear_error", ErrorEvent{Kind: KindMREC5OverVoltage, Subtype: "Emergency", Severity: SeverityHigh})
	}

	wasError := prev&wire.FlagDcHvOvError != 0
	isError := next&wire.FlagDcHvOvError != 0
	if !wasError && isError {
		o.pub.Publish("raise_error", ErrorEvent{Kind: KindMREC5OverVoltage, Subtype: "Error", Severity: SeverityMedium})
	} else if wasError && !isError {
		o.pub.Publish("clear_error", ErrorEvent{Kind: KindMREC5OverVoltage, Subtype: "Error", Severity: SeverityMedium})
	}

	if status.CpState == wire.CpStateA {
		// Open question (SPEC_FULL.md §9): the source does not
		// distinguish Emergency/Error subtypes on this clear path.
		// Reproduced literally: clear both unconditionally.
		o.pub.Publish("clear_error", ErrorEvent{Kind: KindMREC5OverVoltage, Subtype: "Emergency", Severity: SeverityHigh})
		o.pub.Publish("clear_error", ErrorEvent{Kind: KindMREC5OverVoltage, Subtype: "Error", Severity: SeverityMedium})
	}

	o.hasPrevFlags = true
	o.prevFlags = next
}
