package bsp

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/chargebridge/hostbridge/pkg/wire"
)

func newTestOVM() (*OVMTranslator, *recordingPublisher, *recordingSender, *wire.BSPCommand) {
	pub := &recordingPublisher{}
	send := &recordingSender{}
	cmd := &wire.BSPCommand{}
	ovm := NewOVMTranslator(slog.Default(), pub, send, cmd)
	return ovm, pub, send, cmd
}

func TestOVMSetLimits(t *testing.T) {
	ovm, _, _, cmd := newTestOVM()
	ovm.Start()
	ovm.SetLimits(950.5, 800.0)

	assert.Equal(t, uint32(950500), cmd.OvmLimitEmergencyMV)
	assert.Equal(t, uint32(800000), cmd.OvmLimitErrorMV)
	assert.Equal(t, uint8(1), cmd.OvmEnable)
}

func TestOVMOverVoltageEdges(t *testing.T) {
	ovm, pub, _, _ := newTestOVM()

	ovm.OnStatus(wire.BSPStatus{ErrorFlags: wire.FlagDcHvOvEmergency, HvMV: 900000})
	assert.Contains(t, pub.events("raise_error"), ErrorEvent{Kind: KindMREC5OverVoltage, Subtype: "Emergency", Severity: SeverityHigh})
	assert.Contains(t, pub.events("voltage_measurement_V"), 900.0)

	ovm.OnStatus(wire.BSPStatus{CpState: wire.CpStateA})
	clears := pub.events("clear_error")
	assert.Contains(t, clears, ErrorEvent{Kind: KindMREC5OverVoltage, Subtype: "Emergency", Severity: SeverityHigh})
	assert.Contains(t, clears, ErrorEvent{Kind: KindMREC5OverVoltage, Subtype: "Error", Severity: SeverityMedium})
}
