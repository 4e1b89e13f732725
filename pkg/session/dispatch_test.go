package session

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/chargebridge/hostbridge/pkg/bsp"
	"github.com/chargebridge/hostbridge/pkg/wire"
)

type recordingPublisher struct {
	topics   []string
	payloads []any
}

func (r *recordingPublisher) Publish(topic string, payload any) {
	r.topics = append(r.topics, topic)
	r.payloads = append(r.payloads, payload)
}

type recordingSender struct {
	sent []wire.BSPCommand
}

func (s *recordingSender) Send(cmd wire.BSPCommand) error {
	s.sent = append(s.sent, cmd)
	return nil
}

func TestDispatchBSPOperationPwmOn(t *testing.T) {
	pub, send := &recordingPublisher{}, &recordingSender{}
	tr := bsp.NewTranslator(slog.Default(), pub, send, &wire.BSPCommand{})

	err := dispatchBSPOperation(tr, time.Now(), "pwm_on", []byte(`{"duty_cycle": 50}`))
	require.NoError(t, err)
	require.Len(t, send.sent, 1)
	assert.Equal(t, uint32(5000), send.sent[0].PwmDutyCycle)
}

func TestDispatchBSPOperationHeartbeat(t *testing.T) {
	pub, send := &recordingPublisher{}, &recordingSender{}
	tr := bsp.NewTranslator(slog.Default(), pub, send, &wire.BSPCommand{})

	err := dispatchBSPOperation(tr, time.Now(), "heartbeat", []byte(`{"id": 7}`))
	require.NoError(t, err)
}

func TestDispatchBSPOperationCPStateX1(t *testing.T) {
	pub, send := &recordingPublisher{}, &recordingSender{}
	tr := bsp.NewTranslator(slog.Default(), pub, send, &wire.BSPCommand{})

	err := dispatchBSPOperation(tr, time.Now(), "cp_state_X1", nil)
	require.NoError(t, err)
	require.Len(t, send.sent, 1)
	assert.Equal(t, wire.PwmDutyCycleDisabled, send.sent[0].PwmDutyCycle)
}

func TestDispatchBSPOperationCPStateF(t *testing.T) {
	pub, send := &recordingPublisher{}, &recordingSender{}
	tr := bsp.NewTranslator(slog.Default(), pub, send, &wire.BSPCommand{})

	err := dispatchBSPOperation(tr, time.Now(), "cp_state_F", nil)
	require.NoError(t, err)
	require.Len(t, send.sent, 1)
	assert.Equal(t, wire.PwmDutyCycleForceF, send.sent[0].PwmDutyCycle)
}

func TestDispatchBSPOperationUnknownReturnsError(t *testing.T) {
	pub, send := &recordingPublisher{}, &recordingSender{}
	tr := bsp.NewTranslator(slog.Default(), pub, send, &wire.BSPCommand{})

	err := dispatchBSPOperation(tr, time.Now(), "not_a_real_operation", nil)
	assert.Error(t, err)
}

func TestDispatchOVMOperationSetLimits(t *testing.T) {
	pub, send := &recordingPublisher{}, &recordingSender{}
	var cmd wire.BSPCommand
	o := bsp.NewOVMTranslator(slog.Default(), pub, send, &cmd)

	err := dispatchOVMOperation(o, time.Now(), "set_limits", []byte(`{"emergency_v": 450, "error_v": 420}`))
	require.NoError(t, err)
	require.Len(t, send.sent, 1)
	assert.Equal(t, uint32(450000), send.sent[0].OvmLimitEmergencyMV)
	assert.Equal(t, uint32(420000), send.sent[0].OvmLimitErrorMV)
}

func TestDispatchOVMOperationUnknownReturnsError(t *testing.T) {
	pub, send := &recordingPublisher{}, &recordingSender{}
	var cmd wire.BSPCommand
	o := bsp.NewOVMTranslator(slog.Default(), pub, send, &cmd)

	err := dispatchOVMOperation(o, time.Now(), "not_a_real_operation", nil)
	assert.Error(t, err)
}

// TestCombinedEVSEAndOVMSendsShareOneCommandStruct drives both an EVSE
// translator and an OVM translator built over the same *wire.BSPCommand
// (as Connector.New wires them) and asserts that a send issued by
// either one carries the union of both interfaces' last-set fields,
// rather than each clobbering the other's state.
func TestCombinedEVSEAndOVMSendsShareOneCommandStruct(t *testing.T) {
	pub, send := &recordingPublisher{}, &recordingSender{}
	var cmd wire.BSPCommand
	tr := bsp.NewTranslator(slog.Default(), pub, send, &cmd)
	o := bsp.NewOVMTranslator(slog.Default(), pub, send, &cmd)

	require.NoError(t, dispatchBSPOperation(tr, time.Now(), "pwm_on", []byte(`{"duty_cycle": 50}`)))
	require.NoError(t, dispatchOVMOperation(o, time.Now(), "set_limits", []byte(`{"emergency_v": 450, "error_v": 420}`)))

	require.Len(t, send.sent, 2)
	last := send.sent[len(send.sent)-1]
	assert.Equal(t, uint32(5000), last.PwmDutyCycle)
	assert.Equal(t, uint32(450000), last.OvmLimitEmergencyMV)
	assert.Equal(t, uint32(420000), last.OvmLimitErrorMV)
}
