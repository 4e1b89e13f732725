package bsp

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
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

func (r *recordingPublisher) events(topic string) []any {
	var out []any
	for i, tp := range r.topics {
		if tp == topic {
			out = append(out, r.payloads[i])
		}
	}
	return out
}

type recordingSender struct {
	sent []wire.BSPCommand
}

func (s *recordingSender) Send(cmd wire.BSPCommand) error {
	s.sent = append(s.sent, cmd)
	return nil
}

func newTestTranslator() (*Translator, *recordingPublisher, *recordingSender) {
	pub := &recordingPublisher{}
	send := &recordingSender{}
	tr := NewTranslator(slog.Default(), pub, send, &wire.BSPCommand{})
	tr.Enable(true)
	return tr, pub, send
}

func TestCPStateSequenceAToBToC(t *testing.T) {
	tr, pub, _ := newTestTranslator()

	tr.OnStatus(wire.BSPStatus{CpState: wire.CpStateA})
	tr.OnStatus(wire.BSPStatus{CpState: wire.CpStateB})
	tr.OnStatus(wire.BSPStatus{CpState: wire.CpStateC})

	assert.Equal(t, []any{"A", "B", "C"}, pub.events("event"))
	clears := pub.events("clear_error")
	assert.Contains(t, clears, ErrorEvent{Kind: KindMREC14PilotFault})
	assert.Contains(t, clears, ErrorEvent{Kind: KindDiodeFault})
}

func TestDiodeFaultThenRecovery(t *testing.T) {
	tr, pub, _ := newTestTranslator()

	tr.OnStatus(wire.BSPStatus{CpState: wire.CpStateDF})
	assert.Contains(t, pub.events("event"), "E")
	assert.Contains(t, pub.events("raise_error"), ErrorEvent{Kind: KindDiodeFault, Message: "Diode Fault"})

	tr.OnStatus(wire.BSPStatus{CpState: wire.CpStateA})
	assert.Contains(t, pub.events("clear_error"), ErrorEvent{Kind: KindMREC14PilotFault})
	assert.Contains(t, pub.events("clear_error"), ErrorEvent{Kind: KindDiodeFault})
}

func TestEdgeDrivenErrorTablePPInvalid(t *testing.T) {
	tr, pub, _ := newTestTranslator()

	tr.OnStatus(wire.BSPStatus{ErrorFlags: wire.FlagPpInvalid})
	raises := pub.events("raise_error")
	assert.Len(t, raises, 1)
	assert.Equal(t, ErrorEvent{Kind: KindMREC23ProximityFault, Message: "PP invalid"}, raises[0])

	tr.OnStatus(wire.BSPStatus{ErrorFlags: 0})
	// Both statuses carry CP state A, which also clears
	// MREC14PilotFault and DiodeFault; only the PP clear is counted.
	var clears []any
	for _, c := range pub.events("clear_error") {
		if c.(ErrorEvent).Kind == KindMREC23ProximityFault {
			clears = append(clears, c)
		}
	}
	assert.Len(t, clears, 1)
	assert.Equal(t, ErrorEvent{Kind: KindMREC23ProximityFault, Message: "PP invalid"}, clears[0])
}

func TestPwmRoundTrip(t *testing.T) {
	tr, _, send := newTestTranslator()
	tr.PwmOn(50.0)
	assert.Equal(t, uint32(5000), tr.Command().PwmDutyCycle)
	assert.Equal(t, uint32(5000), send.sent[len(send.sent)-1].PwmDutyCycle)
}

func TestCPStateSentinels(t *testing.T) {
	tr, _, _ := newTestTranslator()
	tr.CPStateX1()
	assert.Equal(t, wire.PwmDutyCycleDisabled, tr.Command().PwmDutyCycle)
	tr.CPStateF()
	assert.Equal(t, wire.PwmDutyCycleForceF, tr.Command().PwmDutyCycle)
}

func TestHostLivenessSupervisorFirstTickRaisesThenClears(t *testing.T) {
	tr, _, send := newTestTranslator()
	base := time.Unix(1000, 0)

	tr.Sync(base)
	last := send.sent[len(send.sent)-1]
	assert.Equal(t, uint8(0), last.AllowPowerOn)
	assert.Equal(t, wire.PwmDutyCycleFailSafe, last.PwmDutyCycle)

	tr.Heartbeat(base.Add(100*time.Millisecond), 1)
	tr.Sync(base.Add(200 * time.Millisecond))
	assert.True(t, tr.hostConnected)
}

func TestDiffErrorFlagsNoSpuriousEvents(t *testing.T) {
	raises, clears := DiffErrorFlags(wire.FlagPpInvalid, wire.FlagPpInvalid)
	assert.Empty(t, raises)
	assert.Empty(t, clears)
}
