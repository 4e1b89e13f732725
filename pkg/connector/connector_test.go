package connector

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/chargebridge/hostbridge/pkg/bsp"
	"github.com/chargebridge/hostbridge/pkg/wire"
)

type fakeUDP struct{ sent [][]byte }

func (f *fakeUDP) Tx(payload []byte) error {
	f.sent = append(f.sent, append([]byte(nil), payload...))
	return nil
}

type recordingPub struct {
	raises []any
	clears []any
}

func (p *recordingPub) Publish(topic string, payload any) {
	switch topic {
	case "raise_error":
		p.raises = append(p.raises, payload)
	case "clear_error":
		p.clears = append(p.clears, payload)
	}
}

func TestNewRejectsBothEVSEAndEV(t *testing.T) {
	udp := &fakeUDP{}
	_, err := New(slog.Default(), udp, true, true, false, &recordingPub{}, &recordingPub{}, nil)
	assert.ErrorIs(t, err, ErrMutuallyExclusiveBSP)
}

func TestCBDisconnectFailSafe(t *testing.T) {
	udp := &fakeUDP{}
	pub := &recordingPub{}
	c, err := New(slog.Default(), udp, true, false, false, pub, nil, nil)
	require.NoError(t, err)

	base := time.Unix(1000, 0)
	c.OnStatus(base, wire.BSPStatus{CpState: wire.CpStateC})
	c.Sync(base)
	assert.True(t, c.Connected())

	c.Sync(base.Add(3 * time.Second)) // no further OnStatus: CB stopped replying
	assert.False(t, c.Connected())
	require.NotEmpty(t, pub.raises)
	last := pub.raises[len(pub.raises)-1].(bsp.ErrorEvent)
	assert.Equal(t, bsp.KindCommunicationFault, last.Kind)

	lastCmd, err := wire.DecodeBSPCommand(udp.sent[len(udp.sent)-1])
	require.NoError(t, err)
	assert.Equal(t, uint8(0), lastCmd.AllowPowerOn)
	assert.Equal(t, wire.PwmDutyCycleFailSafe, lastCmd.PwmDutyCycle)
}
