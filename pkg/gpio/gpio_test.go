package gpio

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/chargebridge/hostbridge/pkg/wire"
)

type recordingSender struct{ frames [][]byte }

func (r *recordingSender) Send(frame []byte) error {
	r.frames = append(r.frames, append([]byte(nil), frame...))
	return nil
}

type recordingPub struct {
	topic   string
	payload any
}

func (r *recordingPub) Publish(topic string, payload any) {
	r.topic, r.payload = topic, payload
}

func TestPushEncodesStagedValues(t *testing.T) {
	send := &recordingSender{}
	b := New(slog.Default(), send, &recordingPub{})

	b.SetValue(0, 4095)
	b.SetValue(9, 17)
	require.NoError(t, b.Push())

	require.Len(t, send.frames, 1)
	decoded, err := wire.Decode(send.frames[0])
	require.NoError(t, err)
	cmd := decoded.(wire.HostToCbGpio)
	assert.Equal(t, uint16(4095), cmd.Command.Values[0])
	assert.Equal(t, uint16(17), cmd.Command.Values[9])
}

func TestSetValueIgnoresOutOfRangeLine(t *testing.T) {
	b := New(slog.Default(), &recordingSender{}, &recordingPub{})
	b.SetValue(99, 1)
	require.NoError(t, b.Push())
}

func TestOnGpioPublishesSnapshot(t *testing.T) {
	pub := &recordingPub{}
	b := New(slog.Default(), &recordingSender{}, pub)

	var status wire.GpioStatus
	status.Values[3] = 500
	b.OnGpio(wire.CbToHostGpio{Status: status})

	assert.Equal(t, "gpio_status", pub.topic)
	values := pub.payload.([wire.NumGpios]uint16)
	assert.Equal(t, uint16(500), values[3])
}
