package tunnel

import (
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/chargebridge/hostbridge/pkg/udpconn"
)

func TestWrapUnwrapRoundTrip(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5}
	got, err := unwrap(wrap(payload))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestUnwrapRejectsMismatchedLength(t *testing.T) {
	frame := wrap([]byte{1, 2, 3})
	frame[0] = 99 // corrupt the length prefix
	_, err := unwrap(frame)
	assert.Error(t, err)
}

func newLoopbackEndpoint(t *testing.T) (*udpconn.Endpoint, *net.UDPConn) {
	t.Helper()
	server, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	ep, err := udpconn.Open("127.0.0.1", server.LocalAddr().(*net.UDPAddr).Port)
	require.NoError(t, err)
	return ep, server
}

func TestPLCBridgeAcknowledgesWhenAwake(t *testing.T) {
	ep, server := newLoopbackEndpoint(t)
	defer ep.Close()
	defer server.Close()

	b := NewPLCBridge(slog.Default(), ep)
	require.NoError(t, b.OnUDPDatagram(wrap([]byte{7})))

	buf := make([]byte, 64)
	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := server.ReadFromUDP(buf)
	require.NoError(t, err)
	reply, err := unwrap(buf[:n])
	require.NoError(t, err)
	assert.Empty(t, reply)
}

func TestPLCBridgeStaysSilentInPowersavingMode(t *testing.T) {
	ep, server := newLoopbackEndpoint(t)
	defer ep.Close()
	defer server.Close()

	b := NewPLCBridge(slog.Default(), ep)
	b.SetPowersaving(true)
	require.NoError(t, b.OnUDPDatagram(wrap([]byte{7})))

	server.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 64)
	_, _, err := server.ReadFromUDP(buf)
	assert.Error(t, err) // deadline exceeded: no reply was sent
}
