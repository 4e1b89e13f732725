package firmware

import (
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chargebridge/hostbridge/pkg/wire"
)

// fakeCB is a minimal synchronous responder standing in for the
// ChargeBridge's own firmware sub-protocol handler, answering every
// request frame with a fixed AppUDPResponse.
type fakeCB struct {
	conn    *net.UDPConn
	version wire.FirmwareVersion
	sectors []uint16
	stop    chan struct{}
}

func startFakeCB(t *testing.T, version wire.FirmwareVersion) (*fakeCB, int) {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)

	cb := &fakeCB{conn: conn, version: version, stop: make(chan struct{})}
	go cb.run(t)
	t.Cleanup(func() {
		close(cb.stop)
		conn.Close()
	})
	return cb, conn.LocalAddr().(*net.UDPAddr).Port
}

func (cb *fakeCB) run(t *testing.T) {
	buf := make([]byte, wire.MaxUDPBody)
	for {
		cb.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, addr, err := cb.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		decoded, err := wire.Decode(buf[:n])
		if err != nil {
			continue
		}
		switch m := decoded.(type) {
		case wire.FirmwarePing:
			cb.reply(addr, okReply())
		case wire.FirmwareGetVersion:
			cb.reply(addr, versionReply(cb.version))
		case wire.FirmwareStart:
			cb.reply(addr, okReply())
		case wire.FirmwarePacket:
			cb.sectors = append(cb.sectors, m.Sector)
			cb.reply(addr, okReply())
		case wire.FirmwareFinish:
			cb.reply(addr, okReply())
		}
	}
}

func okReply() []byte {
	frame, _ := wire.Encode(wire.TagFirmwareReply, encodeU32(uint32(wire.ResponseOk)))
	return frame
}

func versionReply(v wire.FirmwareVersion) []byte {
	body := append(encodeU32(uint32(wire.ResponseOk)), v.Major, v.Minor, v.Patch)
	body = append(body, encodeU32(v.Build)...)
	frame, _ := wire.Encode(wire.TagFirmwareReply, body)
	return frame
}

func encodeU32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func (cb *fakeCB) reply(addr *net.UDPAddr, frame []byte) {
	cb.conn.WriteToUDP(frame, addr)
}

func TestClientPingSucceedsAgainstRespondingCB(t *testing.T) {
	_, port := startFakeCB(t, wire.FirmwareVersion{Major: 1})
	c, err := Dial(slog.Default(), "127.0.0.1", port)
	require.NoError(t, err)
	defer c.Close()

	assert.NoError(t, c.Ping())
}

func TestClientGetVersionReturnsCBVersion(t *testing.T) {
	want := wire.FirmwareVersion{Major: 2, Minor: 3, Patch: 4, Build: 99}
	_, port := startFakeCB(t, want)
	c, err := Dial(slog.Default(), "127.0.0.1", port)
	require.NoError(t, err)
	defer c.Close()

	got, err := c.GetVersion()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestClientPingFailsFastWithNoResponder(t *testing.T) {
	// Bind a throwaway socket purely to obtain an address nothing is
	// listening on, then close it immediately.
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()

	c, err := Dial(slog.Default(), "127.0.0.1", port)
	require.NoError(t, err)
	defer c.Close()
	c.retries = 0
	c.timeout = 50 * time.Millisecond

	assert.Error(t, c.Ping())
}

func TestCheckAndUpdateSkipsUploadWhenCBVersionIsNewer(t *testing.T) {
	cb, port := startFakeCB(t, wire.FirmwareVersion{Major: 9})
	c, err := Dial(slog.Default(), "127.0.0.1", port)
	require.NoError(t, err)
	defer c.Close()

	img := Image{Version: wire.FirmwareVersion{Major: 1}, Data: []byte("irrelevant")}
	require.NoError(t, CheckAndUpdate(c, img, false))
	assert.Empty(t, cb.sectors)
}

func TestCheckAndUpdateUploadsWhenForced(t *testing.T) {
	cb, port := startFakeCB(t, wire.FirmwareVersion{Major: 9})
	c, err := Dial(slog.Default(), "127.0.0.1", port)
	require.NoError(t, err)
	defer c.Close()

	data := make([]byte, wire.FirmwareSectorSize+10)
	for i := range data {
		data[i] = byte(i)
	}
	img := Image{Version: wire.FirmwareVersion{Major: 1}, Data: data}
	require.NoError(t, CheckAndUpdate(c, img, true))
	assert.Equal(t, []uint16{0, 1}, cb.sectors)
}
