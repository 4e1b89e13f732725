package udpconn

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTxRxRoundTrip(t *testing.T) {
	server, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	defer server.Close()

	serverPort := server.LocalAddr().(*net.UDPAddr).Port
	ep, err := Open("127.0.0.1", serverPort)
	require.NoError(t, err)
	defer ep.Close()

	require.NoError(t, ep.Tx([]byte("hello")))

	buf := make([]byte, 64)
	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, clientAddr, err := server.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	_, err = server.WriteToUDP([]byte("world"), clientAddr)
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for {
		rbuf := make([]byte, 64)
		n, ok, rerr := ep.Rx(rbuf)
		require.NoError(t, rerr)
		if ok {
			assert.Equal(t, "world", string(rbuf[:n]))
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for reply datagram")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestOpenRejectsNonIPv4(t *testing.T) {
	_, err := Open("not-an-ip", 6000)
	assert.Error(t, err)
}

func TestTxRejectsOversizePayload(t *testing.T) {
	server, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	defer server.Close()
	ep, err := Open("127.0.0.1", server.LocalAddr().(*net.UDPAddr).Port)
	require.NoError(t, err)
	defer ep.Close()

	err = ep.Tx(make([]byte, 2000))
	assert.Error(t, err)
}
