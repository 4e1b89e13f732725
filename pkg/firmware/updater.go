// Package firmware implements the synchronous firmware-update
// sub-protocol of design §4.9: a short-lived UDP client, disjoint from
// the session's async endpoint, performing a blocking request/reply
// exchange with retries and a per-attempt timeout. Grounded on
// original_source's sync_udp_client.cpp (clear_socket() pre-drain,
// rx/tx wrappers, configurable retry/timeout), mapped onto Go's
// net.Conn read-deadline idiom since no example repo in the retrieval
// pack implements a comparable synchronous request/reply client.
package firmware

import (
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/chargebridge/hostbridge/pkg/wire"
)

const (
	DefaultRetries = 3
	DefaultTimeout = 1000 * time.Millisecond
)

// Image is the bundled firmware file plus its declared version.
type Image struct {
	Version   wire.FirmwareVersion
	Data      []byte
	IV        [16]byte
	CrcEnable uint8
	ShaEnable uint8
	SigEnable uint8
	Signature [128]byte
}

// Client drives one firmware-update session over its own UDP socket.
type Client struct {
	log     *slog.Logger
	conn    *net.UDPConn
	retries int
	timeout time.Duration
}

func Dial(log *slog.Logger, remoteIP string, port int) (*Client, error) {
	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.ParseIP(remoteIP), Port: port})
	if err != nil {
		return nil, fmt.Errorf("firmware: dial: %w", err)
	}
	return &Client{log: log, conn: conn, retries: DefaultRetries, timeout: DefaultTimeout}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

// clearSocket drains any stale datagrams left over from a previous
// exchange before issuing a new request, mirroring
// sync_udp_client.cpp's clear_socket().
func (c *Client) clearSocket() {
	c.conn.SetReadDeadline(time.Now())
	buf := make([]byte, wire.MaxUDPBody)
	for {
		if _, err := c.conn.Read(buf); err != nil {
			return
		}
	}
}

// request sends frame and waits for a reply, retrying up to c.retries
// times on timeout. It returns the raw reply bytes.
func (c *Client) request(frame []byte) ([]byte, error) {
	c.clearSocket()
	buf := make([]byte, wire.MaxUDPBody)
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if _, err := c.conn.Write(frame); err != nil {
			return nil, fmt.Errorf("firmware: tx: %w", err)
		}
		c.conn.SetReadDeadline(time.Now().Add(c.timeout))
		n, err := c.conn.Read(buf)
		if err == nil {
			return append([]byte(nil), buf[:n]...), nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("firmware: no reply after %d attempts: %w", c.retries+1, lastErr)
}

func (c *Client) requestExpectOk(body []byte, what string) error {
	reply, err := c.request(body)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	decoded, err := wire.Decode(reply)
	if err != nil {
		return fmt.Errorf("%s: decode reply: %w", what, err)
	}
	fr, ok := decoded.(wire.FirmwareReply)
	if !ok {
		return fmt.Errorf("%s: expected FirmwareReply, got %T", what, decoded)
	}
	if !fr.Response.Ok() {
		return fmt.Errorf("%s: CB returned Bad response", what)
	}
	return nil
}

// Ping issues FirmwarePing and fails fast if there is no reply.
func (c *Client) Ping() error {
	frame, err := wire.FirmwarePing{}.EncodeFrame()
	if err != nil {
		return err
	}
	return c.requestExpectOk(frame, "ping")
}

// GetVersion issues FirmwareGetVersion and returns the CB's reported
// version.
func (c *Client) GetVersion() (wire.FirmwareVersion, error) {
	frame, err := wire.FirmwareGetVersion{}.EncodeFrame()
	if err != nil {
		return wire.FirmwareVersion{}, err
	}
	reply, err := c.request(frame)
	if err != nil {
		return wire.FirmwareVersion{}, fmt.Errorf("get version: %w", err)
	}
	decoded, err := wire.Decode(reply)
	if err != nil {
		return wire.FirmwareVersion{}, fmt.Errorf("get version: decode: %w", err)
	}
	fr, ok := decoded.(wire.FirmwareReply)
	if !ok {
		return wire.FirmwareVersion{}, fmt.Errorf("get version: expected FirmwareReply, got %T", decoded)
	}
	return fr.Version, nil
}

// Cancel sends FirmwareUpdateCancel; it may be sent at any point to
// abort cleanly and does not wait for a reply.
func (c *Client) Cancel() error {
	frame, err := wire.FirmwareUpdateCancel{}.EncodeFrame()
	if err != nil {
		return err
	}
	_, err = c.conn.Write(frame)
	return err
}

// Upload runs the full start/packet-stream/finish sequence for img,
// followed by a re-run of ping/version to confirm. Upload mirrors the
// ordering of design §4.9 steps 3-5.
func (c *Client) Upload(img Image) error {
	startFrame, err := wire.FirmwareStart{IV: img.IV, CrcEnabled: img.CrcEnable, ShaEnabled: img.ShaEnable, SigEnabled: img.SigEnable}.EncodeFrame()
	if err != nil {
		return err
	}
	if err := c.requestExpectOk(startFrame, "firmware start"); err != nil {
		return err
	}

	total := len(img.Data)
	for sector := 0; ; sector++ {
		off := sector * wire.FirmwareSectorSize
		if off >= total {
			break
		}
		end := off + wire.FirmwareSectorSize
		last := uint8(0)
		if end >= total {
			end = total
			last = 1
		}
		pkt := wire.FirmwarePacket{LastPacket: last, Sector: uint16(sector), DataLen: uint16(end - off)}
		copy(pkt.Data[:], img.Data[off:end])
		frame, err := pkt.EncodeFrame()
		if err != nil {
			return err
		}
		if err := c.requestExpectOk(frame, fmt.Sprintf("firmware sector %d", sector)); err != nil {
			return err
		}
	}

	finishFrame, err := wire.FirmwareFinish{
		FirmwareLen:  uint32(total),
		Signature:    img.Signature,
		SignatureLen: uint16(len(img.Signature)),
	}.EncodeFrame()
	if err != nil {
		return err
	}
	if err := c.requestExpectOk(finishFrame, "firmware finish"); err != nil {
		return err
	}

	if err := c.Ping(); err != nil {
		return fmt.Errorf("post-update confirmation ping: %w", err)
	}
	if _, err := c.GetVersion(); err != nil {
		return fmt.Errorf("post-update confirmation version check: %w", err)
	}
	return nil
}

// CheckAndUpdate runs ping -> version compare -> optional upload; it
// is the entry point the bridge supervisor's S2 FirmwareCheck state
// invokes. forceUpdate bypasses the version comparison.
func CheckAndUpdate(c *Client, img Image, forceUpdate bool) error {
	if err := c.Ping(); err != nil {
		return err
	}
	current, err := c.GetVersion()
	if err != nil {
		return err
	}
	if !forceUpdate && !current.Less(img.Version) {
		return nil
	}
	return c.Upload(img)
}
