// Package heartbeatsvc implements the heartbeat/config service of
// design §4.8: periodically transmits the full CbConfig, observes
// telemetry replies, detects CB resets via uptime regression, and
// supervises CB liveness. Grounded on the teacher's
// pkg/heartbeat.Consumer/single_consumer.go state machine (mapped
// here from "is a remote NMT node alive" to "is the CB alive"), with
// field semantics (last_reply, mcu_reset_count, initial grace window)
// taken from original_source's heartbeat_service.hpp/.cpp.
package heartbeatsvc

import (
	"log/slog"
	"time"

	"github.com/chargebridge/hostbridge/pkg/wire"
)

// Sender transmits an encoded HostToCb_Heartbeat frame.
type Sender interface {
	Send(frame []byte) error
}

// Service is the per-session heartbeat/config sub-bridge.
type Service struct {
	log      *slog.Logger
	send     Sender
	interval time.Duration
	cfg      wire.CbConfig

	hasReply       bool
	lastReply      time.Time
	lastUptimeMs   uint32
	mcuResetCount  int

	hasDetermined bool
	connected     bool
	startedAt     time.Time

	onConnectivityChange func(connected bool)
}

// New builds a Service. intervalS is the configured heartbeat period
// in seconds.
func New(log *slog.Logger, send Sender, intervalS float64, cfg wire.CbConfig, onConnectivityChange func(bool)) *Service {
	return &Service{
		log:                  log,
		send:                 send,
		interval:             time.Duration(intervalS * float64(time.Second)),
		cfg:                  cfg,
		onConnectivityChange: onConnectivityChange,
	}
}

// timeoutWindow is "connected iff now - last_reply < 3 * interval_s".
func (s *Service) timeoutWindow() time.Duration { return 3 * s.interval }

// Start marks the reference time used for the one-shot initial grace
// window: before the first reply arrives, the CB is not yet declared
// disconnected until one full timeout window has elapsed since Start.
func (s *Service) Start(now time.Time) {
	s.startedAt = now
}

// Tick transmits the current CbConfig and re-evaluates the
// connectivity boolean for timeout detection (a reply may simply have
// stopped arriving).
func (s *Service) Tick(now time.Time) error {
	frame, err := wire.HostToCbHeartbeat{Config: s.cfg}.EncodeFrame()
	if err != nil {
		return err
	}
	if err := s.send.Send(frame); err != nil {
		s.log.Error("heartbeat tx failed", "err", err)
	}
	s.evaluateConnectivity(now)
	return nil
}

// OnReply processes an inbound CbToHost_Heartbeat telemetry payload.
func (s *Service) OnReply(now time.Time, tel wire.CbTelemetry) {
	if s.hasReply && tel.UptimeMs < s.lastUptimeMs {
		s.mcuResetCount++
		s.log.Warn("cb reset detected via uptime regression", "prev_uptime_ms", s.lastUptimeMs, "uptime_ms", tel.UptimeMs, "reset_count", s.mcuResetCount)
	}
	s.lastUptimeMs = tel.UptimeMs
	s.lastReply = now
	s.hasReply = true
	s.evaluateConnectivity(now)
}

func (s *Service) evaluateConnectivity(now time.Time) {
	var nowConnected bool
	switch {
	case s.hasReply:
		nowConnected = now.Sub(s.lastReply) < s.timeoutWindow()
	case !s.startedAt.IsZero() && now.Sub(s.startedAt) < s.timeoutWindow():
		// Initial grace window: no reply observed yet, but we haven't
		// waited a full timeout window since start, so stay silent
		// rather than immediately declaring disconnected.
		if !s.hasDetermined {
			return
		}
		nowConnected = s.connected
	default:
		nowConnected = false
	}

	if !s.hasDetermined || nowConnected != s.connected {
		s.connected = nowConnected
		s.hasDetermined = true
		if s.onConnectivityChange != nil {
			s.onConnectivityChange(nowConnected)
		}
	}
}

// MCUResetCount returns the number of detected CB resets.
func (s *Service) MCUResetCount() int { return s.mcuResetCount }

// Connected returns the last-determined connectivity boolean.
func (s *Service) Connected() bool { return s.connected }

// UpdateConfig replaces the CbConfig transmitted on the next Tick.
func (s *Service) UpdateConfig(cfg wire.CbConfig) { s.cfg = cfg }
