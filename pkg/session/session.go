// Package session implements the per-ChargeBridge session bridge of
// design §5: one reactor, one bus client, and the set of sub-bridges
// (API connector, heartbeat/config service, GPIO passthrough, CAN/
// serial/PLC tunnels) that the bridge supervisor enables once a
// session reaches S3:Connected and tears down again on disconnect.
// Grounded on the teacher's top-level wiring style (one Network/one
// set of nodes per CANopen network instance) generalized to "one
// reactor/one bus client/one set of sub-bridges per ChargeBridge".
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chargebridge/hostbridge/pkg/bsp"
	"github.com/chargebridge/hostbridge/pkg/bus"
	"github.com/chargebridge/hostbridge/pkg/config"
	"github.com/chargebridge/hostbridge/pkg/connector"
	"github.com/chargebridge/hostbridge/pkg/discovery"
	"github.com/chargebridge/hostbridge/pkg/firmware"
	"github.com/chargebridge/hostbridge/pkg/gpio"
	"github.com/chargebridge/hostbridge/pkg/heartbeatsvc"
	"github.com/chargebridge/hostbridge/pkg/reactor"
	"github.com/chargebridge/hostbridge/pkg/supervisor"
	"github.com/chargebridge/hostbridge/pkg/timer"
	"github.com/chargebridge/hostbridge/pkg/tunnel"
	"github.com/chargebridge/hostbridge/pkg/udpconn"
	"github.com/chargebridge/hostbridge/pkg/wire"
)

const busKeepAlive = 30 * time.Second

// frameSender adapts a udpconn.Endpoint to the Send(frame []byte) error
// shape both heartbeatsvc.Sender and gpio.Sender expect.
type frameSender struct{ ep *udpconn.Endpoint }

func (s frameSender) Send(frame []byte) error { return s.ep.Tx(frame) }

// runtime holds every sub-bridge and socket that exists only while the
// session is S3:Connected. registerAll/unregisterAll atomically
// install/clear it via Bridge.rt, and only ever run on the reactor
// goroutine, per design §5's "sub-bridge container mutated only on the
// reactor thread" rule.
type runtime struct {
	mgmtUDP *udpconn.Endpoint
	bspUDP  *udpconn.Endpoint
	can0UDP *udpconn.Endpoint
	ser1UDP *udpconn.Endpoint
	ser2UDP *udpconn.Endpoint
	plcUDP  *udpconn.Endpoint

	connector *connector.Connector
	heartbeat *heartbeatsvc.Service
	gpioBr    *gpio.Bridge

	can0 *tunnel.CANBridge
	ser1 *tunnel.SerialBridge
	ser2 *tunnel.SerialBridge
	plc  *tunnel.PLCBridge

	syncTimer *timer.Timer

	wg sync.WaitGroup
}

// Bridge is one ChargeBridge session: the supervised state machine,
// bus connection, and reactor driving every sub-bridge this session's
// configuration enables.
type Bridge struct {
	log *slog.Logger
	cfg *config.Session

	reactor    *reactor.Reactor
	busClient  *bus.Client
	supervisor *supervisor.Supervisor

	resolvedIP atomic.Pointer[string]
	rt         atomic.Pointer[runtime]
}

// New constructs a Bridge for one expanded configuration session. The
// bus connection and its subscriptions are established immediately,
// since bus.Client.Subscribe registers its handler once for the life
// of the connection; everything that depends on a concrete CB address
// is deferred to the supervisor's RegisterAll hook.
func New(log *slog.Logger, cfg *config.Session) (*Bridge, error) {
	log = log.With("session", cfg.ChargeBridge.Name)

	r, err := reactor.New(log.With("component", "reactor"))
	if err != nil {
		return nil, fmt.Errorf("session: %s: %w", cfg.ChargeBridge.Name, err)
	}

	busClient, err := bus.Connect(log.With("component", "bus"), bus.Options{
		BrokerURL: cfg.MqttBrokerURL,
		ClientID:  cfg.ChargeBridge.Name,
		KeepAlive: busKeepAlive,
	})
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("session: %s: %w", cfg.ChargeBridge.Name, err)
	}

	b := &Bridge{log: log, cfg: cfg, reactor: r, busClient: busClient}
	ip := cfg.ChargeBridge.IP
	b.resolvedIP.Store(&ip)

	if err := b.subscribeOperations(); err != nil {
		busClient.Disconnect()
		r.Close()
		return nil, err
	}

	b.supervisor = supervisor.New(log.With("component", "supervisor"), supervisor.Hooks{
		Discover:      b.discover,
		CheckFirmware: b.checkFirmware,
		RegisterAll:   b.registerAll,
		UnregisterAll: b.unregisterAll,
	}, cfg.Discovery.Wildcard)

	return b, nil
}

// ip returns the currently known CB address: the resolved wildcard
// address once discovery has run, or the configured literal otherwise.
func (b *Bridge) ip() string { return *b.resolvedIP.Load() }

func (b *Bridge) discover(ctx context.Context) error {
	addr, err := discovery.Resolve(ctx, b.log, b.cfg.Discovery, discovery.NewUDPPingProber(wire.ManagementPort))
	if err != nil {
		return err
	}
	b.resolvedIP.Store(&addr)
	return nil
}

func (b *Bridge) checkFirmware(ctx context.Context) error {
	c, err := firmware.Dial(b.log.With("component", "firmware"), b.ip(), wire.ManagementPort)
	if err != nil {
		return err
	}
	defer c.Close()

	if b.cfg.ChargeBridge.FwFile == "" {
		return c.Ping()
	}
	img, err := firmware.LoadImage(b.cfg.ChargeBridge.FwFile)
	if err != nil {
		return err
	}
	return firmware.CheckAndUpdate(c, img, b.cfg.ChargeBridge.FwUpdateOnStart)
}

// subscribeOperations wires the bus subscriptions once at construction
// time. Each handler looks up the live runtime on every message, since
// the connector it dispatches into is not built until RegisterAll
// first runs.
func (b *Bridge) subscribeOperations() error {
	if b.cfg.EvseBspEnabled() || b.cfg.EvBspEnabled() {
		iface := bus.InterfaceEVSEBoardSupport
		if b.cfg.EvBspEnabled() {
			iface = bus.InterfaceEVBoardSupport
		}
		prefix := bus.TopicPrefix(b.cfg.ChargeBridge.Name, iface)
		if err := b.busClient.Subscribe(prefix+"#", b.onBSPMessage(prefix)); err != nil {
			return fmt.Errorf("session: subscribe %s: %w", prefix, err)
		}
	}
	if b.cfg.OvmEnabled() {
		prefix := bus.TopicPrefix(b.cfg.ChargeBridge.Name, bus.InterfaceOverVoltageMonitor)
		if err := b.busClient.Subscribe(prefix+"#", b.onOVMMessage(prefix)); err != nil {
			return fmt.Errorf("session: subscribe %s: %w", prefix, err)
		}
	}
	return nil
}

func (b *Bridge) onBSPMessage(prefix string) bus.Handler {
	return func(topic string, payload []byte) {
		op, ok := operationFromTopic(topic, prefix)
		if !ok {
			return
		}
		rt := b.rt.Load()
		if rt == nil || rt.connector == nil {
			b.log.Warn("bsp operation dropped, session not connected", "operation", op)
			return
		}
		t := rt.connector.EVSE()
		if t == nil {
			t = rt.connector.EV()
		}
		if t == nil {
			return
		}
		if err := dispatchBSPOperation(t, time.Now(), op, payload); err != nil {
			b.log.Error("bsp operation failed", "operation", op, "err", err)
		}
	}
}

func (b *Bridge) onOVMMessage(prefix string) bus.Handler {
	return func(topic string, payload []byte) {
		op, ok := operationFromTopic(topic, prefix)
		if !ok {
			return
		}
		rt := b.rt.Load()
		if rt == nil || rt.connector == nil || rt.connector.OVM() == nil {
			b.log.Warn("ovm operation dropped, session not connected", "operation", op)
			return
		}
		if err := dispatchOVMOperation(rt.connector.OVM(), time.Now(), op, payload); err != nil {
			b.log.Error("ovm operation failed", "operation", op, "err", err)
		}
	}
}

// registerAll and unregisterAll satisfy supervisor.Hooks: per design
// §5, the sub-bridge container may only be mutated on the reactor
// goroutine, so both defer their real work through AddAction and Wake
// the reactor rather than touching b.rt directly (they are called from
// the supervisor's own manager goroutine).
func (b *Bridge) registerAll() {
	b.reactor.AddAction(b.doRegisterAll)
	b.reactor.Wake()
}

func (b *Bridge) unregisterAll() {
	b.reactor.AddAction(b.doUnregisterAll)
	b.reactor.Wake()
}

func (b *Bridge) doRegisterAll() {
	if b.rt.Load() != nil {
		return // already connected; a stray duplicate RegisterAll is a no-op
	}

	ip := b.ip()
	rt := &runtime{}

	mgmtUDP, err := udpconn.Open(ip, wire.ManagementPort)
	if err != nil {
		b.log.Error("session: open management endpoint failed", "err", err)
		return
	}
	rt.mgmtUDP = mgmtUDP

	evsePub := bus.PrefixedPublisher{Client: b.busClient, Prefix: bus.TopicPrefix(b.cfg.ChargeBridge.Name, bus.InterfaceEVSEBoardSupport)}
	evPub := bus.PrefixedPublisher{Client: b.busClient, Prefix: bus.TopicPrefix(b.cfg.ChargeBridge.Name, bus.InterfaceEVBoardSupport)}
	ovmPub := bus.PrefixedPublisher{Client: b.busClient, Prefix: bus.TopicPrefix(b.cfg.ChargeBridge.Name, bus.InterfaceOverVoltageMonitor)}

	needsBSPEndpoint := b.cfg.EvseBspEnabled() || b.cfg.EvBspEnabled() || b.cfg.OvmEnabled()
	if needsBSPEndpoint {
		bspUDP, err := udpconn.Open(ip, wire.EVSEBSPPort)
		if err != nil {
			b.log.Error("session: open bsp endpoint failed", "err", err)
			mgmtUDP.Close()
			return
		}
		rt.bspUDP = bspUDP

		conn, err := connector.New(b.log.With("component", "connector"), bspUDP,
			b.cfg.EvseBspEnabled(), b.cfg.EvBspEnabled(), b.cfg.OvmEnabled(), evsePub, evPub, ovmPub)
		if err != nil {
			b.log.Error("session: connector init failed", "err", err)
			mgmtUDP.Close()
			bspUDP.Close()
			return
		}
		rt.connector = conn

		b.reactor.Register(bspUDP.FD(), reactor.WantRead, func(reactor.Want) {
			b.drainBSPStatus(bspUDP, conn)
		})
	}

	if b.cfg.HeartbeatEnabled() {
		rt.heartbeat = heartbeatsvc.New(b.log.With("component", "heartbeat"), frameSender{ep: mgmtUDP},
			b.cfg.HeartbeatIntervalS(), buildCbConfig(b.cfg), b.supervisor.ReportConnectivity)
		rt.heartbeat.Start(time.Now())
	}

	if b.cfg.GpioEnabled() {
		gpioPub := bus.PrefixedPublisher{Client: b.busClient, Prefix: fmt.Sprintf("%s/gpio/", b.cfg.ChargeBridge.Name)}
		rt.gpioBr = gpio.New(b.log.With("component", "gpio"), frameSender{ep: mgmtUDP}, gpioPub)
	}

	b.reactor.Register(mgmtUDP.FD(), reactor.WantRead, func(reactor.Want) {
		b.drainManagement(mgmtUDP, rt)
	})

	b.registerTunnels(rt, ip)

	syncTimer, err := timer.NewPeriodic(1 * time.Second)
	if err != nil {
		b.log.Error("session: sync timer init failed", "err", err)
	} else {
		rt.syncTimer = syncTimer
		b.reactor.Register(syncTimer.FD(), reactor.WantRead, func(reactor.Want) {
			if _, ok, err := syncTimer.Drain(); err != nil {
				b.log.Error("session: sync timer drain failed", "err", err)
				return
			} else if !ok {
				return
			}
			b.onSyncTick(rt)
		})
	}

	b.rt.Store(rt)
	b.log.Info("session sub-bridges registered")
}

func (b *Bridge) registerTunnels(rt *runtime, ip string) {
	if b.cfg.Can0Enabled() && b.cfg.Can0 != nil && b.cfg.Can0.Device != "" {
		udp, err := udpconn.Open(ip, wire.CAN0Port)
		if err != nil {
			b.log.Error("session: open can0 endpoint failed", "err", err)
		} else if br, err := tunnel.NewCANBridge(b.log.With("component", "can0"), b.cfg.Can0.Device, udp); err != nil {
			b.log.Error("session: can0 bridge init failed", "err", err)
			udp.Close()
		} else {
			rt.can0UDP, rt.can0 = udp, br
			b.reactor.Register(udp.FD(), reactor.WantRead, func(reactor.Want) { b.drainTunnel(udp, br.OnUDPDatagram) })
			rt.wg.Add(1)
			go func() {
				defer rt.wg.Done()
				if err := br.Run(); err != nil {
					b.log.Error("session: can0 bridge stopped", "err", err)
				}
			}()
		}
	}

	for _, spec := range []struct {
		enabled bool
		block   *config.ChannelBlock
		port    int
		name    string
		slot    **tunnel.SerialBridge
		udpSlot **udpconn.Endpoint
	}{
		{b.cfg.Serial1Enabled(), b.cfg.Serial1, wire.Serial1Port, "serial1", &rt.ser1, &rt.ser1UDP},
		{b.cfg.Serial2Enabled(), b.cfg.Serial2, wire.Serial2Port, "serial2", &rt.ser2, &rt.ser2UDP},
	} {
		if !spec.enabled || spec.block == nil || spec.block.Device == "" {
			continue
		}
		udp, err := udpconn.Open(ip, spec.port)
		if err != nil {
			b.log.Error("session: open serial endpoint failed", "name", spec.name, "err", err)
			continue
		}
		br, err := tunnel.NewSerialBridge(b.log.With("component", spec.name), spec.name, spec.block.Device, udp)
		if err != nil {
			b.log.Error("session: serial bridge init failed", "name", spec.name, "err", err)
			udp.Close()
			continue
		}
		*spec.udpSlot, *spec.slot = udp, br
		b.reactor.Register(udp.FD(), reactor.WantRead, func(reactor.Want) { b.drainTunnel(udp, br.OnUDPDatagram) })
		rt.wg.Add(1)
		go func(br *tunnel.SerialBridge, name string) {
			defer rt.wg.Done()
			if err := br.ReadLoop(); err != nil {
				b.log.Error("session: serial bridge read loop stopped", "name", name, "err", err)
			}
		}(br, spec.name)
	}

	if b.cfg.PlcEnabled() {
		udp, err := udpconn.Open(ip, wire.PLCPort)
		if err != nil {
			b.log.Error("session: open plc endpoint failed", "err", err)
		} else {
			br := tunnel.NewPLCBridge(b.log.With("component", "plc"), udp)
			rt.plcUDP, rt.plc = udp, br
			b.reactor.Register(udp.FD(), reactor.WantRead, func(reactor.Want) { b.drainTunnel(udp, br.OnUDPDatagram) })
		}
	}
}

func (b *Bridge) drainTunnel(ep *udpconn.Endpoint, onFrame func([]byte) error) {
	buf := make([]byte, wire.MaxUDPBody)
	for {
		n, ok, err := ep.Rx(buf)
		if err != nil {
			b.log.Error("session: tunnel rx failed", "err", err)
			return
		}
		if !ok {
			return
		}
		if err := onFrame(append([]byte(nil), buf[:n]...)); err != nil {
			b.log.Error("session: tunnel frame rejected", "err", err)
		}
	}
}

func (b *Bridge) drainBSPStatus(ep *udpconn.Endpoint, conn *connector.Connector) {
	buf := make([]byte, wire.MaxUDPBody)
	for {
		n, ok, err := ep.Rx(buf)
		if err != nil {
			b.log.Error("session: bsp rx failed", "err", err)
			return
		}
		if !ok {
			return
		}
		status, err := wire.DecodeBSPStatus(buf[:n])
		if err != nil {
			b.log.Error("session: bsp status decode failed", "err", err)
			continue
		}
		conn.OnStatus(time.Now(), status)
	}
}

func (b *Bridge) drainManagement(ep *udpconn.Endpoint, rt *runtime) {
	buf := make([]byte, wire.MaxUDPBody)
	for {
		n, ok, err := ep.Rx(buf)
		if err != nil {
			b.log.Error("session: management rx failed", "err", err)
			return
		}
		if !ok {
			return
		}
		decoded, err := wire.Decode(buf[:n])
		if err != nil {
			b.log.Error("session: management decode failed", "err", err)
			continue
		}
		switch m := decoded.(type) {
		case wire.CbToHostHeartbeat:
			if rt.heartbeat != nil {
				rt.heartbeat.OnReply(time.Now(), m.Telemetry)
			}
		case wire.CbToHostGpio:
			if rt.gpioBr != nil {
				rt.gpioBr.OnGpio(m)
			}
		case wire.Unknown:
			b.log.Debug("session: unrecognized management tag", "tag", m.Tag)
		}
	}
}

func (b *Bridge) onSyncTick(rt *runtime) {
	now := time.Now()
	if rt.connector != nil {
		rt.connector.Sync(now)
	}
	if rt.heartbeat != nil {
		if err := rt.heartbeat.Tick(now); err != nil {
			b.log.Error("session: heartbeat tick failed", "err", err)
		}
	}
	if rt.gpioBr != nil {
		if err := rt.gpioBr.Push(); err != nil {
			b.log.Error("session: gpio push failed", "err", err)
		}
	}
}

func (b *Bridge) doUnregisterAll() {
	rt := b.rt.Swap(nil)
	if rt == nil {
		return
	}

	for _, fd := range []int{rt.mgmtFD(), rt.bspFD(), rt.can0FD(), rt.ser1FD(), rt.ser2FD(), rt.plcFD(), rt.timerFD()} {
		if fd >= 0 {
			b.reactor.Unregister(fd)
		}
	}

	if rt.can0 != nil {
		if err := rt.can0.Close(); err != nil {
			b.log.Error("session: can0 bridge close failed", "err", err)
		}
	}
	if rt.ser1 != nil {
		if err := rt.ser1.Close(); err != nil {
			b.log.Error("session: serial1 bridge close failed", "err", err)
		}
	}
	if rt.ser2 != nil {
		if err := rt.ser2.Close(); err != nil {
			b.log.Error("session: serial2 bridge close failed", "err", err)
		}
	}
	for _, ep := range []*udpconn.Endpoint{rt.mgmtUDP, rt.bspUDP, rt.can0UDP, rt.ser1UDP, rt.ser2UDP, rt.plcUDP} {
		if ep != nil {
			ep.Close()
		}
	}
	if rt.syncTimer != nil {
		rt.syncTimer.Close()
	}
	rt.wg.Wait()

	if rt.connector != nil {
		if t := rt.connector.EVSE(); t != nil {
			t.ApplyFailSafe()
		}
		if t := rt.connector.EV(); t != nil {
			t.ApplyFailSafe()
		}
	}

	b.log.Info("session sub-bridges unregistered")
}

func (rt *runtime) mgmtFD() int {
	if rt.mgmtUDP == nil {
		return -1
	}
	return rt.mgmtUDP.FD()
}
func (rt *runtime) bspFD() int {
	if rt.bspUDP == nil {
		return -1
	}
	return rt.bspUDP.FD()
}
func (rt *runtime) can0FD() int {
	if rt.can0UDP == nil {
		return -1
	}
	return rt.can0UDP.FD()
}
func (rt *runtime) ser1FD() int {
	if rt.ser1UDP == nil {
		return -1
	}
	return rt.ser1UDP.FD()
}
func (rt *runtime) ser2FD() int {
	if rt.ser2UDP == nil {
		return -1
	}
	return rt.ser2UDP.FD()
}
func (rt *runtime) plcFD() int {
	if rt.plcUDP == nil {
		return -1
	}
	return rt.plcUDP.FD()
}
func (rt *runtime) timerFD() int {
	if rt.syncTimer == nil {
		return -1
	}
	return rt.syncTimer.FD()
}

// buildCbConfig maps the loaded YAML safety/network settings onto the
// wire CbConfig document the heartbeat service transmits every
// interval. Fields the configuration loader does not yet expose
// (per-GPIO mode, per-UART baud, CAN baud, relay timing) are left at
// their zero value; see DESIGN.md.
func buildCbConfig(cfg *config.Session) wire.CbConfig {
	var c wire.CbConfig
	c.Safety.PpMode = ppModeToSafetyMode(cfg.Safety.PpMode)
	c.Safety.CpAvgMs = uint8(cfg.Safety.CpAveragingWindow)
	c.Safety.InvertedEmergencyInput = boolToU8(cfg.Safety.EmergencyInverted)
	c.Safety.TemperatureLimitPt1000C = uint8(cfg.Safety.Pt1000LimitC)
	c.Network.SetName(cfg.ChargeBridge.Name)
	return c
}

func ppModeToSafetyMode(mode string) wire.SafetyMode {
	if mode == "" {
		return wire.SafetyModeDisabled
	}
	return wire.SafetyModeEU
}

func boolToU8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

var _ bsp.Publisher = bus.PrefixedPublisher{}

// Run starts the supervisor's manager loop and the reactor's dispatch
// loop, blocking until ctx is cancelled and both have joined.
func (b *Bridge) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		b.supervisor.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := b.reactor.Run(func() bool { return ctx.Err() == nil }); err != nil {
			b.log.Error("session: reactor loop stopped", "err", err)
		}
	}()

	wg.Wait()
	b.busClient.Disconnect()
	return b.reactor.Close()
}
