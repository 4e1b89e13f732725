// Package discovery resolves a wildcard cb_remote ("ANY_EVSE" /
// "ANY_EV", design §6/§9) to one concrete CB IP address. It
// broadcasts a firmware Ping probe on every local interface in
// parallel and takes the first reply, grounded on the teacher's
// pkg/network.Network.Scan() shape: one goroutine per candidate,
// first-to-answer wins, a WaitGroup joins the rest so a slow or
// silent interface never blocks discovery.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/chargebridge/hostbridge/pkg/config"
	"github.com/chargebridge/hostbridge/pkg/firmware"
)

// ProbeTimeout bounds how long a single interface's probe may take
// before it is considered silent.
const ProbeTimeout = 3 * time.Second

// Prober abstracts the firmware ping used to confirm a candidate
// address actually has a CB listening, so tests can substitute a
// fake without opening real sockets.
type Prober interface {
	Probe(ctx context.Context, addr string) error
}

// udpPingProber pings the management port with a short-lived
// firmware.Client per candidate address.
type udpPingProber struct {
	port int
}

func (p udpPingProber) Probe(ctx context.Context, addr string) error {
	c, err := firmware.Dial(slog.Default(), addr, p.port)
	if err != nil {
		return err
	}
	defer c.Close()
	done := make(chan error, 1)
	go func() { done <- c.Ping() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NewUDPPingProber is the production Prober: a firmware ping against
// the CB's management UDP port.
func NewUDPPingProber(managementPort int) Prober { return udpPingProber{port: managementPort} }

// broadcastAddresses lists one IPv4 broadcast address per local
// interface allowed by d.Interfaces/d.Exclude, per design §9's
// "ANY_EVSE!eth0,eth1" negated-list grammar.
func broadcastAddresses(d config.Discovery) ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("discovery: list interfaces: %w", err)
	}
	var out []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagBroadcast == 0 {
			continue
		}
		if !interfaceAllowed(iface.Name, d) {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok || ipnet.IP.To4() == nil {
				continue
			}
			bcast := broadcastFor(ipnet)
			out = append(out, bcast.String())
		}
	}
	return out, nil
}

func interfaceAllowed(name string, d config.Discovery) bool {
	if len(d.Interfaces) == 0 {
		return true
	}
	listed := false
	for _, n := range d.Interfaces {
		if strings.EqualFold(strings.TrimSpace(n), name) {
			listed = true
			break
		}
	}
	if d.Exclude {
		return !listed
	}
	return listed
}

func broadcastFor(ipnet *net.IPNet) net.IP {
	ip4 := ipnet.IP.To4()
	mask := ipnet.Mask
	bcast := make(net.IP, len(ip4))
	for i := range ip4 {
		bcast[i] = ip4[i] | ^mask[i]
	}
	return bcast
}

// Resolve broadcasts a probe from every allowed interface in parallel
// and returns the first address to answer. It fails if no interface
// answers within ProbeTimeout.
func Resolve(ctx context.Context, log *slog.Logger, d config.Discovery, prober Prober) (string, error) {
	addrs, err := broadcastAddresses(d)
	if err != nil {
		return "", err
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("discovery: no eligible broadcast interfaces")
	}

	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	var wg sync.WaitGroup
	result := make(chan string, len(addrs))
	wg.Add(len(addrs))
	for _, addr := range addrs {
		go func(addr string) {
			defer wg.Done()
			if err := prober.Probe(ctx, addr); err == nil {
				select {
				case result <- addr:
				default:
				}
			}
		}(addr)
	}

	go func() {
		wg.Wait()
		close(result)
	}()

	select {
	case addr, ok := <-result:
		if !ok {
			return "", fmt.Errorf("discovery: no CB responded on any interface")
		}
		log.Info("discovery resolved", "addr", addr)
		return addr, nil
	case <-ctx.Done():
		return "", fmt.Errorf("discovery: timed out waiting for a CB reply: %w", ctx.Err())
	}
}
