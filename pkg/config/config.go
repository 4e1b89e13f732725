// Package config implements the configuration loader of design §2
// Component O: it unmarshals the YAML document of design §6 into
// typed Go structs with gopkg.in/yaml.v3 (already an indirect
// dependency of the teacher's own go.mod), then runs a post-unmarshal
// expansion pass for charge_bridge_ip_list fan-out and wildcard
// discovery parsing, grounded on original_source's
// charge_bridge.cpp::make_interface_list().
package config

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigError names exactly which document field failed validation,
// matching the teacher's preference for typed, locatable errors over
// a bare string.
type ConfigError struct {
	Path   string
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s.%s: %s", e.Path, e.Field, e.Reason)
}

// ChannelBlock is the common shape of an optional per-channel
// section; Enable defaults to true when the block itself is present.
// IntervalS is only meaningful on the heartbeat block (design §4.8's
// "every interval_s"); other channels ignore it.
type ChannelBlock struct {
	Enable    *bool   `yaml:"enable"`
	Device    string  `yaml:"device,omitempty"`
	IntervalS float64 `yaml:"interval_s,omitempty"`
}

func (c *ChannelBlock) enabled() bool {
	return c != nil && (c.Enable == nil || *c.Enable)
}

// DefaultHeartbeatIntervalS is used when a heartbeat block is present
// but does not specify interval_s.
const DefaultHeartbeatIntervalS = 5.0

// ChargeBridgeSection is the required top-level charge_bridge block.
type ChargeBridgeSection struct {
	Name            string `yaml:"name"`
	IP              string `yaml:"ip"`
	FwFile          string `yaml:"fw_file"`
	FwUpdateOnStart bool   `yaml:"fw_update_on_start"`
}

// SafetySection is the global safety block (design §3's SafetyConfig
// as authored in YAML, before being packed into the wire CbConfig).
type SafetySection struct {
	PpMode                 string  `yaml:"pp_mode"`
	CpAveragingWindow      int     `yaml:"cp_averaging_window"`
	EmergencyInverted      bool    `yaml:"emergency_inverted"`
	Pt1000LimitC           float64 `yaml:"pt1000_limit_c"`
	OvmEmergencyVoltage    float64 `yaml:"ovm_emergency_voltage"`
	OvmErrorVoltage        float64 `yaml:"ovm_error_voltage"`
}

// Document is the raw unmarshaled shape of one YAML document, before
// fan-out expansion.
type Document struct {
	ChargeBridge      ChargeBridgeSection `yaml:"charge_bridge"`
	ChargeBridgeIPs   []string            `yaml:"charge_bridge_ip_list"`
	// MqttBrokerURL is not named by design §6 (which only says
	// "message-bus client"), but original_source's mosquitto_cpp.hpp
	// confirms MQTT needs a broker address; supplemented here.
	MqttBrokerURL     string              `yaml:"mqtt_broker_url,omitempty"`
	Can0              *ChannelBlock       `yaml:"can_0"`
	Serial1           *ChannelBlock       `yaml:"serial_1"`
	Serial2           *ChannelBlock       `yaml:"serial_2"`
	Plc               *ChannelBlock       `yaml:"plc"`
	EvseBsp           *ChannelBlock       `yaml:"evse_bsp"`
	EvBsp             *ChannelBlock       `yaml:"ev_bsp"`
	Ovm               *ChannelBlock       `yaml:"ovm"`
	Gpio              *ChannelBlock       `yaml:"gpio"`
	Heartbeat         *ChannelBlock       `yaml:"heartbeat"`
	Safety            SafetySection       `yaml:"safety"`
}

// Discovery describes a resolved or pending wildcard cb_remote, per
// design §4's "ANY_EVSE"/"ANY_EV" tokens.
type Discovery struct {
	Wildcard   bool
	EVSE       bool // true for ANY_EVSE, false for ANY_EV
	Interfaces []string
	Exclude    bool // the listed interfaces are a deny-list rather than an allow-list
}

// DefaultMqttBrokerURL is used when the document does not name one.
const DefaultMqttBrokerURL = "tcp://localhost:1883"

// Session is one expanded, validated configuration instance: the
// result of applying charge_bridge_ip_list fan-out (one Session per
// listed IP) to a Document.
type Session struct {
	ChargeBridge  ChargeBridgeSection
	Safety        SafetySection
	Discovery     Discovery
	MqttBrokerURL string

	Can0      *ChannelBlock
	Serial1   *ChannelBlock
	Serial2   *ChannelBlock
	Plc       *ChannelBlock
	EvseBsp   *ChannelBlock
	EvBsp     *ChannelBlock
	Ovm       *ChannelBlock
	Gpio      *ChannelBlock
	Heartbeat *ChannelBlock
}

func (s *Session) Can0Enabled() bool      { return s.Can0.enabled() }
func (s *Session) Serial1Enabled() bool   { return s.Serial1.enabled() }
func (s *Session) Serial2Enabled() bool   { return s.Serial2.enabled() }
func (s *Session) PlcEnabled() bool       { return s.Plc.enabled() }
func (s *Session) EvseBspEnabled() bool   { return s.EvseBsp.enabled() }
func (s *Session) EvBspEnabled() bool     { return s.EvBsp.enabled() }
func (s *Session) OvmEnabled() bool       { return s.Ovm.enabled() }
func (s *Session) GpioEnabled() bool      { return s.Gpio.enabled() }
func (s *Session) HeartbeatEnabled() bool { return s.Heartbeat.enabled() }

// HeartbeatIntervalS returns the configured heartbeat/config-service
// period, defaulting to DefaultHeartbeatIntervalS when the block does
// not specify one.
func (s *Session) HeartbeatIntervalS() float64 {
	if s.Heartbeat == nil || s.Heartbeat.IntervalS <= 0 {
		return DefaultHeartbeatIntervalS
	}
	return s.Heartbeat.IntervalS
}

// Load parses raw YAML bytes and returns one Session per
// charge_bridge_ip_list entry (or a single Session if the list is
// empty), after resolving wildcard discovery markers and validating
// mutual exclusivity.
func Load(raw []byte) ([]*Session, error) {
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	ips := doc.ChargeBridgeIPs
	if len(ips) == 0 {
		ips = []string{doc.ChargeBridge.IP}
	}

	sessions := make([]*Session, 0, len(ips))
	for idx, ip := range ips {
		d := substituteIndex(doc, idx)
		d.ChargeBridge.IP = ip
		sess, err := expandOne(d)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// substituteIndex replaces "##" in name/path fields with idx, per
// design §6's "instantiated once per listed IP with ## substituted in
// names/paths by the zero-based index".
func substituteIndex(doc Document, idx int) Document {
	n := strconv.Itoa(idx)
	doc.ChargeBridge.Name = strings.ReplaceAll(doc.ChargeBridge.Name, "##", n)
	doc.ChargeBridge.FwFile = strings.ReplaceAll(doc.ChargeBridge.FwFile, "##", n)
	for _, block := range []**ChannelBlock{&doc.Can0, &doc.Serial1, &doc.Serial2} {
		if *block != nil {
			cp := **block
			cp.Device = strings.ReplaceAll(cp.Device, "##", n)
			*block = &cp
		}
	}
	return doc
}

func expandOne(doc Document) (*Session, error) {
	if doc.EvseBsp.enabled() && doc.EvBsp.enabled() {
		return nil, &ConfigError{Path: doc.ChargeBridge.Name, Field: "evse_bsp/ev_bsp", Reason: "mutually exclusive"}
	}

	disc, err := parseDiscovery(doc.ChargeBridge.IP)
	if err != nil {
		return nil, err
	}

	if err := validateSafety(doc.ChargeBridge.Name, doc.Safety); err != nil {
		return nil, err
	}

	brokerURL := doc.MqttBrokerURL
	if brokerURL == "" {
		brokerURL = DefaultMqttBrokerURL
	}

	return &Session{
		ChargeBridge:  doc.ChargeBridge,
		Safety:        doc.Safety,
		Discovery:     disc,
		MqttBrokerURL: brokerURL,
		Can0:          doc.Can0,
		Serial1:       doc.Serial1,
		Serial2:       doc.Serial2,
		Plc:           doc.Plc,
		EvseBsp:       doc.EvseBsp,
		EvBsp:         doc.EvBsp,
		Ovm:           doc.Ovm,
		Gpio:          doc.Gpio,
		Heartbeat:     doc.Heartbeat,
	}, nil
}

// parseDiscovery recognizes the "ANY_EVSE"/"ANY_EV" wildcard tokens,
// optionally suffixed with "!iface1,iface2" for a negated interface
// list (design §6/§9): "ANY_EVSE" alone broadcasts on every
// interface, "ANY_EVSE!eth0,eth1" broadcasts on every interface
// except those listed.
func parseDiscovery(remote string) (Discovery, error) {
	for _, pattern := range []struct {
		token string
		evse  bool
	}{
		{"ANY_EVSE", true},
		{"ANY_EV", false},
	} {
		if remote == pattern.token {
			return Discovery{Wildcard: true, EVSE: pattern.evse}, nil
		}
		if rest, ok := strings.CutPrefix(remote, pattern.token+"!"); ok {
			if rest == "" {
				return Discovery{}, &ConfigError{Field: "charge_bridge.ip", Reason: "wildcard interface list is empty"}
			}
			ifaces := strings.Split(rest, ",")
			return Discovery{Wildcard: true, EVSE: pattern.evse, Interfaces: ifaces, Exclude: true}, nil
		}
	}
	return Discovery{}, nil
}

func validateSafety(name string, s SafetySection) error {
	switch s.PpMode {
	case "", "A13", "A20", "A32", "A70":
	default:
		return &ConfigError{Path: name, Field: "safety.pp_mode", Reason: fmt.Sprintf("unrecognized value %q", s.PpMode)}
	}
	if s.CpAveragingWindow < 0 {
		return &ConfigError{Path: name, Field: "safety.cp_averaging_window", Reason: "must be non-negative"}
	}
	if s.OvmEmergencyVoltage != 0 && s.OvmErrorVoltage != 0 && s.OvmErrorVoltage > s.OvmEmergencyVoltage {
		return &ConfigError{Path: name, Field: "safety.ovm_error_voltage", Reason: "must not exceed ovm_emergency_voltage"}
	}
	return nil
}
