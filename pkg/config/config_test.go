package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSingleSession(t *testing.T) {
	raw := []byte(`
charge_bridge:
  name: bridge-1
  ip: 192.168.1.50
evse_bsp:
  enable: true
safety:
  pp_mode: A32
`)
	sessions, err := Load(raw)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "bridge-1", sessions[0].ChargeBridge.Name)
	assert.True(t, sessions[0].EvseBspEnabled())
	assert.False(t, sessions[0].Discovery.Wildcard)
}

func TestMutuallyExclusiveBSPRejected(t *testing.T) {
	raw := []byte(`
charge_bridge:
  name: bridge-1
  ip: 192.168.1.50
evse_bsp:
  enable: true
ev_bsp:
  enable: true
`)
	_, err := Load(raw)
	require.Error(t, err)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "evse_bsp/ev_bsp", cfgErr.Field)
}

func TestIPListFanOutSubstitutesIndex(t *testing.T) {
	raw := []byte(`
charge_bridge:
  name: bridge-##
  ip: 0.0.0.0
charge_bridge_ip_list:
  - 192.168.1.10
  - 192.168.1.11
`)
	sessions, err := Load(raw)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "bridge-0", sessions[0].ChargeBridge.Name)
	assert.Equal(t, "192.168.1.10", sessions[0].ChargeBridge.IP)
	assert.Equal(t, "bridge-1", sessions[1].ChargeBridge.Name)
	assert.Equal(t, "192.168.1.11", sessions[1].ChargeBridge.IP)
}

func TestWildcardDiscoveryWithoutInterfaceList(t *testing.T) {
	raw := []byte(`
charge_bridge:
  name: bridge-1
  ip: ANY_EVSE
`)
	sessions, err := Load(raw)
	require.NoError(t, err)
	d := sessions[0].Discovery
	assert.True(t, d.Wildcard)
	assert.True(t, d.EVSE)
	assert.Empty(t, d.Interfaces)
}

func TestWildcardDiscoveryWithNegatedInterfaceList(t *testing.T) {
	raw := []byte(`
charge_bridge:
  name: bridge-1
  ip: ANY_EV!eth0,eth1
`)
	sessions, err := Load(raw)
	require.NoError(t, err)
	d := sessions[0].Discovery
	assert.True(t, d.Wildcard)
	assert.False(t, d.EVSE)
	assert.Equal(t, []string{"eth0", "eth1"}, d.Interfaces)
	assert.True(t, d.Exclude)
}

func TestSafetyValidationRejectsBadPpMode(t *testing.T) {
	raw := []byte(`
charge_bridge:
  name: bridge-1
  ip: 192.168.1.50
safety:
  pp_mode: BOGUS
`)
	_, err := Load(raw)
	require.Error(t, err)
}

func TestSafetyValidationRejectsInvertedVoltageLimits(t *testing.T) {
	raw := []byte(`
charge_bridge:
  name: bridge-1
  ip: 192.168.1.50
safety:
  ovm_emergency_voltage: 500
  ovm_error_voltage: 900
`)
	_, err := Load(raw)
	require.Error(t, err)
}
