package config

import (
	"testing"

	"github.com/magiconair/properties"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadString(t *testing.T, s string) *Config {
	t.Helper()
	p, err := properties.LoadString(s)
	require.NoError(t, err)
	cfg, err := FromProperties(p)
	require.NoError(t, err)
	return cfg
}

func TestDefaults(t *testing.T) {
	cfg := loadString(t, "role=echo\n")
	assert.Equal(t, "echo", cfg.Role)
	assert.Equal(t, "localhost", cfg.Hostname)
	assert.Equal(t, DefaultMagic, cfg.Magic)
	assert.Equal(t, uint16(DefaultPortRangeMin), cfg.PortRangeMin)
	assert.Equal(t, uint16(DefaultPortRangeMax), cfg.PortRangeMax)
	assert.Equal(t, DefaultBackoffMinMs, cfg.BackoffMinMs)
	assert.Equal(t, DefaultBackoffMaxMs, cfg.BackoffMaxMs)
}

func TestCaseInsensitiveKeys(t *testing.T) {
	cfg := loadString(t, "ROLE=echo\nHostName=box1\n")
	assert.Equal(t, "echo", cfg.Role)
	assert.Equal(t, "box1", cfg.Hostname)
}

func TestKnownHostsParsed(t *testing.T) {
	cfg := loadString(t, "known-hosts=a.local, b.local ,c.local\n")
	assert.Equal(t, []string{"a.local", "b.local", "c.local"}, cfg.KnownHosts)
}

func TestKnownHostsRejectsEmptyEntry(t *testing.T) {
	p, err := properties.LoadString("known-hosts=a.local,,c.local\n")
	require.NoError(t, err)
	_, err = FromProperties(p)
	require.Error(t, err)
	var invalid *ErrInvalid
	assert.ErrorAs(t, err, &invalid)
}

func TestPortRangeParsedAndValidated(t *testing.T) {
	cfg := loadString(t, "port-range=41000-41100\n")
	assert.Equal(t, uint16(41000), cfg.PortRangeMin)
	assert.Equal(t, uint16(41100), cfg.PortRangeMax)

	p, err := properties.LoadString("port-range=41100-41000\n")
	require.NoError(t, err)
	_, err = FromProperties(p)
	require.Error(t, err)
}

func TestBackoffPairParsed(t *testing.T) {
	cfg := loadString(t, "connect-backoff-ms=500-5000\n")
	assert.Equal(t, 500, cfg.BackoffMinMs)
	assert.Equal(t, 5000, cfg.BackoffMaxMs)
}

func TestListenPortInvalid(t *testing.T) {
	p, err := properties.LoadString("listen-port=not-a-number\n")
	require.NoError(t, err)
	_, err = FromProperties(p)
	require.Error(t, err)
}

func TestGetPassesThroughUnmodeledKeys(t *testing.T) {
	cfg := loadString(t, "role=echo\ncustom.key=hello\n")
	v, ok := cfg.Get("Custom.Key")
	require.True(t, ok)
	assert.Equal(t, "hello", v)
}
