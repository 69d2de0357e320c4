package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lopelex/roborock-bridge/pkg/connection"
)

const sample = `
log:
  level: debug
connections:
  - id: vacuum
    host: 192.168.1.20
    token: ${TEST_ROBOROCK_TOKEN}
nodes:
  - id: living-room
    type: roborockEvent
    name: Living room
    connection: vacuum
    pooling: 15
    events: true
    debug: false
`

func TestParse(t *testing.T) {
	t.Setenv("TEST_ROBOROCK_TOKEN", "00112233445566778899aabbccddeeff")

	f, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.NoError(t, f.Validate())

	assert.Equal(t, "debug", f.Log.Level)
	assert.Equal(t, DefaultDialTimeout, f.Device.DialTimeout)
	assert.Equal(t, connection.DefaultBackoffConfig(), f.Device.Backoff)

	c, ok := f.Connection("vacuum")
	require.True(t, ok)
	assert.Equal(t, "00112233445566778899aabbccddeeff", c.Token)
	_, ok = f.Connection("other")
	assert.False(t, ok)

	require.Len(t, f.Nodes, 1)
	n := f.Nodes[0]
	assert.Equal(t, "living-room", n.ID)
	assert.Equal(t, "roborockEvent", n.Type)
	assert.Equal(t, "Living room", n.Name)
	assert.NotContains(t, n.Params, "id")

	var params struct {
		Connection string `yaml:"connection"`
		Pooling    int    `yaml:"pooling"`
		Events     bool   `yaml:"events"`
	}
	require.NoError(t, n.Decode(&params))
	assert.Equal(t, "vacuum", params.Connection)
	assert.Equal(t, 15, params.Pooling)
	assert.True(t, params.Events)
}

func TestParseDurations(t *testing.T) {
	f, err := Parse([]byte(`
log:
  protocol: bridge.rlog
  protocolMaxSize: 1048576
device:
  dialTimeout: 3s
  backoff:
    initial: 500ms
    max: 10s
`))
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, f.Device.DialTimeout)
	assert.Equal(t, 500*time.Millisecond, f.Device.Backoff.Initial)
	assert.Equal(t, 10*time.Second, f.Device.Backoff.Max)
	assert.Equal(t, "bridge.rlog", f.Log.Protocol)
	assert.EqualValues(t, 1<<20, f.Log.ProtocolMaxSize)
}

func TestParseRetries(t *testing.T) {
	f, err := Parse([]byte("connections: []\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultRetries, f.Device.Retries)

	f, err = Parse([]byte("device:\n  retries: 0\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, f.Device.Retries)

	f, err = Parse([]byte("device:\n  callTimeout: 1s\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultRetries, f.Device.Retries)
}

func TestApplyDefaults(t *testing.T) {
	f := &File{}
	f.ApplyDefaults()
	assert.Equal(t, DefaultLogLevel, f.Log.Level)
	assert.Equal(t, DefaultDialTimeout, f.Device.DialTimeout)
	assert.NoError(t, f.Validate())
}

func TestValidateReportsAllProblems(t *testing.T) {
	f, err := Parse([]byte(`
log:
  level: loud
connections:
  - id: a
    host: 10.0.0.1
    token: short
  - id: a
    token: 00112233445566778899aabbccddeeff
nodes:
  - id: a
    type: roborockEvent
  - type: roborockEvent
`))
	require.NoError(t, err)

	err = f.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidValue))
	assert.True(t, errors.Is(err, ErrDuplicateID))
	assert.True(t, errors.Is(err, ErrMissingField))

	joined, ok := err.(interface{ Unwrap() []error })
	require.True(t, ok)
	// log level, token, duplicate connection, missing host,
	// duplicate node id, missing node id
	assert.Len(t, joined.Unwrap(), 6)
}

func TestValidateAllowsUnknownConnection(t *testing.T) {
	f, err := Parse([]byte(`
nodes:
  - id: orphan
    type: roborockEvent
    connection: nowhere
`))
	require.NoError(t, err)
	assert.NoError(t, f.Validate())
}

func TestLoadAndEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("TEST_ENVFILE_TOKEN=ffeeddccbbaa99887766554433221100\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("TEST_ENVFILE_TOKEN") })

	require.NoError(t, LoadEnv(envPath))
	require.NoError(t, LoadEnv(filepath.Join(dir, "missing.env")))
	require.NoError(t, LoadEnv(""))

	cfgPath := filepath.Join(dir, "bridge.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
connections:
  - id: v
    host: 10.0.0.9
    token: ${TEST_ENVFILE_TOKEN}
`), 0o600))

	f, err := Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "ffeeddccbbaa99887766554433221100", f.Connections[0].Token)
	assert.Equal(t, DefaultLogLevel, f.Log.Level)

	_, err = Load(filepath.Join(dir, "nope.yaml"))
	assert.Error(t, err)
}

func TestParseRejectsBadYAML(t *testing.T) {
	_, err := Parse([]byte("nodes: [unterminated"))
	assert.Error(t, err)
}
