package main

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lopelex/roborock-bridge/pkg/config"
	"github.com/lopelex/roborock-bridge/pkg/log"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn")
	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))

	logger = newLogger(&buf, "bogus")
	assert.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestDialerConfig(t *testing.T) {
	c := dialerConfig(config.Device{Retries: config.DefaultRetries})
	assert.Equal(t, 2*time.Second, c.CallTimeout)
	assert.Equal(t, 2, c.Retries)

	// An explicit zero disables resends.
	c = dialerConfig(config.Device{})
	assert.Equal(t, 0, c.Retries)

	c = dialerConfig(config.Device{CallTimeout: 500 * time.Millisecond, Retries: 4})
	assert.Equal(t, 500*time.Millisecond, c.CallTimeout)
	assert.Equal(t, 4, c.Retries)
}

func TestNewProtocolLogger(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	l, closeFn, err := newProtocolLogger(config.Log{Level: "info"}, logger)
	require.NoError(t, err)
	assert.Equal(t, log.NoopLogger{}, l)
	closeFn()

	l, _, err = newProtocolLogger(config.Log{Level: "debug"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &log.SlogAdapter{}, l)

	path := filepath.Join(t.TempDir(), "bridge.rlog")
	l, closeFn, err = newProtocolLogger(config.Log{Level: "debug", Protocol: path}, logger)
	require.NoError(t, err)
	assert.IsType(t, &log.MultiLogger{}, l)
	l.Log(log.Event{Timestamp: time.Now(), Category: log.CategoryState, StateChange: &log.StateChangeEvent{NewState: "CONNECTED"}})
	closeFn()

	reader, err := log.NewReader(path)
	require.NoError(t, err)
	defer reader.Close()
	events, err := reader.ReadAll()
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "CONNECTED", events[0].StateChange.NewState)

	_, _, err = newProtocolLogger(config.Log{Protocol: filepath.Join(t.TempDir(), "missing", "x.rlog")}, logger)
	assert.Error(t, err)
}
