// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ipc

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	c, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), c)
	assert.Equal(t, TransportZAP, c.Transport)
	assert.Equal(t, DefaultCallTimeout, c.DefaultTimeout)
}

func TestLoadConfigEnv(t *testing.T) {
	t.Setenv("IPC_TRANSPORT", TransportMemory)
	t.Setenv("IPC_DEFAULT_TIMEOUT", "3s")
	t.Setenv("IPC_RETRY_MAX_ATTEMPTS", "7")

	c, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, TransportMemory, c.Transport)
	assert.Equal(t, 3*time.Second, c.DefaultTimeout)
	assert.Equal(t, uint64(7), c.Retry.MaxAttempts)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
address: 127.0.0.1:7000
default_timeout: 1500ms
log_level: debug
retry:
  max_attempts: 2
`), 0o600))

	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", c.Address)
	assert.Equal(t, 1500*time.Millisecond, c.DefaultTimeout)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, uint64(2), c.Retry.MaxAttempts)
	assert.Equal(t, TransportZAP, c.Transport)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	t.Setenv("IPC_TRANSPORT", "carrier-pigeon")
	_, err = LoadConfig("")
	require.ErrorContains(t, err, "unknown transport")
}

func TestConfigValidate(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, c.Validate())

	c.DefaultTimeout = -time.Second
	require.ErrorContains(t, c.Validate(), "negative")
}

func TestConfigOptions(t *testing.T) {
	c := DefaultConfig()
	c.Transport = TransportMemory
	c.DefaultTimeout = time.Second

	o := newDialOptions(c.DialOptions())
	assert.Equal(t, TransportMemory, o.transport)
	assert.Equal(t, time.Second, o.defaultTimeout)

	assert.Len(t, c.JSONRPCOptions(), 2)
}

func TestConfigNewLogger(t *testing.T) {
	c := DefaultConfig()
	c.LogLevel = "debug"
	l, err := c.NewLogger()
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(-1))

	c.LogLevel = "chatty"
	_, err = c.NewLogger()
	require.Error(t, err)
}
