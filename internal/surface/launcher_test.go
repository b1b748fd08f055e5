package surface

import (
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLaunchSkipsWhenPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	l := NewLauncher(LaunchConfig{CDPAddress: "127.0.0.1", CDPPort: port, StartURL: "about:blank"})
	require.NoError(t, l.Launch(context.Background()))
	assert.False(t, l.Running())

	l.Stop()
	assert.False(t, l.Running())
}

func TestNewLauncherDefaults(t *testing.T) {
	l := NewLauncher(LaunchConfig{})
	assert.Equal(t, 1600, l.cfg.Width)
	assert.Equal(t, 900, l.cfg.Height)
	assert.Positive(t, l.cfg.ReadyWait)
}
