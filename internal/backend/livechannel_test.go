package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// liveServer echoes a tick after each config message and records configs.
func liveServer(t *testing.T) (string, <-chan map[string]any) {
	t.Helper()
	configs := make(chan map[string]any, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			data, err := wsutil.ReadClientText(conn)
			if err != nil {
				return
			}
			var msg map[string]any
			if json.Unmarshal(data, &msg) != nil {
				continue
			}
			configs <- msg
			if err := wsutil.WriteServerText(conn, []byte(`{"type":"tick","close":101.5}`)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), configs
}

func TestLiveChannelOpenReconfigureClose(t *testing.T) {
	url, configs := liveServer(t)

	ticks := make(chan json.RawMessage, 8)
	lc := NewLiveChannel(url, func(msg json.RawMessage) { ticks <- msg }, nil)
	assert.False(t, lc.IsOpen())

	cfg := LiveConfig{Symbol: "SPY", Indicators: []string{"rsi"}, Resolution: "1h", From: 1400, To: 2600}
	require.NoError(t, lc.Open(context.Background(), cfg))
	assert.True(t, lc.IsOpen())

	select {
	case msg := <-configs:
		assert.Equal(t, "config", msg["type"])
		assert.Equal(t, "SPY", msg["symbol"])
		assert.Equal(t, 1400.0, msg["from_ts"])
		assert.Equal(t, 2600.0, msg["to_ts"])
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive config")
	}

	select {
	case tick := <-ticks:
		assert.JSONEq(t, `{"type":"tick","close":101.5}`, string(tick))
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not receive tick")
	}

	cfg.From, cfg.To = 2000, 3000
	require.NoError(t, lc.Reconfigure(cfg))
	select {
	case msg := <-configs:
		assert.Equal(t, 3000.0, msg["to_ts"])
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive reconfigure")
	}

	lc.Close()
	assert.False(t, lc.IsOpen())
	assert.Error(t, lc.Reconfigure(cfg))
}

func TestLiveChannelOpenWithoutURL(t *testing.T) {
	lc := NewLiveChannel("", nil, nil)
	assert.Error(t, lc.Open(context.Background(), LiveConfig{Symbol: "SPY"}))
	assert.False(t, lc.IsOpen())
	lc.Close()
}
