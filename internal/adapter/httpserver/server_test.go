package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/radar/internal/broadcast"
	"github.com/pscheid92/radar/internal/platform/config"
	"github.com/pscheid92/radar/internal/registry"
	"github.com/pscheid92/radar/internal/router"
	"github.com/stretchr/testify/require"
)

const readTimeout = 2 * time.Second

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:              "test",
		Port:                "0",
		LogLevel:            "info",
		LogFormat:           "text",
		MaxConnections:      100,
		MaxConnectionsPerIP: 100,
		ConnectRate:         1000,
		ConnectBurst:        1000,
		MessageRate:         0,
		MessageBurst:        40,
		MaxFrameBytes:       1 << 20,
		ShutdownTimeout:     5 * time.Second,
	}
}

type testEnv struct {
	server   *Server
	http     *httptest.Server
	hub      *broadcast.Hub
	registry *registry.Registry
}

// newTestServer wires the full stack behind an httptest server.
func newTestServer(t *testing.T, opts ...func(*config.Config)) *testEnv {
	t.Helper()

	cfg := testConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	clock := clockwork.NewRealClock()
	reg := registry.New(clock)
	hub := broadcast.NewHub(clock)
	t.Cleanup(hub.Stop)

	srv, err := NewServer(cfg, clock, hub, router.New(reg, hub, clock), nil)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{server: srv, http: ts, hub: hub, registry: reg}
}

func (e *testEnv) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(e.http.URL, "http") + path
}

func (e *testEnv) dial(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial(e.wsURL("/ws"), header)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func readEnvelope(t *testing.T, ws *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(readTimeout)))
	var env envelope
	require.NoError(t, ws.ReadJSON(&env))
	return env
}

// readUntil skips envelopes until one of type typ arrives.
func readUntil(t *testing.T, ws *websocket.Conn, typ string) envelope {
	t.Helper()
	for {
		env := readEnvelope(t, ws)
		if env.Type == typ {
			return env
		}
	}
}

func payloadOf[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Payload, &v))
	return v
}
