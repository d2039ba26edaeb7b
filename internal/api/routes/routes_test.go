package routes

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filip-herceg/reviewpoint-realtime/internal/config"
	ws "github.com/filip-herceg/reviewpoint-realtime/internal/websocket"
)

const testSecret = "integration-test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestGateway(t *testing.T, tune func(*ws.Config)) (*httptest.Server, *ws.Hub) {
	t.Helper()

	hubCfg := ws.DefaultConfig()
	hubCfg.SweepInterval = time.Hour
	if tune != nil {
		tune(hubCfg)
	}

	cfg := &config.Config{
		Gateway: config.GatewayConfig{
			MaxConnectionsPerIdentity: hubCfg.MaxConnectionsPerIdentity,
			MaxTotalConnections:       hubCfg.MaxTotalConnections,
			ConnectionTimeout:         hubCfg.ConnectionTimeout,
			SweepInterval:             hubCfg.SweepInterval,
			RateLimitMaxMessages:      hubCfg.RateLimitMaxMessages,
			RateLimitWindow:           hubCfg.RateLimitWindow,
			MaxFrameSize:              hubCfg.MaxFrameSize,
			UpgradeRatePerSecond:      1000,
			UpgradeBurst:              1000,
		},
		JWT: config.JWTConfig{Secret: testSecret},
	}

	hub := ws.NewHub(hubCfg, nil)
	hub.Run()

	router := NewRouter(hub, cfg)
	router.SetupRoutes()

	srv := httptest.NewServer(router.GetEngine())
	t.Cleanup(func() {
		hub.Stop()
		srv.Close()
	})
	return srv, hub
}

func signToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func wsURL(srv *httptest.Server, token string) string {
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	if token != "" {
		u += "?token=" + token
	}
	return u
}

func dial(t *testing.T, srv *httptest.Server, subject string) *gorillaws.Conn {
	t.Helper()
	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL(srv, signToken(t, subject)), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *gorillaws.Conn) *ws.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env ws.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return &env
}

func TestSessionLifecycle(t *testing.T) {
	srv, hub := newTestGateway(t, nil)
	conn := dial(t, srv, "user-1")

	established := readEnvelope(t, conn)
	require.Equal(t, ws.MessageTypeConnectionEstablished, established.Type)
	connectionID, ok := established.Data["connection_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, connectionID)

	// Application-level ping round trip with correlation id
	require.NoError(t, conn.WriteJSON(ws.NewEvent(ws.MessageTypePing, map[string]interface{}{
		"pingId": "rt-1",
	})))
	pong := readEnvelope(t, conn)
	assert.Equal(t, ws.MessageTypePong, pong.Type)
	assert.Equal(t, "rt-1", pong.Data["pingId"])

	// Subscribe and receive a topic broadcast
	require.NoError(t, conn.WriteJSON(ws.NewEvent(ws.MessageTypeSubscribe, map[string]interface{}{
		"events": []string{"upload.progress"},
	})))
	confirmed := readEnvelope(t, conn)
	assert.Equal(t, ws.MessageTypeSubscriptionConfirmed, confirmed.Type)

	delivered := hub.BroadcastToTopic(ws.TopicUploadProgress, ws.NewTopicEvent(ws.TopicUploadProgress, map[string]interface{}{
		"upload_id": "up-9",
		"percent":   42,
	}))
	assert.Equal(t, 1, delivered)

	event := readEnvelope(t, conn)
	assert.Equal(t, ws.MessageType(ws.TopicUploadProgress), event.Type)
	assert.Equal(t, "up-9", event.Data["upload_id"])
}

func TestUpgradeRequiresValidToken(t *testing.T) {
	srv, _ := newTestGateway(t, nil)

	_, resp, err := gorillaws.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = gorillaws.DefaultDialer.Dial(wsURL(srv, "not-a-jwt"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCapacityRefusalCloseCode(t *testing.T) {
	srv, _ := newTestGateway(t, func(cfg *ws.Config) {
		cfg.MaxConnectionsPerIdentity = 1
	})

	first := dial(t, srv, "user-1")
	readEnvelope(t, first)

	// The upgrade itself succeeds; the refusal arrives as a close frame
	second := dial(t, srv, "user-1")
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := second.ReadMessage()
	require.Error(t, err)
	assert.True(t, gorillaws.IsCloseError(err, gorillaws.CloseTryAgainLater), "unexpected close: %v", err)

	// The first connection is untouched
	require.NoError(t, first.WriteJSON(ws.NewEvent(ws.MessageTypePing, nil)))
	pong := readEnvelope(t, first)
	assert.Equal(t, ws.MessageTypePong, pong.Type)
}

func TestOversizedFrameClosesWithMessageTooBig(t *testing.T) {
	srv, _ := newTestGateway(t, func(cfg *ws.Config) {
		cfg.MaxFrameSize = 512
	})

	conn := dial(t, srv, "user-1")
	readEnvelope(t, conn)

	payload := strings.Repeat("x", 2048)
	require.NoError(t, conn.WriteJSON(ws.NewEvent(ws.MessageTypePing, map[string]interface{}{
		"padding": payload,
	})))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, gorillaws.IsCloseError(err, gorillaws.CloseMessageTooBig), "unexpected close: %v", err)
}

func TestStatsEndpoint(t *testing.T) {
	srv, _ := newTestGateway(t, nil)

	conn := dial(t, srv, "user-1")
	readEnvelope(t, conn)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/ws/stats", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "user-1"))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, err = http.NewRequest(http.MethodGet, srv.URL+"/api/v1/ws/stats", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestGateway(t, nil)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
