package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/mediaflow/internal/auth"
	"github.com/maauso/mediaflow/internal/events"
	"github.com/maauso/mediaflow/internal/fanout"
	"github.com/maauso/mediaflow/internal/record"
)

type testEnv struct {
	broker   *fanout.Broker
	verifier *auth.JWTVerifier
	server   *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithConfig(t, DefaultConfig())
}

func newTestEnvWithConfig(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	verifier, err := auth.NewJWTVerifier("ws-secret")
	require.NoError(t, err)

	broker := fanout.NewBroker(8, nil, nil)
	h := NewHandler(broker, verifier, cfg, nil)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return &testEnv{broker: broker, verifier: verifier, server: srv}
}

func (e *testEnv) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http")
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	ws, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, name string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, ws.WriteJSON(events.Envelope{Event: name, Data: raw}))
}

func readEnvelope(t *testing.T, ws *websocket.Conn) (events.Envelope, map[string]any) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env events.Envelope
	require.NoError(t, ws.ReadJSON(&env))
	var data map[string]any
	if len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, &data))
	}
	return env, data
}

func TestHandler_SubscribeReceivesMediaEvents(t *testing.T) {
	env := newTestEnv(t)
	ws := env.dial(t, "")

	send(t, ws, MsgSubscribe, map[string]string{"mediaId": "med_1"})
	reply, data := readEnvelope(t, ws)
	assert.Equal(t, ReplySubscribed, reply.Event)
	assert.Equal(t, "media:med_1", data["topic"])

	env.broker.Publish(events.ProgressUpdate{MediaID: "med_2", Progress: 50}, events.MediaTopic("med_2"))
	env.broker.Publish(events.ProgressUpdate{MediaID: "med_1", Progress: 25}, events.MediaTopic("med_1"))
	env.broker.Publish(events.ProcessingDone{
		MediaID: "med_1",
		Outcome: events.Success{Sensitivity: record.SensitivitySafe},
	}, events.MediaTopic("med_1"))

	msg, data := readEnvelope(t, ws)
	assert.Equal(t, events.NameProgress, msg.Event)
	assert.Equal(t, "med_1", data["mediaId"])
	assert.EqualValues(t, 25, data["progress"])

	msg, data = readEnvelope(t, ws)
	assert.Equal(t, events.NameDone, msg.Event)
	assert.Equal(t, "safe", data["sensitivity"])
}

func TestHandler_DuplicateSubscribeDeliversOnce(t *testing.T) {
	env := newTestEnv(t)
	ws := env.dial(t, "")

	for range 2 {
		send(t, ws, MsgSubscribe, map[string]string{"mediaId": "med_1"})
		reply, _ := readEnvelope(t, ws)
		require.Equal(t, ReplySubscribed, reply.Event)
	}
	assert.Equal(t, 1, env.broker.TopicSize(events.MediaTopic("med_1")))

	env.broker.Publish(events.ProgressUpdate{MediaID: "med_1", Progress: 5}, events.MediaTopic("med_1"))
	env.broker.Publish(events.ProgressUpdate{MediaID: "med_1", Progress: 10}, events.MediaTopic("med_1"))

	_, first := readEnvelope(t, ws)
	_, second := readEnvelope(t, ws)
	assert.EqualValues(t, 5, first["progress"])
	assert.EqualValues(t, 10, second["progress"])
}

func TestHandler_Unsubscribe(t *testing.T) {
	env := newTestEnv(t)
	ws := env.dial(t, "")

	send(t, ws, MsgSubscribe, map[string]string{"mediaId": "med_1"})
	readEnvelope(t, ws)
	send(t, ws, MsgUnsubscribe, map[string]string{"mediaId": "med_1"})
	reply, _ := readEnvelope(t, ws)

	assert.Equal(t, ReplyUnsubscribed, reply.Event)
	assert.Equal(t, 0, env.broker.TopicSize(events.MediaTopic("med_1")))
}

func TestHandler_TenantSubscription(t *testing.T) {
	env := newTestEnv(t)

	token, err := env.verifier.Issue(auth.Principal{UserID: "u1", TenantID: "acme", Role: auth.RoleViewer}, time.Hour)
	require.NoError(t, err)

	t.Run("anonymous is refused", func(t *testing.T) {
		ws := env.dial(t, "")
		send(t, ws, MsgSubscribeTenant, map[string]string{"tenantId": "acme"})
		reply, data := readEnvelope(t, ws)
		assert.Equal(t, ReplyError, reply.Event)
		assert.Equal(t, "authentication required", data["message"])
	})

	t.Run("other tenant is refused", func(t *testing.T) {
		ws := env.dial(t, token)
		send(t, ws, MsgSubscribeTenant, map[string]string{"tenantId": "globex"})
		reply, data := readEnvelope(t, ws)
		assert.Equal(t, ReplyError, reply.Event)
		assert.Equal(t, "tenant not permitted", data["message"])
	})

	t.Run("own tenant receives catalog events", func(t *testing.T) {
		ws := env.dial(t, token)
		send(t, ws, MsgSubscribeTenant, map[string]string{"tenantId": "acme"})
		reply, data := readEnvelope(t, ws)
		require.Equal(t, ReplySubscribed, reply.Event)
		assert.Equal(t, "tenant:acme", data["topic"])

		env.broker.Publish(events.MediaUploaded{TenantID: "acme", MediaID: "med_9"}, events.TenantTopic("acme"))
		msg, data := readEnvelope(t, ws)
		assert.Equal(t, events.NameUploaded, msg.Event)
		assert.Equal(t, "med_9", data["mediaId"])
	})

	t.Run("token in query string", func(t *testing.T) {
		url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "?access_token=" + token
		ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		defer func() { _ = ws.Close() }()

		send(t, ws, MsgSubscribeTenant, map[string]string{"tenantId": "acme"})
		reply, _ := readEnvelope(t, ws)
		assert.Equal(t, ReplySubscribed, reply.Event)
	})
}

func TestHandler_InvalidTokenRejected(t *testing.T) {
	env := newTestEnv(t)
	url := "ws" + strings.TrimPrefix(env.server.URL, "http")

	header := http.Header{}
	header.Set("Authorization", "Bearer not-a-token")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_MalformedMessages(t *testing.T) {
	env := newTestEnv(t)
	ws := env.dial(t, "")

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{not json")))
	reply, _ := readEnvelope(t, ws)
	assert.Equal(t, ReplyError, reply.Event)

	send(t, ws, "dance", map[string]string{})
	reply, data := readEnvelope(t, ws)
	assert.Equal(t, ReplyError, reply.Event)
	assert.Equal(t, "unknown message dance", data["message"])

	send(t, ws, MsgSubscribe, map[string]string{})
	reply, data = readEnvelope(t, ws)
	assert.Equal(t, ReplyError, reply.Event)
	assert.Equal(t, "mediaId is required", data["message"])
}

func TestHandler_DisconnectReleasesSubscriber(t *testing.T) {
	env := newTestEnv(t)
	ws := env.dial(t, "")

	send(t, ws, MsgSubscribe, map[string]string{"mediaId": "med_1"})
	readEnvelope(t, ws)
	require.Equal(t, 1, env.broker.Subscribers())

	require.NoError(t, ws.Close())

	assert.Eventually(t, func() bool {
		return env.broker.Subscribers() == 0 && env.broker.TopicSize(events.MediaTopic("med_1")) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCheckOrigin(t *testing.T) {
	h := NewHandler(fanout.NewBroker(1, nil, nil), nil, Config{AllowedOrigins: []string{"https://app.example"}}, nil)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, h.checkOrigin(req))

	req.Header.Set("Origin", "https://app.example")
	assert.True(t, h.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, h.checkOrigin(req))
}

func TestNewHandler_ZeroConfigTakesDefaults(t *testing.T) {
	h := NewHandler(fanout.NewBroker(1, nil, nil), nil, Config{}, nil)

	def := DefaultConfig()
	assert.Equal(t, def.WriteWait, h.config.WriteWait)
	assert.Equal(t, def.PongWait, h.config.PongWait)
	assert.Equal(t, def.MaxMessageSize, h.config.MaxMessageSize)
	assert.Positive(t, h.config.PingPeriod)
	assert.Less(t, h.config.PingPeriod, h.config.PongWait)

	h = NewHandler(fanout.NewBroker(1, nil, nil), nil, Config{PongWait: time.Second, PingPeriod: 5 * time.Second}, nil)
	assert.Less(t, h.config.PingPeriod, time.Second)
}

func TestHandler_ZeroConfigServesConnections(t *testing.T) {
	env := newTestEnvWithConfig(t, Config{})
	ws := env.dial(t, "")

	send(t, ws, MsgSubscribe, map[string]string{"mediaId": "med_1"})
	reply, _ := readEnvelope(t, ws)
	assert.Equal(t, ReplySubscribed, reply.Event)

	env.broker.Publish(events.ProgressUpdate{MediaID: "med_1", Progress: 10}, events.MediaTopic("med_1"))
	msg, data := readEnvelope(t, ws)
	assert.Equal(t, events.NameProgress, msg.Event)
	assert.EqualValues(t, 10, data["progress"])
}
