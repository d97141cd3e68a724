// Package realtime exposes the notification fan-out over WebSocket connections.
//
// Each connection is one broker subscriber. Clients send envelopes of the form
// {"event": "subscribe", "data": {"mediaId": "..."}} to choose topics and receive
// every event published on them.
package realtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/maauso/mediaflow/internal/auth"
	"github.com/maauso/mediaflow/internal/events"
	"github.com/maauso/mediaflow/internal/fanout"
)

// Client message names.
const (
	MsgSubscribe         = "subscribe"
	MsgUnsubscribe       = "unsubscribe"
	MsgSubscribeTenant   = "subscribeTenant"
	MsgUnsubscribeTenant = "unsubscribeTenant"
)

// Server reply names.
const (
	ReplySubscribed   = "subscribed"
	ReplyUnsubscribed = "unsubscribed"
	ReplyError        = "error"
)

// Config tunes connection keepalive and limits.
type Config struct {
	// WriteWait bounds a single frame write.
	WriteWait time.Duration
	// PongWait is how long the peer may stay silent.
	PongWait time.Duration
	// PingPeriod must be shorter than PongWait.
	PingPeriod time.Duration
	// MaxMessageSize caps inbound frames.
	MaxMessageSize int64
	// AllowedOrigins restricts the Origin header; "*" or empty allows any.
	AllowedOrigins []string
}

// DefaultConfig returns the keepalive settings used in production.
func DefaultConfig() Config {
	return Config{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxMessageSize: 4096,
		AllowedOrigins: []string{"*"},
	}
}

// Broker is the part of the fan-out a connection uses.
type Broker interface {
	Subscribe() *fanout.Subscriber
	Attach(sub *fanout.Subscriber, topic string) bool
	Detach(sub *fanout.Subscriber, topic string)
	Close(sub *fanout.Subscriber)
}

// Handler upgrades requests and serves one subscriber per connection.
type Handler struct {
	broker   Broker
	verifier auth.Verifier
	config   Config
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a new Handler. Zero config fields take their defaults.
// verifier may be nil, in which case tenant subscriptions are always refused.
func NewHandler(broker Broker, verifier auth.Verifier, config Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if config.WriteWait <= 0 {
		config.WriteWait = def.WriteWait
	}
	if config.PongWait <= 0 {
		config.PongWait = def.PongWait
	}
	if config.PingPeriod <= 0 || config.PingPeriod >= config.PongWait {
		config.PingPeriod = config.PongWait * 9 / 10
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = def.MaxMessageSize
	}
	h := &Handler{
		broker:   broker,
		verifier: verifier,
		config:   config,
		logger:   logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.config.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServeHTTP handles GET /ws. A token is optional; when one is presented it
// must verify, and only then may the connection subscribe to its tenant topic.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal, hasPrincipal, err := h.authenticate(r)
	if err != nil {
		h.logger.Warn("websocket token rejected", slog.String("error", err.Error()))
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &conn{
		ws:        ws,
		handler:   h,
		sub:       h.broker.Subscribe(),
		replies:   make(chan []byte, 16),
		done:      make(chan struct{}),
		principal: principal,
		hasAuth:   hasPrincipal,
	}

	h.logger.Debug("websocket connected",
		slog.String("remote_addr", r.RemoteAddr),
		slog.Bool("authenticated", hasPrincipal),
	)

	go c.writeLoop()
	c.readLoop()

	h.logger.Debug("websocket disconnected", slog.String("remote_addr", r.RemoteAddr))
}

func (h *Handler) authenticate(r *http.Request) (auth.Principal, bool, error) {
	token := auth.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = r.URL.Query().Get("access_token")
	}
	if token == "" || h.verifier == nil {
		return auth.Principal{}, false, nil
	}
	p, err := h.verifier.Verify(r.Context(), token)
	if err != nil {
		return auth.Principal{}, false, err
	}
	return p, true, nil
}

type conn struct {
	ws        *websocket.Conn
	handler   *Handler
	sub       *fanout.Subscriber
	replies   chan []byte
	done      chan struct{}
	principal auth.Principal
	hasAuth   bool
}

type clientMessage struct {
	MediaID  string `json:"mediaId"`
	TenantID string `json:"tenantId"`
}

// readLoop owns the read side and runs until the peer goes away.
func (c *conn) readLoop() {
	cfg := c.handler.config
	defer func() {
		c.handler.broker.Close(c.sub)
		close(c.done)
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.handler.logger.Debug("websocket read failed", slog.String("error", err.Error()))
			}
			return
		}
		c.handle(raw)
	}
}

func (c *conn) handle(raw []byte) {
	var env events.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.replyError("malformed message")
		return
	}
	var msg clientMessage
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			c.replyError("malformed message data")
			return
		}
	}

	switch env.Event {
	case MsgSubscribe:
		if msg.MediaID == "" {
			c.replyError("mediaId is required")
			return
		}
		c.attach(events.MediaTopic(msg.MediaID))
	case MsgUnsubscribe:
		if msg.MediaID == "" {
			c.replyError("mediaId is required")
			return
		}
		c.detach(events.MediaTopic(msg.MediaID))
	case MsgSubscribeTenant:
		if err := c.authorizeTenant(msg.TenantID); err != nil {
			c.replyError(err.Error())
			return
		}
		c.attach(events.TenantTopic(msg.TenantID))
	case MsgUnsubscribeTenant:
		if msg.TenantID == "" {
			c.replyError("tenantId is required")
			return
		}
		c.detach(events.TenantTopic(msg.TenantID))
	default:
		c.replyError("unknown message " + env.Event)
	}
}

var (
	errTenantRequired  = errors.New("tenantId is required")
	errUnauthenticated = errors.New("authentication required")
	errForbiddenTenant = errors.New("tenant not permitted")
)

func (c *conn) authorizeTenant(tenantID string) error {
	switch {
	case tenantID == "":
		return errTenantRequired
	case !c.hasAuth:
		return errUnauthenticated
	case c.principal.TenantID != tenantID:
		return errForbiddenTenant
	}
	return nil
}

func (c *conn) attach(topic string) {
	// Attaching twice is a no-op, so a repeated subscribe still succeeds.
	c.handler.broker.Attach(c.sub, topic)
	c.reply(ReplySubscribed, map[string]string{"topic": topic})
}

func (c *conn) detach(topic string) {
	c.handler.broker.Detach(c.sub, topic)
	c.reply(ReplyUnsubscribed, map[string]string{"topic": topic})
}

func (c *conn) replyError(message string) {
	c.reply(ReplyError, map[string]string{"message": message})
}

func (c *conn) reply(name string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	frame, err := json.Marshal(events.Envelope{Event: name, Data: payload})
	if err != nil {
		return
	}
	select {
	case c.replies <- frame:
	case <-c.done:
	}
}

// writeLoop is the only writer on the connection.
func (c *conn) writeLoop() {
	cfg := c.handler.config
	ticker := time.NewTicker(cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case d, ok := <-c.sub.Events():
			if !ok {
				c.writeClose()
				return
			}
			frame, err := events.Marshal(d.Event)
			if err != nil {
				c.handler.logger.Error("failed to encode event",
					slog.String("topic", d.Topic),
					slog.String("error", err.Error()),
				)
				continue
			}
			if err := c.write(websocket.TextMessage, frame); err != nil {
				return
			}

		case frame := <-c.replies:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.writeClose()
			return
		}
	}
}

func (c *conn) write(messageType int, data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.handler.config.WriteWait))
	return c.ws.WriteMessage(messageType, data)
}

func (c *conn) writeClose() {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.handler.config.WriteWait))
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
