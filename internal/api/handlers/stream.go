package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/irfndi/adaptive-ensemble/internal/events"
	"github.com/sirupsen/logrus"
)

const (
	streamBuffer = 64
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
)

// EventSubscriber is the part of the event bus the live feed listens on.
type EventSubscriber interface {
	Subscribe(e events.Event, buffer int) (<-chan any, func())
}

// StreamHandler pushes decision and resolution events to websocket clients.
type StreamHandler struct {
	bus      EventSubscriber
	upgrader websocket.Upgrader
	logger   *logrus.Logger
}

func NewStreamHandler(bus EventSubscriber, allowedOrigins []string, logger *logrus.Logger) *StreamHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &StreamHandler{
		bus:    bus,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// originChecker allows requests without an Origin header, any origin when
// the list contains "*", and otherwise only listed origins.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set["*"]; ok {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

type subscription struct {
	event events.Event
	ch    <-chan any
}

// Stream upgrades the connection and forwards every bus topic as
// {type, data, timestamp} envelopes until the client goes away.
func (h *StreamHandler) Stream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	merged := make(chan events.Envelope, streamBuffer)
	done := make(chan struct{})
	defer close(done)

	for _, e := range events.All {
		ch, unsub := h.bus.Subscribe(e, streamBuffer)
		defer unsub()
		go relay(subscription{event: e, ch: ch}, merged, done)
	}

	closed := make(chan struct{})
	go h.readPump(conn, closed)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	logger := h.logger.WithField("remote", c.ClientIP())
	logger.Debug("Stream client connected")

	for {
		select {
		case <-closed:
			logger.Debug("Stream client disconnected")
			return
		case env := <-merged:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				logger.WithError(err).Debug("Stream write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func relay(sub subscription, out chan<- events.Envelope, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case payload, ok := <-sub.ch:
			if !ok {
				return
			}
			select {
			case out <- events.NewEnvelope(sub.event, payload):
			case <-done:
				return
			}
		}
	}
}

// readPump discards client frames and closes closed when the peer leaves.
func (h *StreamHandler) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
