package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/localcity-market/messaging/internal/middleware"
	"github.com/localcity-market/messaging/internal/realtime"
	"github.com/localcity-market/messaging/pkg/logger"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = 64 * 1024
)

// inbound is a client frame: {"event": "...", "data": {...}}.
type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type joinPayload struct {
	Token string `json:"token"`
}

// WSHandler serves personal rooms over WebSocket. A connection starts
// unjoined and joins the room of the user named by a verified token.
type WSHandler struct {
	hub            *realtime.Hub
	jwtSecret      string
	originPatterns []string
	pingInterval   time.Duration
	logger         *logger.Logger
}

// NewWSHandler creates a WebSocket handler.
func NewWSHandler(hub *realtime.Hub, jwtSecret string, originPatterns []string, pingInterval time.Duration, log *logger.Logger) *WSHandler {
	if pingInterval <= 0 {
		pingInterval = 25 * time.Second
	}
	return &WSHandler{
		hub:            hub,
		jwtSecret:      jwtSecret,
		originPatterns: originPatterns,
		pingInterval:   pingInterval,
		logger:         log.Named("ws"),
	}
}

// Handle handles GET /ws
func (h *WSHandler) Handle(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		// Accept has already written the response.
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(wsReadLimit)

	client := h.hub.Connect(realtime.TransportWebSocket)
	defer h.hub.Disconnect(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.writeLoop(ctx, cancel, conn, client)

	err = h.readLoop(ctx, conn, client)
	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
		h.logger.Debug("websocket closed", zap.String("client_id", client.ID), zap.String("user_id", client.UserID()))
	} else {
		h.logger.Info("websocket closed with error",
			zap.String("client_id", client.ID),
			zap.String("user_id", client.UserID()),
			zap.Error(err),
		)
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *realtime.Client) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			h.reply(client, realtime.EventError, "expected a text frame")
			continue
		}

		var in inbound
		if err := json.Unmarshal(data, &in); err != nil {
			h.reply(client, realtime.EventError, "malformed event")
			continue
		}
		h.dispatch(client, in)
	}
}

func (h *WSHandler) dispatch(client *realtime.Client, in inbound) {
	switch in.Event {
	case "join":
		var p joinPayload
		if len(in.Data) > 0 {
			_ = json.Unmarshal(in.Data, &p)
		}
		if p.Token == "" {
			h.reply(client, realtime.EventError, "token is required")
			return
		}
		claims, err := middleware.ParseToken(h.jwtSecret, p.Token)
		if err != nil {
			h.reply(client, realtime.EventError, "invalid token")
			return
		}
		h.hub.Join(client, claims.Subject)
		h.hub.Send(client, realtime.Event{Event: realtime.EventJoined, Data: map[string]string{"user_id": claims.Subject}})

	case "leave":
		h.hub.Leave(client)
		h.hub.Send(client, realtime.Event{Event: realtime.EventLeft})

	case "ping":
		h.hub.Send(client, realtime.Event{Event: realtime.EventPong})

	default:
		h.reply(client, realtime.EventError, "unknown event")
	}
}

func (h *WSHandler) reply(client *realtime.Client, event, message string) {
	h.hub.Send(client, realtime.Event{Event: event, Data: map[string]string{"message": message}})
}

// writeLoop drains the client's queue onto the socket and keeps the
// connection alive with pings. Any write failure tears the connection down.
func (h *WSHandler) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, client *realtime.Client) {
	defer cancel()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-client.Events():
			if !ok {
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(wctx, conn, ev)
			wcancel()
			if err != nil {
				return
			}

		case <-ticker.C:
			pctx, pcancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := conn.Ping(pctx)
			pcancel()
			if err != nil {
				return
			}
		}
	}
}
