package web

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/pulse/pkg/actor"
	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/valyala/fasthttp"
)

// DefaultWriteTimeout bounds a single frame write to an observer.
const DefaultWriteTimeout = 10 * time.Second

// Gateway upgrades observer connections and routes their frames to the actor
// owning the entity in the URL.
type Gateway[A actor.Actor] struct {
	host         *actor.Host[A]
	logger       *slog.Logger
	upgrader     websocket.FastHTTPUpgrader
	writeTimeout time.Duration
}

// NewGateway creates a gateway for the actors of host.
func NewGateway[A actor.Actor](logger *slog.Logger, host *actor.Host[A], writeTimeout time.Duration) *Gateway[A] {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}

	return &Gateway[A]{
		host:         host,
		logger:       logger.With("module", "gateway", "namespace", host.Namespace()),
		writeTimeout: writeTimeout,
		upgrader: websocket.FastHTTPUpgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(*fasthttp.RequestCtx) bool {
				return true
			},
		},
	}
}

// Handle answers 426 to plain requests and upgrades WebSocket handshakes.
func (g *Gateway[A]) Handle(c fiber.Ctx) error {
	if !websocket.FastHTTPIsWebSocketUpgrade(c.RequestCtx()) {
		return upgradeRequired(c)
	}

	id := param(c, "id")
	if id == "" {
		return badRequest(c, "Entity ID is required")
	}

	err := g.upgrader.Upgrade(c.RequestCtx(), func(ws *websocket.Conn) {
		g.serve(context.Background(), id, ws)
	})
	if err != nil {
		g.logger.WarnContext(c.Context(), "websocket upgrade failed", "id", id, "error", err)
	}

	return nil
}

// serve owns ws until the peer goes away or the host closes the socket.
func (g *Gateway[A]) serve(ctx context.Context, id string, ws *websocket.Conn) {
	conn := &wsConn{ws: ws, writeTimeout: g.writeTimeout}

	socket, err := g.host.Accept(ctx, id, conn)
	if err != nil {
		g.logger.ErrorContext(ctx, "failed to accept connection", "id", id, "error", err)

		_ = conn.Close()

		return
	}

	defer func() {
		err := g.host.Disconnect(ctx, id, socket)
		if err != nil {
			g.logger.ErrorContext(ctx, "failed to disconnect socket", "id", id, "socket_id", socket.ID(), "error", err)
		}

		_ = socket.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.WarnContext(ctx, "connection closed unexpectedly", "id", id, "socket_id", socket.ID(), "error", err)
			}

			return
		}

		err = g.host.Receive(ctx, id, socket, data)
		if err != nil {
			g.logger.ErrorContext(ctx, "failed to handle client message", "id", id, "socket_id", socket.ID(), "error", err)
		}
	}
}

// wsConn adapts a websocket connection to actor.Conn.
type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

func (c *wsConn) WriteMessage(data []byte) error {
	err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err != nil {
		return err
	}

	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)

		c.closeErr = c.ws.Close()
	})

	return c.closeErr
}
