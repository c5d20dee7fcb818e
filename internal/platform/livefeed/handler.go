package livefeed

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/samber/lo"

	"github.com/clinicsuite/clinic/internal/platform/auth"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxMessage = 4096
)

type Handler struct {
	hub      *Hub
	upgrader gorillaws.Upgrader
}

// NewHandler accepts upgrades from the given origins. A request without an
// Origin header (non-browser client) is always accepted.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	return &Handler{
		hub: hub,
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || lo.Contains(allowedOrigins, "*") || lo.Contains(allowedOrigins, origin)
			},
		},
	}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleReceptionist))
	staff.GET("/live", h.Connect)
}

// Connect upgrades the request and streams events until the client leaves.
// Initial topics may be given as ?topics=service,notice.
func (h *Handler) Connect(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the error response.
		return nil
	}

	var topics []string
	if q := c.QueryParam("topics"); q != "" {
		topics = lo.Compact(lo.Map(strings.Split(q, ","), func(s string, _ int) string { return strings.TrimSpace(s) }))
	}
	client := NewClient(uuid.NewString(), auth.UserIDFromContext(c.Request().Context()), topics)
	h.hub.Register(client)
	h.hub.logger.Info().Str("client_id", client.ID).Str("user_id", client.UserID).Strs("topics", topics).Msg("client connected")

	go h.writePump(client, ws)
	h.readPump(client, ws)
	return nil
}

func (h *Handler) readPump(client *Client, ws *gorillaws.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
		h.hub.logger.Info().Str("client_id", client.ID).Msg("client disconnected")
	}()

	ws.SetReadLimit(maxMessage)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		h.hub.Apply(client, msg)
	}
}

func (h *Handler) writePump(client *Client, ws *gorillaws.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillaws.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillaws.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillaws.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
