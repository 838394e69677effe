package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	authdomain "github.com/smallbiznis/crmauth/internal/auth/domain"
	"go.uber.org/zap"
)

const handshakeTimeout = 10 * time.Second

// TokenAuthorizer resolves a bearer token the same way HTTP requests do.
type TokenAuthorizer interface {
	Authorize(ctx context.Context, rawToken string) (*authdomain.Principal, error)
}

type handshake struct {
	Auth struct {
		Token string `json:"token"`
	} `json:"auth"`
}

type connected struct {
	UserID         string `json:"userId"`
	OrganizationID string `json:"organizationId"`
	Email          string `json:"email"`
}

type Handler struct {
	hub      *Hub
	auth     TokenAuthorizer
	log      *zap.Logger
	upgrader websocket.Upgrader
	timeout  time.Duration
	origins  map[string]struct{}
}

// NewHandler accepts upgrades from the listed origins. Without any, only
// same-origin browsers and clients that send no Origin header get through.
func NewHandler(hub *Hub, auth TokenAuthorizer, log *zap.Logger, allowedOrigins ...string) *Handler {
	h := &Handler{
		hub:     hub,
		auth:    auth,
		log:     log.Named("realtime.handler"),
		timeout: handshakeTimeout,
		origins: make(map[string]struct{}, len(allowedOrigins)),
	}
	for _, origin := range allowedOrigins {
		if origin = normalizeOrigin(origin); origin != "" {
			h.origins[origin] = struct{}{}
		}
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
	if origin == "" {
		return true
	}
	if len(h.origins) == 0 {
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
	_, ok := h.origins[normalizeOrigin(origin)]
	if !ok {
		h.log.Warn("websocket origin rejected", zap.String("origin", origin))
	}
	return ok
}

func normalizeOrigin(origin string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))
}

// Serve upgrades the connection and waits for the auth frame
// {"auth":{"token":"..."}}. Nothing is registered until the token checks out.
func (h *Handler) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	principal, code, reason := h.handshake(c.Request.Context(), conn)
	if principal == nil {
		_ = conn.WriteControl(websocket.CloseMessage, closeMessage(code, reason), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	client := newClient(h.hub, conn, principal.UserID, principal.OrgID, principal.Email, h.log)
	h.hub.Register(client)

	data, _ := json.Marshal(connected{
		UserID:         principal.UserID.String(),
		OrganizationID: principal.OrgID.String(),
		Email:          principal.Email,
	})
	client.enqueue(Message{Event: "connected", Data: data})

	go client.writePump()
	client.readPump()
}

func (h *Handler) handshake(ctx context.Context, conn *websocket.Conn) (*authdomain.Principal, int, string) {
	_ = conn.SetReadDeadline(time.Now().Add(h.timeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, CloseInvalidHandshake, "handshake timeout"
	}

	var frame handshake
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, CloseInvalidHandshake, "invalid handshake"
	}
	token := strings.TrimSpace(frame.Auth.Token)
	if token == "" {
		return nil, CloseUnauthorized, "missing token"
	}

	principal, err := h.auth.Authorize(ctx, token)
	if err != nil {
		return nil, CloseUnauthorized, "invalid token"
	}
	if principal.UserID == uuid.Nil || principal.OrgID == uuid.Nil {
		return nil, CloseInvalidHandshake, "invalid identity"
	}
	return principal, 0, ""
}
