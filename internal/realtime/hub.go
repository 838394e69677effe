package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/smallbiznis/crmauth/internal/organization/event"
	"go.uber.org/zap"
)

const (
	CloseInvalidHandshake = 4400
	CloseUnauthorized     = 4401
	CloseSessionRevoked   = 4403
)

// Hub keeps organization id -> connections. A broadcast never crosses an
// organization boundary.
type Hub struct {
	mu   sync.RWMutex
	orgs map[uuid.UUID]map[string]*Client
	log  *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		orgs: make(map[uuid.UUID]map[string]*Client),
		log:  log.Named("realtime.hub"),
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.orgs[c.OrgID] == nil {
		h.orgs[c.OrgID] = make(map[string]*Client)
	}
	h.orgs[c.OrgID][c.ID] = c
	h.mu.Unlock()
	h.log.Debug("client connected",
		zap.String("client_id", c.ID),
		zap.String("org_id", c.OrgID.String()),
		zap.String("user_id", c.UserID.String()),
	)
}

func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if clients, ok := h.orgs[c.OrgID]; ok {
		delete(clients, c.ID)
		if len(clients) == 0 {
			delete(h.orgs, c.OrgID)
		}
	}
	h.mu.Unlock()
	h.log.Debug("client disconnected", zap.String("client_id", c.ID), zap.String("org_id", c.OrgID.String()))
}

// Broadcast queues a message for every connection of orgID and returns how
// many received it. Slow clients with a full buffer are skipped.
func (h *Hub) Broadcast(orgID uuid.UUID, eventName string, payload any) int {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Warn("failed to marshal broadcast payload", zap.String("event", eventName), zap.Error(err))
		return 0
	}
	msg := Message{Event: eventName, Data: data}

	delivered := 0
	for _, c := range h.snapshot(orgID, uuid.Nil) {
		if c.enqueue(msg) {
			delivered++
		}
	}
	return delivered
}

// DisconnectUser closes every connection userID holds in orgID.
func (h *Hub) DisconnectUser(orgID, userID uuid.UUID) int {
	clients := h.snapshot(orgID, userID)
	for _, c := range clients {
		c.close(CloseSessionRevoked, "session revoked")
	}
	return len(clients)
}

// DisconnectOrganization closes every connection of orgID.
func (h *Hub) DisconnectOrganization(orgID uuid.UUID) int {
	clients := h.snapshot(orgID, uuid.Nil)
	for _, c := range clients {
		c.close(CloseSessionRevoked, "organization deactivated")
	}
	return len(clients)
}

func (h *Hub) ConnectionCount(orgID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.orgs[orgID])
}

// Publish consumes tenant lifecycle events so revoked identities lose their
// live connections.
func (h *Hub) Publish(ctx context.Context, topic string, payload []byte) error {
	switch topic {
	case event.UserSessionsRevokedTopic:
		var ev event.UserSessionsRevoked
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		orgID, err := uuid.Parse(ev.OrganizationID)
		if err != nil {
			return err
		}
		userID, err := uuid.Parse(ev.UserID)
		if err != nil {
			return err
		}
		h.DisconnectUser(orgID, userID)
	case event.OrganizationDeactivatedTopic:
		var ev event.OrganizationDeactivated
		if err := json.Unmarshal(payload, &ev); err != nil {
			return err
		}
		orgID, err := uuid.Parse(ev.OrganizationID)
		if err != nil {
			return err
		}
		h.DisconnectOrganization(orgID)
	}
	return nil
}

func (h *Hub) snapshot(orgID, userID uuid.UUID) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := h.orgs[orgID]
	out := make([]*Client, 0, len(clients))
	for _, c := range clients {
		if userID == uuid.Nil || c.UserID == userID {
			out = append(out, c)
		}
	}
	return out
}

var _ event.EventPublisher = (*Hub)(nil)

func closeMessage(code int, reason string) []byte {
	return websocket.FormatCloseMessage(code, reason)
}
