package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/naperu/estatebot/internal/domain"
	"github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this interval (must be < pongWait)
	pingInterval = 30 * time.Second

	sendBuffer = 64
)

// Event types for WebSocket communication
const (
	EventLead          = "lead_event"
	EventAccountStatus = "account_status"
	// EventAssigned goes only to the sessions of the agent holding the lead.
	EventAssigned = "lead_assigned"
)

// Message represents a WebSocket message
type Message struct {
	Event   string      `json:"event"`
	StaffID string      `json:"staff_id,omitempty"`
	Data    interface{} `json:"data"`
}

// LeadEventPayload is the wire form of a lead lifecycle event.
type LeadEventPayload struct {
	ID         uuid.UUID        `json:"id"`
	Kind       domain.EventKind `json:"kind"`
	Lead       *domain.Lead     `json:"lead"`
	AgentName  string           `json:"agent_name,omitempty"`
	GroupName  string           `json:"group_name,omitempty"`
	Field      string           `json:"field,omitempty"`
	OldValue   string           `json:"old_value,omitempty"`
	NewValue   string           `json:"new_value,omitempty"`
	Document   string           `json:"document,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

type AccountStatusPayload struct {
	AccountID uuid.UUID `json:"account_id"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
}

// Client represents a connected dashboard session
type Client struct {
	ID      string
	StaffID uuid.UUID
	Conn    *websocket.Conn
	Send    chan []byte
	Hub     *Hub
}

func NewClient(hub *Hub, conn *websocket.Conn, staffID uuid.UUID) *Client {
	return &Client{
		ID:      uuid.NewString(),
		StaffID: staffID,
		Conn:    conn,
		Send:    make(chan []byte, sendBuffer),
		Hub:     hub,
	}
}

// Hub maintains the set of active clients and broadcasts messages
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Clients indexed by staff id for targeted messages
	staffClients map[uuid.UUID]map[*Client]bool

	broadcast chan *Message
	register  chan *Client

	mu  sync.RWMutex
	log *logrus.Entry
}

func NewHub(log *logrus.Entry) *Hub {
	return &Hub{
		clients:      make(map[*Client]bool),
		staffClients: make(map[uuid.UUID]map[*Client]bool),
		broadcast:    make(chan *Message, 256),
		register:     make(chan *Client),
		log:          log,
	}
}

// Run starts the hub's main loop and returns when ctx is done. Remaining
// clients are closed on exit.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			if _, ok := h.staffClients[client.StaffID]; !ok {
				h.staffClients[client.StaffID] = make(map[*Client]bool)
			}
			h.staffClients[client.StaffID][client] = true
			h.mu.Unlock()
			h.log.WithFields(logrus.Fields{"client_id": client.ID, "staff_id": client.StaffID}).Debug("client registered")

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	if staffClients, ok := h.staffClients[client.StaffID]; ok {
		delete(staffClients, client)
		if len(staffClients) == 0 {
			delete(h.staffClients, client.StaffID)
		}
	}
	close(client.Send)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.Send)
	}
	h.clients = make(map[*Client]bool)
	h.staffClients = make(map[uuid.UUID]map[*Client]bool)
}

// broadcastMessage sends a message to relevant clients. Clients whose buffer
// is full are dropped.
func (h *Hub) broadcastMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.WithError(err).WithField("event", msg.Event).Error("failed to marshal message")
		return
	}

	h.mu.RLock()
	targets := h.clients
	if msg.StaffID != "" {
		targets = nil
		if staffID, err := uuid.Parse(msg.StaffID); err == nil {
			targets = h.staffClients[staffID]
		}
	}
	var slow []*Client
	for client := range targets {
		select {
		case client.Send <- data:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.WithField("client_id", c.ID).Warn("client buffer full, disconnecting")
		h.remove(c)
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client. It is safe after the hub has stopped.
func (h *Hub) Unregister(client *Client) {
	h.remove(client)
	h.log.WithField("client_id", client.ID).Debug("client unregistered")
}

// Broadcast queues msg without blocking. It reports false when the queue is
// full and the message was dropped.
func (h *Hub) Broadcast(msg *Message) bool {
	select {
	case h.broadcast <- msg:
		return true
	default:
		h.log.WithField("event", msg.Event).Warn("broadcast queue full, dropping message")
		return false
	}
}

// Publish forwards a lead event to every dashboard client. Events that hand
// work to an agent are also pushed to that agent's own sessions.
func (h *Hub) Publish(_ context.Context, ev domain.Event) error {
	payload := LeadEventPayload{
		ID:         ev.ID,
		Kind:       ev.Kind,
		Lead:       ev.Lead,
		Field:      ev.Field,
		OldValue:   ev.OldValue,
		NewValue:   ev.NewValue,
		Document:   ev.Document,
		OccurredAt: ev.OccurredAt,
	}
	if ev.Agent != nil {
		payload.AgentName = ev.Agent.Name
	}
	if ev.Group != nil {
		payload.GroupName = ev.Group.Name
	}
	h.Broadcast(&Message{Event: EventLead, Data: payload})
	if ev.Agent != nil && ev.Agent.StaffID != uuid.Nil && assignsWork(ev.Kind) {
		h.SendToStaff(ev.Agent.StaffID, EventAssigned, payload)
	}
	return nil
}

func assignsWork(kind domain.EventKind) bool {
	switch kind {
	case domain.EventLeadCreatedSelf, domain.EventLeadAccepted, domain.EventDocumentReady:
		return true
	}
	return false
}

// BroadcastAccountStatus reports a linked account connection change.
func (h *Hub) BroadcastAccountStatus(accountID uuid.UUID, status, detail string) {
	h.Broadcast(&Message{
		Event: EventAccountStatus,
		Data:  AccountStatusPayload{AccountID: accountID, Status: status, Detail: detail},
	})
}

// SendToStaff delivers an event to the sessions of one staff user.
func (h *Hub) SendToStaff(staffID uuid.UUID, event string, data interface{}) {
	h.Broadcast(&Message{Event: event, StaffID: staffID.String(), Data: data})
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	// Set read deadline, reset on every pong
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNoStatusReceived) {
				c.Hub.log.WithError(err).WithField("client_id", c.ID).Debug("read error")
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			c.Hub.log.WithField("client_id", c.ID).Debug("invalid message format")
			continue
		}
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleMessage(&msg)
	}
}

// WritePump writes messages to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.Hub.log.WithError(err).WithField("client_id", c.ID).Debug("write error")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage logs client frames. Dashboards only receive; pings from the
// browser just keep the read deadline fresh.
func (c *Client) handleMessage(msg *Message) {
	c.Hub.log.WithFields(logrus.Fields{"client_id": c.ID, "event": msg.Event}).Debug("client event")
}
