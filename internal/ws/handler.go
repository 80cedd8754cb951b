package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"diagnosai/backend/internal/api"
	"diagnosai/backend/internal/service"
	"diagnosai/backend/pkg/errors"
	"diagnosai/backend/pkg/logger"
	"diagnosai/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024

	// Frames queued per client before the read loop stops accepting more
	inboxSize = 8
)

// Frame types
const (
	TypeDiagnosis = "diagnosis"
	TypeError     = "error"
	TypePing      = "ping"
	TypePong      = "pong"
)

// Request is an inbound frame. An empty type means diagnosis.
type Request struct {
	Type       string   `json:"type,omitempty"`
	Prompt     string   `json:"prompt"`
	SessionID  *uint    `json:"session_id,omitempty"`
	HealthData string   `json:"health_data,omitempty"`
	Images     []string `json:"images,omitempty"`
}

// Reply is an outbound frame
type Reply struct {
	Type          string `json:"type"`
	DiagnosisText string `json:"diagnosis_text,omitempty"`
	RecordID      uint   `json:"record_id,omitempty"`
	Code          string `json:"code,omitempty"`
	Message       string `json:"message,omitempty"`
}

// Diagnoser runs one diagnosis request
type Diagnoser interface {
	Submit(ctx context.Context, in service.DiagnosisInput, callerID uint) (*service.DiagnosisResult, error)
}

// Hub tracks live connections so they can be closed on shutdown
type Hub struct {
	diagnoser Diagnoser
	upgrader  websocket.Upgrader
	log       *logger.Logger

	mu      sync.Mutex
	clients map[*Client]struct{}
}

// Client is one authenticated WebSocket connection
type Client struct {
	ID     string
	UserID uint
	Conn   *websocket.Conn
	Send   chan Reply

	hub   *Hub
	inbox chan Request
	log   *logger.Logger
}

// NewHub creates a hub. A nil or empty allowedOrigins accepts any origin.
func NewHub(diagnoser Diagnoser, allowedOrigins []string, log *logger.Logger) *Hub {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}

	return &Hub{
		diagnoser: diagnoser,
		log:       log,
		clients:   make(map[*Client]struct{}),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(origins) == 0 || origins["*"] || origin == "" || origins[origin]
			},
		},
	}
}

// RegisterRoutes mounts the socket behind auth, which reads ?token= on handshakes
func (h *Hub) RegisterRoutes(router gin.IRouter, auth gin.HandlerFunc) {
	router.GET("/ws/diagnosis", auth, h.ServeWS)
}

// ServeWS upgrades the request and starts the client pumps
func (h *Hub) ServeWS(c *gin.Context) {
	userID, ok := middleware.CallerID(c)
	if !ok {
		c.Error(errors.NewUnauthorizedError(errors.CodeUnauthorized, "Not authenticated"))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already written an HTTP error
		logger.FromContext(c).Warn("WebSocket upgrade failed", "error", err.Error())
		return
	}

	client := &Client{
		ID:     uuid.New().String(),
		UserID: userID,
		Conn:   conn,
		Send:   make(chan Reply, inboxSize),
		hub:    h,
		inbox:  make(chan Request, inboxSize),
	}
	client.log = &logger.Logger{Logger: logger.FromContext(c).With("client_id", client.ID)}

	h.register(client)
	go client.WritePump()
	go client.process()
	go client.ReadPump()
}

// Connections returns the number of live clients
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.Conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		client.Conn.Close()
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.log.Debug("Client registered", "client_id", c.ID, "user_id", c.UserID)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.inbox)
		h.log.Debug("Client unregistered", "client_id", c.ID)
	}
}

// ReadPump reads frames until the peer goes away
func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("WebSocket closed unexpectedly", "error", err.Error())
			}
			return
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			c.reply(errorReply(errors.NewBadRequestError(errors.CodeInvalidRequest, "Frame must be a JSON object")))
			continue
		}

		switch req.Type {
		case TypePing:
			c.reply(Reply{Type: TypePong})
		case "", TypeDiagnosis:
			c.inbox <- req
		default:
			c.reply(errorReply(errors.NewBadRequestError(errors.CodeInvalidRequest, "Unknown frame type")))
		}
	}
}

// process handles diagnosis frames one at a time so replies keep request order
func (c *Client) process() {
	defer close(c.Send)

	for req := range c.inbox {
		if req.Prompt == "" {
			c.reply(errorReply(errors.NewBadRequestError(errors.CodeInvalidRequest, "prompt is required")))
			continue
		}

		result, err := c.hub.diagnoser.Submit(context.Background(), service.DiagnosisInput{
			Prompt:     req.Prompt,
			SessionID:  req.SessionID,
			HealthData: req.HealthData,
			Images:     req.Images,
		}, c.UserID)
		if err != nil {
			appErr := api.MapError(err)
			c.log.Warn("Diagnosis over WebSocket failed", "error_code", appErr.Code, "error", err.Error())
			c.reply(errorReply(appErr))
			continue
		}

		c.reply(Reply{Type: TypeDiagnosis, DiagnosisText: result.DiagnosisText, RecordID: result.SessionID})
	}
}

func (c *Client) reply(r Reply) {
	select {
	case c.Send <- r:
	default:
		c.log.Warn("Dropping reply for slow client", "type", r.Type)
	}
}

// WritePump writes queued replies and keeps the connection alive with pings
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case r, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(r); err != nil {
				c.log.Warn("WebSocket write failed", "error", err.Error())
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

func errorReply(appErr *errors.AppError) Reply {
	return Reply{Type: TypeError, Code: appErr.Code, Message: appErr.Message}
}
