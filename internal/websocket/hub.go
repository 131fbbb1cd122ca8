// Package websocket pushes job progress to subscribed clients. Polling the
// job endpoints stays the primary interface; this is additive.
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/studiocast/studio/internal/model"
)

const (
	sendBuffer   = 256
	pingInterval = 30 * time.Second
)

// Client represents a WebSocket client
type Client struct {
	JobID string
	Send  chan []byte
}

// Hub maintains active WebSocket connections
type Hub struct {
	// Clients grouped by job ID
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage

	mu     sync.RWMutex
	done   chan struct{}
	logger hclog.Logger
}

// BroadcastMessage represents a message to broadcast
type BroadcastMessage struct {
	JobID   string
	Message []byte
}

// NewHub creates a new Hub
func NewHub(logger hclog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, sendBuffer),
		done:       make(chan struct{}),
		logger:     logger.Named("hub"),
	}
}

// Run starts the hub's main loop and returns when ctx is done
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for jobID, clients := range h.clients {
				for client := range clients {
					close(client.Send)
				}
				delete(h.clients, jobID)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.JobID] == nil {
				h.clients[client.JobID] = make(map[*Client]bool)
			}
			h.clients[client.JobID][client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "job_id", client.JobID)

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "job_id", client.JobID)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[msg.JobID] {
				select {
				case client.Send <- msg.Message:
				default:
					// slow consumer
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove drops a client; callers hold mu
func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.JobID]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.clients, client.JobID)
	}
}

// Register adds a new client
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.Send)
	}
}

// Unregister removes a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// reply queues a message for one client if it is still registered
func (h *Hub) reply(client *Client, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[client.JobID][client] {
		return
	}
	select {
	case client.Send <- data:
	default:
	}
}

// Subscribers returns how many clients follow a job
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[jobID])
}

// JobUpdated broadcasts the job's state to its subscribers
func (h *Hub) JobUpdated(job *model.Job) {
	data, err := Message(job)
	if err != nil {
		h.logger.Error("failed to marshal job message", "job_id", job.ID, "error", err)
		return
	}
	select {
	case h.broadcast <- &BroadcastMessage{JobID: job.ID, Message: data}:
	default:
		h.logger.Warn("broadcast buffer full, dropping update", "job_id", job.ID)
	}
}

// Message encodes the push message for a job: progress while it runs,
// complete with the result, or error once it failed or was cancelled.
func Message(job *model.Job) ([]byte, error) {
	switch job.Status {
	case model.JobStatusCompleted:
		var result interface{}
		if len(job.Result) > 0 {
			result = json.RawMessage(job.Result)
		}
		return json.Marshal(model.WSCompleteMessage{
			Type:     model.WSMessageTypeComplete,
			WSJobRef: model.NewWSJobRef(job),
			Result:   result,
		})
	case model.JobStatusFailed, model.JobStatusCancelled:
		code, message := "JOB_FAILED", job.Error()
		if job.Status == model.JobStatusCancelled {
			code = "JOB_CANCELLED"
			if message == "" {
				message = "job was cancelled"
			}
		}
		return json.Marshal(model.WSErrorMessage{
			Type:     model.WSMessageTypeError,
			WSJobRef: model.NewWSJobRef(job),
			Status:   job.Status,
			Error:    model.WSError{Code: code, Message: message},
		})
	default:
		return json.Marshal(model.WSProgressMessage{
			Type:        model.WSMessageTypeProgress,
			WSJobRef:    model.NewWSJobRef(job),
			Progress:    job.Progress,
			Status:      job.Status,
			CurrentStep: job.CurrentStep,
			Attempts:    job.Attempts,
		})
	}
}

// HandleConnection serves one subscriber until it disconnects. initial, when
// set, is sent before any broadcast.
func (h *Hub) HandleConnection(c *websocket.Conn, jobID string, initial []byte) {
	client := &Client{
		JobID: jobID,
		Send:  make(chan []byte, sendBuffer),
	}
	if initial != nil {
		client.Send <- initial
	}

	h.Register(client)
	defer h.Unregister(client)

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					_ = c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket closed", "job_id", jobID, "error", err)
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			pong, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			h.reply(client, pong)
		}
	}
}
