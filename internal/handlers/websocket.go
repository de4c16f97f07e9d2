package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/services/events"
	"golang.org/x/time/rate"
)

// statsInterval is how often connected clients receive a queue depth update
const statsInterval = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local dashboards
	},
}

// WSMessage is the envelope every WebSocket frame carries
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// helloPayload is sent once per connection. Clients compare the server
// instance id against their last seen value to detect restarts.
type helloPayload struct {
	ServerInstanceID string `json:"server_instance_id"`
	Version          string `json:"version"`
	ConnectedAt      string `json:"connected_at"`
}

// WebSocketHandler relays pipeline events to connected clients: queue
// stats on a ticker, item outcomes, rotation summaries and match
// notifications. Event types with a configured throttle interval are
// rate-limited before broadcast.
type WebSocketHandler struct {
	logger           arbor.ILogger
	queue            interfaces.QueueManager
	eventService     interfaces.EventService
	clients          map[*websocket.Conn]bool
	clientMutex      map[*websocket.Conn]*sync.Mutex
	mu               sync.RWMutex
	throttlers       map[interfaces.EventType]*rate.Limiter
	serverInstanceID string
}

// NewWebSocketHandler creates the handler and subscribes it to the event
// bus. queue may be nil when no stats ticker will run.
func NewWebSocketHandler(eventService interfaces.EventService, queue interfaces.QueueManager, cfg *common.EventsConfig, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		queue:            queue,
		eventService:     eventService,
		clients:          make(map[*websocket.Conn]bool),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		throttlers:       make(map[interfaces.EventType]*rate.Limiter),
		serverInstanceID: uuid.New().String(),
	}

	logger.Info().Str("server_instance_id", h.serverInstanceID).Msg("WebSocket handler initialized")

	// Throttlers exist only for event types with a configured interval;
	// everything else broadcasts unthrottled.
	if cfg != nil {
		for eventType, intervalStr := range cfg.ThrottleIntervals {
			duration, err := time.ParseDuration(intervalStr)
			if err != nil {
				logger.Warn().
					Err(err).
					Str("event_type", eventType).
					Str("interval", intervalStr).
					Msg("Invalid throttle interval - event type unthrottled")
				continue
			}
			h.throttlers[interfaces.EventType(eventType)] = rate.NewLimiter(rate.Every(duration), 1)
			logger.Debug().
				Str("event_type", eventType).
				Str("interval", intervalStr).
				Msg("Throttler initialized")
		}
	}

	if eventService != nil {
		h.subscribe()
	}

	return h
}

// subscribe relays the pipeline's event types to connected clients.
// Payloads are the typed structs published in-process, so they marshal
// directly into the frame envelope.
func (h *WebSocketHandler) subscribe() {
	relayed := []interfaces.EventType{
		interfaces.EventItemEnqueued,
		interfaces.EventItemStarted,
		interfaces.EventItemFinished,
		interfaces.EventQueueStats,
		interfaces.EventMatchFound,
		interfaces.EventRotationStarted,
		interfaces.EventRotationFinished,
		interfaces.EventSourceScraped,
	}
	for _, eventType := range relayed {
		et := eventType
		h.eventService.Subscribe(et, func(ctx context.Context, event interfaces.Event) error {
			h.Broadcast(string(et), event.Payload)
			return nil
		})
	}
}

// HandleWebSocket handles GET /ws connection upgrades
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Msgf("WebSocket client connected (total: %d)", clientCount)

	h.sendHello(conn)

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().Msgf("WebSocket client disconnected (remaining: %d)", remaining)
	}()

	// Read loop keeps the connection alive; clients don't send anything
	// we act on.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
	}
}

// Broadcast sends one typed event to every connected client, subject to
// the event type's throttler.
func (h *WebSocketHandler) Broadcast(eventType string, payload interface{}) {
	h.mu.RLock()
	clientCount := len(h.clients)
	h.mu.RUnlock()
	if clientCount == 0 {
		return
	}

	if limiter, ok := h.throttlers[interfaces.EventType(eventType)]; ok && !limiter.Allow() {
		return
	}

	msg := WSMessage{
		Type:    eventType,
		Payload: payload,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("event_type", eventType).Msg("Failed to marshal event message")
		return
	}

	h.writeToAll(data)
}

// writeToAll fans a marshaled frame out to every client. Each connection
// has its own write mutex so a slow client never corrupts another's frame.
func (h *WebSocketHandler) writeToAll(data []byte) {
	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	mutexes := make([]*sync.Mutex, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
		mutexes = append(mutexes, h.clientMutex[conn])
	}
	h.mu.RUnlock()

	for i, conn := range clients {
		mutex := mutexes[i]
		mutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Msg("Failed to send event to client")
		}
	}
}

// sendHello sends the connection greeting with the server instance id
func (h *WebSocketHandler) sendHello(conn *websocket.Conn) {
	msg := WSMessage{
		Type: "hello",
		Payload: helloPayload{
			ServerInstanceID: h.serverInstanceID,
			Version:          common.GetVersion(),
			ConnectedAt:      time.Now().UTC().Format(time.RFC3339),
		},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal hello message")
		return
	}

	h.mu.RLock()
	mutex := h.clientMutex[conn]
	h.mu.RUnlock()

	if mutex != nil {
		mutex.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		mutex.Unlock()

		if err != nil {
			h.logger.Warn().Err(err).Msg("Failed to send hello")
		}
	}
}

// StartStatsBroadcaster pushes queue depth updates to connected clients
// until ctx is cancelled. Ticks with no clients skip the storage read.
func (h *WebSocketHandler) StartStatsBroadcaster(ctx context.Context) {
	if h.queue == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.mu.RLock()
				clientCount := len(h.clients)
				h.mu.RUnlock()
				if clientCount == 0 {
					continue
				}

				stats, err := h.queue.Stats(ctx)
				if err != nil {
					h.logger.Warn().Err(err).Msg("Stats broadcast: queue stats failed")
					continue
				}

				h.Broadcast(string(interfaces.EventQueueStats), events.QueueStatsPayload{
					Pending:    stats.Pending,
					Processing: stats.Processing,
					Success:    stats.Success,
					Failed:     stats.Failed,
					Skipped:    stats.Skipped,
				})
			}
		}
	}()
}

// ClientCount reports the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
