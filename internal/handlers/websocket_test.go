package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/interfaces"
	"github.com/ternarybob/peto/internal/services/events"
)

// wsFrame decodes the broadcast envelope with the payload left raw
type wsFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func newWSServer(t *testing.T, handler *WebSocketHandler) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame wsFrame
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestWebSocketHandler_Hello(t *testing.T) {
	handler := NewWebSocketHandler(nil, nil, nil, arbor.NewLogger())
	conn := dialWS(t, newWSServer(t, handler))

	frame := readFrame(t, conn)
	require.Equal(t, "hello", frame.Type)

	var hello struct {
		ServerInstanceID string `json:"server_instance_id"`
		Version          string `json:"version"`
		ConnectedAt      string `json:"connected_at"`
	}
	require.NoError(t, json.Unmarshal(frame.Payload, &hello))
	assert.NotEmpty(t, hello.ServerInstanceID)
	assert.NotEmpty(t, hello.Version)
	assert.NotEmpty(t, hello.ConnectedAt)
}

func TestWebSocketHandler_BroadcastFanout(t *testing.T) {
	handler := NewWebSocketHandler(nil, nil, nil, arbor.NewLogger())
	url := newWSServer(t, handler)

	first := dialWS(t, url)
	second := dialWS(t, url)

	// The hello frame confirms registration before we broadcast
	readFrame(t, first)
	readFrame(t, second)
	require.Equal(t, 2, handler.ClientCount())

	handler.Broadcast(string(interfaces.EventMatchFound), events.MatchFoundPayload{
		URLHash: "hash-1",
		Title:   "Platform Engineer",
		Score:   82,
	})

	for _, conn := range []*websocket.Conn{first, second} {
		frame := readFrame(t, conn)
		assert.Equal(t, "match_found", frame.Type)

		var payload events.MatchFoundPayload
		require.NoError(t, json.Unmarshal(frame.Payload, &payload))
		assert.Equal(t, 82, payload.Score)
	}
}

func TestWebSocketHandler_Throttle(t *testing.T) {
	cfg := &common.EventsConfig{
		ThrottleIntervals: map[string]string{"queue_stats": "1m"},
	}
	handler := NewWebSocketHandler(nil, nil, cfg, arbor.NewLogger())
	conn := dialWS(t, newWSServer(t, handler))
	readFrame(t, conn)

	handler.Broadcast(string(interfaces.EventQueueStats), events.QueueStatsPayload{Pending: 1})
	handler.Broadcast(string(interfaces.EventQueueStats), events.QueueStatsPayload{Pending: 2})

	frame := readFrame(t, conn)
	assert.Equal(t, "queue_stats", frame.Type)

	// The second frame fell to the throttler
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "Throttled frame must not arrive")
}

func TestWebSocketHandler_InvalidThrottleIntervalIsUnthrottled(t *testing.T) {
	cfg := &common.EventsConfig{
		ThrottleIntervals: map[string]string{"queue_stats": "soon"},
	}
	handler := NewWebSocketHandler(nil, nil, cfg, arbor.NewLogger())
	conn := dialWS(t, newWSServer(t, handler))
	readFrame(t, conn)

	handler.Broadcast(string(interfaces.EventQueueStats), events.QueueStatsPayload{Pending: 1})
	handler.Broadcast(string(interfaces.EventQueueStats), events.QueueStatsPayload{Pending: 2})

	assert.Equal(t, "queue_stats", readFrame(t, conn).Type)
	assert.Equal(t, "queue_stats", readFrame(t, conn).Type)
}

func TestWebSocketHandler_EventRelay(t *testing.T) {
	logger := arbor.NewLogger()
	eventService := events.NewService(logger)
	handler := NewWebSocketHandler(eventService, nil, nil, logger)
	conn := dialWS(t, newWSServer(t, handler))
	readFrame(t, conn)

	err := eventService.PublishSync(context.Background(), interfaces.Event{
		Type: interfaces.EventMatchFound,
		Payload: events.MatchFoundPayload{
			URLHash: "hash-1",
			URL:     "https://jobs.example.com/postings/42",
			Title:   "Platform Engineer",
			Company: "Example Corp",
			Score:   88,
		},
	})
	require.NoError(t, err)

	frame := readFrame(t, conn)
	assert.Equal(t, "match_found", frame.Type)

	var payload events.MatchFoundPayload
	require.NoError(t, json.Unmarshal(frame.Payload, &payload))
	assert.Equal(t, "Example Corp", payload.Company)
	assert.Equal(t, 88, payload.Score)
}
