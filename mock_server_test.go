package rtconsole

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

// MockServer simulates the realtime API over a real websocket. It records
// every client event and answers the common ones the way the service does.
type MockServer struct {
	server *httptest.Server
	t      *testing.T

	mu       sync.Mutex
	received []map[string]any
	conn     *websocket.Conn
	changed  chan struct{}

	// AudioSamples is the length of the assistant audio produced per response.
	AudioSamples int
	// Reply overrides the scripted replies when it returns true.
	Reply func(ms *MockServer, eventType string, fields map[string]any) bool
}

// NewMockServer creates a new mock server for testing
func NewMockServer(t *testing.T) *MockServer {
	ms := &MockServer{t: t, changed: make(chan struct{}), AudioSamples: 2400}
	ms.server = httptest.NewServer(http.HandlerFunc(ms.handleWebSocket))
	return ms
}

// Close shuts down the mock server
func (ms *MockServer) Close() {
	ms.server.Close()
}

// URL returns the http base URL of the mock server
func (ms *MockServer) URL() string {
	return ms.server.URL
}

func (ms *MockServer) notify() {
	close(ms.changed)
	ms.changed = make(chan struct{})
}

// Send pushes a server event to the connected client.
func (ms *MockServer) Send(msg any) {
	ms.mu.Lock()
	conn := ms.conn
	ms.mu.Unlock()
	if conn == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		ms.t.Errorf("mock server: marshal: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = conn.Write(ctx, websocket.MessageText, data)
}

// DropClient closes the current connection from the server side.
func (ms *MockServer) DropClient() {
	ms.mu.Lock()
	conn := ms.conn
	ms.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusGoingAway, "server going away")
	}
}

// Received returns the client events seen so far.
func (ms *MockServer) Received() []map[string]any {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return append([]map[string]any(nil), ms.received...)
}

// Types returns the types of the client events seen so far.
func (ms *MockServer) Types() []string {
	var out []string
	for _, ev := range ms.Received() {
		t, _ := ev["type"].(string)
		out = append(out, t)
	}
	return out
}

// WaitFor blocks until n client events of the given type have arrived and returns the last one.
func (ms *MockServer) WaitFor(eventType string, n int) map[string]any {
	ms.t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		ms.mu.Lock()
		var match []map[string]any
		for _, ev := range ms.received {
			if ev["type"] == eventType {
				match = append(match, ev)
			}
		}
		changed := ms.changed
		ms.mu.Unlock()
		if len(match) >= n {
			return match[n-1]
		}
		select {
		case <-changed:
		case <-deadline:
			ms.t.Fatalf("timed out waiting for %d %q events, got types %v", n, eventType, ms.Types())
			return nil
		}
	}
}

// WaitConnected blocks until a client has connected.
func (ms *MockServer) WaitConnected() {
	ms.t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		ms.mu.Lock()
		conn := ms.conn
		changed := ms.changed
		ms.mu.Unlock()
		if conn != nil {
			return
		}
		select {
		case <-changed:
		case <-deadline:
			ms.t.Fatal("timed out waiting for client connection")
		}
	}
}

func (ms *MockServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("api-key") == "" && r.Header.Get("Authorization") == "" {
		http.Error(w, "Missing authentication", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		ms.t.Errorf("failed to upgrade to websocket: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(16 << 20)

	ms.mu.Lock()
	ms.conn = conn
	ms.notify()
	ms.mu.Unlock()
	defer func() {
		ms.mu.Lock()
		if ms.conn == conn {
			ms.conn = nil
		}
		ms.notify()
		ms.mu.Unlock()
	}()

	ms.Send(map[string]any{
		"type":     "session.created",
		"event_id": "evt_mock_session_created",
		"session":  map[string]any{"id": "sess_mock_123", "model": "gpt-4o-realtime-preview"},
	})

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		var fields map[string]any
		if err := json.Unmarshal(data, &fields); err != nil {
			continue
		}
		eventType, _ := fields["type"].(string)

		ms.mu.Lock()
		ms.received = append(ms.received, fields)
		ms.notify()
		reply := ms.Reply
		ms.mu.Unlock()

		if reply != nil && reply(ms, eventType, fields) {
			continue
		}
		ms.scripted(eventType, fields)
	}
}

var mockSeq struct {
	sync.Mutex
	n int
}

func mockID(prefix string) string {
	mockSeq.Lock()
	defer mockSeq.Unlock()
	mockSeq.n++
	return fmt.Sprintf("%s_%04d", prefix, mockSeq.n)
}

func (ms *MockServer) scripted(eventType string, fields map[string]any) {
	switch eventType {
	case "session.update":
		ms.Send(map[string]any{"type": "session.updated", "session": fields["session"]})

	case "conversation.item.create":
		item, _ := fields["item"].(map[string]any)
		if item == nil {
			return
		}
		if _, ok := item["id"]; !ok {
			item["id"] = mockID("item")
		}
		item["object"] = "realtime.item"
		item["status"] = "completed"
		ms.Send(map[string]any{"type": "conversation.item.created", "item": item})

	case "input_audio_buffer.commit":
		ms.Send(map[string]any{"type": "input_audio_buffer.committed", "item_id": mockID("item")})
		ms.Send(map[string]any{
			"type": "conversation.item.created",
			"item": map[string]any{
				"id": mockID("item"), "type": "message", "role": "user", "status": "completed",
				"content": []map[string]any{{"type": "input_audio"}},
			},
		})

	case "conversation.item.delete":
		ms.Send(map[string]any{"type": "conversation.item.deleted", "item_id": fields["item_id"]})

	case "conversation.item.truncate":
		ms.Send(map[string]any{
			"type":          "conversation.item.truncated",
			"item_id":       fields["item_id"],
			"content_index": fields["content_index"],
			"audio_end_ms":  fields["audio_end_ms"],
		})

	case "response.create":
		ms.respond("Hello from mock server!")
	}
}

// respond plays a complete assistant audio response.
func (ms *MockServer) respond(transcript string) (itemID string) {
	respID := mockID("resp")
	itemID = mockID("item")
	item := map[string]any{"id": itemID, "type": "message", "role": "assistant", "status": "in_progress", "content": []any{}}

	ms.Send(map[string]any{"type": "response.created", "response": map[string]any{"id": respID, "status": "in_progress"}})
	ms.Send(map[string]any{"type": "response.output_item.added", "response_id": respID, "item": item})
	ms.Send(map[string]any{"type": "conversation.item.created", "item": item})
	ms.Send(map[string]any{
		"type": "response.content_part.added", "response_id": respID, "item_id": itemID,
		"content_index": 0, "part": map[string]any{"type": "audio", "transcript": ""},
	})
	ms.Send(map[string]any{
		"type": "response.audio_transcript.delta", "response_id": respID, "item_id": itemID,
		"content_index": 0, "delta": transcript,
	})
	ms.Send(map[string]any{
		"type": "response.audio.delta", "response_id": respID, "item_id": itemID,
		"content_index": 0, "delta": EncodePCM16Base64(make([]int16, ms.AudioSamples)),
	})
	done := map[string]any{"id": itemID, "type": "message", "role": "assistant", "status": "completed"}
	ms.Send(map[string]any{"type": "response.output_item.done", "response_id": respID, "item": done})
	ms.Send(map[string]any{"type": "response.done", "response": map[string]any{"id": respID, "status": "completed"}})
	return itemID
}

// CreateMockConfig creates a valid Azure-style config pointing to the mock server.
func CreateMockConfig(serverURL string) Config {
	return Config{
		ResourceEndpoint: serverURL,
		Deployment:       "test-deployment",
		APIVersion:       "2025-04-01-preview",
		Credential:       APIKey("test-key"),
	}
}

// expect subscribes before the action under test and returns a waiter for
// the first notification of that name accepted by pred.
func expect(t *testing.T, c *Client, name string, pred func(Notification) bool) (wait func() Notification) {
	t.Helper()
	ch := make(chan Notification, 64)
	unsubscribe := c.On(name, func(n Notification) {
		if pred == nil || pred(n) {
			select {
			case ch <- n:
			default:
			}
		}
	})
	return func() Notification {
		t.Helper()
		defer unsubscribe()
		select {
		case n := <-ch:
			return n
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for %s", name)
			return Notification{}
		}
	}
}
