package rtconsole

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestDial_InvalidConfig(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		config  Config
		wantErr error
	}{
		{
			name:    "empty config",
			config:  Config{},
			wantErr: ErrInvalidConfig,
		},
		{
			name: "missing deployment",
			config: Config{
				ResourceEndpoint: "https://test.openai.azure.com",
				APIVersion:       "2025-04-01-preview",
				Credential:       APIKey("test-key"),
			},
			wantErr: ErrInvalidConfig,
		},
		{
			name: "missing credential",
			config: Config{
				ResourceEndpoint: "https://test.openai.azure.com",
				Deployment:       "test-deployment",
				APIVersion:       "2025-04-01-preview",
			},
			wantErr: ErrMissingCredential,
		},
		{
			name: "blank bearer",
			config: Config{
				ResourceEndpoint: "https://api.openai.com",
				Deployment:       DefaultOpenAIModel,
				Credential:       Bearer("  "),
			},
			wantErr: ErrMissingCredential,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := Dial(ctx, tt.config)
			if err == nil {
				client.Close()
				t.Fatal("expected error for invalid config")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDial_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cfg := Config{
		ResourceEndpoint: "http://127.0.0.1:1",
		Deployment:       "test-deployment",
		APIVersion:       "2025-04-01-preview",
		Credential:       APIKey("test-key"),
	}
	_, err := Dial(ctx, cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("expected ErrConnectionFailed, got %v", err)
	}
	var connErr *ConnectionError
	if !errors.As(err, &connErr) || connErr.Operation != "dial" {
		t.Errorf("expected dial ConnectionError, got %#v", err)
	}
}

func dialMock(t *testing.T) (*MockServer, *Client) {
	t.Helper()
	ms := NewMockServer(t)
	t.Cleanup(ms.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, CreateMockConfig(ms.URL()))
	if err != nil {
		t.Fatalf("failed to dial mock server: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	ms.WaitConnected()
	return ms, client
}

func TestClient_ConnectSendsSession(t *testing.T) {
	ms, client := dialMock(t)

	ev := ms.WaitFor("session.update", 1)
	session, ok := ev["session"].(map[string]any)
	if !ok {
		t.Fatalf("session.update without session: %v", ev)
	}
	if v, present := session["turn_detection"]; !present || v != nil {
		t.Errorf("expected turn_detection null, got %v (present=%v)", v, present)
	}
	if session["voice"] != "verse" {
		t.Errorf("expected default voice verse, got %v", session["voice"])
	}
	if id, _ := ev["event_id"].(string); id == "" {
		t.Error("expected generated event_id")
	}
	if !client.IsConnected() {
		t.Error("expected client to be connected")
	}
	if got := client.TurnDetectionType(); got != "" {
		t.Errorf("expected push-to-talk by default, got %q", got)
	}
}

func TestClient_ConnectTwice(t *testing.T) {
	_, client := dialMock(t)

	err := client.Connect(context.Background())
	if !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("expected ErrAlreadyConnected, got %v", err)
	}
}

func TestClient_UpdateSession(t *testing.T) {
	ms, client := dialMock(t)
	ctx := context.Background()
	ms.WaitFor("session.update", 1)

	err := client.UpdateSession(ctx, Session{TurnDetection: &TurnDetection{Type: TurnDetectionServerVAD}})
	if err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	ev := ms.WaitFor("session.update", 2)
	td, _ := ev["session"].(map[string]any)["turn_detection"].(map[string]any)
	if td["type"] != "server_vad" {
		t.Errorf("expected server_vad, got %v", td)
	}
	if client.TurnDetectionType() != TurnDetectionServerVAD {
		t.Errorf("expected server_vad, got %q", client.TurnDetectionType())
	}

	// voice must survive a partial update
	if v := client.Session().Voice; v == nil || *v != "verse" {
		t.Errorf("expected merged voice verse, got %v", v)
	}

	if err := client.UpdateSession(ctx, Session{Voice: Ptr("robot")}); err == nil {
		t.Error("expected invalid voice to be rejected")
	}
}

func TestClient_UpdateSessionOffline(t *testing.T) {
	client := New(CreateMockConfig("http://127.0.0.1:1"))
	err := client.UpdateSession(context.Background(), Session{Instructions: Ptr("be brief")})
	if err != nil {
		t.Fatalf("offline UpdateSession should only store the config: %v", err)
	}
	if got := *client.Session().Instructions; got != "be brief" {
		t.Errorf("expected stored instructions, got %q", got)
	}
}

func TestClient_RealtimeEventsBothSources(t *testing.T) {
	ms := NewMockServer(t)
	defer ms.Close()

	client := New(CreateMockConfig(ms.URL()))
	var mu sync.Mutex
	seen := map[Source][]string{}
	client.On(EventRealtime, func(n Notification) {
		mu.Lock()
		defer mu.Unlock()
		seen[n.Event.Source] = append(seen[n.Event.Source], n.Event.Type)
	})
	waitUpdated := expect(t, client, EventRealtime, func(n Notification) bool {
		return n.Event.Source == SourceServer && n.Event.Type == "session.updated"
	})

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()
	waitUpdated()

	mu.Lock()
	defer mu.Unlock()
	if len(seen[SourceClient]) == 0 || seen[SourceClient][0] != "session.update" {
		t.Errorf("expected client session.update first, got %v", seen[SourceClient])
	}
	if len(seen[SourceServer]) < 2 || seen[SourceServer][0] != "session.created" {
		t.Errorf("expected server session.created first, got %v", seen[SourceServer])
	}
}

func TestClient_SendUserMessageContent(t *testing.T) {
	ms, client := dialMock(t)
	ctx := context.Background()

	waitUser := expect(t, client, EventItemCompleted, func(n Notification) bool { return n.Item.Role == "user" })
	waitAssistant := expect(t, client, EventItemCompleted, func(n Notification) bool { return n.Item.Role == "assistant" })

	if err := client.SendUserMessageContent(ctx, []ContentPart{InputTextPart("Hello!")}); err != nil {
		t.Fatalf("SendUserMessageContent: %v", err)
	}

	user := waitUser()
	if user.Item.Formatted.Text != "Hello!" {
		t.Errorf("expected user text Hello!, got %q", user.Item.Formatted.Text)
	}
	assistant := waitAssistant()
	if assistant.Item.Formatted.Transcript != "Hello from mock server!" {
		t.Errorf("unexpected transcript %q", assistant.Item.Formatted.Transcript)
	}
	if len(assistant.Item.Formatted.Audio) != ms.AudioSamples {
		t.Errorf("expected %d samples, got %d", ms.AudioSamples, len(assistant.Item.Formatted.Audio))
	}

	types := ms.Types()
	if len(types) < 3 || types[1] != "conversation.item.create" || types[2] != "response.create" {
		t.Errorf("unexpected client event order %v", types)
	}
	if items := client.Items(); len(items) != 2 {
		t.Errorf("expected 2 items, got %d", len(items))
	}
}

func TestClient_CreateResponseCommitsInputAudio(t *testing.T) {
	ms, client := dialMock(t)
	ctx := context.Background()

	waitUser := expect(t, client, EventItemAppended, func(n Notification) bool { return n.Item.Role == "user" })

	samples := make([]int16, 4800)
	for i := range samples {
		samples[i] = int16(i)
	}
	if err := client.AppendInputAudio(ctx, samples); err != nil {
		t.Fatalf("AppendInputAudio: %v", err)
	}
	if err := client.CreateResponse(ctx); err != nil {
		t.Fatalf("CreateResponse: %v", err)
	}

	ms.WaitFor("response.create", 1)
	types := ms.Types()
	want := []string{"session.update", "input_audio_buffer.append", "input_audio_buffer.commit", "response.create"}
	for i, w := range want {
		if i >= len(types) || types[i] != w {
			t.Fatalf("expected order %v, got %v", want, types)
		}
	}

	user := waitUser()
	if len(user.Item.Formatted.Audio) != len(samples) {
		t.Errorf("expected committed audio on the user item, got %d samples", len(user.Item.Formatted.Audio))
	}
}

func TestClient_CreateResponseServerVADSkipsCommit(t *testing.T) {
	ms, client := dialMock(t)
	ctx := context.Background()

	if err := client.UpdateSession(ctx, Session{TurnDetection: &TurnDetection{Type: TurnDetectionServerVAD}}); err != nil {
		t.Fatal(err)
	}
	if err := client.AppendInputAudio(ctx, make([]int16, 240)); err != nil {
		t.Fatal(err)
	}
	if err := client.CreateResponse(ctx); err != nil {
		t.Fatal(err)
	}
	ms.WaitFor("response.create", 1)
	for _, typ := range ms.Types() {
		if typ == "input_audio_buffer.commit" {
			t.Fatal("commit must not be sent while server VAD is active")
		}
	}
}

func TestClient_CancelResponse(t *testing.T) {
	ms, client := dialMock(t)
	ctx := context.Background()

	waitAssistant := expect(t, client, EventItemCompleted, func(n Notification) bool { return n.Item.Role == "assistant" })
	if err := client.CreateResponse(ctx); err != nil {
		t.Fatal(err)
	}
	item := waitAssistant().Item

	waitTruncated := expect(t, client, EventConversationUpdated, func(n Notification) bool {
		return n.Item.ID == item.ID && n.Item.Formatted.Transcript == ""
	})
	if err := client.CancelResponse(ctx, item.ID, 1200); err != nil {
		t.Fatalf("CancelResponse: %v", err)
	}

	ms.WaitFor("response.cancel", 1)
	trunc := ms.WaitFor("conversation.item.truncate", 1)
	if trunc["item_id"] != item.ID {
		t.Errorf("expected truncate of %s, got %v", item.ID, trunc["item_id"])
	}
	if trunc["audio_end_ms"] != float64(50) {
		t.Errorf("expected audio_end_ms 50, got %v", trunc["audio_end_ms"])
	}
	if trunc["content_index"] != float64(0) {
		t.Errorf("expected content_index 0, got %v", trunc["content_index"])
	}

	updated := waitTruncated()
	if len(updated.Item.Formatted.Audio) != 1200 {
		t.Errorf("expected audio cut to 1200 samples, got %d", len(updated.Item.Formatted.Audio))
	}
}

func TestClient_CancelResponseErrors(t *testing.T) {
	_, client := dialMock(t)
	ctx := context.Background()

	if err := client.CancelResponse(ctx, "missing", 10); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("expected ErrItemNotFound, got %v", err)
	}

	waitUser := expect(t, client, EventItemAppended, nil)
	if err := client.CreateConversationItem(ctx, ConversationItem{
		Type: "message", Role: "user", Content: []ContentPart{InputTextPart("hi")},
	}); err != nil {
		t.Fatal(err)
	}
	user := waitUser().Item
	if err := client.CancelResponse(ctx, user.ID, 10); err == nil {
		t.Error("expected error cancelling a user item")
	}

	// no item: plain response.cancel
	if err := client.CancelResponse(ctx, "", 0); err != nil {
		t.Errorf("plain cancel: %v", err)
	}
}

func TestClient_ServerInterrupt(t *testing.T) {
	ms, client := dialMock(t)

	wait := expect(t, client, EventInterrupted, nil)
	ms.Send(map[string]any{"type": "input_audio_buffer.speech_started", "item_id": "item_speech", "audio_start_ms": 0})
	wait()
}

func TestClient_SpeechSlicedIntoUserItem(t *testing.T) {
	ms, client := dialMock(t)
	ctx := context.Background()

	if err := client.UpdateSession(ctx, Session{TurnDetection: &TurnDetection{Type: TurnDetectionServerVAD}}); err != nil {
		t.Fatal(err)
	}
	if err := client.AppendInputAudio(ctx, make([]int16, 24000)); err != nil {
		t.Fatal(err)
	}
	ms.WaitFor("input_audio_buffer.append", 1)

	wait := expect(t, client, EventItemAppended, nil)
	ms.Send(map[string]any{"type": "input_audio_buffer.speech_started", "item_id": "item_vad", "audio_start_ms": 100})
	ms.Send(map[string]any{"type": "input_audio_buffer.speech_stopped", "item_id": "item_vad", "audio_end_ms": 600})
	ms.Send(map[string]any{"type": "conversation.item.created", "item": map[string]any{
		"id": "item_vad", "type": "message", "role": "user", "content": []any{map[string]any{"type": "input_audio"}},
	}})

	item := wait().Item
	if len(item.Formatted.Audio) != 12000 {
		t.Errorf("expected 500ms of speech (12000 samples), got %d", len(item.Formatted.Audio))
	}
}

func TestClient_ErrorEvent(t *testing.T) {
	ms, client := dialMock(t)

	wait := expect(t, client, EventServerError, nil)
	ms.Send(map[string]any{"type": "error", "error": map[string]any{"type": "invalid_request_error", "message": "bad"}})
	n := wait()
	var apiErr *APIError
	if !errors.As(n.Err, &apiErr) || apiErr.Message != "bad" {
		t.Errorf("expected APIError bad, got %v", n.Err)
	}
}

func TestClient_UnknownItemReportsError(t *testing.T) {
	ms, client := dialMock(t)

	wait := expect(t, client, EventServerError, nil)
	ms.Send(map[string]any{"type": "response.text.delta", "item_id": "nope", "delta": "x"})
	n := wait()
	if !errors.Is(n.Err, ErrItemNotFound) || !errors.Is(n.Err, ErrInvalidEventData) {
		t.Errorf("expected wrapped ErrItemNotFound, got %v", n.Err)
	}
}

func TestClient_DeleteItem(t *testing.T) {
	_, client := dialMock(t)
	ctx := context.Background()

	waitAdd := expect(t, client, EventItemAppended, nil)
	if err := client.CreateConversationItem(ctx, ConversationItem{
		Type: "message", Role: "user", Content: []ContentPart{InputTextPart("delete me")},
	}); err != nil {
		t.Fatal(err)
	}
	id := waitAdd().Item.ID

	waitDel := expect(t, client, EventConversationUpdated, func(n Notification) bool { return n.Item.ID == id })
	if err := client.DeleteItem(ctx, id); err != nil {
		t.Fatal(err)
	}
	waitDel()
	if _, ok := client.Conversation().Item(id); ok {
		t.Error("expected item to be removed")
	}
}

func TestClient_ToolCall(t *testing.T) {
	ms, client := dialMock(t)
	ctx := context.Background()

	called := make(chan map[string]any, 1)
	err := client.AddTool(ToolDefinition{
		Name:       "get_weather",
		Parameters: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}}}`),
	}, func(ctx context.Context, args map[string]any) (any, error) {
		called <- args
		return map[string]any{"temp": 21}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := client.AddTool(ToolDefinition{Name: "get_weather"}, func(context.Context, map[string]any) (any, error) { return nil, nil }); err == nil {
		t.Error("expected duplicate tool to be rejected")
	}
	if err := client.UpdateSession(ctx, Session{}); err != nil {
		t.Fatal(err)
	}
	ev := ms.WaitFor("session.update", 2)
	tools, _ := ev["session"].(map[string]any)["tools"].([]any)
	if len(tools) != 1 {
		t.Fatalf("expected registered tool in session, got %v", tools)
	}

	ms.Send(map[string]any{"type": "conversation.item.created", "item": map[string]any{
		"id": "item_fc", "type": "function_call", "call_id": "call_1", "name": "get_weather",
	}})
	ms.Send(map[string]any{"type": "response.function_call_arguments.delta", "item_id": "item_fc", "call_id": "call_1", "delta": `{"city":`})
	ms.Send(map[string]any{"type": "response.function_call_arguments.delta", "item_id": "item_fc", "call_id": "call_1", "delta": `"Paris"}`})
	ms.Send(map[string]any{"type": "response.output_item.done", "item": map[string]any{
		"id": "item_fc", "type": "function_call", "status": "completed",
	}})

	select {
	case args := <-called:
		if args["city"] != "Paris" {
			t.Errorf("expected city Paris, got %v", args)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("tool was not called")
	}

	out := ms.WaitFor("conversation.item.create", 1)
	item := out["item"].(map[string]any)
	if item["type"] != "function_call_output" || item["call_id"] != "call_1" || item["output"] != `{"temp":21}` {
		t.Errorf("unexpected tool output item %v", item)
	}
	ms.WaitFor("response.create", 1)

	if err := client.RemoveTool("get_weather"); err != nil {
		t.Error(err)
	}
	if err := client.RemoveTool("get_weather"); err == nil {
		t.Error("expected error removing unknown tool")
	}
}

func TestClient_DisconnectIdempotent(t *testing.T) {
	_, client := dialMock(t)

	closed := false
	client.On(EventClose, func(Notification) { closed = true })

	if err := client.Disconnect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := client.Disconnect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if client.IsConnected() {
		t.Error("expected disconnected client")
	}
	if closed {
		t.Error("a requested disconnect must not emit close")
	}
	if len(client.Items()) != 0 {
		t.Error("expected conversation cleared")
	}
	err := client.CreateResponse(context.Background())
	if !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after disconnect, got %v", err)
	}
}

func TestClient_ReconnectAfterDisconnect(t *testing.T) {
	ms, client := dialMock(t)
	ctx := context.Background()

	if err := client.Disconnect(ctx); err != nil {
		t.Fatal(err)
	}
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	ms.WaitFor("session.update", 2)
}

func TestClient_ServerDropEmitsClose(t *testing.T) {
	ms, client := dialMock(t)

	wait := expect(t, client, EventClose, nil)
	ms.DropClient()
	n := wait()
	if n.Err == nil {
		t.Error("expected close notification to carry the read error")
	}
	if client.IsConnected() {
		t.Error("expected client to notice the dropped connection")
	}
}

func TestClient_Unsubscribe(t *testing.T) {
	client := New(CreateMockConfig("http://127.0.0.1:1"))
	calls := 0
	unsubscribe := client.On("custom", func(Notification) { calls++ })
	client.emit(Notification{Name: "custom"})
	unsubscribe()
	unsubscribe()
	client.emit(Notification{Name: "custom"})
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestClient_SendWhileDisconnected(t *testing.T) {
	client := New(CreateMockConfig("http://127.0.0.1:1"))
	err := client.AppendInputAudio(context.Background(), []int16{1, 2, 3})
	var sendErr *SendError
	if !errors.As(err, &sendErr) || !errors.Is(err, ErrClosed) {
		t.Fatalf("expected SendError wrapping ErrClosed, got %v", err)
	}
	if sendErr.EventType != "input_audio_buffer.append" {
		t.Errorf("unexpected event type %q", sendErr.EventType)
	}
}
