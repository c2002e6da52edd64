package rtconsole

import (
	"encoding/json"
	"fmt"
	"time"
)

// envelope is used for initial JSON parsing to determine the event type
// before unmarshaling into the specific event struct.
type envelope struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`
}

// Source tags where a realtime event originated.
type Source string

const (
	SourceClient Source = "client"
	SourceServer Source = "server"
)

// RealtimeEvent is one protocol event as seen on the wire, sent or received.
type RealtimeEvent struct {
	Time   time.Time
	Source Source
	Type   string
	Raw    json.RawMessage
}

// Fields decodes the raw event into a generic map.
func (e RealtimeEvent) Fields() (map[string]any, error) {
	var m map[string]any
	if len(e.Raw) == 0 {
		return map[string]any{"type": e.Type}, nil
	}
	if err := json.Unmarshal(e.Raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ContentPart is one element of a conversation item's content.
// Type is one of input_text, input_audio, text, audio or item_reference.
type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Audio      string `json:"audio,omitempty"` // base64 PCM16
	Transcript string `json:"transcript,omitempty"`
	ID         string `json:"id,omitempty"`
}

// InputTextPart returns a user text content part.
func InputTextPart(text string) ContentPart {
	return ContentPart{Type: "input_text", Text: text}
}

// InputAudioPart returns a user audio content part carrying PCM16 samples.
func InputAudioPart(samples []int16) ContentPart {
	return ContentPart{Type: "input_audio", Audio: EncodePCM16Base64(samples)}
}

// ConversationItem is the wire shape of an item.
type ConversationItem struct {
	ID        string        `json:"id,omitempty"`
	Object    string        `json:"object,omitempty"`
	Type      string        `json:"type"`
	Status    string        `json:"status,omitempty"`
	Role      string        `json:"role,omitempty"`
	Content   []ContentPart `json:"content,omitempty"`
	CallID    string        `json:"call_id,omitempty"`
	Name      string        `json:"name,omitempty"`
	Arguments string        `json:"arguments,omitempty"`
	Output    string        `json:"output,omitempty"`
}

// ResponseObject is the response resource carried by response.created and response.done.
type ResponseObject struct {
	ID            string             `json:"id"`
	Object        string             `json:"object,omitempty"`
	Status        string             `json:"status,omitempty"`
	StatusDetails json.RawMessage    `json:"status_details,omitempty"`
	Output        []ConversationItem `json:"output,omitempty"`
	Usage         *Usage             `json:"usage,omitempty"`
}

// Usage reports token accounting for a response.
type Usage struct {
	TotalTokens  int `json:"total_tokens"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// APIError carries the error payload of an "error" event.
type APIError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Param   string `json:"param,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("rtconsole: server error %s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("rtconsole: server error %s: %s", e.Type, e.Message)
}

// ErrorEvent represents an error received from the server.
type ErrorEvent struct {
	Type    string   `json:"type"` // Always "error"
	EventID string   `json:"event_id,omitempty"`
	Error   APIError `json:"error"`
}

// SessionCreated is sent by the server when a new session is established.
type SessionCreated struct {
	Type    string `json:"type"`
	EventID string `json:"event_id"`
	Session struct {
		ID         string   `json:"id"`
		Model      string   `json:"model"`
		Modalities []string `json:"modalities,omitempty"`
		Voice      string   `json:"voice,omitempty"`
		ExpiresAt  int64    `json:"expires_at,omitempty"`
	} `json:"session"`
}

// SessionUpdated is sent when session configuration is modified.
type SessionUpdated struct {
	Type    string          `json:"type"`
	EventID string          `json:"event_id,omitempty"`
	Session json.RawMessage `json:"session"`
}

// InputAudioBufferSpeechStarted is sent when server VAD detects the user speaking.
type InputAudioBufferSpeechStarted struct {
	Type         string `json:"type"`
	EventID      string `json:"event_id"`
	AudioStartMs int    `json:"audio_start_ms"`
	ItemID       string `json:"item_id"`
}

// InputAudioBufferSpeechStopped is sent when server VAD detects the end of speech.
type InputAudioBufferSpeechStopped struct {
	Type       string `json:"type"`
	EventID    string `json:"event_id"`
	AudioEndMs int    `json:"audio_end_ms"`
	ItemID     string `json:"item_id"`
}

// ConversationItemCreated indicates that a conversation item has been created.
type ConversationItemCreated struct {
	Type           string           `json:"type"`
	EventID        string           `json:"event_id"`
	PreviousItemID string           `json:"previous_item_id"`
	Item           ConversationItem `json:"item"`
}

// ConversationItemInputAudioTranscriptionCompleted carries the transcript of user audio.
type ConversationItemInputAudioTranscriptionCompleted struct {
	Type         string `json:"type"`
	EventID      string `json:"event_id"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	Transcript   string `json:"transcript"`
}

// ConversationItemTruncated indicates that an assistant audio item was cut short.
type ConversationItemTruncated struct {
	Type         string `json:"type"`
	EventID      string `json:"event_id"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMs   int    `json:"audio_end_ms"`
}

// ConversationItemDeleted indicates that a conversation item has been deleted.
type ConversationItemDeleted struct {
	Type    string `json:"type"`
	EventID string `json:"event_id"`
	ItemID  string `json:"item_id"`
}

// ResponseCreated indicates that a response has been created.
type ResponseCreated struct {
	Type     string         `json:"type"`
	EventID  string         `json:"event_id"`
	Response ResponseObject `json:"response"`
}

// ResponseDone indicates that a response is complete.
type ResponseDone struct {
	Type     string         `json:"type"`
	EventID  string         `json:"event_id"`
	Response ResponseObject `json:"response"`
}

// ResponseOutputItemAdded indicates that a new output item has been added to the response.
type ResponseOutputItemAdded struct {
	Type        string           `json:"type"`
	EventID     string           `json:"event_id"`
	ResponseID  string           `json:"response_id"`
	OutputIndex int              `json:"output_index"`
	Item        ConversationItem `json:"item"`
}

// ResponseOutputItemDone indicates that an output item is complete.
type ResponseOutputItemDone struct {
	Type        string            `json:"type"`
	EventID     string            `json:"event_id"`
	ResponseID  string            `json:"response_id"`
	OutputIndex int               `json:"output_index"`
	Item        *ConversationItem `json:"item"`
}

// ResponseContentPartAdded indicates that a new content part has been added.
type ResponseContentPartAdded struct {
	Type         string      `json:"type"`
	EventID      string      `json:"event_id"`
	ResponseID   string      `json:"response_id"`
	ItemID       string      `json:"item_id"`
	OutputIndex  int         `json:"output_index"`
	ContentIndex int         `json:"content_index"`
	Part         ContentPart `json:"part"`
}

// ResponseTextDelta contains incremental text content from the assistant.
type ResponseTextDelta struct {
	Type         string `json:"type"`
	EventID      string `json:"event_id"`
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
	Delta        string `json:"delta"`
}

// ResponseAudioDelta contains incremental base64 PCM16 audio from the assistant.
type ResponseAudioDelta struct {
	Type         string `json:"type"`
	EventID      string `json:"event_id"`
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
	DeltaBase64  string `json:"delta"`
}

// ResponseAudioTranscriptDelta contains incremental transcript of audio response.
type ResponseAudioTranscriptDelta struct {
	Type         string `json:"type"`
	EventID      string `json:"event_id"`
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
	Delta        string `json:"delta"`
}

// ResponseFunctionCallArgumentsDelta contains incremental function call arguments.
type ResponseFunctionCallArgumentsDelta struct {
	Type        string `json:"type"`
	EventID     string `json:"event_id"`
	ResponseID  string `json:"response_id"`
	ItemID      string `json:"item_id"`
	OutputIndex int    `json:"output_index"`
	CallID      string `json:"call_id"`
	Delta       string `json:"delta"`
}
