package rtconsole

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Turn detection types. TurnDetectionNone disables server-side turn detection
// when passed to UpdateSession (it is sent as turn_detection: null).
const (
	TurnDetectionServerVAD   = "server_vad"
	TurnDetectionSemanticVAD = "semantic_vad"
	TurnDetectionNone        = "none"
)

// Session defines the configuration for a realtime conversation session.
// Nil fields are left unchanged by Merge and UpdateSession.
type Session struct {
	// Modalities lists the output types the assistant may produce ("text", "audio").
	Modalities []string `json:"modalities,omitempty"`

	// Instructions provide system-level guidance to the assistant.
	Instructions *string `json:"instructions,omitempty"`

	// Voice specifies which voice to use for audio responses.
	Voice *string `json:"voice,omitempty"`

	// InputAudioFormat and OutputAudioFormat: "pcm16" (16-bit PCM at 24kHz), "g711_ulaw", "g711_alaw".
	InputAudioFormat  *string `json:"input_audio_format,omitempty"`
	OutputAudioFormat *string `json:"output_audio_format,omitempty"`

	// InputTranscription configures automatic transcription of user audio input.
	InputTranscription *InputTranscription `json:"input_audio_transcription,omitempty"`

	// TurnDetection configures server-side voice activity detection.
	// Use &TurnDetection{Type: TurnDetectionNone} to switch it off.
	TurnDetection *TurnDetection `json:"turn_detection,omitempty"`

	// Tools defines function calling capabilities available to the assistant.
	// Tools registered with Client.AddTool are appended when the session is sent.
	Tools []ToolDefinition `json:"tools,omitempty"`

	ToolChoice              *string  `json:"tool_choice,omitempty"`
	Temperature             *float64 `json:"temperature,omitempty"`
	MaxResponseOutputTokens *int     `json:"max_response_output_tokens,omitempty"`
}

// InputTranscription configures automatic speech recognition for user input.
type InputTranscription struct {
	Model    string  `json:"model,omitempty"`    // Transcription model to use
	Language string  `json:"language,omitempty"` // Expected language code (e.g., "en")
	Prompt   *string `json:"prompt,omitempty"`   // Context to improve transcription accuracy
}

// TurnDetection configures voice activity detection and response timing.
type TurnDetection struct {
	Type              string  `json:"type"`                          // server_vad, semantic_vad or none
	Threshold         float64 `json:"threshold,omitempty"`           // Voice activity detection sensitivity (0.0-1.0)
	PrefixPaddingMS   int     `json:"prefix_padding_ms,omitempty"`   // Audio included before speech starts (ms)
	SilenceDurationMS int     `json:"silence_duration_ms,omitempty"` // Silence duration to trigger end of turn (ms)
	CreateResponse    *bool   `json:"create_response,omitempty"`     // Whether to automatically create response
}

// DefaultSession is the configuration a new client starts with: text and
// audio output, pcm16 both ways and no turn detection (push-to-talk).
func DefaultSession() Session {
	return Session{
		Modalities:              []string{"text", "audio"},
		Instructions:            Ptr(""),
		Voice:                   Ptr("verse"),
		InputAudioFormat:        Ptr("pcm16"),
		OutputAudioFormat:       Ptr("pcm16"),
		TurnDetection:           &TurnDetection{Type: TurnDetectionNone},
		ToolChoice:              Ptr("auto"),
		Temperature:             Ptr(0.8),
		MaxResponseOutputTokens: Ptr(4096),
	}
}

// Merge returns s with every non-nil field of update applied.
func (s Session) Merge(update Session) Session {
	if update.Modalities != nil {
		s.Modalities = append([]string(nil), update.Modalities...)
	}
	if update.Instructions != nil {
		s.Instructions = update.Instructions
	}
	if update.Voice != nil {
		s.Voice = update.Voice
	}
	if update.InputAudioFormat != nil {
		s.InputAudioFormat = update.InputAudioFormat
	}
	if update.OutputAudioFormat != nil {
		s.OutputAudioFormat = update.OutputAudioFormat
	}
	if update.InputTranscription != nil {
		s.InputTranscription = update.InputTranscription
	}
	if update.TurnDetection != nil {
		s.TurnDetection = update.TurnDetection
	}
	if update.Tools != nil {
		s.Tools = append([]ToolDefinition(nil), update.Tools...)
	}
	if update.ToolChoice != nil {
		s.ToolChoice = update.ToolChoice
	}
	if update.Temperature != nil {
		s.Temperature = update.Temperature
	}
	if update.MaxResponseOutputTokens != nil {
		s.MaxResponseOutputTokens = update.MaxResponseOutputTokens
	}
	return s
}

// turnDetectionType returns the active type, or "" when turn detection is off.
func (s Session) turnDetectionType() string {
	if s.TurnDetection == nil || s.TurnDetection.Type == TurnDetectionNone {
		return ""
	}
	return s.TurnDetection.Type
}

// wire renders the session as sent in session.update, with extra tools appended
// and a disabled turn detection encoded as null.
func (s Session) wire(extra []ToolDefinition) (map[string]any, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	if s.turnDetectionType() == "" {
		m["turn_detection"] = nil
	}
	if len(extra) > 0 {
		tools := append(append([]ToolDefinition(nil), s.Tools...), extra...)
		m["tools"] = tools
	}
	return m, nil
}

// UpdateSession merges s into the client's session configuration and, when
// connected, sends the resulting session.update.
func (c *Client) UpdateSession(ctx context.Context, s Session) error {
	if ctx == nil {
		return NewSendError("session.update", "", errors.New("context cannot be nil"))
	}
	if err := ValidateSession(s); err != nil {
		return NewSendError("session.update", "", err)
	}

	c.mu.Lock()
	c.session = c.session.Merge(s)
	connected := c.link != nil
	c.mu.Unlock()

	if !connected {
		return nil
	}
	return c.sendSession(ctx)
}

// Session returns the client's current session configuration.
func (c *Client) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// TurnDetectionType returns the active turn detection type, or "" when the
// client is in push-to-talk mode.
func (c *Client) TurnDetectionType() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.turnDetectionType()
}

func (c *Client) sendSession(ctx context.Context) error {
	c.mu.Lock()
	extra := make([]ToolDefinition, 0, len(c.tools))
	for _, t := range c.tools {
		extra = append(extra, t.def)
	}
	payload, err := c.session.wire(extra)
	c.mu.Unlock()
	if err != nil {
		return NewSendError("session.update", "", err)
	}
	return c.send(ctx, "session.update", map[string]any{"session": payload})
}

var (
	validVoices        = []string{"alloy", "ash", "ballad", "coral", "echo", "fable", "onyx", "nova", "sage", "shimmer", "verse"}
	validAudioFormats  = []string{"pcm16", "g711_ulaw", "g711_alaw"}
	validTurnDetection = []string{TurnDetectionServerVAD, TurnDetectionSemanticVAD, TurnDetectionNone}
)

func oneOf(v string, set []string) bool {
	for _, s := range set {
		if v == s {
			return true
		}
	}
	return false
}

// ValidateSession performs validation on session configuration.
func ValidateSession(s Session) error {
	for _, m := range s.Modalities {
		if m != "text" && m != "audio" {
			return fmt.Errorf("invalid modality %q, must be 'text' or 'audio'", m)
		}
	}

	if s.Voice != nil && !oneOf(*s.Voice, validVoices) {
		return fmt.Errorf("invalid voice %q, must be one of: %v", *s.Voice, validVoices)
	}

	if s.InputAudioFormat != nil && !oneOf(*s.InputAudioFormat, validAudioFormats) {
		return fmt.Errorf("invalid input audio format %q, must be one of: %v", *s.InputAudioFormat, validAudioFormats)
	}
	if s.OutputAudioFormat != nil && !oneOf(*s.OutputAudioFormat, validAudioFormats) {
		return fmt.Errorf("invalid output audio format %q, must be one of: %v", *s.OutputAudioFormat, validAudioFormats)
	}

	if td := s.TurnDetection; td != nil {
		if td.Type == "" {
			return errors.New("turn detection type cannot be empty")
		}
		if !oneOf(td.Type, validTurnDetection) {
			return fmt.Errorf("invalid turn detection type %q, must be one of: %v", td.Type, validTurnDetection)
		}
		if td.Threshold < 0.0 || td.Threshold > 1.0 {
			return fmt.Errorf("turn detection threshold must be between 0.0 and 1.0, got %f", td.Threshold)
		}
		if td.PrefixPaddingMS < 0 {
			return fmt.Errorf("prefix padding must be non-negative, got %d", td.PrefixPaddingMS)
		}
		if td.SilenceDurationMS < 0 {
			return fmt.Errorf("silence duration must be non-negative, got %d", td.SilenceDurationMS)
		}
	}

	if s.Instructions != nil && len(*s.Instructions) > 10000 {
		return fmt.Errorf("instructions too long (%d characters), maximum is 10000", len(*s.Instructions))
	}

	if s.Temperature != nil && (*s.Temperature < 0.0 || *s.Temperature > 2.0) {
		return fmt.Errorf("temperature must be between 0.0 and 2.0, got %f", *s.Temperature)
	}

	if s.MaxResponseOutputTokens != nil && *s.MaxResponseOutputTokens <= 0 {
		return fmt.Errorf("max response output tokens must be positive, got %d", *s.MaxResponseOutputTokens)
	}

	for _, t := range s.Tools {
		if err := validateToolDefinition(t); err != nil {
			return err
		}
	}
	return nil
}
