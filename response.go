package rtconsole

import (
	"context"
	"errors"
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// CreateResponseOptions configures how the assistant should generate a response.
type CreateResponseOptions struct {
	// Modalities specifies which output types to generate ("text", "audio").
	Modalities []string `json:"modalities,omitempty"`

	// Conversation is "auto" (default) or "none" for an out-of-band response.
	Conversation string `json:"conversation,omitempty"`

	// Metadata allows attaching custom data to the response for tracking purposes.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Instructions provide response-specific guidance, overriding session instructions.
	Instructions string `json:"instructions,omitempty"`

	// Temperature controls randomness in the response.
	Temperature float64 `json:"temperature,omitempty"`

	// Input provides explicit input items for the response.
	Input []ConversationItem `json:"input,omitempty"`
}

// CreateResponse asks the assistant to respond. With turn detection off,
// buffered input audio is committed first and queued for the next user item.
func (c *Client) CreateResponse(ctx context.Context) error {
	return c.CreateResponseWithOptions(ctx, CreateResponseOptions{})
}

// CreateResponseWithOptions is CreateResponse with per-response overrides.
func (c *Client) CreateResponseWithOptions(ctx context.Context, opts CreateResponseOptions) error {
	if ctx == nil {
		return NewSendError("response.create", "", errors.New("context cannot be nil"))
	}
	if err := ValidateCreateResponseOptions(opts); err != nil {
		return NewSendError("response.create", "", err)
	}

	c.mu.Lock()
	var pending []int16
	if c.session.turnDetectionType() == "" && len(c.inputAudio) > 0 {
		pending = c.inputAudio
		c.inputAudio = nil
	}
	c.mu.Unlock()

	if pending != nil {
		if err := c.send(ctx, "input_audio_buffer.commit", nil); err != nil {
			return err
		}
		c.conv.QueueInputAudio(pending)
	}

	fields := map[string]any{}
	if !isZeroResponseOptions(opts) {
		fields["response"] = opts
	}
	return c.send(ctx, "response.create", fields)
}

func isZeroResponseOptions(o CreateResponseOptions) bool {
	return len(o.Modalities) == 0 && o.Conversation == "" && len(o.Metadata) == 0 &&
		o.Instructions == "" && o.Temperature == 0 && len(o.Input) == 0
}

// ValidateCreateResponseOptions validates response creation options.
func ValidateCreateResponseOptions(opts CreateResponseOptions) error {
	for _, modality := range opts.Modalities {
		if modality != "text" && modality != "audio" {
			return fmt.Errorf("invalid modality %q, must be 'text' or 'audio'", modality)
		}
	}

	if opts.Temperature < 0.0 || opts.Temperature > 2.0 {
		return fmt.Errorf("temperature must be between 0.0 and 2.0, got %f", opts.Temperature)
	}

	if len(opts.Instructions) > 10000 {
		return fmt.Errorf("instructions too long (%d characters), maximum is 10000", len(opts.Instructions))
	}

	if opts.Conversation != "" && opts.Conversation != "auto" && opts.Conversation != "none" {
		return fmt.Errorf("invalid conversation %q, must be 'auto' or 'none'", opts.Conversation)
	}

	for i, item := range opts.Input {
		if err := ValidateConversationItem(item); err != nil {
			return fmt.Errorf("input[%d]: %w", i, err)
		}
	}
	return nil
}

// CancelResponse stops the in-progress response. With an empty itemID only
// response.cancel is sent. Otherwise the assistant audio item is also truncated
// at sampleCount samples, which is how much of it the listener actually heard.
func (c *Client) CancelResponse(ctx context.Context, itemID string, sampleCount int) error {
	if ctx == nil {
		return NewSendError("response.cancel", "", errors.New("context cannot be nil"))
	}
	if itemID == "" {
		return c.send(ctx, "response.cancel", nil)
	}

	it, ok := c.conv.Item(itemID)
	if !ok {
		return fmt.Errorf("cancel response: item %q: %w", itemID, ErrItemNotFound)
	}
	if it.Type != "message" {
		return fmt.Errorf("cancel response: item %q is %q, want a message", itemID, it.Type)
	}
	if it.Role != "assistant" {
		return fmt.Errorf("cancel response: item %q has role %q, want assistant", itemID, it.Role)
	}

	if err := c.send(ctx, "response.cancel", nil); err != nil {
		return err
	}

	audioIndex := -1
	for i, part := range it.Content {
		if part.Type == "audio" {
			audioIndex = i
			break
		}
	}
	if audioIndex < 0 {
		return fmt.Errorf("cancel response: item %q has no audio content", itemID)
	}
	if sampleCount < 0 {
		sampleCount = 0
	}
	return c.TruncateConversationItem(ctx, itemID, audioIndex, sampleCount*1000/DefaultFrequency)
}

// TruncateConversationItem cuts an assistant audio item at audioEndMs.
func (c *Client) TruncateConversationItem(ctx context.Context, itemID string, contentIndex, audioEndMs int) error {
	if itemID == "" {
		return NewSendError("conversation.item.truncate", "", errors.New("item id is required"))
	}
	if contentIndex < 0 || audioEndMs < 0 {
		return NewSendError("conversation.item.truncate", "", errors.New("content index and audio end must be non-negative"))
	}
	return c.send(ctx, "conversation.item.truncate", map[string]any{
		"item_id":       itemID,
		"content_index": contentIndex,
		"audio_end_ms":  audioEndMs,
	})
}

// ValidateConversationItem checks the shape of a client-created item.
func ValidateConversationItem(item ConversationItem) error {
	switch item.Type {
	case "":
		return errors.New("item type is required")
	case "message":
		if item.Role != "user" && item.Role != "assistant" && item.Role != "system" {
			return fmt.Errorf("invalid role %q, must be 'user', 'assistant' or 'system'", item.Role)
		}
		if len(item.Content) == 0 {
			return errors.New("message content is required")
		}
		for i, part := range item.Content {
			if part.Type == "" {
				return fmt.Errorf("content[%d].type is required", i)
			}
		}
	case "function_call_output":
		if item.CallID == "" {
			return errors.New("call_id is required for function_call_output")
		}
	case "function_call":
		if item.Name == "" || item.CallID == "" {
			return errors.New("name and call_id are required for function_call")
		}
	default:
		return fmt.Errorf("invalid item type %q", item.Type)
	}
	if len(item.ID) > 32 {
		return fmt.Errorf("item id too long (%d characters), maximum is 32", len(item.ID))
	}
	return nil
}

// CreateConversationItem adds an item to the remote conversation. An empty ID
// is filled with a generated one.
func (c *Client) CreateConversationItem(ctx context.Context, item ConversationItem) error {
	if err := ValidateConversationItem(item); err != nil {
		return NewSendError("conversation.item.create", "", err)
	}
	if item.ID == "" {
		id, err := nanoid.New()
		if err != nil {
			return NewSendError("conversation.item.create", "", err)
		}
		item.ID = id
	}
	return c.send(ctx, "conversation.item.create", map[string]any{"item": item})
}

// DeleteItem removes an item from the remote conversation. The local mirror
// drops it when the server confirms with conversation.item.deleted.
func (c *Client) DeleteItem(ctx context.Context, itemID string) error {
	if itemID == "" {
		return NewSendError("conversation.item.delete", "", errors.New("item id is required"))
	}
	return c.send(ctx, "conversation.item.delete", map[string]any{"item_id": itemID})
}
