package rtconsole

import (
	"encoding/json"
	"fmt"
	"sync"
)

// DefaultFrequency is the sample rate of conversation audio (PCM16 mono).
const DefaultFrequency = 24000

type speechSpan struct {
	startMs int
	endMs   int
	audio   []int16
}

type response struct {
	id     string
	output []string
}

// Conversation folds server events into an ordered list of items.
// Speech and transcripts that arrive before their item are queued and
// applied when the item is created. It is safe for concurrent use.
type Conversation struct {
	mu sync.Mutex

	items      []*Item
	itemLookup map[string]*Item

	responses      []*response
	responseLookup map[string]*response

	queuedSpeech      map[string]*speechSpan
	queuedTranscripts map[string]string
	queuedInputAudio  []int16
}

// NewConversation creates an empty conversation.
func NewConversation() *Conversation {
	c := &Conversation{}
	c.reset()
	return c
}

func (c *Conversation) reset() {
	c.items = nil
	c.itemLookup = make(map[string]*Item)
	c.responses = nil
	c.responseLookup = make(map[string]*response)
	c.queuedSpeech = make(map[string]*speechSpan)
	c.queuedTranscripts = make(map[string]string)
	c.queuedInputAudio = nil
}

// Clear drops all items, responses and queued data.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

// QueueInputAudio stores committed push-to-talk audio for the next user item.
func (c *Conversation) QueueInputAudio(samples []int16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queuedInputAudio = append([]int16(nil), samples...)
}

// Item returns a copy of the item with the given id.
func (c *Conversation) Item(id string) (Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.itemLookup[id]
	if !ok {
		return Item{}, false
	}
	return it.Clone(), true
}

// Items returns copies of all items in conversation order.
func (c *Conversation) Items() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Item, 0, len(c.items))
	for _, it := range c.items {
		out = append(out, it.Clone())
	}
	return out
}

// ProcessEvent applies one server event. It returns a copy of the affected item
// (nil when the event does not touch an item) and the delta it carried.
// inputAudio is the client's uncommitted input buffer, used to slice speech on
// input_audio_buffer.speech_stopped.
func (c *Conversation) ProcessEvent(ev RealtimeEvent, inputAudio []int16) (*Item, *ItemDelta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, delta, err := c.process(ev, inputAudio)
	if err != nil {
		return nil, nil, NewEventError(ev.Type, ev.Raw, err)
	}
	if it == nil {
		return nil, delta, nil
	}
	out := it.Clone()
	return &out, delta, nil
}

func decode[T any](raw []byte) (T, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}

func (c *Conversation) lookup(eventType, id string) (*Item, error) {
	it, ok := c.itemLookup[id]
	if !ok {
		return nil, fmt.Errorf("%s: item %q: %w", eventType, id, ErrItemNotFound)
	}
	return it, nil
}

func (c *Conversation) process(ev RealtimeEvent, inputAudio []int16) (*Item, *ItemDelta, error) {
	switch ev.Type {
	case "conversation.item.created":
		e, err := decode[ConversationItemCreated](ev.Raw)
		if err != nil {
			return nil, nil, err
		}
		return c.itemCreated(e.Item), nil, nil

	case "conversation.item.truncated":
		e, err := decode[ConversationItemTruncated](ev.Raw)
		if err != nil {
			return nil, nil, err
		}
		it, err := c.lookup(ev.Type, e.ItemID)
		if err != nil {
			return nil, nil, err
		}
		end := e.AudioEndMs * DefaultFrequency / 1000
		if end < len(it.Formatted.Audio) {
			it.Formatted.Audio = it.Formatted.Audio[:end]
		}
		it.Formatted.Transcript = ""
		return it, nil, nil

	case "conversation.item.deleted":
		e, err := decode[ConversationItemDeleted](ev.Raw)
		if err != nil {
			return nil, nil, err
		}
		it, err := c.lookup(ev.Type, e.ItemID)
		if err != nil {
			return nil, nil, err
		}
		delete(c.itemLookup, it.ID)
		for i, x := range c.items {
			if x == it {
				c.items = append(c.items[:i], c.items[i+1:]...)
				break
			}
		}
		return it, nil, nil

	case "conversation.item.input_audio_transcription.completed":
		e, err := decode[ConversationItemInputAudioTranscriptionCompleted](ev.Raw)
		if err != nil {
			return nil, nil, err
		}
		// a single space keeps an empty transcript distinguishable from "none yet"
		formatted := e.Transcript
		if formatted == "" {
			formatted = " "
		}
		it, ok := c.itemLookup[e.ItemID]
		if !ok {
			c.queuedTranscripts[e.ItemID] = formatted
			return nil, nil, nil
		}
		if e.ContentIndex >= 0 && e.ContentIndex < len(it.Content) {
			it.Content[e.ContentIndex].Transcript = e.Transcript
		}
		it.Formatted.Transcript = formatted
		return it, &ItemDelta{Transcript: e.Transcript}, nil

	case "input_audio_buffer.speech_started":
		e, err := decode[InputAudioBufferSpeechStarted](ev.Raw)
		if err != nil {
			return nil, nil, err
		}
		c.queuedSpeech[e.ItemID] = &speechSpan{startMs: e.AudioStartMs}
		return nil, nil, nil

	case "input_audio_buffer.speech_stopped":
		e, err := decode[InputAudioBufferSpeechStopped](ev.Raw)
		if err != nil {
			return nil, nil, err
		}
		span, ok := c.queuedSpeech[e.ItemID]
		if !ok {
			span = &speechSpan{startMs: e.AudioEndMs}
			c.queuedSpeech[e.ItemID] = span
		}
		span.endMs = e.AudioEndMs
		if inputAudio != nil {
			span.audio = sliceSamples(inputAudio, span.startMs, span.endMs)
		}
		return nil, nil, nil

	case "response.created":
		e, err := decode[ResponseCreated](ev.Raw)
		if err != nil {
			return nil, nil, err
		}
		if _, ok := c.responseLookup[e.Response.ID]; !ok {
			r := &response{id: e.Response.ID}
			c.responseLookup[r.id] = r
			c.responses = append(c.responses, r)
		}
		return nil, nil, nil

	case "response.output_item.added":
		e, err := decode[ResponseOutputItemAdded](ev.Raw)
		if err != nil {
			return nil, nil, err
		}
		r, ok := c.responseLookup[e.ResponseID]
		if !ok {
			return nil, nil, fmt.Errorf("response %q not found", e.ResponseID)
		}
		r.output = append(r.output, e.Item.ID)
		return nil, nil, nil

	case "response.output_item.done":
		e, err := decode[ResponseOutputItemDone](ev.Raw)
		if err != nil {
			return nil, nil, err
		}
		if e.Item == nil {
			return nil, nil, fmt.Errorf("missing item")
		}
		it, err := c.lookup(ev.Type, e.Item.ID)
		if err != nil {
			return nil, nil, err
		}
		it.Status = e.Item.Status
		return it, nil, nil

	case "response.content_part.added":
		e, err := decode[ResponseContentPartAdded](ev.Raw)
		if err != nil {
			return nil, nil, err
		}
		it, err := c.lookup(ev.Type, e.ItemID)
		if err != nil {
			return nil, nil, err
		}
		it.Content = append(it.Content, e.Part)
		return it, nil, nil

	case "response.audio_transcript.delta":
		e, err := decode[ResponseAudioTranscriptDelta](ev.Raw)
		if err != nil {
			return nil, nil, err
		}
		it, err := c.lookup(ev.Type, e.ItemID)
		if err != nil {
			return nil, nil, err
		}
		if e.ContentIndex >= 0 && e.ContentIndex < len(it.Content) {
			it.Content[e.ContentIndex].Transcript += e.Delta
		}
		it.Formatted.Transcript += e.Delta
		return it, &ItemDelta{Transcript: e.Delta}, nil

	case "response.audio.delta":
		e, err := decode[ResponseAudioDelta](ev.Raw)
		if err != nil {
			return nil, nil, err
		}
		it, err := c.lookup(ev.Type, e.ItemID)
		if err != nil {
			return nil, nil, err
		}
		samples, err := DecodePCM16Base64(e.DeltaBase64)
		if err != nil {
			return nil, nil, err
		}
		it.Formatted.Audio = append(it.Formatted.Audio, samples...)
		return it, &ItemDelta{Audio: samples}, nil

	case "response.text.delta":
		e, err := decode[ResponseTextDelta](ev.Raw)
		if err != nil {
			return nil, nil, err
		}
		it, err := c.lookup(ev.Type, e.ItemID)
		if err != nil {
			return nil, nil, err
		}
		if e.ContentIndex >= 0 && e.ContentIndex < len(it.Content) {
			it.Content[e.ContentIndex].Text += e.Delta
		}
		it.Formatted.Text += e.Delta
		return it, &ItemDelta{Text: e.Delta}, nil

	case "response.function_call_arguments.delta":
		e, err := decode[ResponseFunctionCallArgumentsDelta](ev.Raw)
		if err != nil {
			return nil, nil, err
		}
		it, err := c.lookup(ev.Type, e.ItemID)
		if err != nil {
			return nil, nil, err
		}
		it.Arguments += e.Delta
		if it.Formatted.Tool != nil {
			it.Formatted.Tool.Arguments += e.Delta
		}
		return it, &ItemDelta{Arguments: e.Delta}, nil
	}

	return nil, nil, nil
}

func (c *Conversation) itemCreated(w ConversationItem) *Item {
	it, ok := c.itemLookup[w.ID]
	if !ok {
		it = itemFromWire(w)
		c.itemLookup[it.ID] = it
		c.items = append(c.items, it)
	}
	it.Formatted = Formatted{}

	if span, ok := c.queuedSpeech[it.ID]; ok {
		it.Formatted.Audio = span.audio
		delete(c.queuedSpeech, it.ID)
	}
	for _, part := range it.Content {
		if part.Type == "text" || part.Type == "input_text" {
			it.Formatted.Text += part.Text
		}
	}
	if transcript, ok := c.queuedTranscripts[it.ID]; ok {
		it.Formatted.Transcript = transcript
		delete(c.queuedTranscripts, it.ID)
	}

	switch it.Type {
	case "message":
		if it.Role == "user" {
			it.Status = StatusCompleted
			if c.queuedInputAudio != nil {
				it.Formatted.Audio = c.queuedInputAudio
				c.queuedInputAudio = nil
			}
		} else {
			it.Status = StatusInProgress
		}
	case "function_call":
		it.Formatted.Tool = &ToolCall{
			Type:   "function",
			Name:   it.Name,
			CallID: it.CallID,
		}
		it.Status = StatusInProgress
	case "function_call_output":
		it.Status = StatusCompleted
		it.Formatted.Output = it.Output
	}
	return it
}

func sliceSamples(samples []int16, startMs, endMs int) []int16 {
	start := startMs * DefaultFrequency / 1000
	end := endMs * DefaultFrequency / 1000
	if start < 0 {
		start = 0
	}
	if end > len(samples) {
		end = len(samples)
	}
	if start >= end {
		return []int16{}
	}
	return append([]int16(nil), samples[start:end]...)
}
