package rtconsole

// Item statuses.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusIncomplete = "incomplete"
)

// Item is a conversation item as folded from the server event stream.
// Formatted holds the display-ready payload accumulated from deltas.
type Item struct {
	ID        string
	Object    string
	Type      string // message, function_call, function_call_output
	Status    string
	Role      string // user, assistant, system
	Content   []ContentPart
	CallID    string
	Name      string
	Arguments string
	Output    string
	Formatted Formatted
}

// Formatted is the accumulated, display-ready view of an item.
type Formatted struct {
	Audio      []int16
	Text       string
	Transcript string
	Tool       *ToolCall
	Output     string
	// File is a WAV rendering of Audio, filled in by consumers once the item completes.
	File []byte
}

// ToolCall describes a function call requested by the assistant.
type ToolCall struct {
	Type      string
	Name      string
	CallID    string
	Arguments string
}

// ItemDelta is the incremental change that produced a conversation.updated notification.
type ItemDelta struct {
	Audio      []int16
	Transcript string
	Text       string
	Arguments  string
}

// HasAudio reports whether the item carries any audio samples.
func (it Item) HasAudio() bool { return len(it.Formatted.Audio) > 0 }

// Clone returns a deep copy of the item.
func (it Item) Clone() Item {
	out := it
	if it.Content != nil {
		out.Content = append([]ContentPart(nil), it.Content...)
	}
	if it.Formatted.Audio != nil {
		out.Formatted.Audio = append([]int16(nil), it.Formatted.Audio...)
	}
	if it.Formatted.File != nil {
		out.Formatted.File = append([]byte(nil), it.Formatted.File...)
	}
	if it.Formatted.Tool != nil {
		tool := *it.Formatted.Tool
		out.Formatted.Tool = &tool
	}
	return out
}

func itemFromWire(w ConversationItem) *Item {
	return &Item{
		ID:        w.ID,
		Object:    w.Object,
		Type:      w.Type,
		Status:    w.Status,
		Role:      w.Role,
		Content:   append([]ContentPart(nil), w.Content...),
		CallID:    w.CallID,
		Name:      w.Name,
		Arguments: w.Arguments,
		Output:    w.Output,
	}
}
