package console

import (
	"fmt"

	"github.com/enesunal-m/rtconsole"
)

// Transcript placeholders.
const (
	AwaitingTranscript = "(awaiting transcript)"
	ItemSent           = "(item sent)"
	Truncated          = "(truncated)"
)

// TranscriptLine is the display form of one conversation item.
type TranscriptLine struct {
	ID       string
	Role     string
	Text     string
	Status   string
	HasAudio bool
}

// DisplayText picks what to show for an item: transcript, then text, then a
// pending-transcription placeholder if the item has audio. Tool calls render
// as name(arguments) and tool outputs as their output.
func DisplayText(it rtconsole.Item) string {
	switch it.Type {
	case "function_call":
		if tool := it.Formatted.Tool; tool != nil {
			return fmt.Sprintf("%s(%s)", tool.Name, tool.Arguments)
		}
		return fmt.Sprintf("%s(%s)", it.Name, it.Arguments)
	case "function_call_output":
		return it.Formatted.Output
	}

	switch {
	case it.Formatted.Transcript != "":
		return it.Formatted.Transcript
	case it.Formatted.Text != "":
		return it.Formatted.Text
	case it.HasAudio():
		return AwaitingTranscript
	}

	switch it.Role {
	case "user":
		return ItemSent
	case "assistant":
		return Truncated
	}
	return ""
}

// BuildTranscript renders items in conversation order.
func BuildTranscript(items []rtconsole.Item) []TranscriptLine {
	lines := make([]TranscriptLine, 0, len(items))
	for _, it := range items {
		role := it.Role
		if it.Type == "function_call" || it.Type == "function_call_output" {
			role = "tool"
		}
		lines = append(lines, TranscriptLine{
			ID:       it.ID,
			Role:     role,
			Text:     DisplayText(it),
			Status:   it.Status,
			HasAudio: it.HasAudio(),
		})
	}
	return lines
}
