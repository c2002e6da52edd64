package console

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/enesunal-m/rtconsole"
)

// MaxDisplayBytes is the longest string kept verbatim in a display payload.
const MaxDisplayBytes = 4096

// EventRecord is one line of the event log. Adjacent events of the same type
// share a record; Payload and Time belong to the newest of them.
type EventRecord struct {
	Time    time.Time
	Source  rtconsole.Source
	Type    string
	Payload map[string]any
	Count   int
}

// audio payload fields that are never displayed verbatim
var trimmedFields = map[string]string{
	"input_audio_buffer.append": "audio",
	"response.audio.delta":      "delta",
}

// Reduce folds ev into log and returns the new log. The input slice and its
// records are left untouched.
func Reduce(log []EventRecord, ev rtconsole.RealtimeEvent) []EventRecord {
	rec := EventRecord{
		Time:    ev.Time,
		Source:  ev.Source,
		Type:    ev.Type,
		Payload: DisplayPayload(ev),
		Count:   1,
	}

	if n := len(log); n > 0 && log[n-1].Type == ev.Type {
		out := make([]EventRecord, n)
		copy(out, log)
		rec.Count = log[n-1].Count + 1
		out[n-1] = rec
		return out
	}

	out := make([]EventRecord, len(log), len(log)+1)
	copy(out, log)
	return append(out, rec)
}

// DisplayPayload decodes ev for display, replacing audio payloads and long
// strings with a size marker.
func DisplayPayload(ev rtconsole.RealtimeEvent) map[string]any {
	fields, err := ev.Fields()
	if err != nil {
		return map[string]any{"type": ev.Type, "raw": trimString(string(ev.Raw))}
	}
	if key, ok := trimmedFields[ev.Type]; ok {
		if s, ok := fields[key].(string); ok {
			fields[key] = sizeMarker(len(s))
		}
	}
	trimValue(fields)
	return fields
}

func sizeMarker(n int) string { return fmt.Sprintf("[trimmed: %d bytes]", n) }

func trimString(s string) string {
	if len(s) > MaxDisplayBytes {
		return sizeMarker(len(s))
	}
	return s
}

func trimValue(v any) any {
	switch t := v.(type) {
	case string:
		return trimString(t)
	case map[string]any:
		for k, x := range t {
			t[k] = trimValue(x)
		}
	case []any:
		for i, x := range t {
			t[i] = trimValue(x)
		}
	}
	return v
}

// String renders the record as a single log line.
func (r EventRecord) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-6s %s", r.Time.Format("15:04:05.000"), r.Source, r.Type)
	if r.Count > 1 {
		fmt.Fprintf(&b, " (%d)", r.Count)
	}

	keys := make([]string, 0, len(r.Payload))
	for k := range r.Payload {
		if k != "type" && k != "event_id" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, r.Payload[k])
	}
	return b.String()
}
