package stream

import "strings"

// Frame one parsed SSE event frame
type Frame struct {
	Event string
	Data  string
}

// Framer incrementally splits an SSE byte stream into frames. One framer
// per connection, frames come out in arrival order.
type Framer struct {
	buffer string
}

// Feed appends a chunk and returns every complete frame it closed
func (framer *Framer) Feed(chunk []byte) []Frame {
	framer.buffer += string(chunk)
	frames := []Frame{}
	for {
		idx := strings.Index(framer.buffer, "\n\n")
		if idx < 0 {
			break
		}
		raw := framer.buffer[:idx]
		framer.buffer = framer.buffer[idx+2:]
		if frame := parseFrame(raw); frame != nil {
			frames = append(frames, *frame)
		}
	}
	return frames
}

// Flush returns the trailing frame left in the buffer at end-of-stream
func (framer *Framer) Flush() []Frame {
	remaining := strings.TrimSpace(framer.buffer)
	framer.buffer = ""
	if remaining == "" {
		return nil
	}
	if frame := parseFrame(remaining); frame != nil {
		return []Frame{*frame}
	}
	return nil
}

// parseFrame collects the event name and the concatenated data lines
func parseFrame(raw string) *Frame {
	event := ""
	data := []string{}
	for _, line := range strings.Split(raw, "\n") {
		if strings.HasPrefix(line, "event:") {
			event = strings.TrimSpace(line[len("event:"):])
		} else if strings.HasPrefix(line, "data:") {
			data = append(data, strings.TrimLeft(line[len("data:"):], " "))
		}
	}
	if len(data) == 0 && event == "" {
		return nil
	}
	return &Frame{Event: event, Data: strings.Join(data, "\n")}
}

// encodeSSE renders one outgoing frame
func encodeSSE(data string, event string) string {
	if event != "" {
		return "event: " + event + "\ndata: " + data + "\n\n"
	}
	return "data: " + data + "\n\n"
}

// encodeJSON marshals a payload into a data frame
func encodeJSON(payload map[string]interface{}, event string) string {
	raw, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return encodeSSE(string(raw), event)
}
