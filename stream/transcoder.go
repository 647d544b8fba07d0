package stream

import (
	"strings"

	"github.com/guardianbridge/guardianbridge/transform"
	"github.com/yaoapp/kun/log"
)

// Transcoder rewrites an SSE stream from one dialect into another on the
// fly. Feed raw upstream bytes in, take rendered client bytes out. A nil
// transcoder means pass-through.
type Transcoder struct {
	from     string
	to       string
	framer   Framer
	decoder  *decoder
	sink     sink
	started  bool
	doneSent bool
}

// NewTranscoder returns nil when no rewriting is needed, either because
// source and target match or because one of them has no stream codec.
func NewTranscoder(from string, to string) *Transcoder {
	if from == to {
		return nil
	}
	sink := newSink(to)
	if sink == nil || !streamable(from) {
		return nil
	}
	return &Transcoder{
		from:    from,
		to:      to,
		decoder: newDecoder(from),
		sink:    sink,
	}
}

func streamable(dialect string) bool {
	switch dialect {
	case transform.OpenAIChat, transform.OpenAIResponses, transform.ClaudeChat, transform.GeminiChat:
		return true
	}
	return false
}

func newSink(dialect string) sink {
	switch dialect {
	case transform.OpenAIChat:
		return &openaiChatSink{}
	case transform.OpenAIResponses:
		return &responsesSink{}
	case transform.ClaudeChat:
		return &claudeSink{}
	case transform.GeminiChat:
		return &geminiSink{}
	}
	return nil
}

// Feed consumes a chunk of the upstream stream and returns the bytes to
// forward to the client.
func (t *Transcoder) Feed(chunk []byte) []byte {
	out := strings.Builder{}
	for _, frame := range t.framer.Feed(chunk) {
		t.handleFrame(frame, &out)
	}
	return []byte(out.String())
}

// Flush drains the trailing frame and the sink buffers at end-of-stream
func (t *Transcoder) Flush() []byte {
	out := strings.Builder{}
	for _, frame := range t.framer.Flush() {
		t.handleFrame(frame, &out)
	}
	for _, rendered := range t.sink.flush() {
		out.WriteString(rendered)
	}
	// upstream ended without a terminator, close the client stream anyway
	t.emit(Event{Type: EventDone}, &out)
	return []byte(out.String())
}

func (t *Transcoder) handleFrame(frame Frame, out *strings.Builder) {
	data := strings.TrimSpace(frame.Data)
	if data == "" {
		return
	}
	if data == "[DONE]" {
		t.emit(Event{Type: EventDone}, out)
		return
	}

	payload := map[string]interface{}{}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		log.Trace("stream: drop non-JSON frame from %s: %s", t.from, err.Error())
		return
	}

	for _, event := range t.decoder.decode(frame.Event, payload) {
		t.emit(event, out)
	}
}

func (t *Transcoder) emit(event Event, out *strings.Builder) {
	var frames []string
	switch event.Type {
	case EventStart:
		if t.started {
			return
		}
		t.started = true
		frames = t.sink.onStart(event.Meta)
	case EventTextDelta:
		t.ensureStart(out)
		frames = t.sink.onText(event.Text)
	case EventToolCallStart:
		t.ensureStart(out)
		frames = t.sink.onToolStart(event.ID, event.Name)
	case EventToolCallArgsDelta:
		t.ensureStart(out)
		frames = t.sink.onToolArgs(event.ID, event.Name, event.Delta)
	case EventFinal:
		t.ensureStart(out)
		frames = t.sink.onFinal(event.Meta)
	case EventDone:
		if t.doneSent {
			return
		}
		t.doneSent = true
		frames = t.sink.onDone()
	}
	for _, rendered := range frames {
		out.WriteString(rendered)
	}
}

// ensureStart covers streams that open with content before any frame the
// decoder can read meta from
func (t *Transcoder) ensureStart(out *strings.Builder) {
	if t.started {
		return
	}
	t.started = true
	meta := map[string]interface{}{}
	for key, value := range t.decoder.meta {
		meta[key] = value
	}
	for _, rendered := range t.sink.onStart(meta) {
		out.WriteString(rendered)
	}
}
