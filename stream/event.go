package stream

import jsoniter "github.com/json-iterator/go"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Internal stream event types. Exactly one start precedes any content
// event, done terminates the stream, final precedes done when the upstream
// signaled completion.
const (
	EventStart             = "start"
	EventTextDelta         = "text_delta"
	EventToolCallStart     = "tool_call_start"
	EventToolCallArgsDelta = "tool_call_args_delta"
	EventFinal             = "final"
	EventDone              = "done"
)

// Event the canonical stream event produced by decoders and consumed by
// sinks. Meta is set for start and final, ID/Name/Delta for tool-call
// events, Text for text deltas.
type Event struct {
	Type  string
	Meta  map[string]interface{}
	Text  string
	ID    string
	Name  string
	Delta string
}
