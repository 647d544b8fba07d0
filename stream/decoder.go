package stream

import (
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/guardianbridge/guardianbridge/transform"
)

// decoder turns one source dialect's frames into internal events. One
// decoder per connection, it carries the stream meta and the set of
// already-announced tool calls.
type decoder struct {
	dialect string
	meta    map[string]interface{}
	started bool
	seen    map[string]string // call id -> name
	order   []string          // call ids in announcement order
}

func newDecoder(dialect string) *decoder {
	return &decoder{
		dialect: dialect,
		meta:    map[string]interface{}{},
		seen:    map[string]string{},
		order:   []string{},
	}
}

func (dec *decoder) announce(id string, name string) bool {
	if _, seen := dec.seen[id]; seen {
		return false
	}
	dec.seen[id] = name
	dec.order = append(dec.order, id)
	return true
}

func (dec *decoder) lastCall() (string, string) {
	if len(dec.order) == 0 {
		return "", ""
	}
	id := dec.order[len(dec.order)-1]
	return id, dec.seen[id]
}

// startOnce emits the start event the first time meta is known
func (dec *decoder) startOnce(events []Event) []Event {
	if dec.started || len(dec.meta) == 0 {
		return events
	}
	dec.started = true
	meta := map[string]interface{}{}
	for key, value := range dec.meta {
		meta[key] = value
	}
	return append(events, Event{Type: EventStart, Meta: meta})
}

func (dec *decoder) decode(eventName string, event map[string]interface{}) []Event {
	switch dec.dialect {
	case transform.OpenAIChat:
		return dec.decodeOpenAIChat(event)
	case transform.OpenAIResponses:
		return dec.decodeResponses(eventName, event)
	case transform.GeminiChat:
		return dec.decodeGemini(event)
	case transform.ClaudeChat:
		return dec.decodeClaude(eventName, event)
	}
	return nil
}

func (dec *decoder) decodeOpenAIChat(event map[string]interface{}) []Event {
	choices, ok := event["choices"].([]interface{})
	if !ok {
		return nil
	}

	if id := cast.ToString(event["id"]); id != "" {
		dec.meta["id"] = id
	}
	if model := cast.ToString(event["model"]); model != "" {
		dec.meta["model"] = model
	}
	if created := cast.ToInt64(event["created"]); created != 0 {
		dec.meta["created"] = created
	} else if _, has := dec.meta["created"]; !has {
		dec.meta["created"] = time.Now().Unix()
	}

	events := dec.startOnce(nil)

	choice := map[string]interface{}{}
	if len(choices) > 0 {
		choice, _ = choices[0].(map[string]interface{})
	}
	delta, _ := choice["delta"].(map[string]interface{})

	if content := cast.ToString(delta["content"]); content != "" {
		events = append(events, Event{Type: EventTextDelta, Text: content})
	}

	if calls, ok := delta["tool_calls"].([]interface{}); ok {
		for _, c := range calls {
			call, ok := c.(map[string]interface{})
			if !ok {
				continue
			}
			fn, _ := call["function"].(map[string]interface{})
			id := cast.ToString(call["id"])
			name := cast.ToString(fn["name"])
			args := cast.ToString(fn["arguments"])
			if id != "" && dec.announce(id, name) {
				events = append(events, Event{Type: EventToolCallStart, ID: id, Name: name})
			}
			if args == "" {
				continue
			}
			// continuation fragments carry only index and arguments,
			// route them to the most recently opened tool
			if id == "" {
				id, name = dec.lastCall()
				if id == "" {
					continue
				}
			} else if name == "" {
				name = dec.seen[id]
			}
			events = append(events, Event{Type: EventToolCallArgsDelta, ID: id, Name: name, Delta: args})
		}
	}

	if finish := cast.ToString(choice["finish_reason"]); finish != "" {
		usage, _ := event["usage"].(map[string]interface{})
		events = append(events,
			Event{Type: EventFinal, Meta: map[string]interface{}{"finish_reason": finish, "usage": usage}},
			Event{Type: EventDone},
		)
	}
	return events
}

func (dec *decoder) decodeResponses(eventName string, event map[string]interface{}) []Event {
	etype := cast.ToString(event["type"])
	if etype == "" {
		etype = eventName
	}
	if etype == "" {
		return nil
	}
	resp, _ := event["response"].(map[string]interface{})

	switch etype {
	case "response.created", "response.in_progress":
		if id := cast.ToString(resp["id"]); id != "" {
			dec.meta["id"] = id
		}
		if model := cast.ToString(resp["model"]); model != "" {
			dec.meta["model"] = model
		}
		if created := cast.ToInt64(resp["created_at"]); created != 0 {
			dec.meta["created_at"] = created
		} else if _, has := dec.meta["created_at"]; !has {
			dec.meta["created_at"] = time.Now().Unix()
		}
		return dec.startOnce(nil)

	case "response.output_text.delta":
		text := cast.ToString(event["delta"])
		if text == "" {
			text = cast.ToString(event["text"])
		}
		if text == "" {
			return nil
		}
		return []Event{{Type: EventTextDelta, Text: text}}

	case "response.output_item.added":
		item, _ := event["item"].(map[string]interface{})
		if cast.ToString(item["type"]) != "function_call" {
			return nil
		}
		id := cast.ToString(item["call_id"])
		if id == "" {
			id = cast.ToString(item["id"])
		}
		name := cast.ToString(item["name"])
		if id != "" && dec.announce(id, name) {
			return []Event{{Type: EventToolCallStart, ID: id, Name: name}}
		}
		return nil

	case "response.function_call_arguments.delta", "response.function_call.delta":
		id := cast.ToString(event["call_id"])
		name := cast.ToString(event["name"])
		if name == "" {
			name = dec.seen[id]
		}
		delta := cast.ToString(event["delta"])
		if delta == "" {
			delta = cast.ToString(event["arguments"])
		}
		events := []Event{}
		if id != "" && dec.announce(id, name) {
			events = append(events, Event{Type: EventToolCallStart, ID: id, Name: name})
		}
		if delta != "" {
			events = append(events, Event{Type: EventToolCallArgsDelta, ID: id, Name: name, Delta: delta})
		}
		return events

	case "response.completed", "response.failed", "response.incomplete", "error":
		finish := "stop"
		if etype == "error" {
			finish = "error"
		} else {
			switch strings.ToLower(cast.ToString(resp["status"])) {
			case "incomplete":
				finish = "length"
			case "failed":
				finish = "error"
			}
		}

		var usage map[string]interface{}
		if raw, ok := resp["usage"].(map[string]interface{}); ok {
			usage = map[string]interface{}{
				"input_tokens":  cast.ToInt(raw["input_tokens"]),
				"output_tokens": cast.ToInt(raw["output_tokens"]),
				"total_tokens":  cast.ToInt(raw["total_tokens"]),
			}
		}
		return []Event{
			{Type: EventFinal, Meta: map[string]interface{}{"finish_reason": finish, "usage": usage}},
			{Type: EventDone},
		}
	}
	return nil
}

func (dec *decoder) decodeGemini(event map[string]interface{}) []Event {
	candidates, ok := event["candidates"].([]interface{})
	if !ok || len(candidates) == 0 {
		return nil
	}

	if _, has := dec.meta["id"]; !has {
		id := cast.ToString(event["responseId"])
		if id == "" {
			id = cast.ToString(event["id"])
		}
		if id == "" {
			id = "gemini-stream"
		}
		dec.meta["id"] = id
	}
	if _, has := dec.meta["model"]; !has {
		model := cast.ToString(event["modelVersion"])
		if model == "" {
			model = "gemini"
		}
		dec.meta["model"] = model
	}
	events := dec.startOnce(nil)

	candidate, _ := candidates[0].(map[string]interface{})
	content, _ := candidate["content"].(map[string]interface{})
	parts, _ := content["parts"].([]interface{})

	for _, p := range parts {
		part, ok := p.(map[string]interface{})
		if !ok {
			continue
		}
		if text := cast.ToString(part["text"]); text != "" {
			events = append(events, Event{Type: EventTextDelta, Text: text})
		}
		call, ok := part["functionCall"].(map[string]interface{})
		if !ok {
			continue
		}
		id := cast.ToString(call["id"])
		if id == "" {
			// Gemini may omit ids, synthesize an opaque one
			id = "gemini_call_" + cast.ToString(len(dec.seen))
		}
		name := cast.ToString(call["name"])
		if dec.announce(id, name) {
			events = append(events, Event{Type: EventToolCallStart, ID: id, Name: name})
		}
		args, _ := call["args"].(map[string]interface{})
		events = append(events, Event{Type: EventToolCallArgsDelta, ID: id, Name: name, Delta: compactJSON(args)})
	}
	return events
}

func (dec *decoder) decodeClaude(eventName string, event map[string]interface{}) []Event {
	dtype := cast.ToString(event["type"])
	if dtype == "" {
		dtype = eventName
	}
	if dtype == "" {
		return nil
	}

	switch dtype {
	case "message_start":
		msg, _ := event["message"].(map[string]interface{})
		if id := cast.ToString(msg["id"]); id != "" {
			dec.meta["id"] = id
		}
		if model := cast.ToString(msg["model"]); model != "" {
			dec.meta["model"] = model
		}
		events := dec.startOnce(nil)

		if content, ok := msg["content"].([]interface{}); ok {
			for _, b := range content {
				block, ok := b.(map[string]interface{})
				if !ok || cast.ToString(block["type"]) != "tool_use" {
					continue
				}
				id := cast.ToString(block["id"])
				name := cast.ToString(block["name"])
				if id != "" && dec.announce(id, name) {
					events = append(events, Event{Type: EventToolCallStart, ID: id, Name: name})
				}
				if input, ok := block["input"].(map[string]interface{}); ok && len(input) > 0 {
					events = append(events, Event{Type: EventToolCallArgsDelta, ID: id, Name: name, Delta: compactJSON(input)})
				}
			}
		}
		return events

	case "content_block_start":
		block, _ := event["content_block"].(map[string]interface{})
		if cast.ToString(block["type"]) != "tool_use" {
			return nil
		}
		id := cast.ToString(block["id"])
		name := cast.ToString(block["name"])
		events := []Event{}
		if id != "" && dec.announce(id, name) {
			events = append(events, Event{Type: EventToolCallStart, ID: id, Name: name})
		}
		if input, ok := block["input"].(map[string]interface{}); ok && len(input) > 0 {
			events = append(events, Event{Type: EventToolCallArgsDelta, ID: id, Name: name, Delta: compactJSON(input)})
		}
		return events

	case "content_block_delta":
		delta, _ := event["delta"].(map[string]interface{})
		switch cast.ToString(delta["type"]) {
		case "text_delta":
			if text := cast.ToString(delta["text"]); text != "" {
				return []Event{{Type: EventTextDelta, Text: text}}
			}
		case "input_json_delta":
			partial := cast.ToString(delta["partial_json"])
			// argument fragments route to the most recently opened tool
			if id, name := dec.lastCall(); id != "" && partial != "" {
				return []Event{{Type: EventToolCallArgsDelta, ID: id, Name: name, Delta: partial}}
			}
		}
		return nil

	case "message_delta":
		delta, _ := event["delta"].(map[string]interface{})
		usage, _ := event["usage"].(map[string]interface{})
		finish := cast.ToString(delta["stop_reason"])
		switch finish {
		case "end_turn", "stop_sequence":
			finish = "stop"
		case "max_tokens":
			finish = "length"
		case "tool_use":
			finish = "tool_calls"
		}
		return []Event{{
			Type: EventFinal,
			Meta: map[string]interface{}{"finish_reason": finish, "usage": usage},
		}}

	case "message_stop":
		return []Event{{Type: EventDone}}
	}
	return nil
}

// compactJSON renders arguments as one compact fragment
func compactJSON(value map[string]interface{}) string {
	if value == nil {
		value = map[string]interface{}{}
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
