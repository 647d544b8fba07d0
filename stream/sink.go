package stream

import (
	"strings"
	"time"

	"github.com/spf13/cast"
)

// sink renders internal events as the target dialect's SSE frames. Each
// method returns zero or more encoded frames.
type sink interface {
	onStart(meta map[string]interface{}) []string
	onText(text string) []string
	onToolStart(id string, name string) []string
	onToolArgs(id string, name string, delta string) []string
	onFinal(meta map[string]interface{}) []string
	onDone() []string
	flush() []string
}

// ----------------------------------------------------------------------
// OpenAI Chat Completions
// ----------------------------------------------------------------------

type openaiChatSink struct {
	id      string
	model   string
	created int64
}

func (s *openaiChatSink) chunk(delta map[string]interface{}, finish interface{}) map[string]interface{} {
	return map[string]interface{}{
		"id":      s.id,
		"object":  "chat.completion.chunk",
		"created": s.created,
		"model":   s.model,
		"choices": []interface{}{
			map[string]interface{}{"index": 0, "delta": delta, "finish_reason": finish},
		},
	}
}

func (s *openaiChatSink) onStart(meta map[string]interface{}) []string {
	s.id = cast.ToString(meta["id"])
	if s.id == "" {
		s.id = "chatcmpl-stream"
	}
	s.model = cast.ToString(meta["model"])
	s.created = cast.ToInt64(meta["created"])
	if s.created == 0 {
		s.created = cast.ToInt64(meta["created_at"])
	}
	if s.created == 0 {
		s.created = time.Now().Unix()
	}
	return []string{encodeJSON(s.chunk(map[string]interface{}{"role": "assistant"}, nil), "")}
}

func (s *openaiChatSink) onText(text string) []string {
	return []string{encodeJSON(s.chunk(map[string]interface{}{"content": text}, nil), "")}
}

func (s *openaiChatSink) onToolStart(id string, name string) []string {
	delta := map[string]interface{}{
		"tool_calls": []interface{}{
			map[string]interface{}{
				"id":       id,
				"type":     "function",
				"function": map[string]interface{}{"name": name, "arguments": ""},
			},
		},
	}
	return []string{encodeJSON(s.chunk(delta, nil), "")}
}

func (s *openaiChatSink) onToolArgs(id string, name string, args string) []string {
	delta := map[string]interface{}{
		"tool_calls": []interface{}{
			map[string]interface{}{
				"id":       id,
				"type":     "function",
				"function": map[string]interface{}{"name": name, "arguments": args},
			},
		},
	}
	return []string{encodeJSON(s.chunk(delta, nil), "")}
}

func (s *openaiChatSink) onFinal(meta map[string]interface{}) []string {
	finish := cast.ToString(meta["finish_reason"])
	if finish == "" {
		finish = "stop"
	}
	payload := s.chunk(map[string]interface{}{}, finish)
	if usage, ok := meta["usage"].(map[string]interface{}); ok && len(usage) > 0 {
		payload["usage"] = usage
	}
	return []string{encodeJSON(payload, "")}
}

func (s *openaiChatSink) onDone() []string { return []string{encodeSSE("[DONE]", "")} }
func (s *openaiChatSink) flush() []string  { return nil }

// ----------------------------------------------------------------------
// OpenAI Responses
// ----------------------------------------------------------------------

type responsesSink struct {
	id      string
	model   string
	created int64
}

func (s *responsesSink) stub(status string) map[string]interface{} {
	return map[string]interface{}{
		"object":     "response",
		"id":         s.id,
		"model":      s.model,
		"created_at": s.created,
		"status":     status,
		"output":     []interface{}{},
	}
}

func (s *responsesSink) onStart(meta map[string]interface{}) []string {
	s.id = cast.ToString(meta["id"])
	if s.id == "" {
		s.id = "resp-stream"
	}
	s.model = cast.ToString(meta["model"])
	s.created = cast.ToInt64(meta["created_at"])
	if s.created == 0 {
		s.created = cast.ToInt64(meta["created"])
	}
	if s.created == 0 {
		s.created = time.Now().Unix()
	}
	return []string{
		encodeJSON(map[string]interface{}{"type": "response.created", "response": s.stub("in_progress")}, ""),
		encodeJSON(map[string]interface{}{"type": "response.in_progress", "response": s.stub("in_progress")}, ""),
	}
}

func (s *responsesSink) onText(text string) []string {
	return []string{encodeJSON(map[string]interface{}{
		"type":         "response.output_text.delta",
		"delta":        text,
		"output_index": 0,
	}, "")}
}

func (s *responsesSink) onToolStart(id string, name string) []string {
	return []string{encodeJSON(map[string]interface{}{
		"type": "response.output_item.added",
		"item": map[string]interface{}{"type": "function_call", "call_id": id, "name": name},
	}, "")}
}

func (s *responsesSink) onToolArgs(id string, name string, delta string) []string {
	return []string{encodeJSON(map[string]interface{}{
		"type":    "response.function_call_arguments.delta",
		"call_id": id,
		"name":    name,
		"delta":   delta,
	}, "")}
}

func (s *responsesSink) onFinal(meta map[string]interface{}) []string {
	status := "completed"
	switch cast.ToString(meta["finish_reason"]) {
	case "length":
		status = "incomplete"
	case "error":
		status = "failed"
	}

	response := s.stub(status)
	if raw, ok := meta["usage"].(map[string]interface{}); ok && len(raw) > 0 {
		input := cast.ToInt(raw["input_tokens"])
		if input == 0 {
			input = cast.ToInt(raw["prompt_tokens"])
		}
		output := cast.ToInt(raw["output_tokens"])
		if output == 0 {
			output = cast.ToInt(raw["completion_tokens"])
		}
		total := cast.ToInt(raw["total_tokens"])
		if total == 0 {
			total = input + output
		}
		response["usage"] = map[string]interface{}{
			"input_tokens":  input,
			"output_tokens": output,
			"total_tokens":  total,
		}
	}
	return []string{encodeJSON(map[string]interface{}{"type": "response." + status, "response": response}, "")}
}

func (s *responsesSink) onDone() []string { return []string{encodeSSE("[DONE]", "")} }
func (s *responsesSink) flush() []string  { return nil }

// ----------------------------------------------------------------------
// Gemini
// ----------------------------------------------------------------------

type geminiCall struct {
	id   string
	name string
	args strings.Builder
}

type geminiSink struct {
	id    string
	model string
	calls map[string]*geminiCall
	order []string
}

func (s *geminiSink) payload(parts []interface{}) map[string]interface{} {
	return map[string]interface{}{
		"candidates": []interface{}{
			map[string]interface{}{
				"content": map[string]interface{}{"parts": parts, "role": "model"},
				"index":   0,
			},
		},
		"responseId":   s.id,
		"modelVersion": s.model,
	}
}

func (s *geminiSink) onStart(meta map[string]interface{}) []string {
	s.id = cast.ToString(meta["id"])
	if s.id == "" {
		s.id = "gemini-stream"
	}
	s.model = cast.ToString(meta["model"])
	if s.model == "" {
		s.model = "gemini"
	}
	return nil
}

func (s *geminiSink) onText(text string) []string {
	return []string{encodeJSON(s.payload([]interface{}{map[string]interface{}{"text": text}}), "")}
}

func (s *geminiSink) onToolStart(id string, name string) []string {
	if s.calls == nil {
		s.calls = map[string]*geminiCall{}
	}
	if _, has := s.calls[id]; !has {
		s.calls[id] = &geminiCall{id: id, name: name}
		s.order = append(s.order, id)
	}
	return nil
}

// onToolArgs buffers argument fragments per call and emits the functionCall
// part once the accumulated fragment parses as a JSON object
func (s *geminiSink) onToolArgs(id string, name string, delta string) []string {
	s.onToolStart(id, name)
	call := s.calls[id]
	call.args.WriteString(delta)

	args := map[string]interface{}{}
	raw := strings.TrimSpace(call.args.String())
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil || len(args) == 0 {
		return nil
	}

	frame := s.emitCall(call, args)
	delete(s.calls, id)
	return []string{frame}
}

func (s *geminiSink) emitCall(call *geminiCall, args map[string]interface{}) string {
	part := map[string]interface{}{
		"functionCall": map[string]interface{}{
			"id":   call.id,
			"name": call.name,
			"args": args,
		},
	}
	return encodeJSON(s.payload([]interface{}{part}), "")
}

func (s *geminiSink) onFinal(meta map[string]interface{}) []string { return nil }

func (s *geminiSink) onDone() []string { return []string{encodeSSE("[DONE]", "")} }

// flush emits buffered calls whose residue still parses
func (s *geminiSink) flush() []string {
	frames := []string{}
	for _, id := range s.order {
		call, has := s.calls[id]
		if !has {
			continue
		}
		args := map[string]interface{}{}
		raw := strings.TrimSpace(call.args.String())
		if raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(raw), &args); err != nil || len(args) == 0 {
			continue
		}
		frames = append(frames, s.emitCall(call, args))
		delete(s.calls, id)
	}
	return frames
}

// ----------------------------------------------------------------------
// Claude
// ----------------------------------------------------------------------

type claudeSink struct {
	id        string
	model     string
	blocks    map[string]int // "text" or "tool_use:<id>" -> block index
	open      []int
	nextIndex int
}

func (s *claudeSink) onStart(meta map[string]interface{}) []string {
	s.id = cast.ToString(meta["id"])
	if s.id == "" {
		s.id = "msg-stream"
	}
	s.model = cast.ToString(meta["model"])
	s.blocks = map[string]int{}
	return []string{encodeJSON(map[string]interface{}{
		"type": "message_start",
		"message": map[string]interface{}{
			"id":            s.id,
			"type":          "message",
			"role":          "assistant",
			"model":         s.model,
			"content":       []interface{}{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         map[string]interface{}{"input_tokens": 0, "output_tokens": 0},
		},
	}, "message_start")}
}

func (s *claudeSink) openBlock(key string, block map[string]interface{}) (int, string) {
	index := s.nextIndex
	s.nextIndex++
	s.blocks[key] = index
	s.open = append(s.open, index)
	return index, encodeJSON(map[string]interface{}{
		"type":          "content_block_start",
		"index":         index,
		"content_block": block,
	}, "content_block_start")
}

func (s *claudeSink) onText(text string) []string {
	frames := []string{}
	index, has := s.blocks["text"]
	if !has {
		var frame string
		index, frame = s.openBlock("text", map[string]interface{}{"type": "text", "text": ""})
		frames = append(frames, frame)
	}
	frames = append(frames, encodeJSON(map[string]interface{}{
		"type":  "content_block_delta",
		"index": index,
		"delta": map[string]interface{}{"type": "text_delta", "text": text},
	}, "content_block_delta"))
	return frames
}

func (s *claudeSink) onToolStart(id string, name string) []string {
	key := "tool_use:" + id
	if _, has := s.blocks[key]; has {
		return nil
	}
	_, frame := s.openBlock(key, map[string]interface{}{
		"type":  "tool_use",
		"id":    id,
		"name":  name,
		"input": map[string]interface{}{},
	})
	return []string{frame}
}

func (s *claudeSink) onToolArgs(id string, name string, delta string) []string {
	frames := []string{}
	key := "tool_use:" + id
	index, has := s.blocks[key]
	if !has {
		frames = append(frames, s.onToolStart(id, name)...)
		index = s.blocks[key]
	}
	frames = append(frames, encodeJSON(map[string]interface{}{
		"type":  "content_block_delta",
		"index": index,
		"delta": map[string]interface{}{"type": "input_json_delta", "partial_json": delta},
	}, "content_block_delta"))
	return frames
}

func (s *claudeSink) onFinal(meta map[string]interface{}) []string {
	frames := []string{}
	for _, index := range s.open {
		frames = append(frames, encodeJSON(map[string]interface{}{
			"type":  "content_block_stop",
			"index": index,
		}, "content_block_stop"))
	}
	s.open = nil

	stop := "end_turn"
	switch cast.ToString(meta["finish_reason"]) {
	case "length":
		stop = "max_tokens"
	case "tool_calls", "tool_use":
		stop = "tool_use"
	}
	frames = append(frames,
		encodeJSON(map[string]interface{}{
			"type":  "message_delta",
			"delta": map[string]interface{}{"stop_reason": stop, "stop_sequence": nil},
		}, "message_delta"),
		encodeJSON(map[string]interface{}{"type": "message_stop"}, "message_stop"),
	)
	return frames
}

func (s *claudeSink) onDone() []string { return []string{encodeSSE("[DONE]", "")} }
func (s *claudeSink) flush() []string  { return nil }
