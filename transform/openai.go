package transform

import (
	"net/http"
	"strings"

	"github.com/spf13/cast"
)

// openaiChatCodec the OpenAI Chat Completions dialect
type openaiChatCodec struct{}

func (codec *openaiChatCodec) Name() string { return OpenAIChat }

// CanParse matches /chat/completions paths or a messages array whose first
// item carries a role. Completions-style bodies with a bare prompt are not
// chat requests.
func (codec *openaiChatCodec) CanParse(path string, header http.Header, body map[string]interface{}) bool {
	if _, has := body["prompt"]; has {
		if _, hasMessages := body["messages"]; !hasMessages {
			return false
		}
	}

	if strings.Contains(path, "/chat/completions") {
		return true
	}

	messages := listValue(body, "messages")
	if len(messages) == 0 {
		return false
	}
	first, ok := messages[0].(map[string]interface{})
	if !ok {
		return false
	}
	_, hasRole := first["role"]
	return hasRole
}

func (codec *openaiChatCodec) Decode(body map[string]interface{}, path string) (*Request, error) {
	tools := []ToolDef{}
	for _, item := range listValue(body, "tools") {
		tool, ok := item.(map[string]interface{})
		if !ok || cast.ToString(tool["type"]) != "function" {
			continue
		}
		fn := mapValue(tool, "function")
		tools = append(tools, ToolDef{
			Name:        cast.ToString(fn["name"]),
			Description: cast.ToString(fn["description"]),
			InputSchema: mapValue(fn, "parameters"),
		})
	}

	messages := []Message{}
	for _, item := range listValue(body, "messages") {
		msg, ok := item.(map[string]interface{})
		if !ok {
			continue
		}

		blocks := []Block{}
		switch content := msg["content"].(type) {
		case string:
			if content != "" {
				blocks = append(blocks, TextBlock(content))
			}
		case []interface{}:
			for _, p := range content {
				part, ok := p.(map[string]interface{})
				if !ok {
					continue
				}
				switch cast.ToString(part["type"]) {
				case "text":
					blocks = append(blocks, TextBlock(cast.ToString(part["text"])))
				case "image_url":
					image := mapValue(part, "image_url")
					url := cast.ToString(image["url"])
					if url != "" {
						blocks = append(blocks, ImageBlock(url, cast.ToString(image["detail"])))
					}
				}
			}
		}

		role := cast.ToString(msg["role"])
		if role == "" {
			role = "user"
		}

		if role == "tool" {
			blocks = append(blocks, ToolResultBlock(
				cast.ToString(msg["tool_call_id"]),
				cast.ToString(msg["name"]),
				msg["content"],
			))
		}

		for _, c := range listValue(msg, "tool_calls") {
			call, ok := c.(map[string]interface{})
			if !ok {
				continue
			}
			fn := mapValue(call, "function")
			blocks = append(blocks, ToolCallBlock(
				cast.ToString(call["id"]),
				cast.ToString(fn["name"]),
				parseArgs(fn["arguments"]),
			))
		}

		messages = append(messages, Message{Role: role, Content: ensureBlocks(blocks)})
	}

	return &Request{
		Messages:   messages,
		Model:      cast.ToString(body["model"]),
		Stream:     cast.ToBool(body["stream"]),
		Tools:      tools,
		ToolChoice: body["tool_choice"],
		Extra:      copyExtra(body, "messages", "model", "stream", "tools", "tool_choice"),
	}, nil
}

func (codec *openaiChatCodec) Encode(req *Request) (map[string]interface{}, error) {
	messages := []interface{}{}
	for _, m := range req.Messages {
		textBlocks := TextBlocks(m.Content)
		imageBlocks := []*Image{}
		for _, block := range m.Content {
			if block.Type == BlockImage && block.Image != nil {
				imageBlocks = append(imageBlocks, block.Image)
			}
		}
		toolCalls := ToolCalls(m.Content)
		toolResults := ToolResults(m.Content)

		if m.Role != "tool" {
			msg := map[string]interface{}{"role": m.Role}

			if len(imageBlocks) > 0 {
				parts := []interface{}{}
				for _, block := range m.Content {
					switch block.Type {
					case BlockText:
						parts = append(parts, map[string]interface{}{"type": "text", "text": block.Text})
					case BlockImage:
						image := map[string]interface{}{"url": block.Image.URL}
						if block.Image.Detail != "" {
							image["detail"] = block.Image.Detail
						}
						parts = append(parts, map[string]interface{}{"type": "image_url", "image_url": image})
					}
				}
				msg["content"] = parts
			} else if len(textBlocks) > 0 {
				msg["content"] = strings.Join(textBlocks, "\n")
			} else if len(toolCalls) == 0 {
				msg["content"] = ""
			}

			if len(toolCalls) > 0 {
				calls := []interface{}{}
				for _, call := range toolCalls {
					calls = append(calls, map[string]interface{}{
						"id":   call.ID,
						"type": "function",
						"function": map[string]interface{}{
							"name":      call.Name,
							"arguments": dumpArgs(call.Arguments),
						},
					})
				}
				msg["tool_calls"] = calls
			}
			messages = append(messages, msg)
		}

		for _, result := range toolResults {
			msg := map[string]interface{}{
				"role":         "tool",
				"tool_call_id": result.CallID,
				"content":      toolOutputString(result.Output),
			}
			if result.Name != "" {
				msg["name"] = result.Name
			}
			messages = append(messages, msg)
		}
	}

	body := map[string]interface{}{
		"model":    req.Model,
		"messages": messages,
		"stream":   req.Stream,
	}

	if len(req.Tools) > 0 {
		tools := []interface{}{}
		for _, tool := range req.Tools {
			tools = append(tools, map[string]interface{}{
				"type": "function",
				"function": map[string]interface{}{
					"name":        tool.Name,
					"description": tool.Description,
					"parameters":  tool.InputSchema,
				},
			})
		}
		body["tools"] = tools
	}
	if req.ToolChoice != nil {
		body["tool_choice"] = req.ToolChoice
	}
	for key, value := range req.Extra {
		body[key] = value
	}
	return body, nil
}

func (codec *openaiChatCodec) DecodeResponse(body map[string]interface{}) (*Response, error) {
	choices := listValue(body, "choices")
	choice := map[string]interface{}{}
	if len(choices) > 0 {
		choice, _ = choices[0].(map[string]interface{})
	}
	message := mapValue(choice, "message")

	blocks := []Block{}
	if content := cast.ToString(message["content"]); content != "" {
		blocks = append(blocks, TextBlock(content))
	}
	for _, c := range listValue(message, "tool_calls") {
		call, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		fn := mapValue(call, "function")
		blocks = append(blocks, ToolCallBlock(
			cast.ToString(call["id"]),
			cast.ToString(fn["name"]),
			parseArgs(fn["arguments"]),
		))
	}

	return &Response{
		ID:           cast.ToString(body["id"]),
		Model:        cast.ToString(body["model"]),
		Messages:     []Message{{Role: "assistant", Content: ensureBlocks(blocks)}},
		FinishReason: cast.ToString(choice["finish_reason"]),
		Usage:        mapValue(body, "usage"),
		Extra:        copyExtra(body, "id", "model", "choices", "usage"),
	}, nil
}

func (codec *openaiChatCodec) EncodeResponse(res *Response) (map[string]interface{}, error) {
	last := res.LastMessage()
	message := map[string]interface{}{"role": "assistant"}

	if texts := TextBlocks(last.Content); len(texts) > 0 {
		message["content"] = strings.Join(texts, "\n")
	}

	calls := []interface{}{}
	for _, call := range ToolCalls(last.Content) {
		calls = append(calls, map[string]interface{}{
			"id":   call.ID,
			"type": "function",
			"function": map[string]interface{}{
				"name":      call.Name,
				"arguments": dumpArgs(call.Arguments),
			},
		})
	}
	if len(calls) > 0 {
		message["tool_calls"] = calls
	}

	body := map[string]interface{}{
		"id":     ensureID(res.ID, "chatcmpl-"),
		"model":  res.Model,
		"object": "chat.completion",
		"choices": []interface{}{
			map[string]interface{}{
				"index":         0,
				"message":       message,
				"finish_reason": finishOrNil(res.FinishReason),
			},
		},
	}
	if res.Usage != nil {
		body["usage"] = res.Usage
	}
	for key, value := range res.Extra {
		body[key] = value
	}
	return body, nil
}

// toolOutputString renders a tool result for dialects that carry it as text
func toolOutputString(output interface{}) string {
	switch v := output.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]interface{}, []interface{}:
		raw, err := json.Marshal(v)
		if err != nil {
			return cast.ToString(v)
		}
		return string(raw)
	default:
		return cast.ToString(v)
	}
}

func finishOrNil(reason string) interface{} {
	if reason == "" {
		return nil
	}
	return reason
}
