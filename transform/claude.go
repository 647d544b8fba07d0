package transform

import (
	"net/http"
	"strings"

	"github.com/spf13/cast"
)

// claudeCodec the Anthropic Messages dialect
type claudeCodec struct{}

func (codec *claudeCodec) Name() string { return ClaudeChat }

func (codec *claudeCodec) CanParse(path string, header http.Header, body map[string]interface{}) bool {
	clean := path
	if idx := strings.Index(clean, "?"); idx >= 0 {
		clean = clean[:idx]
	}
	if strings.HasSuffix(clean, "/messages") && header.Get("anthropic-version") != "" {
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
	content, ok := first["content"].([]interface{})
	if !ok || len(content) == 0 {
		return false
	}
	item, ok := content[0].(map[string]interface{})
	if !ok {
		return false
	}
	switch cast.ToString(item["type"]) {
	case "text", "tool_use", "tool_result":
		return true
	}
	return false
}

func (codec *claudeCodec) Decode(body map[string]interface{}, path string) (*Request, error) {
	messages := []Message{}

	// system is a top-level field, hoisted into a leading system message
	switch system := body["system"].(type) {
	case string:
		if system != "" {
			messages = append(messages, Message{Role: "system", Content: []Block{TextBlock(system)}})
		}
	case []interface{}:
		texts := []string{}
		for _, item := range system {
			if part, ok := item.(map[string]interface{}); ok && cast.ToString(part["type"]) == "text" {
				texts = append(texts, cast.ToString(part["text"]))
			}
		}
		if len(texts) > 0 {
			messages = append(messages, Message{Role: "system", Content: []Block{TextBlock(strings.Join(texts, "\n"))}})
		}
	}

	for _, item := range listValue(body, "messages") {
		msg, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		role := cast.ToString(msg["role"])
		if role == "" {
			role = "user"
		}

		blocks := []Block{}
		results := []Block{}
		switch content := msg["content"].(type) {
		case string:
			if content != "" {
				blocks = append(blocks, TextBlock(content))
			}
		case []interface{}:
			for _, c := range content {
				part, ok := c.(map[string]interface{})
				if !ok {
					continue
				}
				switch cast.ToString(part["type"]) {
				case "text":
					blocks = append(blocks, TextBlock(cast.ToString(part["text"])))
				case "image":
					source := mapValue(part, "source")
					if url := cast.ToString(source["url"]); url != "" {
						blocks = append(blocks, ImageBlock(url, ""))
					}
				case "tool_use":
					blocks = append(blocks, ToolCallBlock(
						cast.ToString(part["id"]),
						cast.ToString(part["name"]),
						parseArgs(part["input"]),
					))
				case "tool_result":
					results = append(results, ToolResultBlock(
						cast.ToString(part["tool_use_id"]),
						cast.ToString(part["name"]),
						part["content"],
					))
				}
			}
		}

		// tool results become canonical tool-role messages
		if len(blocks) > 0 || len(results) == 0 {
			messages = append(messages, Message{Role: role, Content: ensureBlocks(blocks)})
		}
		if len(results) > 0 {
			messages = append(messages, Message{Role: "tool", Content: results})
		}
	}

	tools := []ToolDef{}
	for _, item := range listValue(body, "tools") {
		tool, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		tools = append(tools, ToolDef{
			Name:        cast.ToString(tool["name"]),
			Description: cast.ToString(tool["description"]),
			InputSchema: mapValue(tool, "input_schema"),
		})
	}

	return &Request{
		Messages:   messages,
		Model:      cast.ToString(body["model"]),
		Stream:     cast.ToBool(body["stream"]),
		Tools:      tools,
		ToolChoice: body["tool_choice"],
		Extra:      copyExtra(body, "messages", "model", "stream", "system", "tools", "tool_choice"),
	}, nil
}

func (codec *claudeCodec) Encode(req *Request) (map[string]interface{}, error) {
	systemTexts := []string{}
	messages := []interface{}{}

	for _, msg := range req.Messages {
		if msg.Role == "system" {
			if text := JoinText(msg.Content); text != "" {
				systemTexts = append(systemTexts, text)
			}
			continue
		}

		if msg.Role == "tool" {
			// tool results ride in a user message
			content := []interface{}{}
			for _, result := range ToolResults(msg.Content) {
				content = append(content, map[string]interface{}{
					"type":        "tool_result",
					"tool_use_id": result.CallID,
					"content":     toolOutputString(result.Output),
				})
			}
			if len(content) > 0 {
				messages = append(messages, map[string]interface{}{"role": "user", "content": content})
			}
			continue
		}

		content := []interface{}{}
		for _, block := range msg.Content {
			switch block.Type {
			case BlockText:
				if block.Text != "" {
					content = append(content, map[string]interface{}{"type": "text", "text": block.Text})
				}
			case BlockImage:
				if block.Image != nil {
					content = append(content, map[string]interface{}{
						"type":   "image",
						"source": map[string]interface{}{"type": "url", "url": block.Image.URL},
					})
				}
			case BlockToolCall:
				if block.ToolCall != nil {
					content = append(content, map[string]interface{}{
						"type":  "tool_use",
						"id":    block.ToolCall.ID,
						"name":  block.ToolCall.Name,
						"input": block.ToolCall.Arguments,
					})
				}
			case BlockToolResult:
				if block.ToolResult != nil {
					content = append(content, map[string]interface{}{
						"type":        "tool_result",
						"tool_use_id": block.ToolResult.CallID,
						"content":     toolOutputString(block.ToolResult.Output),
					})
				}
			}
		}
		if len(content) == 0 {
			content = append(content, map[string]interface{}{"type": "text", "text": ""})
		}
		messages = append(messages, map[string]interface{}{"role": msg.Role, "content": content})
	}

	body := map[string]interface{}{
		"model":    req.Model,
		"messages": messages,
	}
	if req.Stream {
		body["stream"] = true
	}
	if len(systemTexts) > 0 {
		body["system"] = strings.Join(systemTexts, "\n")
	}

	if len(req.Tools) > 0 {
		tools := []interface{}{}
		for _, tool := range req.Tools {
			tools = append(tools, map[string]interface{}{
				"name":         tool.Name,
				"description":  tool.Description,
				"input_schema": tool.InputSchema,
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

	// the Messages API requires max_tokens
	if _, has := body["max_tokens"]; !has {
		body["max_tokens"] = 4096
	}
	return body, nil
}

func (codec *claudeCodec) DecodeResponse(body map[string]interface{}) (*Response, error) {
	blocks := []Block{}
	for _, item := range listValue(body, "content") {
		part, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		switch cast.ToString(part["type"]) {
		case "text":
			blocks = append(blocks, TextBlock(cast.ToString(part["text"])))
		case "tool_use":
			blocks = append(blocks, ToolCallBlock(
				cast.ToString(part["id"]),
				cast.ToString(part["name"]),
				parseArgs(part["input"]),
			))
		}
	}

	finish := ""
	switch cast.ToString(body["stop_reason"]) {
	case "end_turn", "stop_sequence", "tool_use":
		finish = "stop"
	case "max_tokens":
		finish = "length"
	}

	var usage map[string]interface{}
	if raw := mapValue(body, "usage"); raw != nil {
		input := cast.ToInt(raw["input_tokens"])
		output := cast.ToInt(raw["output_tokens"])
		usage = map[string]interface{}{
			"prompt_tokens":     input,
			"completion_tokens": output,
			"total_tokens":      input + output,
			"claude_usage":      raw,
		}
	}

	return &Response{
		ID:           cast.ToString(body["id"]),
		Model:        cast.ToString(body["model"]),
		Messages:     []Message{{Role: "assistant", Content: ensureBlocks(blocks)}},
		FinishReason: finish,
		Usage:        usage,
		Extra:        copyExtra(body, "id", "model", "content", "role", "type", "stop_reason", "usage"),
	}, nil
}

func (codec *claudeCodec) EncodeResponse(res *Response) (map[string]interface{}, error) {
	last := res.LastMessage()

	content := []interface{}{}
	for _, block := range last.Content {
		switch block.Type {
		case BlockText:
			if block.Text != "" {
				content = append(content, map[string]interface{}{"type": "text", "text": block.Text})
			}
		case BlockToolCall:
			if block.ToolCall != nil {
				content = append(content, map[string]interface{}{
					"type":  "tool_use",
					"id":    block.ToolCall.ID,
					"name":  block.ToolCall.Name,
					"input": block.ToolCall.Arguments,
				})
			}
		}
	}
	if len(content) == 0 {
		content = append(content, map[string]interface{}{"type": "text", "text": ""})
	}

	stopReason := "end_turn"
	switch res.FinishReason {
	case "length":
		stopReason = "max_tokens"
	case "stop", "":
		stopReason = "end_turn"
	}
	if len(ToolCalls(last.Content)) > 0 && res.FinishReason != "length" {
		stopReason = "tool_use"
	}

	var usage map[string]interface{}
	if res.Usage != nil {
		if raw, ok := res.Usage["claude_usage"].(map[string]interface{}); ok {
			usage = raw
		} else {
			usage = map[string]interface{}{
				"input_tokens":  cast.ToInt(res.Usage["prompt_tokens"]),
				"output_tokens": cast.ToInt(res.Usage["completion_tokens"]),
			}
		}
	}

	body := map[string]interface{}{
		"id":          ensureID(res.ID, "msg_"),
		"type":        "message",
		"role":        "assistant",
		"model":       res.Model,
		"content":     content,
		"stop_reason": stopReason,
	}
	if usage != nil {
		body["usage"] = usage
	}
	for key, value := range res.Extra {
		body[key] = value
	}
	return body, nil
}
