package transform

import (
	"net/http"
	"strings"

	"github.com/spf13/cast"
)

// responsesCodec the OpenAI Responses dialect
type responsesCodec struct{}

func (codec *responsesCodec) Name() string { return OpenAIResponses }

func (codec *responsesCodec) CanParse(path string, header http.Header, body map[string]interface{}) bool {
	if strings.Contains(path, "/responses") {
		return true
	}

	_, hasInput := body["input"]
	_, hasModel := body["model"]
	if hasInput && hasModel {
		return true
	}

	if cast.ToString(body["object"]) == "response" {
		if _, hasOutput := body["output"]; hasOutput {
			return true
		}
	}
	return false
}

func (codec *responsesCodec) Decode(body map[string]interface{}, path string) (*Request, error) {
	messages := []Message{}

	if instructions := strings.TrimSpace(cast.ToString(body["instructions"])); instructions != "" {
		messages = append(messages, Message{Role: "system", Content: []Block{TextBlock(instructions)}})
	}

	messages = append(messages, parseResponsesInput(body["input"])...)

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

	return &Request{
		Messages:   messages,
		Model:      cast.ToString(body["model"]),
		Stream:     cast.ToBool(body["stream"]),
		Tools:      tools,
		ToolChoice: body["tool_choice"],
		Extra:      copyExtra(body, "model", "instructions", "input", "tools", "tool_choice", "stream"),
	}, nil
}

func (codec *responsesCodec) Encode(req *Request) (map[string]interface{}, error) {
	systemTexts := []string{}
	normal := []Message{}
	for _, msg := range req.Messages {
		if msg.Role == "system" {
			if text := JoinText(msg.Content); text != "" {
				systemTexts = append(systemTexts, strings.TrimSpace(text))
			}
			continue
		}
		normal = append(normal, msg)
	}

	body := map[string]interface{}{}
	for key, value := range req.Extra {
		body[key] = value
	}
	body["model"] = req.Model
	body["stream"] = req.Stream

	if instructions := strings.Join(systemTexts, "\n\n"); instructions != "" {
		body["instructions"] = instructions
	}

	if len(normal) > 0 {
		input := []interface{}{}
		for _, msg := range normal {
			input = append(input, messageToInputItems(msg)...)
		}
		body["input"] = input
	} else {
		body["input"] = ""
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
	return body, nil
}

func (codec *responsesCodec) DecodeResponse(body map[string]interface{}) (*Response, error) {
	messages := []Message{}
	for _, item := range listValue(body, "output") {
		output, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		messages = append(messages, outputItemToMessages(output)...)
	}
	if len(messages) == 0 {
		messages = append(messages, Message{Role: "assistant", Content: []Block{TextBlock("")}})
	}

	var usage map[string]interface{}
	if raw := mapValue(body, "usage"); raw != nil {
		usage = map[string]interface{}{
			"prompt_tokens":     cast.ToInt(raw["input_tokens"]),
			"completion_tokens": cast.ToInt(raw["output_tokens"]),
			"total_tokens":      cast.ToInt(raw["total_tokens"]),
			"responses_usage":   raw,
		}
	}

	finish := ""
	switch strings.ToLower(cast.ToString(body["status"])) {
	case "completed":
		finish = "stop"
	case "incomplete":
		finish = "length"
	case "failed":
		finish = "error"
	}

	return &Response{
		ID:           cast.ToString(body["id"]),
		Model:        cast.ToString(body["model"]),
		Messages:     messages,
		FinishReason: finish,
		Usage:        usage,
		Extra:        copyExtra(body, "id", "object", "output", "model", "created_at", "status", "usage"),
	}, nil
}

func (codec *responsesCodec) EncodeResponse(res *Response) (map[string]interface{}, error) {
	output := []interface{}{}
	for _, msg := range res.Messages {
		output = append(output, messageToOutputItems(msg)...)
	}

	var usage map[string]interface{}
	if res.Usage != nil {
		if raw, ok := res.Usage["responses_usage"].(map[string]interface{}); ok {
			usage = raw
		} else {
			usage = map[string]interface{}{
				"input_tokens":  cast.ToInt(res.Usage["prompt_tokens"]),
				"output_tokens": cast.ToInt(res.Usage["completion_tokens"]),
				"total_tokens":  cast.ToInt(res.Usage["total_tokens"]),
			}
		}
	}

	var status interface{}
	switch res.FinishReason {
	case "stop":
		status = "completed"
	case "length":
		status = "incomplete"
	case "error":
		status = "failed"
	}

	body := map[string]interface{}{
		"object":     "response",
		"id":         ensureID(res.ID, "resp_"),
		"model":      res.Model,
		"created_at": res.Extra["created_at"],
		"output":     output,
		"status":     status,
	}
	if usage != nil {
		body["usage"] = usage
	}
	for key, value := range res.Extra {
		if key != "created_at" {
			body[key] = value
		}
	}
	return body, nil
}

func parseResponsesInput(input interface{}) []Message {
	messages := []Message{}
	switch v := input.(type) {
	case nil:
		return messages
	case string:
		return append(messages, Message{Role: "user", Content: []Block{TextBlock(v)}})
	case map[string]interface{}:
		return append(messages, inputItemToMessages(v)...)
	case []interface{}:
		for _, item := range v {
			entry, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			messages = append(messages, inputItemToMessages(entry)...)
		}
	}
	return messages
}

func inputItemToMessages(item map[string]interface{}) []Message {
	itemType := cast.ToString(item["type"])
	role := cast.ToString(item["role"])
	if role == "" {
		role = "user"
	}

	switch itemType {
	case "", "message", "input_text", "output_text":
		blocks := responsesContentToBlocks(item["content"], item["text"])
		return []Message{{Role: role, Content: ensureBlocks(blocks)}}

	case "function_call", "tool_call":
		id := cast.ToString(item["call_id"])
		if id == "" {
			id = cast.ToString(item["id"])
		}
		return []Message{{
			Role:    "assistant",
			Content: []Block{ToolCallBlock(id, cast.ToString(item["name"]), parseArgs(item["arguments"]))},
		}}

	case "function_call_output", "tool_result":
		blocks := responsesContentToBlocks(item["output"], item["text"])
		return []Message{{
			Role:    "tool",
			Content: []Block{ToolResultBlock(cast.ToString(item["call_id"]), cast.ToString(item["name"]), JoinText(blocks))},
		}}

	case "reasoning":
		texts := []string{}
		for _, s := range listValue(item, "summary") {
			if summary, ok := s.(map[string]interface{}); ok {
				texts = append(texts, cast.ToString(summary["text"]))
			}
		}
		return []Message{{Role: "assistant", Content: []Block{TextBlock(strings.Join(texts, "\n"))}}}
	}
	return nil
}

func outputItemToMessages(item map[string]interface{}) []Message {
	itemType := cast.ToString(item["type"])
	role := cast.ToString(item["role"])
	if role == "" {
		role = "assistant"
	}

	switch itemType {
	case "", "message", "output_text", "input_text":
		blocks := responsesContentToBlocks(item["content"], item["text"])
		return []Message{{Role: role, Content: ensureBlocks(blocks)}}

	case "reasoning":
		texts := []string{}
		for _, s := range listValue(item, "summary") {
			if summary, ok := s.(map[string]interface{}); ok {
				texts = append(texts, cast.ToString(summary["text"]))
			}
		}
		return []Message{{Role: "assistant", Content: []Block{TextBlock(strings.Join(texts, "\n"))}}}

	case "function_call", "tool_call":
		id := cast.ToString(item["call_id"])
		if id == "" {
			id = cast.ToString(item["id"])
		}
		return []Message{{
			Role:    "assistant",
			Content: []Block{ToolCallBlock(id, cast.ToString(item["name"]), parseArgs(item["arguments"]))},
		}}

	case "function_call_output", "tool_result":
		return []Message{{
			Role:    "tool",
			Content: []Block{ToolResultBlock(cast.ToString(item["call_id"]), cast.ToString(item["name"]), item["output"])},
		}}
	}
	return nil
}

// responsesContentToBlocks flattens Responses content shapes (string, item
// list, or a {items: [...]} wrapper) into blocks
func responsesContentToBlocks(content interface{}, fallback interface{}) []Block {
	blocks := []Block{}

	var items []interface{}
	switch v := content.(type) {
	case nil:
		if fallback != nil {
			return []Block{TextBlock(cast.ToString(fallback))}
		}
		return blocks
	case string:
		return []Block{TextBlock(v)}
	case []interface{}:
		items = v
	case map[string]interface{}:
		if inner, ok := v["items"].([]interface{}); ok {
			items = inner
		} else {
			items = []interface{}{v}
		}
	}

	for _, item := range items {
		part, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		switch strings.ToLower(cast.ToString(part["type"])) {
		case "input_text", "output_text", "text":
			if text, has := part["text"]; has {
				blocks = append(blocks, TextBlock(cast.ToString(text)))
			}
		case "image_url", "input_image":
			url := cast.ToString(part["image_url"])
			if url == "" {
				url = cast.ToString(part["url"])
			}
			if url == "" {
				if image := mapValue(part, "image"); image != nil {
					url = cast.ToString(image["url"])
				}
			}
			if url != "" {
				blocks = append(blocks, ImageBlock(url, cast.ToString(part["detail"])))
			}
		}
	}

	if len(blocks) == 0 && fallback != nil {
		blocks = append(blocks, TextBlock(cast.ToString(fallback)))
	}
	return blocks
}

func messageToInputItems(msg Message) []interface{} {
	textType := "input_text"
	if msg.Role == "assistant" {
		textType = "output_text"
	}
	return messageItems(msg, textType)
}

func messageToOutputItems(msg Message) []interface{} {
	return messageItems(msg, "output_text")
}

// messageItems renders one message as items: plain content becomes one
// message item, every tool block becomes a dedicated item alongside it
func messageItems(msg Message, textType string) []interface{} {
	items := []interface{}{}

	contentItems := []interface{}{}
	for _, block := range msg.Content {
		switch block.Type {
		case BlockText:
			contentItems = append(contentItems, map[string]interface{}{"type": textType, "text": block.Text})
		case BlockImage:
			if block.Image != nil {
				contentItems = append(contentItems, map[string]interface{}{
					"type":      "input_image",
					"image_url": block.Image.URL,
					"detail":    block.Image.Detail,
				})
			}
		}
	}
	if len(contentItems) > 0 {
		items = append(items, map[string]interface{}{
			"type":    "message",
			"role":    msg.Role,
			"content": map[string]interface{}{"items": contentItems},
		})
	}

	for _, block := range msg.Content {
		switch block.Type {
		case BlockToolCall:
			if block.ToolCall != nil {
				items = append(items, map[string]interface{}{
					"type":      "function_call",
					"call_id":   block.ToolCall.ID,
					"name":      block.ToolCall.Name,
					"arguments": dumpArgs(block.ToolCall.Arguments),
				})
			}
		case BlockToolResult:
			if block.ToolResult != nil {
				items = append(items, map[string]interface{}{
					"type":    "function_call_output",
					"call_id": block.ToolResult.CallID,
					"name":    block.ToolResult.Name,
					"output":  block.ToolResult.Output,
				})
			}
		}
	}

	if len(items) == 0 {
		items = append(items, map[string]interface{}{
			"type":    "message",
			"role":    msg.Role,
			"content": map[string]interface{}{"items": []interface{}{map[string]interface{}{"type": textType, "text": ""}}},
		})
	}
	return items
}
