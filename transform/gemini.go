package transform

import (
	"net/http"
	"strings"

	"github.com/spf13/cast"
)

// geminiCodec the Google Gemini generateContent dialect
type geminiCodec struct{}

func (codec *geminiCodec) Name() string { return GeminiChat }

// CanParse leans on the URL first, the body shape second. The path check
// covers both the Google host and the :generateContent verbs.
func (codec *geminiCodec) CanParse(path string, header http.Header, body map[string]interface{}) bool {
	if strings.Contains(path, "generativelanguage.googleapis.com") {
		return true
	}
	if strings.Contains(path, "generateContent") || strings.Contains(path, "streamGenerateContent") {
		return true
	}
	if strings.Contains(path, "aistudio.google.com") || strings.Contains(path, "/v1beta/models/") {
		return true
	}

	contents := listValue(body, "contents")
	if len(contents) == 0 {
		return false
	}
	first, ok := contents[0].(map[string]interface{})
	if !ok {
		return false
	}
	parts, ok := first["parts"].([]interface{})
	if !ok || parts == nil {
		return false
	}

	role := cast.ToString(first["role"])
	if role == "model" {
		return true
	}
	if role == "user" {
		_, hasGen := body["generationConfig"]
		_, hasSafety := body["safetySettings"]
		return hasGen || hasSafety
	}
	return false
}

func (codec *geminiCodec) Decode(body map[string]interface{}, path string) (*Request, error) {
	messages := []Message{}

	if instruction := mapValue(body, "systemInstruction"); instruction != nil {
		texts := []string{}
		for _, item := range listValue(instruction, "parts") {
			if part, ok := item.(map[string]interface{}); ok {
				if text := cast.ToString(part["text"]); text != "" {
					texts = append(texts, text)
				}
			}
		}
		if len(texts) > 0 {
			messages = append(messages, Message{Role: "system", Content: []Block{TextBlock(strings.Join(texts, "\n"))}})
		}
	}

	for _, item := range listValue(body, "contents") {
		content, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		role := cast.ToString(content["role"])
		if role == "" {
			role = "user"
		}
		if role == "model" {
			role = "assistant"
		}

		blocks := []Block{}
		for _, p := range listValue(content, "parts") {
			part, ok := p.(map[string]interface{})
			if !ok {
				continue
			}
			if text, has := part["text"]; has {
				blocks = append(blocks, TextBlock(cast.ToString(text)))
				continue
			}
			if call := mapValue(part, "functionCall"); call != nil {
				blocks = append(blocks, ToolCallBlock(
					cast.ToString(call["id"]),
					cast.ToString(call["name"]),
					parseArgs(call["args"]),
				))
				continue
			}
			if response := mapValue(part, "functionResponse"); response != nil {
				blocks = append(blocks, ToolResultBlock(
					cast.ToString(response["id"]),
					cast.ToString(response["name"]),
					response["response"],
				))
			}
		}
		messages = append(messages, Message{Role: role, Content: ensureBlocks(blocks)})
	}

	tools := []ToolDef{}
	for _, item := range listValue(body, "tools") {
		decl, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		for _, f := range listValue(decl, "functionDeclarations") {
			fn, ok := f.(map[string]interface{})
			if !ok {
				continue
			}
			tools = append(tools, ToolDef{
				Name:        cast.ToString(fn["name"]),
				Description: cast.ToString(fn["description"]),
				InputSchema: mapValue(fn, "parameters"),
			})
		}
	}

	model := cast.ToString(body["model"])
	if model == "" {
		model = modelFromPath(path)
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}

	extra := copyExtra(body, "contents", "model", "tools", "toolConfig", "generationConfig", "safetySettings", "systemInstruction")
	if gen := mapValue(body, "generationConfig"); gen != nil {
		extra["generationConfig"] = gen
	}
	if safety := listValue(body, "safetySettings"); safety != nil {
		extra["safetySettings"] = safety
	}

	return &Request{
		Messages:   messages,
		Model:      model,
		Stream:     strings.Contains(path, "streamGenerateContent"),
		Tools:      tools,
		ToolChoice: body["toolConfig"],
		Extra:      extra,
	}, nil
}

func (codec *geminiCodec) Encode(req *Request) (map[string]interface{}, error) {
	contents := []interface{}{}
	systemTexts := []string{}

	for _, msg := range req.Messages {
		if msg.Role == "system" {
			systemTexts = append(systemTexts, TextBlocks(msg.Content)...)
			continue
		}

		role := msg.Role
		if role == "assistant" {
			role = "model"
		}
		if role == "tool" {
			// function responses ride on the user turn
			role = "user"
		}

		parts := []interface{}{}
		for _, block := range msg.Content {
			switch block.Type {
			case BlockText:
				if block.Text != "" {
					parts = append(parts, map[string]interface{}{"text": block.Text})
				}
			case BlockToolCall:
				if block.ToolCall != nil {
					parts = append(parts, map[string]interface{}{
						"functionCall": map[string]interface{}{
							"id":   block.ToolCall.ID,
							"name": block.ToolCall.Name,
							"args": block.ToolCall.Arguments,
						},
					})
				}
			case BlockToolResult:
				if block.ToolResult != nil {
					parts = append(parts, map[string]interface{}{
						"functionResponse": map[string]interface{}{
							"id":       block.ToolResult.CallID,
							"name":     block.ToolResult.Name,
							"response": toolOutputValue(block.ToolResult.Output),
						},
					})
				}
			}
		}
		if len(parts) > 0 {
			contents = append(contents, map[string]interface{}{"role": role, "parts": parts})
		}
	}

	body := map[string]interface{}{"contents": contents}

	if len(systemTexts) > 0 {
		body["systemInstruction"] = map[string]interface{}{
			"parts": []interface{}{map[string]interface{}{"text": strings.Join(systemTexts, "\n")}},
		}
	}

	if len(req.Tools) > 0 {
		declarations := []interface{}{}
		for _, tool := range req.Tools {
			declarations = append(declarations, map[string]interface{}{
				"name":        tool.Name,
				"description": tool.Description,
				"parameters":  tool.InputSchema,
			})
		}
		body["tools"] = []interface{}{map[string]interface{}{"functionDeclarations": declarations}}
	}
	if req.ToolChoice != nil {
		body["toolConfig"] = req.ToolChoice
	}

	for key, value := range req.Extra {
		body[key] = value
	}
	return body, nil
}

func (codec *geminiCodec) DecodeResponse(body map[string]interface{}) (*Response, error) {
	candidates := listValue(body, "candidates")
	if len(candidates) == 0 {
		return &Response{
			ID:           cast.ToString(body["id"]),
			Model:        cast.ToString(body["modelVersion"]),
			Messages:     []Message{{Role: "assistant", Content: []Block{TextBlock("")}}},
			FinishReason: "error",
			Usage:        mapValue(body, "usageMetadata"),
			Extra:        map[string]interface{}{},
		}, nil
	}

	candidate, _ := candidates[0].(map[string]interface{})
	content := mapValue(candidate, "content")

	blocks := []Block{}
	for _, p := range listValue(content, "parts") {
		part, ok := p.(map[string]interface{})
		if !ok {
			continue
		}
		if text, has := part["text"]; has {
			blocks = append(blocks, TextBlock(cast.ToString(text)))
			continue
		}
		if call := mapValue(part, "functionCall"); call != nil {
			blocks = append(blocks, ToolCallBlock(
				cast.ToString(call["id"]),
				cast.ToString(call["name"]),
				parseArgs(call["args"]),
			))
		}
	}

	finish := strings.ToLower(cast.ToString(candidate["finishReason"]))
	if finish == "max_tokens" {
		finish = "length"
	}

	return &Response{
		ID:           cast.ToString(body["id"]),
		Model:        cast.ToString(body["modelVersion"]),
		Messages:     []Message{{Role: "assistant", Content: ensureBlocks(blocks)}},
		FinishReason: finish,
		Usage:        mapValue(body, "usageMetadata"),
		Extra:        copyExtra(body, "candidates", "modelVersion", "usageMetadata"),
	}, nil
}

func (codec *geminiCodec) EncodeResponse(res *Response) (map[string]interface{}, error) {
	last := res.LastMessage()

	parts := []interface{}{}
	for _, block := range last.Content {
		switch block.Type {
		case BlockText:
			if block.Text != "" {
				parts = append(parts, map[string]interface{}{"text": block.Text})
			}
		case BlockToolCall:
			if block.ToolCall != nil {
				parts = append(parts, map[string]interface{}{
					"functionCall": map[string]interface{}{
						"id":   block.ToolCall.ID,
						"name": block.ToolCall.Name,
						"args": block.ToolCall.Arguments,
					},
				})
			}
		}
	}
	if len(parts) == 0 {
		parts = append(parts, map[string]interface{}{"text": ""})
	}

	finish := "STOP"
	switch res.FinishReason {
	case "", "stop":
		finish = "STOP"
	case "length":
		finish = "MAX_TOKENS"
	default:
		finish = strings.ToUpper(res.FinishReason)
	}

	body := map[string]interface{}{
		"candidates": []interface{}{
			map[string]interface{}{
				"content":      map[string]interface{}{"parts": parts, "role": "model"},
				"finishReason": finish,
			},
		},
		"modelVersion": res.Model,
	}
	if res.Usage != nil {
		body["usageMetadata"] = res.Usage
	}
	for key, value := range res.Extra {
		body[key] = value
	}
	return body, nil
}

// modelFromPath pulls the model out of /v1beta/models/<model>:generateContent
func modelFromPath(path string) string {
	idx := strings.Index(path, "/models/")
	if idx < 0 {
		return ""
	}
	rest := path[idx+len("/models/"):]
	if end := strings.IndexAny(rest, ":?/"); end >= 0 {
		rest = rest[:end]
	}
	return rest
}

// toolOutputValue keeps structured outputs, wraps scalars for Gemini
func toolOutputValue(output interface{}) interface{} {
	switch v := output.(type) {
	case map[string]interface{}:
		return v
	case nil:
		return map[string]interface{}{}
	default:
		return map[string]interface{}{"result": v}
	}
}
