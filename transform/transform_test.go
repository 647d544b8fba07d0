package transform

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func body(t *testing.T, raw string) map[string]interface{} {
	t.Helper()
	data := map[string]interface{}{}
	require.NoError(t, json.Unmarshal([]byte(raw), &data))
	return data
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		header http.Header
		raw    string
		want   string
	}{
		{
			name: "openai chat by path",
			path: "/v1/chat/completions",
			raw:  `{"model":"gpt-x","messages":[{"role":"user","content":"ping"}]}`,
			want: OpenAIChat,
		},
		{
			name: "openai chat by body",
			path: "/v1/anything",
			raw:  `{"model":"gpt-x","messages":[{"role":"user","content":"ping"}]}`,
			want: OpenAIChat,
		},
		{
			name: "responses by input and model",
			path: "/v1/other",
			raw:  `{"model":"gpt-x","input":"hello"}`,
			want: OpenAIResponses,
		},
		{
			name:   "claude by header",
			path:   "/v1/messages",
			header: http.Header{"Anthropic-Version": []string{"2023-06-01"}},
			raw:    `{"model":"claude-3","max_tokens":100,"messages":[{"role":"user","content":"hi"}]}`,
			want:   ClaudeChat,
		},
		{
			name: "claude by content shape",
			path: "/v1/other",
			raw:  `{"model":"claude-3","messages":[{"role":"user","content":[{"type":"text","text":"hi"}]}]}`,
			want: ClaudeChat,
		},
		{
			name: "gemini by verb",
			path: "/v1beta/models/gemini-2.5-flash:generateContent",
			raw:  `{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`,
			want: GeminiChat,
		},
		{
			name: "gemini by model role",
			path: "/v1/other",
			raw:  `{"contents":[{"role":"model","parts":[{"text":"hi"}]}]}`,
			want: GeminiChat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := tt.header
			if header == nil {
				header = http.Header{}
			}
			name, req, _ := Detect("auto", tt.path, header, body(t, tt.raw))
			assert.Equal(t, tt.want, name)
			require.NotNil(t, req)
		})
	}
}

func TestDetectSuspected(t *testing.T) {
	raw := body(t, `{"contents":[{"role":"model","parts":[{"text":"hi"}]}]}`)
	name, req, suspected := Detect([]interface{}{OpenAIChat}, "/v1/other", http.Header{}, raw)
	assert.Equal(t, "", name)
	assert.Nil(t, req)
	assert.Equal(t, GeminiChat, suspected)
}

func TestDetectUnknown(t *testing.T) {
	raw := body(t, `{"prompt":"complete this"}`)
	name, req, suspected := Detect("auto", "/v1/completions", http.Header{}, raw)
	assert.Equal(t, "", name)
	assert.Nil(t, req)
	assert.Equal(t, "", suspected)
}

func TestOpenAIChatDecode(t *testing.T) {
	raw := body(t, `{
		"model": "gpt-x",
		"stream": true,
		"temperature": 0.2,
		"messages": [
			{"role": "system", "content": "be terse"},
			{"role": "user", "content": [{"type":"text","text":"look"},{"type":"image_url","image_url":{"url":"https://x/i.png","detail":"low"}}]},
			{"role": "assistant", "content": null, "tool_calls": [{"id":"c1","type":"function","function":{"name":"f","arguments":"{\"x\":1}"}}]},
			{"role": "tool", "tool_call_id": "c1", "name": "f", "content": "42"}
		]
	}`)

	req, err := Get(OpenAIChat).Decode(raw, "/v1/chat/completions")
	require.NoError(t, err)

	assert.Equal(t, "gpt-x", req.Model)
	assert.True(t, req.Stream)
	assert.Equal(t, 0.2, req.Extra["temperature"])
	require.Len(t, req.Messages, 4)

	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, "be terse", req.Messages[0].Content[0].Text)

	user := req.Messages[1]
	require.Len(t, user.Content, 2)
	assert.Equal(t, BlockText, user.Content[0].Type)
	assert.Equal(t, BlockImage, user.Content[1].Type)
	assert.Equal(t, "https://x/i.png", user.Content[1].Image.URL)

	call := req.Messages[2].Content[0].ToolCall
	require.NotNil(t, call)
	assert.Equal(t, "c1", call.ID)
	assert.Equal(t, "f", call.Name)
	assert.Equal(t, float64(1), call.Arguments["x"])

	result := req.Messages[3].Content[0].ToolResult
	require.NotNil(t, result)
	assert.Equal(t, "c1", result.CallID)
	assert.Equal(t, "42", result.Output)
}

func TestOpenAIChatBrokenArguments(t *testing.T) {
	raw := body(t, `{"messages":[{"role":"assistant","tool_calls":[{"id":"c1","function":{"name":"f","arguments":"{broken"}}]}]}`)
	req, err := Get(OpenAIChat).Decode(raw, "")
	require.NoError(t, err)
	call := req.Messages[0].Content[0].ToolCall
	require.NotNil(t, call)
	assert.Empty(t, call.Arguments)
}

func TestOpenAIToClaude(t *testing.T) {
	raw := body(t, `{"model":"gpt-x","messages":[{"role":"user","content":"ping"}]}`)
	req, err := Get(OpenAIChat).Decode(raw, "/v1/chat/completions")
	require.NoError(t, err)

	encoded, err := Get(ClaudeChat).Encode(req)
	require.NoError(t, err)

	assert.Equal(t, "gpt-x", encoded["model"])
	assert.Equal(t, 4096, encoded["max_tokens"])

	messages := encoded["messages"].([]interface{})
	require.Len(t, messages, 1)
	msg := messages[0].(map[string]interface{})
	assert.Equal(t, "user", msg["role"])
	content := msg["content"].([]interface{})
	require.Len(t, content, 1)
	part := content[0].(map[string]interface{})
	assert.Equal(t, "text", part["type"])
	assert.Equal(t, "ping", part["text"])
}

func TestClaudeRoundTrip(t *testing.T) {
	raw := body(t, `{
		"model": "claude-3",
		"max_tokens": 200,
		"system": "be nice",
		"messages": [
			{"role": "user", "content": "hi"},
			{"role": "assistant", "content": [{"type":"text","text":"checking"},{"type":"tool_use","id":"t1","name":"lookup","input":{"q":"x"}}]},
			{"role": "user", "content": [{"type":"tool_result","tool_use_id":"t1","content":"found"}]}
		]
	}`)

	req, err := Get(ClaudeChat).Decode(raw, "/v1/messages")
	require.NoError(t, err)

	require.Len(t, req.Messages, 4) // system + user + assistant + tool
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, "tool", req.Messages[3].Role)
	assert.Equal(t, "t1", req.Messages[3].Content[0].ToolResult.CallID)
	assert.Equal(t, float64(200), req.Extra["max_tokens"])

	encoded, err := Get(ClaudeChat).Encode(req)
	require.NoError(t, err)
	assert.Equal(t, "be nice", encoded["system"])
	assert.Equal(t, float64(200), encoded["max_tokens"])

	redetected, req2, _ := Detect("auto", "/v1/messages", http.Header{"Anthropic-Version": []string{"1"}}, encoded)
	assert.Equal(t, ClaudeChat, redetected)
	require.NotNil(t, req2)
	assert.Equal(t, len(req.Messages), len(req2.Messages))
}

func TestResponsesDecode(t *testing.T) {
	raw := body(t, `{
		"model": "gpt-x",
		"instructions": "stay focused",
		"stream": false,
		"input": [
			{"type": "message", "role": "user", "content": {"items": [{"type":"input_text","text":"question"}]}},
			{"type": "function_call", "call_id": "c9", "name": "f", "arguments": "{\"a\":true}"},
			{"type": "function_call_output", "call_id": "c9", "output": "ok"},
			{"type": "reasoning", "summary": [{"text":"thought one"},{"text":"thought two"}]}
		]
	}`)

	req, err := Get(OpenAIResponses).Decode(raw, "/v1/responses")
	require.NoError(t, err)

	require.Len(t, req.Messages, 5)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, "stay focused", req.Messages[0].Content[0].Text)
	assert.Equal(t, "question", req.Messages[1].Content[0].Text)

	call := req.Messages[2].Content[0].ToolCall
	require.NotNil(t, call)
	assert.Equal(t, "c9", call.ID)
	assert.Equal(t, true, call.Arguments["a"])

	assert.Equal(t, "tool", req.Messages[3].Role)
	assert.Equal(t, "thought one\nthought two", req.Messages[4].Content[0].Text)
}

func TestResponsesStringInput(t *testing.T) {
	raw := body(t, `{"model":"gpt-x","input":"hello there"}`)
	req, err := Get(OpenAIResponses).Decode(raw, "")
	require.NoError(t, err)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "user", req.Messages[0].Role)
	assert.Equal(t, "hello there", req.Messages[0].Content[0].Text)
}

func TestResponsesEncode(t *testing.T) {
	req := &Request{
		Model: "gpt-x",
		Messages: []Message{
			{Role: "system", Content: []Block{TextBlock("one")}},
			{Role: "system", Content: []Block{TextBlock("two")}},
			{Role: "user", Content: []Block{TextBlock("hi")}},
		},
		Extra: map[string]interface{}{},
	}
	encoded, err := Get(OpenAIResponses).Encode(req)
	require.NoError(t, err)
	assert.Equal(t, "one\n\ntwo", encoded["instructions"])

	input := encoded["input"].([]interface{})
	require.Len(t, input, 1)
	item := input[0].(map[string]interface{})
	assert.Equal(t, "message", item["type"])
}

func TestResponsesEncodeMixedToolMessage(t *testing.T) {
	req := &Request{
		Model: "gpt-x",
		Messages: []Message{
			{Role: "user", Content: []Block{TextBlock("hi")}},
			{Role: "assistant", Content: []Block{
				TextBlock("checking the weather"),
				ToolCallBlock("c1", "get_weather", map[string]interface{}{"city": "Paris"}),
			}},
		},
		Extra: map[string]interface{}{},
	}
	encoded, err := Get(OpenAIResponses).Encode(req)
	require.NoError(t, err)

	// the text and the tool call both survive as separate items
	input := encoded["input"].([]interface{})
	require.Len(t, input, 3)

	message := input[1].(map[string]interface{})
	assert.Equal(t, "message", message["type"])
	items := message["content"].(map[string]interface{})["items"].([]interface{})
	require.Len(t, items, 1)
	assert.Equal(t, "checking the weather", items[0].(map[string]interface{})["text"])

	call := input[2].(map[string]interface{})
	assert.Equal(t, "function_call", call["type"])
	assert.Equal(t, "c1", call["call_id"])
	assert.Equal(t, "get_weather", call["name"])
}

func TestGeminiDecode(t *testing.T) {
	raw := body(t, `{
		"systemInstruction": {"parts": [{"text": "obey"}]},
		"contents": [
			{"role": "user", "parts": [{"text": "hi"}]},
			{"role": "model", "parts": [{"functionCall": {"name": "f", "args": {"x": 1}}}]},
			{"role": "user", "parts": [{"functionResponse": {"name": "f", "response": {"ok": true}}}]}
		],
		"generationConfig": {"temperature": 0.1}
	}`)

	req, err := Get(GeminiChat).Decode(raw, "/v1beta/models/gemini-2.5-pro:streamGenerateContent")
	require.NoError(t, err)

	assert.True(t, req.Stream)
	assert.Equal(t, "gemini-2.5-pro", req.Model)
	require.Len(t, req.Messages, 4)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, "assistant", req.Messages[2].Role)
	require.NotNil(t, req.Messages[2].Content[0].ToolCall)
	assert.Equal(t, float64(1), req.Messages[2].Content[0].ToolCall.Arguments["x"])
	require.NotNil(t, req.Messages[3].Content[0].ToolResult)

	gen := req.Extra["generationConfig"].(map[string]interface{})
	assert.Equal(t, 0.1, gen["temperature"])
}

func TestGeminiEncode(t *testing.T) {
	req := &Request{
		Model: "gemini-2.5-flash",
		Messages: []Message{
			{Role: "system", Content: []Block{TextBlock("obey")}},
			{Role: "user", Content: []Block{TextBlock("hi")}},
			{Role: "assistant", Content: []Block{ToolCallBlock("g1", "f", map[string]interface{}{"x": 1})}},
		},
		Extra: map[string]interface{}{},
	}
	encoded, err := Get(GeminiChat).Encode(req)
	require.NoError(t, err)

	instruction := encoded["systemInstruction"].(map[string]interface{})
	parts := instruction["parts"].([]interface{})
	assert.Equal(t, "obey", parts[0].(map[string]interface{})["text"])

	contents := encoded["contents"].([]interface{})
	require.Len(t, contents, 2)
	model := contents[1].(map[string]interface{})
	assert.Equal(t, "model", model["role"])
}

func TestResponseTranscodeOpenAIToClaude(t *testing.T) {
	raw := body(t, `{
		"id": "resp-1",
		"model": "gpt-x",
		"choices": [{"index":0,"message":{"role":"assistant","content":"done","tool_calls":[{"id":"c1","function":{"name":"f","arguments":"{\"x\":1}"}}]},"finish_reason":"tool_calls"}],
		"usage": {"prompt_tokens": 3, "completion_tokens": 5, "total_tokens": 8}
	}`)

	internal, err := Get(OpenAIChat).DecodeResponse(raw)
	require.NoError(t, err)

	encoded, err := Get(ClaudeChat).EncodeResponse(internal)
	require.NoError(t, err)

	assert.Equal(t, "tool_use", encoded["stop_reason"])
	content := encoded["content"].([]interface{})
	require.Len(t, content, 2)
	use := content[1].(map[string]interface{})
	assert.Equal(t, "tool_use", use["type"])
	assert.Equal(t, "c1", use["id"])

	usage := encoded["usage"].(map[string]interface{})
	assert.Equal(t, 3, usage["input_tokens"])
	assert.Equal(t, 5, usage["output_tokens"])
}

func TestClaudeResponseToOpenAI(t *testing.T) {
	raw := body(t, `{
		"id": "msg-1",
		"model": "claude-3",
		"content": [{"type":"text","text":"hello"}],
		"stop_reason": "max_tokens",
		"usage": {"input_tokens": 2, "output_tokens": 9}
	}`)

	internal, err := Get(ClaudeChat).DecodeResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, "length", internal.FinishReason)

	encoded, err := Get(OpenAIChat).EncodeResponse(internal)
	require.NoError(t, err)
	choices := encoded["choices"].([]interface{})
	choice := choices[0].(map[string]interface{})
	assert.Equal(t, "length", choice["finish_reason"])
	message := choice["message"].(map[string]interface{})
	assert.Equal(t, "hello", message["content"])
}

func TestExtractText(t *testing.T) {
	req := &Request{
		Messages: []Message{
			{Role: "system", Content: []Block{TextBlock("ignored")}},
			{Role: "user", Content: []Block{TextBlock("first")}},
			{Role: "assistant", Content: []Block{
				TextBlock("second"),
				ToolCallBlock("c1", "f", map[string]interface{}{"secret": "skip"}),
			}},
			{Role: "tool", Content: []Block{ToolResultBlock("c1", "f", "skip too")}},
		},
	}
	assert.Equal(t, "first\nsecond", ExtractText(req))
}

func TestExtractTextFromBody(t *testing.T) {
	raw := body(t, `{"messages":[{"role":"user","content":"check me"}]}`)
	assert.Equal(t, "check me", ExtractTextFromBody(raw, ""))
}

func TestIdempotentDetection(t *testing.T) {
	raw := body(t, `{"model":"gpt-x","messages":[{"role":"user","content":"ping"}]}`)
	req, err := Get(OpenAIChat).Decode(raw, "/v1/chat/completions")
	require.NoError(t, err)

	paths := map[string]string{
		ClaudeChat:      "",
		GeminiChat:      "/v1beta/models/gemini-2.5-flash:generateContent",
		OpenAIResponses: "",
	}
	for _, target := range []string{ClaudeChat, GeminiChat, OpenAIResponses} {
		t.Run(target, func(t *testing.T) {
			encoded, err := Get(target).Encode(req)
			require.NoError(t, err)
			name, decoded, _ := Detect([]interface{}{target}, paths[target], http.Header{}, encoded)
			assert.Equal(t, target, name)
			require.NotNil(t, decoded)
			assert.Equal(t, "ping", ExtractText(decoded))
		})
	}
}
