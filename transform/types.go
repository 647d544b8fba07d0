package transform

// Dialect names
const (
	OpenAIChat      = "openai_chat"
	OpenAIResponses = "openai_responses"
	ClaudeChat      = "claude_chat"
	GeminiChat      = "gemini_chat"
)

// Block types
const (
	BlockText       = "text"
	BlockImage      = "image_url"
	BlockToolCall   = "tool_call"
	BlockToolResult = "tool_result"
)

// Request the canonical chat request shared by all dialects
type Request struct {
	Messages   []Message              `json:"messages"`
	Model      string                 `json:"model"`
	Stream     bool                   `json:"stream"`
	Tools      []ToolDef              `json:"tools,omitempty"`
	ToolChoice interface{}            `json:"tool_choice,omitempty"`
	Extra      map[string]interface{} `json:"extra,omitempty"`
}

// Response the canonical chat response
type Response struct {
	ID           string                 `json:"id"`
	Model        string                 `json:"model"`
	Messages     []Message              `json:"messages"`
	FinishReason string                 `json:"finish_reason,omitempty"` // stop | length | error | ""
	Usage        map[string]interface{} `json:"usage,omitempty"`
	Extra        map[string]interface{} `json:"extra,omitempty"`
}

// Message one turn of the conversation
type Message struct {
	Role    string  `json:"role"` // system | user | assistant | tool
	Content []Block `json:"content"`
}

// Block a tagged content variant. Type selects which member is set.
type Block struct {
	Type       string      `json:"type"`
	Text       string      `json:"text,omitempty"`
	Image      *Image      `json:"image_url,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// Image an image reference
type Image struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// ToolCall a model-emitted function invocation
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolResult the outcome of a tool call fed back to the model
type ToolResult struct {
	CallID string      `json:"call_id"`
	Name   string      `json:"name,omitempty"`
	Output interface{} `json:"output"`
}

// ToolDef a callable tool exposed to the model
type ToolDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
}

// TextBlock make a text block
func TextBlock(text string) Block {
	return Block{Type: BlockText, Text: text}
}

// ImageBlock make an image block
func ImageBlock(url string, detail string) Block {
	return Block{Type: BlockImage, Image: &Image{URL: url, Detail: detail}}
}

// ToolCallBlock make a tool-call block
func ToolCallBlock(id string, name string, args map[string]interface{}) Block {
	if args == nil {
		args = map[string]interface{}{}
	}
	return Block{Type: BlockToolCall, ToolCall: &ToolCall{ID: id, Name: name, Arguments: args}}
}

// ToolResultBlock make a tool-result block
func ToolResultBlock(callID string, name string, output interface{}) Block {
	return Block{Type: BlockToolResult, ToolResult: &ToolResult{CallID: callID, Name: name, Output: output}}
}

// JoinText joins non-empty text blocks with newlines
func JoinText(blocks []Block) string {
	text := ""
	for _, block := range blocks {
		if block.Type != BlockText || block.Text == "" {
			continue
		}
		if text != "" {
			text += "\n"
		}
		text += block.Text
	}
	return text
}

// TextBlocks returns the non-empty text contents in order
func TextBlocks(blocks []Block) []string {
	texts := []string{}
	for _, block := range blocks {
		if block.Type == BlockText && block.Text != "" {
			texts = append(texts, block.Text)
		}
	}
	return texts
}

// ToolCalls returns the tool-call members in order
func ToolCalls(blocks []Block) []*ToolCall {
	calls := []*ToolCall{}
	for _, block := range blocks {
		if block.Type == BlockToolCall && block.ToolCall != nil {
			calls = append(calls, block.ToolCall)
		}
	}
	return calls
}

// ToolResults returns the tool-result members in order
func ToolResults(blocks []Block) []*ToolResult {
	results := []*ToolResult{}
	for _, block := range blocks {
		if block.Type == BlockToolResult && block.ToolResult != nil {
			results = append(results, block.ToolResult)
		}
	}
	return results
}

// LastMessage returns the last message or an empty assistant message
func (res *Response) LastMessage() Message {
	if len(res.Messages) == 0 {
		return Message{Role: "assistant", Content: []Block{TextBlock("")}}
	}
	return res.Messages[len(res.Messages)-1]
}
