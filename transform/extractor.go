package transform

import "strings"

// ExtractText projects the user- and assistant-visible text of a request
// into one string for moderation. Tool arguments and tool outputs are
// deliberately excluded.
func ExtractText(req *Request) string {
	texts := []string{}
	for _, msg := range req.Messages {
		if msg.Role != "user" && msg.Role != "assistant" {
			continue
		}
		for _, block := range msg.Content {
			if block.Type == BlockText && block.Text != "" {
				texts = append(texts, block.Text)
			}
		}
	}
	return strings.Join(texts, "\n")
}

// ExtractTextFromBody is the raw-body fallback used when the dialect bridge
// is disabled. The body is read as the given dialect, openai_chat when the
// caller has no better guess.
func ExtractTextFromBody(body map[string]interface{}, dialect string) string {
	if dialect == "" {
		dialect = OpenAIChat
	}
	codec := Get(dialect)
	if codec == nil {
		return ""
	}
	req, err := codec.Decode(body, "")
	if err != nil {
		return ""
	}
	return ExtractText(req)
}
