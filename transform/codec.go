package transform

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cast"
	"github.com/yaoapp/kun/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Codec converts one dialect to and from the canonical representation
type Codec interface {
	Name() string
	CanParse(path string, header http.Header, body map[string]interface{}) bool
	Decode(body map[string]interface{}, path string) (*Request, error)
	Encode(req *Request) (map[string]interface{}, error)
	DecodeResponse(body map[string]interface{}) (*Response, error)
	EncodeResponse(res *Response) (map[string]interface{}, error)
}

// detection order matters, first match wins
var order = []string{OpenAIChat, OpenAIResponses, ClaudeChat, GeminiChat}

var codecs = map[string]Codec{
	OpenAIChat:      &openaiChatCodec{},
	OpenAIResponses: &responsesCodec{},
	ClaudeChat:      &claudeCodec{},
	GeminiChat:      &geminiCodec{},
}

// Get returns the codec for a dialect name, nil when unknown
func Get(name string) Codec {
	return codecs[name]
}

// Names returns the registered dialect names in detection order
func Names() []string {
	names := make([]string, len(order))
	copy(names, order)
	return names
}

// Candidates resolves a format_transform.from value into a dialect list.
// "auto", nil and unrecognized values mean every registered dialect.
func Candidates(from interface{}) []string {
	switch v := from.(type) {
	case string:
		if v == "auto" || v == "" {
			return Names()
		}
		return []string{v}
	case []string:
		return v
	case []interface{}:
		names := []string{}
		for _, item := range v {
			names = append(names, cast.ToString(item))
		}
		return names
	default:
		return Names()
	}
}

// Detect tries candidate dialects in order and decodes the first match.
// Returns the dialect name with the decoded request, or empty values when
// nothing matched. When the body does match a dialect excluded from the
// candidate list, its name is returned as suspected.
func Detect(from interface{}, path string, header http.Header, body map[string]interface{}) (name string, req *Request, suspected string) {
	candidates := Candidates(from)
	tried := map[string]bool{}

	for _, candidate := range candidates {
		codec := codecs[candidate]
		if codec == nil {
			continue
		}
		tried[candidate] = true
		if !codec.CanParse(path, header, body) {
			continue
		}
		decoded, err := codec.Decode(body, path)
		if err != nil {
			log.Warn("Failed to parse as %s: %s", candidate, err.Error())
			continue
		}
		return candidate, decoded, ""
	}

	for _, other := range order {
		if tried[other] {
			continue
		}
		if codecs[other].CanParse(path, header, body) {
			return "", nil, other
		}
	}
	return "", nil, ""
}

// ensureID keeps the upstream response id, minting one for dialects
// that omit it
func ensureID(id string, prefix string) string {
	if id != "" {
		return id
	}
	return prefix + strings.ReplaceAll(uuid.New().String(), "-", "")[:24]
}

// parseArgs decodes tool-call arguments that arrive as a JSON string.
// Broken strings decode to an empty object, objects pass through.
func parseArgs(value interface{}) map[string]interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		return v
	case string:
		args := map[string]interface{}{}
		if err := json.Unmarshal([]byte(v), &args); err != nil {
			return map[string]interface{}{}
		}
		return args
	default:
		return map[string]interface{}{}
	}
}

// dumpArgs re-serializes tool-call arguments as compact JSON
func dumpArgs(args map[string]interface{}) string {
	if args == nil {
		args = map[string]interface{}{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// mapValue fetches a nested map field, nil-safe
func mapValue(body map[string]interface{}, key string) map[string]interface{} {
	if body == nil {
		return nil
	}
	value, _ := body[key].(map[string]interface{})
	return value
}

// listValue fetches a nested list field, nil-safe
func listValue(body map[string]interface{}, key string) []interface{} {
	if body == nil {
		return nil
	}
	value, _ := body[key].([]interface{})
	return value
}

// copyExtra collects the top-level fields not claimed by the dialect
func copyExtra(body map[string]interface{}, claimed ...string) map[string]interface{} {
	skip := map[string]bool{}
	for _, key := range claimed {
		skip[key] = true
	}
	extra := map[string]interface{}{}
	for key, value := range body {
		if !skip[key] {
			extra[key] = value
		}
	}
	return extra
}

// ensureBlocks keeps the one-block-minimum message invariant
func ensureBlocks(blocks []Block) []Block {
	if len(blocks) == 0 {
		return []Block{TextBlock("")}
	}
	return blocks
}
