package proxy

import (
	"fmt"
	"net/url"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/guardianbridge/guardianbridge/moderation"
	"github.com/guardianbridge/guardianbridge/moderation/smart"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RequestConfig the per-request pipeline settings carried in the URL
type RequestConfig struct {
	BasicModeration moderation.BasicConfig `json:"basic_moderation"`
	SmartModeration smart.Config           `json:"smart_moderation"`
	FormatTransform FormatTransform        `json:"format_transform"`
}

// FormatTransform dialect bridge settings. From accepts a dialect name,
// a list of candidates or "auto". Stream is "auto" to inherit the
// request's stream flag, or a boolean to force it.
type FormatTransform struct {
	Enabled     bool        `json:"enabled"`
	From        interface{} `json:"from,omitempty"`
	To          string      `json:"to,omitempty"`
	Stream      interface{} `json:"stream,omitempty"`
	StrictParse bool        `json:"strict_parse,omitempty"`
}

// ParseURLConfig splits "<encoded config>$<upstream url>" once on the
// first dollar sign and decodes the JSON config
func ParseURLConfig(raw string) (*RequestConfig, string, error) {
	raw = strings.TrimPrefix(raw, "/")

	encoded, upstream, found := strings.Cut(raw, "$")
	if !found {
		return nil, "", fmt.Errorf("missing $ separator between config and upstream URL")
	}

	decoded, err := url.PathUnescape(encoded)
	if err != nil {
		return nil, "", fmt.Errorf("config is not URL-encoded: %s", err.Error())
	}

	cfg := &RequestConfig{}
	if err := json.Unmarshal([]byte(decoded), cfg); err != nil {
		return nil, "", fmt.Errorf("config is not valid JSON: %s", err.Error())
	}

	if !strings.HasPrefix(upstream, "http://") && !strings.HasPrefix(upstream, "https://") {
		return nil, "", fmt.Errorf("upstream URL must be absolute: %s", upstream)
	}
	return cfg, upstream, nil
}
