package proxy

import (
	"io"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/guardianbridge/guardianbridge/moderation"
	"github.com/guardianbridge/guardianbridge/moderation/smart"
	"github.com/guardianbridge/guardianbridge/transform"
	"github.com/yaoapp/kun/log"
)

// Handle runs the full pipeline for one proxied request: URL config,
// dialect detection, moderation, request transform, upstream relay.
func Handle(c *gin.Context) {
	raw := c.Param("path")
	if raw == "" {
		// mounted via NoRoute instead of a wildcard route
		raw = c.Request.URL.Path
	}
	cfg, upstream, err := ParseURLConfig(raw)
	if err != nil {
		writeError(c, http.StatusBadRequest, CodeConfigParse, err.Error(), "")
		return
	}
	if c.Request.URL.RawQuery != "" {
		upstream += "?" + c.Request.URL.RawQuery
	}

	var body []byte
	if c.Request.Body != nil {
		body, err = io.ReadAll(c.Request.Body)
		if err != nil {
			writeError(c, http.StatusInternalServerError, CodeProxy, err.Error(), "")
			return
		}
	}

	var payload map[string]interface{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			payload = nil
		}
	}

	srcDialect, req := detectRequest(c, cfg, upstream, payload)
	if c.IsAborted() {
		return
	}

	if !moderate(c, cfg, srcDialect, req, payload) {
		return
	}

	// "auto" and absent inherit the request's own stream flag
	if forced, ok := cfg.FormatTransform.Stream.(bool); ok && req != nil {
		req.Stream = forced
	}

	outBody := body
	target := cfg.FormatTransform.To
	if req != nil && target != "" && target != srcDialect {
		codec := transform.Get(target)
		if codec == nil {
			writeError(c, http.StatusBadRequest, CodeTransform, "unknown target dialect: "+target, srcDialect)
			return
		}
		encoded, err := codec.Encode(req)
		if err == nil {
			if raw, marshalErr := json.Marshal(encoded); marshalErr == nil {
				outBody = raw
			} else {
				err = marshalErr
			}
		}
		if err != nil {
			log.Warn("encode as %s failed: %s, forwarding source body", target, err.Error())
			target = srcDialect
		}
	} else {
		target = srcDialect
	}

	forward(c, upstream, outBody, forwardOptions{src: srcDialect, target: target})
}

// detectRequest resolves the client dialect when the bridge is enabled.
// Strict mode rejects unparseable bodies, otherwise they pass through
// untransformed.
func detectRequest(c *gin.Context, cfg *RequestConfig, upstream string, payload map[string]interface{}) (string, *transform.Request) {
	if !cfg.FormatTransform.Enabled || payload == nil {
		return "", nil
	}

	name, req, suspected := transform.Detect(cfg.FormatTransform.From, upstreamHostPath(upstream), c.Request.Header, payload)
	if name != "" {
		return name, req
	}

	if cfg.FormatTransform.StrictParse {
		message := "cannot parse request body as any supported dialect"
		if suspected != "" {
			message += ", body resembles " + suspected
		}
		writeError(c, http.StatusBadRequest, CodeTransform, message, suspected)
		return "", nil
	}

	log.Info("Cannot detect request format, pass through")
	return "", nil
}

// moderate runs both stages over the conversation text. Returns false
// after writing the block response.
func moderate(c *gin.Context, cfg *RequestConfig, srcDialect string, req *transform.Request, payload map[string]interface{}) bool {
	var text string
	if req != nil {
		text = transform.ExtractText(req)
	} else if payload != nil {
		text = transform.ExtractTextFromBody(payload, transform.OpenAIChat)
	}
	if text == "" {
		return true
	}

	if pass, reason := moderation.Basic(text, cfg.BasicModeration); !pass {
		writeError(c, http.StatusBadRequest, CodeModerationBlocked, reason, srcDialect)
		return false
	}

	pass, result, err := smart.Moderate(text, cfg.SmartModeration)
	if err != nil {
		writeError(c, http.StatusBadRequest, CodeConfigParse, "smart moderation: "+err.Error(), srcDialect)
		return false
	}
	if !pass {
		message := "content blocked by moderation"
		if result != nil && result.Reason != "" {
			message = result.Reason
		}
		writeError(c, http.StatusBadRequest, CodeModerationBlocked, message, srcDialect)
		return false
	}
	return true
}

// upstreamHostPath keeps the host in the detection string, the gemini
// heuristic keys on the Google host as well as the path
func upstreamHostPath(upstream string) string {
	parsed, err := url.Parse(upstream)
	if err != nil {
		return ""
	}
	return parsed.Host + parsed.Path
}
