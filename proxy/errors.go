package proxy

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error codes of the proxy envelope
const (
	CodeConfigParse       = "CONFIG_PARSE_ERROR"
	CodeModerationBlocked = "MODERATION_BLOCKED"
	CodeTransform         = "TRANSFORM_ERROR"
	CodeUpstream          = "UPSTREAM_ERROR"
	CodeProxy             = "PROXY_ERROR"
)

// writeError sends the proxy error envelope. sourceFormat names the
// detected request dialect when one is known.
func writeError(c *gin.Context, status int, code string, message string, sourceFormat string) {
	kind := "api_error"
	if status == http.StatusBadRequest {
		kind = "invalid_request_error"
	}

	detail := gin.H{
		"code":    code,
		"message": message,
		"type":    kind,
	}
	if sourceFormat != "" {
		detail["source_format"] = sourceFormat
	}
	c.AbortWithStatusJSON(status, gin.H{"error": detail})
}
