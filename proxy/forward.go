package proxy

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/guardianbridge/guardianbridge/config"
	"github.com/guardianbridge/guardianbridge/stream"
	"github.com/guardianbridge/guardianbridge/transform"
	"github.com/yaoapp/kun/log"
)

// hop-by-hop and recomputed headers never forwarded upstream
var skipHeaders = map[string]bool{
	"Host":              true,
	"Content-Length":    true,
	"Accept-Encoding":   true,
	"Connection":        true,
	"Keep-Alive":        true,
	"Transfer-Encoding": true,
	"Upgrade":           true,
	"Proxy-Connection":  true,
}

var (
	clientOnce sync.Once
	client     *http.Client
)

// upstreamClient builds the shared forwarder. The header timeout bounds
// upstream connect latency without cutting long-lived SSE bodies.
func upstreamClient() *http.Client {
	clientOnce.Do(func() {
		timeout := time.Duration(config.Conf.Upstream.TimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: timeout,
			},
		}
	})
	return client
}

// forwardOptions how the upstream response maps back to the client
type forwardOptions struct {
	src    string // dialect the client speaks, empty when undetected
	target string // dialect the upstream speaks
}

func (opts forwardOptions) transcoding() bool {
	return opts.src != "" && opts.target != "" && opts.src != opts.target
}

// forward sends the prepared body upstream and relays the response,
// converting it back into the client's dialect when the request was
// transformed on the way out
func forward(c *gin.Context, upstream string, body []byte, opts forwardOptions) {
	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, upstream, bytes.NewReader(body))
	if err != nil {
		writeError(c, http.StatusInternalServerError, CodeProxy, err.Error(), opts.src)
		return
	}
	for key, values := range c.Request.Header {
		if skipHeaders[http.CanonicalHeaderKey(key)] {
			continue
		}
		req.Header[key] = values
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := upstreamClient().Do(req)
	if err != nil {
		writeError(c, http.StatusInternalServerError, CodeUpstream, err.Error(), opts.src)
		return
	}
	defer res.Body.Close()

	if strings.Contains(res.Header.Get("Content-Type"), "text/event-stream") {
		relayStream(c, res, opts)
		return
	}
	relayJSON(c, res, opts)
}

// relayJSON copies a buffered response, re-encoding the body into the
// client's dialect when needed. Conversion failures forward the upstream
// body untouched.
func relayJSON(c *gin.Context, res *http.Response, opts forwardOptions) {
	body, err := io.ReadAll(res.Body)
	if err != nil {
		writeError(c, http.StatusInternalServerError, CodeUpstream, err.Error(), opts.src)
		return
	}

	contentType := res.Header.Get("Content-Type")
	if opts.transcoding() && res.StatusCode == http.StatusOK {
		converted, err := transcodeResponse(body, opts.target, opts.src)
		if err != nil {
			log.Warn("response transform %s -> %s failed: %s, forwarding as-is", opts.target, opts.src, err.Error())
		} else {
			body = converted
			contentType = "application/json; charset=utf-8"
		}
	}

	copyResponseHeaders(c, res)
	c.Data(res.StatusCode, contentType, body)
}

// transcodeResponse re-encodes one complete response body between dialects
func transcodeResponse(body []byte, from string, to string) ([]byte, error) {
	payload := map[string]interface{}{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	decoded, err := transform.Get(from).DecodeResponse(payload)
	if err != nil {
		return nil, err
	}
	encoded, err := transform.Get(to).EncodeResponse(decoded)
	if err != nil {
		return nil, err
	}
	return json.Marshal(encoded)
}

// relayStream pipes SSE chunks to the client, rewriting frames through
// the dialect transcoder when the request was transformed
func relayStream(c *gin.Context, res *http.Response, opts forwardOptions) {
	var transcoder *stream.Transcoder
	if opts.transcoding() {
		transcoder = stream.NewTranscoder(opts.target, opts.src)
	}

	c.Status(res.StatusCode)
	c.Header("Content-Type", "text/event-stream; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	flusher, _ := c.Writer.(http.Flusher)
	buffer := make([]byte, 4096)
	for {
		n, err := res.Body.Read(buffer)
		if n > 0 {
			chunk := buffer[:n]
			if transcoder != nil {
				chunk = transcoder.Feed(chunk)
			}
			if len(chunk) > 0 {
				if _, writeErr := c.Writer.Write(chunk); writeErr != nil {
					return
				}
				if flusher != nil {
					flusher.Flush()
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Warn("upstream stream read: %s", err.Error())
			}
			break
		}
	}

	if transcoder != nil {
		if tail := transcoder.Flush(); len(tail) > 0 {
			c.Writer.Write(tail)
		}
	}
	if flusher != nil {
		flusher.Flush()
	}
}

func copyResponseHeaders(c *gin.Context, res *http.Response) {
	for key, values := range res.Header {
		switch http.CanonicalHeaderKey(key) {
		case "Content-Length", "Content-Type", "Transfer-Encoding", "Connection":
			continue
		}
		for _, value := range values {
			c.Writer.Header().Add(key, value)
		}
	}
}
