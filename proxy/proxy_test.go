package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/guardianbridge/guardianbridge/transform"
)

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Any("/*path", Handle)
	return router
}

func proxyPath(cfg string, upstream string) string {
	return "/" + url.PathEscape(cfg) + "$" + upstream
}

func do(t *testing.T, router *gin.Engine, method string, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req, err := http.NewRequest(method, path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func errorBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	payload := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))
	detail, ok := payload["error"].(map[string]interface{})
	require.True(t, ok, "expected error envelope, got %s", recorder.Body.String())
	return detail
}

func TestParseURLConfig(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		raw := "/" + url.PathEscape(`{"format_transform":{"enabled":true,"to":"claude_chat"}}`) +
			"$https://api.example.com/v1/chat/completions"
		cfg, upstream, err := ParseURLConfig(raw)
		require.NoError(t, err)
		assert.True(t, cfg.FormatTransform.Enabled)
		assert.Equal(t, "claude_chat", cfg.FormatTransform.To)
		assert.Equal(t, "https://api.example.com/v1/chat/completions", upstream)
	})

	t.Run("missing separator", func(t *testing.T) {
		_, _, err := ParseURLConfig("/%7B%7Dhttps://api.example.com")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "$")
	})

	t.Run("broken JSON", func(t *testing.T) {
		_, _, err := ParseURLConfig("/%7Bnope$https://api.example.com")
		require.Error(t, err)
	})

	t.Run("relative upstream", func(t *testing.T) {
		_, _, err := ParseURLConfig("/%7B%7D$api.example.com/v1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "absolute")
	})

	t.Run("upstream keeps later dollar signs", func(t *testing.T) {
		_, upstream, err := ParseURLConfig("/%7B%7D$https://api.example.com/v1?tag=a$b")
		require.NoError(t, err)
		assert.Equal(t, "https://api.example.com/v1?tag=a$b", upstream)
	})
}

func TestHandleConfigParseError(t *testing.T) {
	recorder := do(t, newRouter(), http.MethodPost, "/no-dollar-here", `{}`)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	detail := errorBody(t, recorder)
	assert.Equal(t, CodeConfigParse, detail["code"])
	assert.Equal(t, "invalid_request_error", detail["type"])
}

func TestHandlePassThrough(t *testing.T) {
	var gotBody string
	var gotAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	router := newRouter()
	body := `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`
	req, err := http.NewRequest(http.MethodPost, proxyPath(`{}`, upstream.URL+"/v1/chat/completions"), strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer sk-test")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"ok":true}`, recorder.Body.String())
	assert.JSONEq(t, body, gotBody)
	assert.Equal(t, "Bearer sk-test", gotAuth)
}

func TestHandleQueryStringForwarded(t *testing.T) {
	var gotQuery string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	do(t, newRouter(), http.MethodPost, proxyPath(`{}`, upstream.URL+"/v1")+"?alt=sse&key=abc", `{}`)
	assert.Equal(t, "alt=sse&key=abc", gotQuery)
}

func TestHandleBasicModerationBlocks(t *testing.T) {
	keywords := filepath.Join(t.TempDir(), "keywords.txt")
	require.NoError(t, os.WriteFile(keywords, []byte("forbidden\n"), 0644))

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("blocked request must not reach upstream")
	}))
	defer upstream.Close()

	cfg := `{"basic_moderation":{"enabled":true,"keywords_file":"` + keywords + `"}}`
	body := `{"model":"gpt-4o","messages":[{"role":"user","content":"a forbidden word"}]}`
	recorder := do(t, newRouter(), http.MethodPost, proxyPath(cfg, upstream.URL), body)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	detail := errorBody(t, recorder)
	assert.Equal(t, CodeModerationBlocked, detail["code"])
	assert.Contains(t, detail["message"], "forbidden")
}

func TestHandleStrictParseRejects(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("unparseable request must not reach upstream in strict mode")
	}))
	defer upstream.Close()

	cfg := `{"format_transform":{"enabled":true,"from":"claude_chat","to":"openai_chat","strict_parse":true}}`
	// an openai body that the claude-only candidate list cannot claim
	body := `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`
	recorder := do(t, newRouter(), http.MethodPost, proxyPath(cfg, upstream.URL), body)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	detail := errorBody(t, recorder)
	assert.Equal(t, CodeTransform, detail["code"])
	assert.Equal(t, "openai_chat", detail["source_format"])
}

func TestHandleLenientParsePassesThrough(t *testing.T) {
	var gotBody []byte
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	cfg := `{"format_transform":{"enabled":true,"from":"auto","to":"openai_chat"}}`
	body := `{"not":"a chat request"}`
	recorder := do(t, newRouter(), http.MethodPost, proxyPath(cfg, upstream.URL), body)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, body, string(gotBody))
}

func TestHandleTransformsRequestAndResponse(t *testing.T) {
	var gotBody map[string]interface{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-sonnet-4",
			"content": [{"type": "text", "text": "hello there"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 3, "output_tokens": 5}
		}`))
	}))
	defer upstream.Close()

	cfg := `{"format_transform":{"enabled":true,"from":"auto","to":"claude_chat"}}`
	body := `{"model":"gpt-4o","messages":[{"role":"system","content":"be nice"},{"role":"user","content":"hi"}]}`
	recorder := do(t, newRouter(), http.MethodPost, proxyPath(cfg, upstream.URL+"/v1/messages"), body)

	// upstream saw the claude shape
	assert.Equal(t, "be nice", gotBody["system"])
	messages := gotBody["messages"].([]interface{})
	require.Len(t, messages, 1)
	assert.NotNil(t, gotBody["max_tokens"])

	// client got the openai shape back
	assert.Equal(t, http.StatusOK, recorder.Code)
	response := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &response))
	choices := response["choices"].([]interface{})
	require.Len(t, choices, 1)
	message := choices[0].(map[string]interface{})["message"].(map[string]interface{})
	assert.Equal(t, "hello there", message["content"])
	assert.Equal(t, "stop", choices[0].(map[string]interface{})["finish_reason"])
}

func TestHandleForcedStreamFlag(t *testing.T) {
	var gotBody map[string]interface{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	cfg := `{"format_transform":{"enabled":true,"from":"auto","to":"claude_chat","stream":true}}`
	body := `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`
	do(t, newRouter(), http.MethodPost, proxyPath(cfg, upstream.URL+"/v1/messages"), body)

	assert.Equal(t, true, gotBody["stream"])
}

func TestHandleStreamingTranscode(t *testing.T) {
	frames := []string{
		"event: message_start\ndata: " +
			`{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4","content":[],"usage":{"input_tokens":2,"output_tokens":0}}}` + "\n\n",
		"event: content_block_start\ndata: " +
			`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}` + "\n\n",
		"event: content_block_delta\ndata: " +
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"streamed"}}` + "\n\n",
		"event: content_block_stop\ndata: " + `{"type":"content_block_stop","index":0}` + "\n\n",
		"event: message_delta\ndata: " +
			`{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":2}}` + "\n\n",
		"event: message_stop\ndata: " + `{"type":"message_stop"}` + "\n\n",
	}

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, frame := range frames {
			w.Write([]byte(frame))
			flusher.Flush()
		}
	}))
	defer upstream.Close()

	cfg := `{"format_transform":{"enabled":true,"from":"auto","to":"claude_chat"}}`
	body := `{"model":"gpt-4o","stream":true,"messages":[{"role":"user","content":"hi"}]}`
	recorder := do(t, newRouter(), http.MethodPost, proxyPath(cfg, upstream.URL+"/v1/messages"), body)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Header().Get("Content-Type"), "text/event-stream")
	out := recorder.Body.String()
	assert.Contains(t, out, `"object":"chat.completion.chunk"`)
	assert.Contains(t, out, "streamed")
	assert.Contains(t, out, "data: [DONE]")
	assert.NotContains(t, out, "message_start")
}

func TestHandleUpstreamDown(t *testing.T) {
	// a closed server yields a connection error
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	address := upstream.URL
	upstream.Close()

	recorder := do(t, newRouter(), http.MethodPost, proxyPath(`{}`, address), `{}`)
	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
	detail := errorBody(t, recorder)
	assert.Equal(t, CodeUpstream, detail["code"])
	assert.Equal(t, "api_error", detail["type"])
}

func TestUpstreamErrorStatusForwarded(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer upstream.Close()

	recorder := do(t, newRouter(), http.MethodPost, proxyPath(`{}`, upstream.URL), `{}`)
	assert.Equal(t, http.StatusTooManyRequests, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "rate limited")
}

func TestUpstreamHostPathDetectsGeminiByHost(t *testing.T) {
	hostPath := upstreamHostPath("https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-pro:generateContent")
	assert.Equal(t, "generativelanguage.googleapis.com/v1beta/models/gemini-2.5-pro:generateContent", hostPath)

	// the Google host alone is enough, even without a :generateContent verb
	body := map[string]interface{}{
		"contents": []interface{}{
			map[string]interface{}{"role": "user", "parts": []interface{}{map[string]interface{}{"text": "hi"}}},
		},
	}
	name, req, _ := transform.Detect("auto",
		upstreamHostPath("https://generativelanguage.googleapis.com/custom/endpoint"), http.Header{}, body)
	assert.Equal(t, transform.GeminiChat, name)
	require.NotNil(t, req)
}
