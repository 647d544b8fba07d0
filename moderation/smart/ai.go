package smart

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"github.com/spf13/cast"
	"github.com/yaoapp/kun/log"
	"github.com/guardianbridge/guardianbridge/moderation/storage"
)

// Result one moderation verdict. Source is "ai" for the adjudicator and
// "bow_model" for the local classifier.
type Result struct {
	Violation  bool    `json:"violation"`
	Category   string  `json:"category,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Adjudicate asks the configured chat-completion endpoint for a verdict.
// Failures never block: the result degrades to a pass tagged as error.
func Adjudicate(text string, profile *Profile) *Result {
	verdict, err := callAdjudicator(text, profile)
	if err != nil {
		log.Error("AI moderation failed: %s", err.Error())
		return &Result{
			Violation: false,
			Category:  "error",
			Reason:    fmt.Sprintf("AI call failed: %s", err.Error()),
			Source:    "ai",
		}
	}
	return verdict
}

// shared client, the per-call deadline comes from the profile
var adjudicatorClient = &http.Client{}

func callAdjudicator(text string, profile *Profile) (*Result, error) {
	ai := profile.Config.AI
	apiKey := os.Getenv(ai.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("environment variable %s not set", ai.APIKeyEnv)
	}

	payload := map[string]interface{}{
		"model":       ai.Model,
		"messages":    []interface{}{map[string]interface{}{"role": "user", "content": profile.RenderPrompt(text)}},
		"temperature": 0,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(ai.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	url := strings.TrimRight(ai.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	res, err := adjudicatorClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("adjudicator returned status %d", res.StatusCode)
	}

	data := map[string]interface{}{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("adjudicator returned invalid JSON: %s", err.Error())
	}

	content := adjudicatorContent(data)
	if content == "" {
		return nil, fmt.Errorf("adjudicator returned no content")
	}
	return parseVerdict(content), nil
}

func adjudicatorContent(data interface{}) string {
	body, ok := data.(map[string]interface{})
	if !ok {
		return ""
	}
	choices, ok := body["choices"].([]interface{})
	if !ok || len(choices) == 0 {
		return ""
	}
	choice, _ := choices[0].(map[string]interface{})
	message, _ := choice["message"].(map[string]interface{})
	return cast.ToString(message["content"])
}

// parseVerdict extracts the first {...} substring of the reply, repairing
// sloppy model JSON before parsing. Without one it falls back to a
// keyword scan over the raw reply.
func parseVerdict(content string) *Result {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")

	if start >= 0 && end > start {
		fragment := content[start : end+1]
		data := map[string]interface{}{}
		if err := json.Unmarshal([]byte(fragment), &data); err != nil {
			if repaired, repairErr := jsonrepair.JSONRepair(fragment); repairErr == nil {
				json.Unmarshal([]byte(repaired), &data)
			}
		}
		if len(data) > 0 {
			return &Result{
				Violation: cast.ToBool(data["violation"]),
				Category:  cast.ToString(data["category"]),
				Reason:    cast.ToString(data["reason"]),
				Source:    "ai",
			}
		}
	}

	lowered := strings.ToLower(content)
	violation := false
	for _, marker := range []string{"违规", "violation", "不当"} {
		if strings.Contains(lowered, marker) {
			violation = true
			break
		}
	}
	reason := content
	if len(reason) > 200 {
		reason = reason[:200]
	}
	return &Result{Violation: violation, Category: "unknown", Reason: reason, Source: "ai"}
}

// AdjudicateAndLog adjudicates and persists the verdict as a new sample
func AdjudicateAndLog(text string, profile *Profile) *Result {
	result := Adjudicate(text, profile)

	store, err := storage.Open(profile.DBPath())
	if err != nil {
		log.Error("failed to open sample store for %s: %s", profile.Name, err.Error())
		return result
	}
	label := 0
	if result.Violation {
		label = 1
	}
	if _, err := store.SaveSample(text, label, result.Category); err != nil {
		log.Error("failed to save sample for %s: %s", profile.Name, err.Error())
	}
	return result
}
