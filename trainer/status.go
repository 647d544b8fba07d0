package trainer

import (
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Training status values written to .train_status.json
const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Status the last training run of a profile
type Status struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	PID       int    `json:"pid"`
	ModelPath string `json:"model_path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// WriteStatus records the current training state for the scheduler
func WriteStatus(path string, status string, modelPath string, trainErr error) {
	record := Status{
		Status:    status,
		Timestamp: time.Now().Format(time.RFC3339),
		PID:       os.Getpid(),
		ModelPath: modelPath,
	}
	if trainErr != nil {
		message := trainErr.Error()
		if len(message) > 500 {
			message = message[:500]
		}
		record.Error = message
	}
	raw, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return
	}
	os.WriteFile(path, raw, 0644)
}

// ReadStatus loads the last recorded training state
func ReadStatus(path string) (*Status, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	status := &Status{}
	if err := json.Unmarshal(raw, status); err != nil {
		return nil, err
	}
	return status, nil
}

func statusTime(status *Status) time.Time {
	parsed, err := time.Parse(time.RFC3339, status.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
