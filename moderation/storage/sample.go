package storage

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const timeFormat = "2006-01-02 15:04:05"

// Sample one moderation label record. Records are immutable once written,
// deletes leave id holes.
type Sample struct {
	ID        int64  `json:"id"`
	Text      string `json:"text"`
	Label     int    `json:"label"` // 0 pass, 1 violation
	Category  string `json:"category,omitempty"`
	CreatedAt string `json:"created_at"`
	TextHash  string `json:"text_hash,omitempty"`
}

func sampleKey(id int64) []byte {
	return []byte(fmt.Sprintf("sample:%020d", id))
}

func textLatestKey(hash string) []byte {
	return []byte("text_latest:" + hash)
}

func hashText(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}
