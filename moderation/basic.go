package moderation

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/guardianbridge/guardianbridge/config"
	"github.com/yaoapp/kun/log"
)

// Defaults for the keyword stage
const (
	DefaultKeywordsFile = "configs/keywords.txt"
	DefaultErrorCode    = "BASIC_MODERATION_BLOCKED"
)

// KeywordFilter matches case-insensitive literal keywords from a file and
// hot-reloads when the file mtime changes.
type KeywordFilter struct {
	path     string
	mtime    time.Time
	keywords []string // lowercased
	mu       sync.Mutex
}

// NewKeywordFilter builds a filter and loads the file once
func NewKeywordFilter(path string) *KeywordFilter {
	filter := &KeywordFilter{path: path}
	filter.reloadIfNeeded()
	return filter
}

func (filter *KeywordFilter) reloadIfNeeded() {
	info, err := os.Stat(filter.path)
	if err != nil {
		filter.keywords = nil
		filter.mtime = time.Time{}
		return
	}
	if info.ModTime().Equal(filter.mtime) {
		return
	}
	filter.mtime = info.ModTime()
	filter.keywords = filter.load()
}

func (filter *KeywordFilter) load() []string {
	file, err := os.Open(filter.path)
	if err != nil {
		log.Error("Failed to load keywords from %s: %s", filter.path, err.Error())
		return nil
	}
	defer file.Close()

	keywords := []string{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		keyword := strings.TrimSpace(scanner.Text())
		if keyword == "" || strings.HasPrefix(keyword, "#") {
			continue
		}
		keywords = append(keywords, strings.ToLower(keyword))
	}
	return keywords
}

// Match returns the first matching keyword, the filter reloads the file
// first when it changed on disk.
func (filter *KeywordFilter) Match(text string) (string, bool) {
	filter.mu.Lock()
	defer filter.mu.Unlock()

	filter.reloadIfNeeded()
	lowered := strings.ToLower(text)
	for _, keyword := range filter.keywords {
		if strings.Contains(lowered, keyword) {
			return keyword, true
		}
	}
	return "", false
}

// Process-wide filter registry keyed by file path
var (
	filters     = map[string]*KeywordFilter{}
	filtersLock sync.Mutex
)

// GetFilter returns the shared filter for a keywords file
func GetFilter(path string) *KeywordFilter {
	filtersLock.Lock()
	defer filtersLock.Unlock()
	if filter, has := filters[path]; has {
		return filter
	}
	filter := NewKeywordFilter(path)
	filters[path] = filter
	return filter
}

// BasicConfig the per-request keyword stage settings
type BasicConfig struct {
	Enabled      bool   `json:"enabled"`
	KeywordsFile string `json:"keywords_file"`
	ErrorCode    string `json:"error_code"`
}

// Basic runs the keyword stage. Returns pass plus the rejection reason.
func Basic(text string, cfg BasicConfig) (bool, string) {
	if !cfg.Enabled {
		return true, ""
	}

	path := cfg.KeywordsFile
	if path == "" {
		path = config.Conf.KeywordsFile
	}
	if path == "" {
		path = DefaultKeywordsFile
	}

	if keyword, matched := GetFilter(path).Match(text); matched {
		code := cfg.ErrorCode
		if code == "" {
			code = DefaultErrorCode
		}
		return false, fmt.Sprintf("[%s] Matched keyword: %s", code, keyword)
	}
	return true, ""
}
