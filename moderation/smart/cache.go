package smart

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/yaoapp/kun/log"
)

// modelBundle one loaded model kept in memory, keyed by the file mtime it
// was read at. Bundles are immutable, updates swap the whole entry.
type modelBundle struct {
	mtime   time.Time
	predict func(string) (float64, error)
}

var (
	modelCache     *lru.Cache[string, *modelBundle]
	modelCacheOnce sync.Once
)

func cache() *lru.Cache[string, *modelBundle] {
	modelCacheOnce.Do(func() {
		modelCache, _ = lru.NewWithEvict(16, func(key string, _ *modelBundle) {
			log.Trace("model cache: evict %s", key)
		})
	})
	return modelCache
}

// cachedBundle returns the cached bundle when it still matches the model
// file mtime, otherwise loads a fresh one.
func cachedBundle(key string, mtime time.Time, load func() (func(string) (float64, error), error)) (*modelBundle, error) {
	if bundle, has := cache().Get(key); has && bundle.mtime.Equal(mtime) {
		return bundle, nil
	}
	cache().Remove(key)

	predict, err := load()
	if err != nil {
		return nil, err
	}
	bundle := &modelBundle{mtime: mtime, predict: predict}
	cache().Add(key, bundle)
	return bundle, nil
}

// ClearModelCache drops every cached model, used by the memory guard
func ClearModelCache() int {
	size := cache().Len()
	cache().Purge()
	return size
}

// ModelCacheLen the number of cached model bundles
func ModelCacheLen() int {
	return cache().Len()
}
