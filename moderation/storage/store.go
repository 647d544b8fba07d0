package storage

import (
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/yaoapp/kun/log"
)

// Process-wide store handles, one per on-disk path
var (
	registry     = map[string]*Store{}
	registryLock sync.Mutex
)

// Store a per-profile sample store on an embedded key-value database.
// All reads and writes serialize on the handle lock.
type Store struct {
	path   string // key-value directory
	legacy string // legacy SQLite file it migrated from
	db     *badger.DB
	mu     sync.Mutex
}

// Open returns the process-wide handle for the given legacy database path,
// migrating the legacy file into the key-value store on first open.
func Open(dbPath string) (*Store, error) {
	kvPath := kvPathFrom(dbPath)

	registryLock.Lock()
	defer registryLock.Unlock()
	if store, has := registry[kvPath]; has {
		return store, nil
	}

	if err := migrate(dbPath, kvPath); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(kvPath).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	store := &Store{path: kvPath, legacy: dbPath, db: db}
	if err := store.initMeta(); err != nil {
		db.Close()
		return nil, err
	}

	registry[kvPath] = store
	return store, nil
}

// Close releases the handle and removes it from the registry
func (store *Store) Close() error {
	registryLock.Lock()
	delete(registry, store.path)
	registryLock.Unlock()

	store.mu.Lock()
	defer store.mu.Unlock()
	return store.db.Close()
}

// CloseAll releases every open handle, used on shutdown
func CloseAll() {
	registryLock.Lock()
	defer registryLock.Unlock()
	for path, store := range registry {
		if err := store.db.Close(); err != nil {
			log.Warn("storage: close %s: %s", path, err.Error())
		}
		delete(registry, path)
	}
}

func kvPathFrom(dbPath string) string {
	if strings.HasSuffix(dbPath, ".db") {
		return strings.TrimSuffix(dbPath, ".db") + ".rocks"
	}
	return dbPath + ".rocks"
}

func (store *Store) initMeta() error {
	return store.db.Update(func(txn *badger.Txn) error {
		for _, key := range []string{"meta:next_id", "meta:count", "meta:count:0", "meta:count:1"} {
			if _, err := txn.Get([]byte(key)); err == badger.ErrKeyNotFound {
				value := "0"
				if key == "meta:next_id" {
					value = "1"
				}
				if err := txn.Set([]byte(key), []byte(value)); err != nil {
					return err
				}
			} else if err != nil {
				return err
			}
		}
		return nil
	})
}

func getValue(txn *badger.Txn, key []byte) ([]byte, bool) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, false
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false
	}
	return value, true
}

func metaInt(txn *badger.Txn, key string, fallback int64) int64 {
	raw, has := getValue(txn, []byte(key))
	if !has {
		return fallback
	}
	value, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return fallback
	}
	return value
}

func setMetaInt(txn *badger.Txn, key string, value int64) error {
	return txn.Set([]byte(key), []byte(strconv.FormatInt(value, 10)))
}

func loadByID(txn *badger.Txn, id int64) (*Sample, bool) {
	raw, has := getValue(txn, sampleKey(id))
	if !has {
		return nil, false
	}
	sample := &Sample{}
	if err := json.Unmarshal(raw, sample); err != nil {
		return nil, false
	}
	return sample, true
}

// SaveSample appends a record and maintains the counters and the
// text-hash index in the same transaction.
func (store *Store) SaveSample(text string, label int, category string) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	var id int64
	err := store.db.Update(func(txn *badger.Txn) error {
		id = metaInt(txn, "meta:next_id", 1)
		hash := hashText(text)
		sample := Sample{
			ID:        id,
			Text:      text,
			Label:     label,
			Category:  category,
			CreatedAt: time.Now().Format(timeFormat),
			TextHash:  hash,
		}
		raw, err := json.Marshal(sample)
		if err != nil {
			return err
		}
		if err := txn.Set(sampleKey(id), raw); err != nil {
			return err
		}
		if err := txn.Set(textLatestKey(hash), []byte(strconv.FormatInt(id, 10))); err != nil {
			return err
		}

		count0 := metaInt(txn, "meta:count:0", 0)
		count1 := metaInt(txn, "meta:count:1", 0)
		if label == 0 {
			count0++
		} else {
			count1++
		}
		if err := setCounts(txn, count0, count1); err != nil {
			return err
		}
		return setMetaInt(txn, "meta:next_id", id+1)
	})
	return id, err
}

func setCounts(txn *badger.Txn, count0 int64, count1 int64) error {
	if err := setMetaInt(txn, "meta:count", count0+count1); err != nil {
		return err
	}
	if err := setMetaInt(txn, "meta:count:0", count0); err != nil {
		return err
	}
	return setMetaInt(txn, "meta:count:1", count1)
}

// GetSample loads one record by id
func (store *Store) GetSample(id int64) (*Sample, bool) {
	store.mu.Lock()
	defer store.mu.Unlock()

	var sample *Sample
	var has bool
	store.db.View(func(txn *badger.Txn) error {
		sample, has = loadByID(txn, id)
		return nil
	})
	return sample, has
}

// SampleCount returns the total number of live records
func (store *Store) SampleCount() int64 {
	store.mu.Lock()
	defer store.mu.Unlock()

	var count int64
	store.db.View(func(txn *badger.Txn) error {
		count = metaInt(txn, "meta:count", 0)
		return nil
	})
	return count
}

// LabelCounts returns (pass, violation) record counts
func (store *Store) LabelCounts() (int64, int64) {
	store.mu.Lock()
	defer store.mu.Unlock()

	var count0, count1 int64
	store.db.View(func(txn *badger.Txn) error {
		count0 = metaInt(txn, "meta:count:0", 0)
		count1 = metaInt(txn, "meta:count:1", 0)
		return nil
	})
	return count0, count1
}

// NextID exposes the id counter, readers tolerate holes below it
func (store *Store) NextID() int64 {
	store.mu.Lock()
	defer store.mu.Unlock()

	var next int64
	store.db.View(func(txn *badger.Txn) error {
		next = metaInt(txn, "meta:next_id", 1)
		return nil
	})
	return next
}

// FindByText resolves the most recent record sharing the text, falling
// back to a reverse scan when the hash index points at a stale id or a
// colliding text.
func (store *Store) FindByText(text string) (*Sample, bool) {
	store.mu.Lock()
	defer store.mu.Unlock()

	hash := hashText(text)
	var found *Sample
	store.db.View(func(txn *badger.Txn) error {
		if raw, has := getValue(txn, textLatestKey(hash)); has {
			if id, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
				if sample, ok := loadByID(txn, id); ok && sample.Text == text {
					found = sample
					return nil
				}
			}
		}
		for id := metaInt(txn, "meta:next_id", 1) - 1; id > 0; id-- {
			if sample, ok := loadByID(txn, id); ok && sample.Text == text {
				found = sample
				return nil
			}
		}
		return nil
	})
	return found, found != nil
}

// LoadLatest returns up to max records, newest first
func (store *Store) LoadLatest(max int) []Sample {
	if max <= 0 {
		return nil
	}
	store.mu.Lock()
	defer store.mu.Unlock()

	out := []Sample{}
	store.db.View(func(txn *badger.Txn) error {
		for id := metaInt(txn, "meta:next_id", 1) - 1; id > 0 && len(out) < max; id-- {
			if sample, ok := loadByID(txn, id); ok {
				out = append(out, *sample)
			}
		}
		return nil
	})
	return out
}

func (store *Store) loadByLabel(txn *badger.Txn, label int, limit int64) []Sample {
	if limit <= 0 {
		return nil
	}
	out := []Sample{}
	for id := metaInt(txn, "meta:next_id", 1) - 1; id > 0 && int64(len(out)) < limit; id-- {
		if sample, ok := loadByID(txn, id); ok && sample.Label == label {
			out = append(out, *sample)
		}
	}
	return out
}

// Sample-loading strategy names as they appear in profile.json
const (
	StrategyBalancedUndersample = "balanced_undersample"
	StrategyLatestFull          = "latest_full"
	StrategyRandomFull          = "random_full"
)

// LoadByStrategy dispatches on the profile's sample_loading strategy
func (store *Store) LoadByStrategy(strategy string, max int, rng *rand.Rand) []Sample {
	switch strategy {
	case StrategyLatestFull:
		return store.LoadBalancedLatest(max, rng)
	case StrategyRandomFull:
		return store.LoadBalancedRandom(max, rng)
	default:
		return store.LoadBalanced(max, rng)
	}
}

// LoadBalanced undersamples both classes down to min(count0, count1, max/2).
// Returns nil when either class is empty.
func (store *Store) LoadBalanced(max int, rng *rand.Rand) []Sample {
	if max <= 0 {
		return nil
	}
	store.mu.Lock()
	defer store.mu.Unlock()

	var out []Sample
	store.db.View(func(txn *badger.Txn) error {
		count0 := metaInt(txn, "meta:count:0", 0)
		count1 := metaInt(txn, "meta:count:1", 0)
		if count0 == 0 || count1 == 0 {
			log.Warn("[BalancedSampling] imbalanced labels: pass=%d violation=%d, skip", count0, count1)
			return nil
		}

		take := count0
		if count1 < take {
			take = count1
		}
		if target := int64(max / 2); target > 0 && take > target {
			take = target
		}
		if take == 0 {
			return nil
		}
		log.Info("[BalancedSampling] pass=%d violation=%d, undersample to %d per class", count0, count1, take)

		pass := pick(store.loadByLabel(txn, 0, count0), take, rng)
		violation := pick(store.loadByLabel(txn, 1, count1), take, rng)
		out = shuffle(append(pass, violation...), rng)
		return nil
	})
	return out
}

// LoadBalancedLatest takes the newest min(class count, max/2) per class
func (store *Store) LoadBalancedLatest(max int, rng *rand.Rand) []Sample {
	if max <= 0 {
		return nil
	}
	store.mu.Lock()
	defer store.mu.Unlock()

	var out []Sample
	store.db.View(func(txn *badger.Txn) error {
		count0 := metaInt(txn, "meta:count:0", 0)
		count1 := metaInt(txn, "meta:count:1", 0)
		target := int64(max / 2)
		if target <= 0 {
			return nil
		}
		log.Info("[CappedLatest] pass=%d violation=%d, cap %d per class", count0, count1, target)
		pass := store.loadByLabel(txn, 0, min64(count0, target))
		violation := store.loadByLabel(txn, 1, min64(count1, target))
		out = shuffle(append(pass, violation...), rng)
		return nil
	})
	return out
}

// LoadBalancedRandom takes a uniform random min(class count, max/2) per class
func (store *Store) LoadBalancedRandom(max int, rng *rand.Rand) []Sample {
	if max <= 0 {
		return nil
	}
	store.mu.Lock()
	defer store.mu.Unlock()

	var out []Sample
	store.db.View(func(txn *badger.Txn) error {
		count0 := metaInt(txn, "meta:count:0", 0)
		count1 := metaInt(txn, "meta:count:1", 0)
		target := int64(max / 2)
		if target <= 0 {
			return nil
		}
		log.Info("[CappedRandom] pass=%d violation=%d, cap %d per class", count0, count1, target)
		pass := pick(store.loadByLabel(txn, 0, count0), min64(count0, target), rng)
		violation := pick(store.loadByLabel(txn, 1, count1), min64(count1, target), rng)
		out = shuffle(append(pass, violation...), rng)
		return nil
	})
	return out
}

// CleanupExcess drops random records per class until each class fits
// max/2, keeping counters and the text-hash index consistent. Returns the
// number of deleted records.
func (store *Store) CleanupExcess(maxItems int, rng *rand.Rand) int {
	store.mu.Lock()
	defer store.mu.Unlock()

	deleted := 0
	store.db.Update(func(txn *badger.Txn) error {
		count0 := metaInt(txn, "meta:count:0", 0)
		count1 := metaInt(txn, "meta:count:1", 0)
		total := count0 + count1
		if total <= int64(maxItems) {
			log.Trace("[DBCleanup] %d samples <= cap %d, nothing to do", total, maxItems)
			return nil
		}

		target := int64(maxItems / 2)
		log.Info("[DBCleanup] pass=%d violation=%d total=%d, cap %d per class", count0, count1, total, target)

		for _, label := range []int{0, 1} {
			count := count0
			if label == 1 {
				count = count1
			}
			if count <= target {
				continue
			}
			excess := count - target
			removed := store.deleteRandom(txn, label, excess, rng)
			deleted += removed
			log.Info("[DBCleanup] deleted %d label=%d samples", removed, label)
		}
		return nil
	})
	return deleted
}

func (store *Store) deleteRandom(txn *badger.Txn, label int, count int64, rng *rand.Rand) int {
	candidates := []int64{}
	for id := metaInt(txn, "meta:next_id", 1) - 1; id > 0; id-- {
		if sample, ok := loadByID(txn, id); ok && sample.Label == label {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return 0
	}

	toDelete := candidates
	if int64(len(candidates)) > count {
		toDelete = pickIDs(candidates, count, rng)
	}

	count0 := metaInt(txn, "meta:count:0", 0)
	count1 := metaInt(txn, "meta:count:1", 0)
	removed := 0
	for _, id := range toDelete {
		sample, ok := loadByID(txn, id)
		if !ok {
			continue
		}
		if err := txn.Delete(sampleKey(id)); err != nil {
			continue
		}
		removed++
		if sample.Label == 0 {
			count0--
		} else {
			count1--
		}
		if sample.TextHash != "" {
			store.refreshTextLatest(txn, sample.TextHash, id)
		}
	}
	if count0 < 0 {
		count0 = 0
	}
	if count1 < 0 {
		count1 = 0
	}
	setCounts(txn, count0, count1)
	return removed
}

// refreshTextLatest backfills the text-hash index after deleting the
// record it pointed at
func (store *Store) refreshTextLatest(txn *badger.Txn, hash string, deletedID int64) {
	raw, has := getValue(txn, textLatestKey(hash))
	if !has {
		return
	}
	latest, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || latest != deletedID {
		return
	}
	for id := metaInt(txn, "meta:next_id", 1) - 1; id > 0; id-- {
		if sample, ok := loadByID(txn, id); ok && sample.TextHash == hash {
			txn.Set(textLatestKey(hash), []byte(strconv.FormatInt(id, 10)))
			return
		}
	}
	txn.Delete(textLatestKey(hash))
}

// Stats a point-in-time snapshot of the store counters
type Stats struct {
	Count  int64 `json:"count"`
	Pass   int64 `json:"pass"`
	Block  int64 `json:"block"`
	NextID int64 `json:"next_id"`
}

// GetStats reads all counters in one transaction
func (store *Store) GetStats() Stats {
	store.mu.Lock()
	defer store.mu.Unlock()

	stats := Stats{}
	store.db.View(func(txn *badger.Txn) error {
		stats.Count = metaInt(txn, "meta:count", 0)
		stats.Pass = metaInt(txn, "meta:count:0", 0)
		stats.Block = metaInt(txn, "meta:count:1", 0)
		stats.NextID = metaInt(txn, "meta:next_id", 1)
		return nil
	})
	return stats
}

func min64(a int64, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func shuffle(samples []Sample, rng *rand.Rand) []Sample {
	rng.Shuffle(len(samples), func(i, j int) {
		samples[i], samples[j] = samples[j], samples[i]
	})
	return samples
}

func pick(samples []Sample, count int64, rng *rand.Rand) []Sample {
	if int64(len(samples)) <= count {
		return samples
	}
	out := make([]Sample, 0, count)
	for _, idx := range rng.Perm(len(samples))[:count] {
		out = append(out, samples[idx])
	}
	return out
}

func pickIDs(ids []int64, count int64, rng *rand.Rand) []int64 {
	if int64(len(ids)) <= count {
		return ids
	}
	out := make([]int64, 0, count)
	for _, idx := range rng.Perm(len(ids))[:count] {
		out = append(out, ids[idx])
	}
	return out
}
