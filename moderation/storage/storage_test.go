package storage

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveAndCounters(t *testing.T) {
	store := openTemp(t)

	id1, err := store.SaveSample("hello", 0, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id1)

	_, err = store.SaveSample("world", 0, "")
	require.NoError(t, err)
	id3, err := store.SaveSample("bad stuff", 1, "abuse")
	require.NoError(t, err)

	assert.Equal(t, int64(3), store.SampleCount())
	count0, count1 := store.LabelCounts()
	assert.Equal(t, int64(2), count0)
	assert.Equal(t, int64(1), count1)
	assert.Equal(t, store.SampleCount(), count0+count1)
	assert.Equal(t, int64(4), store.NextID())

	sample, has := store.GetSample(id3)
	require.True(t, has)
	assert.Equal(t, "bad stuff", sample.Text)
	assert.Equal(t, 1, sample.Label)
	assert.Equal(t, "abuse", sample.Category)
	assert.NotEmpty(t, sample.CreatedAt)
}

func TestFindByText(t *testing.T) {
	store := openTemp(t)

	first, err := store.SaveSample("repeat", 0, "")
	require.NoError(t, err)
	second, err := store.SaveSample("repeat", 1, "")
	require.NoError(t, err)
	require.Greater(t, second, first)

	sample, has := store.FindByText("repeat")
	require.True(t, has)
	assert.Equal(t, second, sample.ID)
	assert.Equal(t, 1, sample.Label)

	_, has = store.FindByText("missing")
	assert.False(t, has)
}

func TestLoadLatest(t *testing.T) {
	store := openTemp(t)
	for i := 0; i < 5; i++ {
		_, err := store.SaveSample(fmt.Sprintf("text-%d", i), i%2, "")
		require.NoError(t, err)
	}

	samples := store.LoadLatest(3)
	require.Len(t, samples, 3)
	assert.Equal(t, "text-4", samples[0].Text)
	assert.Equal(t, "text-3", samples[1].Text)
	assert.Equal(t, "text-2", samples[2].Text)
}

func TestBalancedSampling(t *testing.T) {
	store := openTemp(t)
	for i := 0; i < 6; i++ {
		_, err := store.SaveSample(fmt.Sprintf("pass-%d", i), 0, "")
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		_, err := store.SaveSample(fmt.Sprintf("bad-%d", i), 1, "")
		require.NoError(t, err)
	}

	rng := rand.New(rand.NewSource(42))
	samples := store.LoadBalanced(100, rng)
	require.Len(t, samples, 4)
	byLabel := map[int]int{}
	for _, sample := range samples {
		byLabel[sample.Label]++
	}
	assert.Equal(t, 2, byLabel[0])
	assert.Equal(t, 2, byLabel[1])

	// deterministic given the seed
	again := store.LoadBalanced(100, rand.New(rand.NewSource(42)))
	ids := func(list []Sample) []int64 {
		out := []int64{}
		for _, s := range list {
			out = append(out, s.ID)
		}
		return out
	}
	assert.Equal(t, ids(samples), ids(again))
}

func TestBalancedSamplingEmptyClass(t *testing.T) {
	store := openTemp(t)
	for i := 0; i < 4; i++ {
		_, err := store.SaveSample(fmt.Sprintf("pass-%d", i), 0, "")
		require.NoError(t, err)
	}
	assert.Empty(t, store.LoadBalanced(100, rand.New(rand.NewSource(1))))
}

func TestLoadByStrategy(t *testing.T) {
	store := openTemp(t)
	for i := 0; i < 4; i++ {
		_, err := store.SaveSample(fmt.Sprintf("pass-%d", i), 0, "")
		require.NoError(t, err)
		_, err = store.SaveSample(fmt.Sprintf("bad-%d", i), 1, "")
		require.NoError(t, err)
	}

	rng := rand.New(rand.NewSource(7))
	assert.Len(t, store.LoadByStrategy(StrategyLatestFull, 4, rng), 4)
	assert.Len(t, store.LoadByStrategy(StrategyRandomFull, 4, rng), 4)
	assert.Len(t, store.LoadByStrategy(StrategyBalancedUndersample, 4, rng), 4)
}

func TestCleanupExcess(t *testing.T) {
	store := openTemp(t)
	for i := 0; i < 6; i++ {
		_, err := store.SaveSample(fmt.Sprintf("pass-%d", i), 0, "")
		require.NoError(t, err)
		_, err = store.SaveSample(fmt.Sprintf("bad-%d", i), 1, "")
		require.NoError(t, err)
	}

	deleted := store.CleanupExcess(4, rand.New(rand.NewSource(3)))
	assert.Equal(t, 8, deleted)

	count0, count1 := store.LabelCounts()
	assert.Equal(t, int64(2), count0)
	assert.Equal(t, int64(2), count1)
	assert.Equal(t, store.SampleCount(), count0+count1)

	// under the cap, nothing happens
	assert.Equal(t, 0, store.CleanupExcess(100, rand.New(rand.NewSource(3))))
}

func TestIndexBackfillAfterDelete(t *testing.T) {
	store := openTemp(t)

	// three records share a text so deletion forces an index backfill
	for i := 0; i < 3; i++ {
		_, err := store.SaveSample("dup", 1, "")
		require.NoError(t, err)
	}

	assert.Equal(t, 2, store.CleanupExcess(2, rand.New(rand.NewSource(9))))

	count0, count1 := store.LabelCounts()
	assert.Equal(t, int64(0), count0)
	assert.Equal(t, int64(1), count1)

	sample, has := store.FindByText("dup")
	require.True(t, has)
	assert.Equal(t, "dup", sample.Text)
}

func TestMigration(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "history.db")

	legacy, err := sqlx.Connect("sqlite3", dbPath)
	require.NoError(t, err)
	_, err = legacy.Exec(`CREATE TABLE samples (
		id INTEGER PRIMARY KEY,
		text TEXT, label INTEGER, category TEXT, created_at TEXT)`)
	require.NoError(t, err)
	for i := 1; i <= 5; i++ {
		_, err = legacy.Exec("INSERT INTO samples (id, text, label, category, created_at) VALUES (?, ?, ?, ?, ?)",
			i, fmt.Sprintf("legacy-%d", i), i%2, "", "2024-01-01 00:00:00")
		require.NoError(t, err)
	}
	require.NoError(t, legacy.Close())

	store, err := Open(dbPath)
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, int64(5), store.SampleCount())
	assert.Equal(t, int64(6), store.NextID())

	sample, has := store.GetSample(5)
	require.True(t, has)
	assert.Equal(t, "legacy-5", sample.Text)

	_, err = os.Stat(dbPath + ".bak")
	assert.NoError(t, err)
	_, err = os.Stat(dbPath)
	assert.True(t, os.IsNotExist(err))

	// appends continue above the migrated ids
	id, err := store.SaveSample("fresh", 0, "")
	require.NoError(t, err)
	assert.Equal(t, int64(6), id)
}
