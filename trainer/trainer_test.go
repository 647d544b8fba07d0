package trainer

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/guardianbridge/guardianbridge/moderation/smart"
	"github.com/guardianbridge/guardianbridge/moderation/storage"
)

func writeTrainerProfile(t *testing.T, root string, name string, cfg string) *smart.Profile {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile.json"), []byte(cfg), 0644))
	profile, err := smart.GetProfileIn(root, name)
	require.NoError(t, err)
	return profile
}

func writeLock(t *testing.T, path string, pid int, createdAt time.Time, lockType string) {
	t.Helper()
	content := fmt.Sprintf("pid=%d\ncreated_at=%d\nhostname=test\ntype=%s\n",
		pid, createdAt.Unix(), lockType)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestParseLockFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".train.lock")
	writeLock(t, path, 1234, time.Now(), lockTypeSubprocess)

	info, err := parseLockFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1234, lockPID(info))
	assert.Equal(t, lockTypeSubprocess, info["type"])
	assert.Equal(t, "test", info["hostname"])
	assert.Less(t, lockAge(info), time.Minute)
}

func TestAcquireProfileLock(t *testing.T) {
	t.Run("fresh acquire and release", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".train.lock")
		release, held, err := acquireProfileLock(path)
		require.NoError(t, err)
		require.False(t, held)

		info, err := parseLockFile(path)
		require.NoError(t, err)
		assert.Equal(t, os.Getpid(), lockPID(info))

		release()
		_, statErr := os.Stat(path)
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("held by live process", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".train.lock")
		// our own pid is definitely alive
		writeLock(t, path, os.Getpid(), time.Now(), lockTypeSubprocess)

		_, held, err := acquireProfileLock(path)
		require.NoError(t, err)
		assert.True(t, held)
	})

	t.Run("stale lock reclaimed", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".train.lock")
		writeLock(t, path, os.Getpid(), time.Now().Add(-3*time.Hour), lockTypeSubprocess)

		release, held, err := acquireProfileLock(path)
		require.NoError(t, err)
		require.False(t, held)
		release()
	})

	t.Run("dead holder reclaimed", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".train.lock")
		// pids this large never exist on linux
		writeLock(t, path, 1<<22+12345, time.Now(), lockTypeSubprocess)

		release, held, err := acquireProfileLock(path)
		require.NoError(t, err)
		require.False(t, held)
		release()
	})

	t.Run("scheduler lock from parent adopted", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".train.lock")
		writeLock(t, path, os.Getppid(), time.Now(), lockTypeScheduler)

		release, held, err := acquireProfileLock(path)
		require.NoError(t, err)
		require.False(t, held)
		release()
	})
}

func TestCheckStaleLock(t *testing.T) {
	t.Run("missing lock is clear", func(t *testing.T) {
		assert.True(t, checkStaleLock(filepath.Join(t.TempDir(), ".train.lock")))
	})

	t.Run("live holder keeps the lock", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".train.lock")
		writeLock(t, path, os.Getpid(), time.Now(), lockTypeSubprocess)
		assert.False(t, checkStaleLock(path))
	})

	t.Run("expired lock removed", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".train.lock")
		writeLock(t, path, os.Getpid(), time.Now().Add(-3*time.Hour), lockTypeSubprocess)
		assert.True(t, checkStaleLock(path))
		_, statErr := os.Stat(path)
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("own scheduler lock is owned", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".train.lock")
		writeLock(t, path, os.Getpid(), time.Now(), lockTypeScheduler)
		assert.True(t, checkStaleLock(path))
	})

	t.Run("dead holder removed", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".train.lock")
		writeLock(t, path, 1<<22+54321, time.Now(), lockTypeSubprocess)
		assert.True(t, checkStaleLock(path))
	})
}

func TestGlobalLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".global_train.lock")

	release, held, err := acquireGlobalLock(path, "tenant", "bow")
	require.NoError(t, err)
	require.False(t, held)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), fmt.Sprintf("pid=%d", os.Getpid()))
	assert.Contains(t, string(raw), "profile=tenant")
	assert.Contains(t, string(raw), "model=bow")

	release()
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestStatusRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".train_status.json")

	WriteStatus(path, StatusCompleted, "/models/bow.model", nil)
	status, err := ReadStatus(path)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status.Status)
	assert.Equal(t, os.Getpid(), status.PID)
	assert.Equal(t, "/models/bow.model", status.ModelPath)
	assert.Empty(t, status.Error)
	assert.WithinDuration(t, time.Now(), statusTime(status), time.Minute)
}

func TestStatusErrorTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".train_status.json")
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}

	WriteStatus(path, StatusFailed, "", fmt.Errorf("%s", long))
	status, err := ReadStatus(path)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status.Status)
	assert.Len(t, status.Error, 500)
}

func TestShouldTrain(t *testing.T) {
	root := t.TempDir()
	profile := writeTrainerProfile(t, root, "tenant", `{
		"local_model_type": "bow",
		"bow_training": {"min_samples": 4, "retrain_interval_minutes": 60}
	}`)

	store, err := storage.Open(profile.DBPath())
	require.NoError(t, err)
	defer store.Close()

	due, err := shouldTrain(profile)
	require.NoError(t, err)
	assert.False(t, due, "empty store is below min_samples")

	for i := 0; i < 4; i++ {
		_, err := store.SaveSample(fmt.Sprintf("sample %d", i), i%2, "")
		require.NoError(t, err)
	}

	due, err = shouldTrain(profile)
	require.NoError(t, err)
	assert.True(t, due, "enough samples and no model yet")

	// a fresh model suppresses retraining until the interval passes
	require.NoError(t, os.WriteFile(profile.BowModelPath(), []byte("model"), 0644))
	due, err = shouldTrain(profile)
	require.NoError(t, err)
	assert.False(t, due)

	stale := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(profile.BowModelPath(), stale, stale))
	due, err = shouldTrain(profile)
	require.NoError(t, err)
	assert.True(t, due)
}

func TestSchedulerProfileNames(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "with"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "with", "profile.json"), []byte(`{}`), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "without"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "stray.txt"), []byte("x"), 0644))

	scheduler := &Scheduler{root: root, interval: time.Minute}
	assert.Equal(t, []string{"with"}, scheduler.profileNames())
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, exitCode(nil))
	assert.Equal(t, ExitFailed, exitCode(fmt.Errorf("not an exit error")))
}
