package trainer

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yaoapp/kun/log"
)

// Locks older than this are reclaimed regardless of holder
const staleLockAfter = 2 * time.Hour

// Lock holder types as recorded in .train.lock
const (
	lockTypeSubprocess = "subprocess"
	lockTypeScheduler  = "scheduler"
)

// parseLockFile reads the key=value lines of a lock file
func parseLockFile(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	info := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		if key, value, found := strings.Cut(line, "="); found {
			info[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}
	return info, nil
}

func lockPID(info map[string]string) int {
	pid, _ := strconv.Atoi(info["pid"])
	return pid
}

func lockAge(info map[string]string) time.Duration {
	created, _ := strconv.ParseInt(info["created_at"], 10, 64)
	if created <= 0 {
		return 0
	}
	return time.Since(time.Unix(created, 0))
}

// writeProfileLock creates the lock file exclusively
func writeProfileLock(path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	hostname, _ := os.Hostname()
	_, err = fmt.Fprintf(file, "pid=%d\ncreated_at=%d\nhostname=%s\ntype=%s\n",
		os.Getpid(), time.Now().Unix(), hostname, lockTypeSubprocess)
	return err
}

// acquireProfileLock takes the per-profile training lock. It reclaims
// stale or dead-holder locks and adopts a scheduler-created lock when the
// scheduler is this process's parent. Returns held=true when another
// live holder owns the lock.
func acquireProfileLock(path string) (release func(), held bool, err error) {
	for attempt := 0; attempt < 2; attempt++ {
		createErr := writeProfileLock(path)
		if createErr == nil {
			return func() { os.Remove(path) }, false, nil
		}
		if !os.IsExist(createErr) {
			return nil, false, createErr
		}

		info, parseErr := parseLockFile(path)
		if parseErr != nil {
			// racing holder removed it, retry
			continue
		}

		pid := lockPID(info)
		if age := lockAge(info); age > staleLockAfter {
			log.Warn("[LOCK] stale lock (%.1f hours old), reclaiming: %s", age.Hours(), path)
			os.Remove(path)
			continue
		}
		if pid > 0 && !processAlive(pid) {
			log.Warn("[LOCK] lock holder pid=%d is dead, reclaiming: %s", pid, path)
			os.Remove(path)
			continue
		}
		if info["type"] == lockTypeScheduler && pid == os.Getppid() {
			log.Info("[LOCK] adopting scheduler lock from parent pid=%d: %s", pid, path)
			return func() { os.Remove(path) }, false, nil
		}
		return nil, true, nil
	}
	return nil, true, nil
}

// checkStaleLock removes an expired or dead-holder lock. Returns true
// when the lock is gone or was cleaned, false while it is validly held.
func checkStaleLock(path string) bool {
	info, err := parseLockFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true
		}
		log.Warn("[SCHEDULER] failed to read lock %s: %s", path, err.Error())
		return false
	}

	if age := lockAge(info); age > staleLockAfter {
		log.Info("[SCHEDULER] lock expired (%.1f hours), removing: %s", age.Hours(), path)
		os.Remove(path)
		return true
	}

	pid := lockPID(info)
	if info["type"] == lockTypeScheduler && pid == os.Getpid() {
		return true
	}
	if pid > 0 {
		if processAlive(pid) {
			return false
		}
		log.Info("[SCHEDULER] lock holder pid=%d is gone, removing: %s", pid, path)
		os.Remove(path)
		return true
	}
	return false
}
