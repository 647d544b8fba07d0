//go:build !windows

package trainer

import (
	"fmt"
	"os"
	"syscall"
	"time"
)

// acquireGlobalLock serializes training across all profiles with an
// advisory flock at the profiles root. Returns held=true when another
// training run holds it.
func acquireGlobalLock(path string, profileName string, modelType string) (release func(), held bool, err error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, false, err
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		if err == syscall.EWOULDBLOCK {
			return nil, true, nil
		}
		return nil, false, err
	}

	file.Truncate(0)
	file.Seek(0, 0)
	fmt.Fprintf(file, "pid=%d\nprofile=%s\nmodel=%s\ntime=%s\n",
		os.Getpid(), profileName, modelType, time.Now().Format(time.RFC3339))
	file.Sync()

	return func() {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		os.Remove(path)
	}, false, nil
}
