//go:build windows

package trainer

import (
	"fmt"
	"os"
	"time"
)

// acquireGlobalLock approximates the unix flock with an exclusive-create
// lock file. Stale files are left for the 2h reclamation in the profile
// lock path, which always runs first.
func acquireGlobalLock(path string, profileName string, modelType string) (release func(), held bool, err error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, true, nil
		}
		return nil, false, err
	}

	fmt.Fprintf(file, "pid=%d\nprofile=%s\nmodel=%s\ntime=%s\n",
		os.Getpid(), profileName, modelType, time.Now().Format(time.RFC3339))
	file.Close()

	return func() { os.Remove(path) }, false, nil
}
