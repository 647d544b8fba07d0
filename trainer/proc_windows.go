//go:build windows

package trainer

import "os"

// processAlive reports whether a pid refers to a live process. Windows
// has no signal 0, FindProcess succeeding is the best available check.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	proc.Release()
	return true
}

func dropPriority() {}
