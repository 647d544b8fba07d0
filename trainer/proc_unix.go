//go:build !windows

package trainer

import "syscall"

// processAlive reports whether a pid refers to a live process
func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

// dropPriority lowers the training process to the lowest scheduling priority
func dropPriority() {
	syscall.Setpriority(syscall.PRIO_PROCESS, 0, 19)
}
