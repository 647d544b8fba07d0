package guard

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/guardianbridge/guardianbridge/config"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/yaoapp/kun/log"
)

// Releaser frees process memory, returning how many entries it dropped
type Releaser func() int

var (
	releasersMu sync.Mutex
	releasers   []Releaser
)

// Register adds a cache releaser called when RSS crosses the soft limit
func Register(release Releaser) {
	releasersMu.Lock()
	defer releasersMu.Unlock()
	releasers = append(releasers, release)
}

// Start watches process memory until the context is cancelled. Above the
// soft limit it releases registered caches, above the hard limit it
// terminates the process so the supervisor restarts it clean.
func Start(ctx context.Context) {
	interval := time.Duration(config.Conf.Guard.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Error("[GUARD] cannot inspect own process: %s", err.Error())
		return
	}

	log.Info("[GUARD] started, interval %s, soft limit %d MB, hard limit %d MB",
		interval, config.Conf.Guard.SoftLimitBytes/(1<<20), config.Conf.Guard.HardLimitBytes/(1<<20))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("[GUARD] stopped")
			return
		case <-ticker.C:
			check(proc)
		}
	}
}

func check(proc *process.Process) {
	info, err := proc.MemoryInfo()
	if err != nil {
		log.Warn("[GUARD] memory info: %s", err.Error())
		return
	}
	rss := info.RSS

	if hard := config.Conf.Guard.HardLimitBytes; hard > 0 && rss > hard {
		log.Error("[GUARD] RSS %d MB over hard limit %d MB, terminating", rss/(1<<20), hard/(1<<20))
		os.Exit(1)
	}

	if soft := config.Conf.Guard.SoftLimitBytes; soft > 0 && rss > soft {
		dropped := releaseAll()
		log.Warn("[GUARD] RSS %d MB over soft limit %d MB, released %d cache entries",
			rss/(1<<20), soft/(1<<20), dropped)
	}
}

func releaseAll() int {
	releasersMu.Lock()
	defer releasersMu.Unlock()

	total := 0
	for _, release := range releasers {
		total += release()
	}
	return total
}
