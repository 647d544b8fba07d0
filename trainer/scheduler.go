package trainer

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/guardianbridge/guardianbridge/config"
	"github.com/guardianbridge/guardianbridge/moderation/smart"
	"github.com/guardianbridge/guardianbridge/moderation/storage"
	"github.com/yaoapp/kun/log"
)

// Cooldown after a failed run before the scheduler retries a profile
const failedCooldown = 30 * time.Minute

// Scheduler periodically retrains profiles whose samples outgrew their model
type Scheduler struct {
	root     string
	interval time.Duration
	running  sync.Map // profile name -> struct{}
}

// NewScheduler builds a scheduler over the configured profiles root
func NewScheduler() *Scheduler {
	interval := time.Duration(config.Conf.Scheduler.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Scheduler{root: config.Conf.ProfilesRoot, interval: interval}
}

// Start runs the scheduling loop until the context is cancelled. The
// first round runs immediately.
func (scheduler *Scheduler) Start(ctx context.Context) {
	log.Info("[SCHEDULER] started, interval %s, profiles root %s", scheduler.interval, scheduler.root)
	ticker := time.NewTicker(scheduler.interval)
	defer ticker.Stop()

	scheduler.runRound(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info("[SCHEDULER] stopped")
			return
		case <-ticker.C:
			scheduler.runRound(ctx)
		}
	}
}

func (scheduler *Scheduler) runRound(ctx context.Context) {
	for _, name := range scheduler.profileNames() {
		if ctx.Err() != nil {
			return
		}
		scheduler.maybeTrain(ctx, name)
	}
}

// profileNames lists the subdirectories that carry a profile.json
func (scheduler *Scheduler) profileNames() []string {
	entries, err := os.ReadDir(scheduler.root)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("[SCHEDULER] cannot read profiles root %s: %s", scheduler.root, err.Error())
		}
		return nil
	}

	names := []string{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(scheduler.root, entry.Name(), "profile.json")); err == nil {
			names = append(names, entry.Name())
		}
	}
	return names
}

func (scheduler *Scheduler) maybeTrain(ctx context.Context, name string) {
	if _, busy := scheduler.running.LoadOrStore(name, struct{}{}); busy {
		return
	}
	defer scheduler.running.Delete(name)

	profile, err := smart.GetProfile(name)
	if err != nil {
		log.Warn("[SCHEDULER] profile %s: %s", name, err.Error())
		return
	}

	if !checkStaleLock(profile.LockPath()) {
		log.Trace("[SCHEDULER] profile %s is locked, skip", name)
		return
	}
	if scheduler.inFailedCooldown(profile) {
		return
	}

	due, err := shouldTrain(profile)
	if err != nil {
		log.Warn("[SCHEDULER] profile %s: %s", name, err.Error())
		return
	}
	if !due {
		return
	}

	scheduler.runTrainingSubprocess(ctx, profile)
}

// inFailedCooldown holds a profile back for a while after a failed run
func (scheduler *Scheduler) inFailedCooldown(profile *smart.Profile) bool {
	status, err := ReadStatus(profile.StatusPath())
	if err != nil || status.Status != StatusFailed {
		return false
	}
	since := time.Since(statusTime(status))
	if since < failedCooldown {
		log.Info("[SCHEDULER] profile %s failed %.0f minutes ago, cooling down", profile.Name, since.Minutes())
		return true
	}
	return false
}

// shouldTrain reports whether the sample store outgrew the current model
func shouldTrain(profile *smart.Profile) (bool, error) {
	minSamples, retrainMinutes := profile.Training()

	store, err := storage.Open(profile.DBPath())
	if err != nil {
		return false, err
	}
	if stats := store.GetStats(); stats.Count < int64(minSamples) {
		log.Trace("[SCHEDULER] profile %s below min samples: %d/%d (pass=%d block=%d)",
			profile.Name, stats.Count, minSamples, stats.Pass, stats.Block)
		return false, nil
	}

	info, err := os.Stat(profile.ModelPath())
	if err != nil {
		return true, nil
	}
	return time.Since(info.ModTime()) > time.Duration(retrainMinutes)*time.Minute, nil
}

// runTrainingSubprocess spawns `<self> train <profile>` and relays its
// output line by line into the scheduler log
func (scheduler *Scheduler) runTrainingSubprocess(ctx context.Context, profile *smart.Profile) {
	log.Info("[SCHEDULER] training %s (%s)", profile.Name, profile.Config.LocalModelType)

	cmd := exec.CommandContext(ctx, os.Args[0], "train", profile.Name)
	cmd.Env = os.Environ()
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		log.Error("[SCHEDULER] training %s: %s", profile.Name, err.Error())
		return
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		log.Error("[SCHEDULER] training %s: %s", profile.Name, err.Error())
		return
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		log.Info("[TRAIN:%s] %s", profile.Name, scanner.Text())
	}

	err = cmd.Wait()
	switch code := exitCode(err); code {
	case ExitOK:
		log.Info("[SCHEDULER] training %s completed", profile.Name)
	case ExitSkip:
		log.Info("[SCHEDULER] training %s locked elsewhere, skip this round", profile.Name)
	default:
		log.Error("[SCHEDULER] training %s failed with exit code %d", profile.Name, code)
	}
}

func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if exit, ok := err.(*exec.ExitError); ok {
		return exit.ExitCode()
	}
	return ExitFailed
}

// String describes the scheduler for startup logs
func (scheduler *Scheduler) String() string {
	return fmt.Sprintf("scheduler(interval=%s root=%s)", scheduler.interval, scheduler.root)
}
