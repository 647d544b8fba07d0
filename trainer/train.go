package trainer

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/guardianbridge/guardianbridge/config"
	"github.com/guardianbridge/guardianbridge/moderation/smart"
	"github.com/guardianbridge/guardianbridge/moderation/storage"
	"github.com/yaoapp/kun/log"
)

// Exit codes of the train subcommand. The scheduler treats 2 as
// "locked or nothing to do, try again next round".
const (
	ExitOK     = 0
	ExitFailed = 1
	ExitSkip   = 2
)

// RunTraining trains one profile under the per-profile and global locks.
// It is the body of the `train <profile>` subcommand and returns the
// process exit code.
func RunTraining(profileName string) int {
	profile, err := smart.GetProfile(profileName)
	if err != nil {
		log.Error("[TRAIN] profile %s: %s", profileName, err.Error())
		return ExitFailed
	}

	releaseProfile, held, err := acquireProfileLock(profile.LockPath())
	if err != nil {
		log.Error("[TRAIN] profile lock %s: %s", profile.LockPath(), err.Error())
		return ExitFailed
	}
	if held {
		fmt.Println("[LOCK] another training run holds the profile lock, skip this round")
		return ExitSkip
	}
	defer releaseProfile()

	globalPath := config.GlobalTrainLockPath()
	releaseGlobal, held, err := acquireGlobalLock(globalPath, profile.Name, profile.Config.LocalModelType)
	if err != nil {
		log.Error("[TRAIN] global lock %s: %s", globalPath, err.Error())
		return ExitFailed
	}
	if held {
		fmt.Println("[LOCK] global training lock held by another profile, skip this round")
		return ExitSkip
	}
	defer releaseGlobal()

	dropPriority()

	out, closeLog := trainLogWriter(profile.TrainLogPath())
	defer closeLog()
	fmt.Fprintf(out, "==== training %s (%s) started at %s ====\n",
		profile.Name, profile.Config.LocalModelType, time.Now().Format(time.RFC3339))

	WriteStatus(profile.StatusPath(), StatusStarted, "", nil)

	trainErr := func() error {
		store, err := storage.Open(profile.DBPath())
		if err != nil {
			return err
		}
		return smart.Train(profile, store)
	}()

	if trainErr != nil {
		fmt.Fprintf(out, "==== training %s failed: %s ====\n", profile.Name, trainErr.Error())
		WriteStatus(profile.StatusPath(), StatusFailed, "", trainErr)
		return ExitFailed
	}

	modelPath := ""
	if profile.ModelExists() {
		modelPath = profile.ModelPath()
	}
	fmt.Fprintf(out, "==== training %s completed at %s ====\n", profile.Name, time.Now().Format(time.RFC3339))
	WriteStatus(profile.StatusPath(), StatusCompleted, modelPath, nil)
	return ExitOK
}

// trainLogWriter tees training output to the per-profile train.log so the
// scheduler relay and the on-disk log see the same lines
func trainLogWriter(path string) (io.Writer, func()) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		log.Warn("[TRAIN] cannot open %s: %s", path, err.Error())
		return os.Stdout, func() {}
	}
	return io.MultiWriter(os.Stdout, file), func() { file.Close() }
}
