package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/guardianbridge/guardianbridge/config"
	"github.com/guardianbridge/guardianbridge/guard"
	"github.com/guardianbridge/guardianbridge/moderation/smart"
	"github.com/guardianbridge/guardianbridge/server"
	"github.com/guardianbridge/guardianbridge/share"
	"github.com/guardianbridge/guardianbridge/trainer"
	"github.com/yaoapp/kun/log"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: L("Start the proxy"),
	Long:  L("Start the proxy"),
	Run: func(cmd *cobra.Command, args []string) {
		Boot()

		mode := ""
		if config.Conf.Mode == "development" {
			mode = color.RedString("development")
		}
		fmt.Printf(color.GreenString("GuardianBridge v%s %s\n", share.VERSION, mode))
		fmt.Printf(color.WhiteString("---------------------------------\n"))
		fmt.Printf(color.GreenString("Listen:        http://%s:%d\n", config.Conf.Host, config.Conf.Port))
		fmt.Printf(color.GreenString("Profiles root: %s\n", config.Conf.ProfilesRoot))
		fmt.Printf(color.GreenString("Keywords:      %s\n", config.Conf.KeywordsFile))
		fmt.Printf(color.WhiteString("---------------------------------\n"))

		checkProfileEnv()

		ctx, cancel := context.WithCancel(context.Background())
		if config.Conf.Scheduler.Enabled {
			go trainer.NewScheduler().Start(ctx)
		}
		if config.Conf.Guard.Enabled {
			guard.Register(smart.ClearModelCache)
			go guard.Start(ctx)
		}

		srv := server.New()
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := srv.Start(); err != nil {
				log.Error("server: %s", err.Error())
			}
		}()

		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
		select {
		case <-interrupt:
		case <-done:
		}

		srv.Stop()
		cancel()
		fmt.Println(L("Service stopped"))
	},
}

// checkProfileEnv warns about profiles whose adjudicator key is not set,
// those will fail open on every AI review
func checkProfileEnv() {
	entries, err := os.ReadDir(config.Conf.ProfilesRoot)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		profile, err := smart.GetProfile(entry.Name())
		if err != nil {
			continue
		}
		if key := profile.Config.AI.APIKeyEnv; key != "" && os.Getenv(key) == "" {
			log.Warn("profile %s: environment variable %s is not set, AI review will fail open", profile.Name, key)
		}
	}
}
