package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/guardianbridge/guardianbridge/moderation/storage"
	"github.com/guardianbridge/guardianbridge/trainer"
)

var trainCmd = &cobra.Command{
	Use:   "train <profile>",
	Short: L("Train a moderation profile"),
	Long:  L("Train a moderation profile"),
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		Boot()
		code := trainer.RunTraining(args[0])
		storage.CloseAll()
		os.Exit(code)
	},
}
