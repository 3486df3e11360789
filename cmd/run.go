package cmd

import (
	"log"

	"github.com/nicoburkart/agent-converto/converto"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Starts the Converto bot and (optionally) the operational API",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		bot, err := converto.New(cfg)
		if err != nil {
			log.Fatalf("error creating converto: %s", err.Error())
		}

		if err = bot.Run(ctx); err != nil {
			log.Fatalf("error running converto: %s", err.Error())
		}
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(runCmd)
}
