package cmd

import (
	"fmt"
	"log"

	"github.com/nicoburkart/agent-converto/converto"
	"github.com/spf13/cobra"
)

var (
	indexCheck bool
	indexLimit int
)

var indexCmd = &cobra.Command{
	Use:   "index [flags]",
	Short: "Index new Notion pages into the knowledge base, then exit",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		bot, err := converto.New(cfg)
		if err != nil {
			log.Fatalf("error creating converto: %s", err.Error())
		}

		if indexCheck {
			count, chunks, checkErr := bot.CheckStore(ctx, indexLimit)
			if checkErr != nil {
				log.Fatalf("error checking store: %s", checkErr.Error())
			}
			fmt.Printf("%d chunks stored\n", count)
			for _, chunk := range chunks {
				fmt.Printf(
					"%s (course=%q title=%q chunk=%d): %.80s\n",
					chunk.ID,
					chunk.Course,
					chunk.Title,
					chunk.ChunkIndex,
					chunk.Content,
				)
			}
			return
		}

		report, err := bot.Index(ctx)
		if err != nil {
			log.Fatalf("error indexing: %s", err.Error())
		}
		fmt.Println(report.String())
		if len(report.Failed) > 0 {
			for _, pageID := range report.Failed {
				fmt.Printf("failed: %s\n", pageID)
			}
		}
	},
}

//nolint:gochecknoinits
func init() {
	indexCmd.Flags().BoolVar(
		&indexCheck,
		"check",
		false,
		"Print stored chunk counts instead of indexing",
	)
	indexCmd.Flags().IntVar(
		&indexLimit,
		"limit",
		10,
		"Number of chunks to print with --check",
	)
	rootCmd.AddCommand(indexCmd)
}
