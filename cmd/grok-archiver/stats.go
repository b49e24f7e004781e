package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/grokarchiver/archiver"
)

func newStatsCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show how many images are archived per day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := archiver.LoadConfigFile(*configPath)
			if err != nil {
				return fmt.Errorf("load config %s: %w", *configPath, err)
			}
			days, err := archiver.Summarize(cfg.ArchiveRoot)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(days) == 0 {
				fmt.Fprintf(out, "No images archived in %s\n", cfg.ArchiveRoot)
				return nil
			}
			fmt.Fprintln(out, renderStats(days))
			return nil
		},
	}
}

func renderStats(days []archiver.DaySummary) string {
	rows := make([][]string, 0, len(days)+1)
	var images int
	var size int64
	for _, d := range days {
		rows = append(rows, []string{d.Date(), strconv.Itoa(d.Images), humanize.Bytes(uint64(d.Bytes))})
		images += d.Images
		size += d.Bytes
	}
	rows = append(rows, []string{"total", humanize.Comma(int64(images)), humanize.Bytes(uint64(size))})
	return renderTable([]string{"Day", "Images", "Size"}, rows, []columnAlignment{alignLeft, alignRight, alignRight})
}
