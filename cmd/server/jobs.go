package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/pranavraj012/squatformanalysis/internal/adapters/jobstore"
	"github.com/pranavraj012/squatformanalysis/internal/domain"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recorded transcode jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.Storage.Database == "" {
				return errors.New("no job database configured (storage.database)")
			}
			store, err := jobstore.Open(cfg.Storage.Database)
			if err != nil {
				return err
			}
			defer store.Close()

			jobs, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs recorded")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderJobs(jobs))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of jobs to show")
	return cmd
}

func renderJobs(jobs []domain.Job) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"ID", "Status", "Mode", "Exercise", "Frames", "Processed", "Updated", "Error"})
	for _, j := range jobs {
		tw.AppendRow(table.Row{
			j.ID,
			string(j.Status),
			string(j.Mode),
			j.ExerciseType,
			formatFrames(j),
			j.Processed,
			j.UpdatedAt.Local().Format(time.DateTime),
			j.Error,
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 5, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 8, WidthMax: 48},
	})
	return tw.Render()
}

func formatFrames(j domain.Job) string {
	if j.FramesTotal <= 0 {
		return strconv.Itoa(j.FramesDone)
	}
	return fmt.Sprintf("%d/%d", j.FramesDone, j.FramesTotal)
}
