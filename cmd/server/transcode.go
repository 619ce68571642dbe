package main

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pranavraj012/squatformanalysis/internal/adapters/storage"
	"github.com/pranavraj012/squatformanalysis/internal/domain"
)

func newTranscodeCommand(ctx *commandContext) *cobra.Command {
	var mode, exercise string

	cmd := &cobra.Command{
		Use:   "transcode <input> [output]",
		Short: "Analyse a video file and write the annotated copy",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			input := args[0]
			var output string
			if len(args) == 2 {
				output = args[1]
			} else {
				ex, err := domain.NormalizeExercise(exercise)
				if err != nil {
					return err
				}
				output = filepath.Join(cfg.Storage.OutputDir, storage.OutputName(ex, filepath.Base(input)))
			}

			sigCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			svc, err := buildServices(sigCtx, cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			job, err := svc.orch.Transcode(sigCtx, input, output, mode, exercise)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %d frames  %s\n", job.ID, job.Status, job.FramesDone, output)
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(domain.ModeBeginner), "Analysis mode (Beginner or Pro)")
	cmd.Flags().StringVar(&exercise, "exercise", domain.DefaultExercise, "Exercise type")
	return cmd
}
