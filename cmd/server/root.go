package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pranavraj012/squatformanalysis/internal/config"
)

type commandContext struct {
	configFlag string
	levelFlag  string

	loader *config.Loader
	cfg    *config.Config
}

// ensureConfig loads the configuration once and applies the log level.
func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	if c.configFlag != "" {
		c.loader = config.NewFileLoader(c.configFlag)
	} else {
		c.loader = config.NewLoader()
	}
	cfg, err := c.loader.Load()
	if err != nil {
		return nil, err
	}
	if c.levelFlag != "" {
		cfg.Log.Level = c.levelFlag
		c.loader.OverrideLevel(c.levelFlag)
	}
	lvl, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	zerolog.SetGlobalLevel(lvl)
	c.cfg = cfg
	return cfg, nil
}

func initLogger() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "squatserver",
		Short:         "Exercise form analysis video service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			initLogger()
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&ctx.configFlag, "config", "c", "", "Configuration file path (default config/config.<CONFIG_ENV>.yaml)")
	rootCmd.PersistentFlags().StringVar(&ctx.levelFlag, "log-level", "", "Override log.level")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newTranscodeCommand(ctx))
	rootCmd.AddCommand(newJobsCommand(ctx))

	return rootCmd
}
