package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/Gobusters/ectologger"
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/sprout/config"
)

// commandContext loads configuration and the logger once per invocation
type commandContext struct {
	envFile *string

	cfg     *config.Config
	logger  ectologger.Logger
	syncLog func()
}

func newCommandContext(envFile *string) *commandContext {
	return &commandContext{envFile: envFile}
}

func (c *commandContext) ensureConfig() (config.Config, error) {
	if c.cfg != nil {
		return *c.cfg, nil
	}
	var files []string
	if c.envFile != nil && *c.envFile != "" {
		files = append(files, *c.envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return config.Config{}, err
	}
	logger, syncLog, err := newLogger(cfg)
	if err != nil {
		return config.Config{}, err
	}
	c.cfg = &cfg
	c.logger = logger
	c.syncLog = syncLog
	return cfg, nil
}

func (c *commandContext) close() {
	if c.syncLog != nil {
		c.syncLog()
	}
}

// open loads config and wires the services for a one-shot command
func (c *commandContext) open(ctx context.Context) (*app, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return openApp(ctx, cfg, c.logger)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func newRootCommand() *cobra.Command {
	var envFlag string
	ctx := newCommandContext(&envFlag)

	rootCmd := &cobra.Command{
		Use:           "sprout",
		Short:         "Catalog entity resolution for scraped dispensary menus",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.ensureConfig()
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&envFlag, "env-file", "e", "", "Path to a .env file to load before reading the environment")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newFlagsCommand(ctx))
	rootCmd.AddCommand(newAnalyticsCommand(ctx))

	return rootCmd
}
