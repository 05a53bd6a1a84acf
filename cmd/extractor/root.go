package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lyzr/minutes/cmd/extractor/service"
	"github.com/lyzr/minutes/common/bootstrap"
	"github.com/lyzr/minutes/common/eventfilter"
	"github.com/lyzr/minutes/common/transcode"
)

const (
	serviceName = "minutes-extractor"
	dedupeTTL   = 24 * time.Hour
)

// commandContext lazily bootstraps the shared components for a subcommand.
type commandContext struct {
	envFile    *string
	components *bootstrap.Components
	extractor  *service.Extractor
}

func newRootCommand() *cobra.Command {
	var envFile string
	ctx := &commandContext{envFile: &envFile}

	rootCmd := &cobra.Command{
		Use:           "extractor",
		Short:         "Extract speech-ready audio from uploaded meeting recordings",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Optional .env file to load before reading configuration")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newOnceCommand(ctx))
	rootCmd.AddCommand(newURLCommand(ctx))
	return rootCmd
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func (c *commandContext) setup(ctx context.Context) (*service.Extractor, error) {
	if c.extractor != nil {
		return c.extractor, nil
	}
	if *c.envFile != "" {
		if err := godotenv.Load(*c.envFile); err != nil {
			return nil, err
		}
	} else {
		_ = godotenv.Load()
	}

	components, err := bootstrap.Setup(ctx, serviceName)
	if err != nil {
		return nil, err
	}
	c.components = components

	cfg := components.Config
	filter, err := eventfilter.New(cfg.Filters.Extraction)
	if err != nil {
		return nil, err
	}

	var dedupe service.Deduper = service.NewMemoryDeduper()
	if components.Redis != nil {
		dedupe = service.NewRedisDeduper(components.Redis, cfg.Extraction.VisibilityTimeout, dedupeTTL)
	}

	transcoder := transcode.NewFFmpeg(cfg.Extraction.FFmpegPath, cfg.Extraction.AudioFormat, cfg.Extraction.MP3Bitrate, transcode.NewExecutor())
	c.extractor = service.NewExtractor(components.Store, transcoder, cfg, service.Options{
		Filter:  filter,
		Dedupe:  dedupe,
		Journal: components.Journal,
	}, components.Logger)
	return c.extractor, nil
}

func (c *commandContext) shutdown() {
	if c.components != nil {
		_ = c.components.Shutdown(context.Background())
	}
}
