package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lyzr/minutes/common/events"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Consume the extraction stream until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, cancel := signalContext(cmd.Context())
			defer cancel()

			extractor, err := ctx.setup(runCtx)
			defer ctx.shutdown()
			if err != nil {
				return err
			}
			if ctx.components.Queue == nil {
				return errors.New("extractor requires a queue")
			}

			stream := ctx.components.Config.Queue.Stream
			ctx.components.Logger.Info("extractor started", "stream", stream, "queue", ctx.components.Config.Queue.Type)
			return ctx.components.Queue.Subscribe(runCtx, stream, extractor.Handle)
		},
	}
}

func newOnceCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "once",
		Short: "Drain pending extraction messages and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, cancel := signalContext(cmd.Context())
			defer cancel()

			extractor, err := ctx.setup(runCtx)
			defer ctx.shutdown()
			if err != nil {
				return err
			}
			if ctx.components.Queue == nil {
				return errors.New("extractor requires a queue")
			}

			stream := ctx.components.Config.Queue.Stream
			handled := 0
			for limit <= 0 || handled < limit {
				ok, err := ctx.components.Queue.ReceiveOne(runCtx, stream, extractor.Handle)
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				handled++
			}
			ctx.components.Logger.Info("extraction drained", "stream", stream, "messages", handled)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of messages to handle (0 drains the stream)")
	return cmd
}

func newURLCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "url <blob-url>",
		Short: "Extract audio for a single video blob URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, cancel := signalContext(cmd.Context())
			defer cancel()

			extractor, err := ctx.setup(runCtx)
			defer ctx.shutdown()
			if err != nil {
				return err
			}

			audio, err := extractor.Process(runCtx, events.NewBlobCreated(args[0], ""))
			if err != nil {
				return err
			}
			if audio == "" {
				return fmt.Errorf("%s was skipped", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), audio)
			return nil
		},
	}
}
