package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/rupjae/jules/internal/app"
	"github.com/rupjae/jules/internal/config"
	"github.com/rupjae/jules/internal/pipeline"
)

// runAsk runs one conversation turn and streams the answer to stdout.
func runAsk(args []string) error {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	threadFlag := fs.String("thread", "", "existing thread id to continue")
	if err := fs.Parse(args); err != nil {
		return err
	}
	prompt := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if prompt == "" {
		return fmt.Errorf("usage: jules ask [-thread <id>] <question>")
	}

	threadID := uuid.Nil
	if *threadFlag != "" {
		var err error
		if threadID, err = uuid.Parse(*threadFlag); err != nil {
			return fmt.Errorf("invalid thread id %q: %w", *threadFlag, err)
		}
	}

	logger := initLogger()
	if err := checkRequiredEnv(); err != nil {
		return err
	}

	cfg, v, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, v, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	events, err := a.Pipeline.Run(ctx, pipeline.Request{ThreadID: threadID, Prompt: prompt})
	if err != nil {
		return err
	}

	for ev := range events {
		switch e := ev.(type) {
		case pipeline.EventFragment:
			fmt.Print(e.Text)
		case pipeline.EventTerminal:
			fmt.Println()
			fmt.Fprintf(os.Stderr, "thread: %s\n", e.ThreadID)
		case pipeline.EventError:
			fmt.Println()
			return e.Err
		}
	}
	if ctx.Err() != nil {
		fmt.Println()
		return fmt.Errorf("interrupted")
	}
	return nil
}
