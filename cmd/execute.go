// Package cmd routes the jules CLI: one-shot questions, the HTTP server,
// and thread inspection.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/rupjae/jules/internal/log"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "0.1.0"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

// Execute is the CLI entry point, called from main. Version and help work
// without configuration; everything else loads config first.
func Execute() error {
	args := os.Args[1:]
	if len(args) == 0 {
		printHelp()
		return nil
	}

	switch args[0] {
	case "version", "--version", "-v":
		printVersion()
		return nil
	case "help", "--help", "-h":
		printHelp()
		return nil
	case "ask":
		return runAsk(args[1:])
	case "serve":
		return runServe(args[1:])
	case "threads":
		return runThreads(args[1:])
	default:
		printHelp()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// initLogger builds the process logger. DEBUG in the environment enables
// debug level; logs go to stderr so stdout stays clean for answers.
func initLogger() *slog.Logger {
	cfg := log.Config{Level: slog.LevelInfo}
	if os.Getenv("DEBUG") != "" {
		cfg.Level = slog.LevelDebug
	}
	logger := log.NewWithWriter(os.Stderr, cfg)
	slog.SetDefault(logger)
	return logger
}

// checkRequiredEnv verifies the model provider credential is present.
func checkRequiredEnv() error {
	if os.Getenv("GEMINI_API_KEY") == "" {
		fmt.Fprintln(os.Stderr, "Error: GEMINI_API_KEY environment variable not set")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "jules requires a Gemini API key:")
		fmt.Fprintln(os.Stderr, "  export GEMINI_API_KEY=your-api-key")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Get a key at: https://ai.google.dev/")
		return fmt.Errorf("GEMINI_API_KEY not set")
	}
	return nil
}

func printVersion() {
	fmt.Printf("jules v%s\n", AppVersion)
	fmt.Printf("Build: %s\n", BuildTime)
	fmt.Printf("Commit: %s\n", GitCommit)
}

func printHelp() {
	fmt.Println("jules - retrieval-augmented conversation service")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  jules ask <question>            Ask a one-shot question (new thread)")
	fmt.Println("  jules ask -thread <id> <q>      Continue an existing thread")
	fmt.Println("  jules serve [addr]              Start the HTTP/SSE server")
	fmt.Println("  jules threads                   List stored threads")
	fmt.Println("  jules threads show <id>         Print a thread's messages")
	fmt.Println("  jules version                   Show version information")
	fmt.Println("  jules help                      Show this help")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY      Required: Gemini API key")
	fmt.Println("  DATABASE_URL        Optional: overrides configured Postgres settings")
	fmt.Println("  JULES_AUTH_TOKEN    Optional: bearer token guarding the HTTP API")
	fmt.Println("  DEBUG               Optional: enable debug logging")
}
