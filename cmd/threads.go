package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/rupjae/jules/internal/config"
	"github.com/rupjae/jules/internal/database"
	"github.com/rupjae/jules/internal/thread"
)

const threadListLimit = 50

// runThreads lists stored threads or prints one thread's messages. Talks to
// the database only; no model credentials needed.
func runThreads(args []string) error {
	logger := initLogger()

	cfg, _, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, cleanup, err := database.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer cleanup()

	store := thread.New(pool, cfg.Tuning.MaxContentLength, logger)

	if len(args) > 0 && args[0] == "show" {
		if len(args) < 2 {
			return fmt.Errorf("usage: jules threads show <id>")
		}
		return showThread(ctx, store, args[1])
	}
	return listThreads(ctx, store)
}

func listThreads(ctx context.Context, store *thread.Store) error {
	threads, err := store.List(ctx, threadListLimit, 0)
	if err != nil {
		return fmt.Errorf("listing threads: %w", err)
	}
	if len(threads) == 0 {
		fmt.Println("no threads")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUPDATED\tTITLE")
	for _, t := range threads {
		fmt.Fprintf(w, "%s\t%s\t%s\n", t.ID, t.UpdatedAt.Local().Format("2006-01-02 15:04"), t.Title)
	}
	return w.Flush()
}

func showThread(ctx context.Context, store *thread.Store, rawID string) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("invalid thread id %q: %w", rawID, err)
	}

	t, err := store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("loading thread: %w", err)
	}
	msgs, err := store.History(ctx, id)
	if err != nil {
		return fmt.Errorf("loading messages: %w", err)
	}

	fmt.Printf("%s (%s)\n\n", t.Title, t.ID)
	for _, m := range msgs {
		fmt.Printf("[%d] %s:\n%s\n\n", m.SequenceNumber, m.Role, m.Content)
	}
	return nil
}
