package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tillpoint/pos-core/internal/db"
	"github.com/tillpoint/pos-core/internal/logging"
	"github.com/tillpoint/pos-core/internal/sync/queue"
)

// QueueOptions holds flags for the queue subcommands.
type QueueOptions struct {
	*RootOptions
	JSON bool
}

// NewQueueCommand creates the queue command group for inspecting and
// repairing the local delivery queue while the daemon is stopped.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and repair the local delivery queue",
	}

	cmd.PersistentFlags().BoolVar(&opts.JSON, "json", false, "output as JSON")

	cmd.AddCommand(newQueueListCommand(opts))
	cmd.AddCommand(newQueueAbandonedCommand(opts))
	cmd.AddCommand(newQueueRetryCommand(opts))
	cmd.AddCommand(newQueueClearCommand(opts))

	return cmd
}

// openQueue opens the database and builds a queue without any handlers.
// Handler-free queues can list, retry and clear but never deliver.
func openQueue(opts *QueueOptions) (*queue.DurableQueue, func(), error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logging.Init(os.Stderr, logging.ParseLevel(cfg.LogLevel))

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}

	q := queue.New(db.NewQueueStore(database), queue.Config{MaxRetries: cfg.MaxRetries})
	if err := q.Initialize(); err != nil {
		database.Close()
		return nil, nil, err
	}

	return q, func() { database.Close() }, nil
}

func newQueueListCommand(opts *QueueOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending queue items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, closeDB, err := openQueue(opts)
			if err != nil {
				return err
			}
			defer closeDB()

			items, err := q.GetAllPending()
			if err != nil {
				return err
			}

			if opts.JSON {
				return printJSON(cmd, items)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tATTEMPTS\tCREATED")
			for _, item := range items {
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\n",
					item.ID, item.Type, item.Attempts,
					item.Created().Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func newQueueAbandonedCommand(opts *QueueOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "abandoned",
		Short: "List abandoned queue items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, closeDB, err := openQueue(opts)
			if err != nil {
				return err
			}
			defer closeDB()

			items, err := q.GetAbandonedItems()
			if err != nil {
				return err
			}

			if opts.JSON {
				return printJSON(cmd, items)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tATTEMPTS\tABANDONED\tREASON")
			for _, entry := range items {
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n",
					entry.Item.ID, entry.Item.Type, entry.Item.Attempts,
					entry.Abandoned().Format(time.RFC3339), entry.Reason)
			}
			return w.Flush()
		},
	}
}

func newQueueRetryCommand(opts *QueueOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Move an abandoned item back into the pending queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid item id %q", args[0])
			}

			q, closeDB, err := openQueue(opts)
			if err != nil {
				return err
			}
			defer closeDB()

			retried, err := q.RetryAbandonedItem(id)
			if err != nil {
				return err
			}
			if !retried {
				return fmt.Errorf("no abandoned item with id %d", id)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "item %d requeued\n", id)
			return nil
		},
	}
}

func newQueueClearCommand(opts *QueueOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <id>",
		Short: "Permanently discard an abandoned item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid item id %q", args[0])
			}

			q, closeDB, err := openQueue(opts)
			if err != nil {
				return err
			}
			defer closeDB()

			cleared, err := q.ClearAbandonedItem(id)
			if err != nil {
				return err
			}
			if !cleared {
				return fmt.Errorf("no abandoned item with id %d", id)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "item %d cleared\n", id)
			return nil
		},
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
