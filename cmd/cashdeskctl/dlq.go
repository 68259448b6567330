package main

import (
	"context"
	"fmt"

	"cashdesk/internal/infra"
	"cashdesk/internal/worker"

	"github.com/spf13/cobra"
)

func newDLQCommand(d deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay dead-lettered jobs",
	}

	var queue string
	var limit, maxAttempts int
	replay := &cobra.Command{
		Use:   "replay",
		Short: "Move dead-lettered jobs back onto their queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := d.loadConfig()
			if err != nil {
				return err
			}
			rdb, err := infra.NewRedis(cfg.RedisURL)
			if err != nil {
				return err
			}
			defer rdb.Close()

			ctx := context.Background()
			n, err := worker.ReplayDLQ(ctx, rdb, queue, limit, maxAttempts)
			if err != nil {
				return err
			}
			left, err := worker.DLQLength(ctx, rdb, queue)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d job(s) onto %s, %d left in DLQ\n", n, queue, left)
			return nil
		},
	}
	replay.Flags().StringVar(&queue, "queue", worker.QueueInvoice, "queue whose DLQ to replay")
	replay.Flags().IntVar(&limit, "limit", 50, "maximum jobs to move")
	replay.Flags().IntVar(&maxAttempts, "max-attempts", 5, "skip jobs that already failed this many times")

	cmd.AddCommand(replay)
	return cmd
}
