package console

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pixelvide/luggage-go/pkg/queue"
	"github.com/pixelvide/luggage-go/pkg/root"
)

func newDispatchCmd() *cobra.Command {
	var (
		queueName string
		delay     time.Duration
		tries     int
	)

	cmd := &cobra.Command{
		Use:   "queue:dispatch <jobType> [json-payload]",
		Short: "Push a job onto a queue",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			payload := queue.Payload{}
			if len(args) == 2 {
				payload, err = queue.DecodePayload([]byte(args[1]))
				if err != nil {
					return fmt.Errorf("payload must be a JSON object: %w", err)
				}
			}

			if !cmd.Flags().Changed("tries") {
				tries = cfg.Worker.MaxAttempts
			}

			conn, err := openConnection(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer conn.Close()

			id, err := queue.NewPublisher(conn.driver).DispatchToQueue(cmd.Context(), queueName, args[0], payload,
				queue.WithDelay(delay),
				queue.WithMaxAttempts(tries),
			)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	cmd.Flags().StringVar(&queueName, "queue", queue.DefaultQueue, "Queue to push onto")
	cmd.Flags().DurationVar(&delay, "delay", 0, "Delay before the job becomes available")
	cmd.Flags().IntVar(&tries, "tries", queue.DefaultMaxAttempts, "Maximum attempts")
	return cmd
}

func newFailedCmd() *cobra.Command {
	var queueName string

	cmd := &cobra.Command{
		Use:   "queue:failed",
		Short: "List dead-lettered jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			conn, err := openConnection(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer conn.Close()

			lister, ok := conn.driver.(deadLetterLister)
			if !ok {
				return fmt.Errorf("connection %s cannot list failed jobs", conn.name)
			}
			dead, err := lister.DeadLetters(cmd.Context(), queueName)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tJOB\tATTEMPTS\tFAILED AT\tERROR")
			for _, dl := range dead {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
					dl.Envelope.ID,
					dl.Envelope.JobType,
					dl.Envelope.Attempts,
					dl.FailedAt.UTC().Format(time.RFC3339),
					dl.Error.Message,
				)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&queueName, "queue", queue.DefaultQueue, "Queue to inspect")
	return cmd
}

func newRecoverCmd() *cobra.Command {
	var queueName string

	cmd := &cobra.Command{
		Use:   "queue:recover <id>",
		Short: "Return a stuck reserved job to the ready state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			conn, err := openConnection(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer conn.Close()

			r, ok := conn.driver.(recoverer)
			if !ok {
				return fmt.Errorf("connection %s does not support recovery", conn.name)
			}
			if err := r.Recover(cmd.Context(), queueName, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recovered %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&queueName, "queue", queue.DefaultQueue, "Queue holding the job")
	return cmd
}

func init() {
	root.GetRoot().AddCommand(newDispatchCmd(), newFailedCmd(), newRecoverCmd())
}
