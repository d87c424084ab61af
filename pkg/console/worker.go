package console

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/pixelvide/luggage-go/pkg/root"
	"github.com/pixelvide/luggage-go/pkg/telemetry"
	"github.com/pixelvide/luggage-go/pkg/worker"
)

func newWorkCmd() *cobra.Command {
	var (
		once   bool
		traced bool
	)

	cmd := &cobra.Command{
		Use:     "queue:work",
		Aliases: []string{"worker"},
		Short:   "Start the queue worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			telemetry.SetGlobalLogger(cfg.LogLevel)

			opts := worker.OptionsFromConfig(cfg.Worker)
			flags := cmd.Flags()
			if flags.Changed("queue") {
				opts.Queue, _ = flags.GetString("queue")
			}
			if flags.Changed("sleep") {
				opts.Sleep, _ = flags.GetDuration("sleep")
			}
			if flags.Changed("stop-when-empty") {
				opts.StopWhenEmpty, _ = flags.GetBool("stop-when-empty")
			}
			if flags.Changed("memory") {
				opts.MemoryLimitMB, _ = flags.GetInt("memory")
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			tracer, shutdown, err := workerTracer(traced)
			if err != nil {
				return err
			}
			defer shutdown()

			conn, err := openConnection(ctx, cfg)
			if err != nil {
				return err
			}
			defer conn.Close()

			w := worker.NewWorker(conn.driver, factory(), tracer)
			w.FailedProvider = conn.failed
			w.Connection = conn.name
			w.Logger = log.Logger

			if once {
				_, err := w.RunOnce(ctx, opts)
				return err
			}

			// Handle SIGINT/SIGTERM
			c := make(chan os.Signal, 1)
			signal.Notify(c, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(c)
			go func() {
				select {
				case <-c:
					log.Info().Msg("Shutting down worker...")
					cancel()
				case <-ctx.Done():
				}
			}()

			log.Info().
				Str("connection", conn.name).
				Str("queue", opts.Queue).
				Dur("sleep", opts.Sleep).
				Msg("Starting worker...")
			return w.Run(ctx, opts)
		},
	}

	defaults := worker.DefaultOptions()
	cmd.Flags().String("queue", defaults.Queue, "Name of the queue to process")
	cmd.Flags().Duration("sleep", defaults.Sleep, "Wait between polls of an empty queue")
	cmd.Flags().Bool("stop-when-empty", false, "Stop once the queue is empty")
	cmd.Flags().Int("memory", 0, "Stop once the process uses more memory, in megabytes")
	cmd.Flags().BoolVar(&once, "once", false, "Process a single job and exit")
	cmd.Flags().BoolVar(&traced, "trace", false, "Print job spans to stderr")
	return cmd
}

// workerTracer returns a stdout-exporter tracer when enabled, otherwise nil
// so the worker falls back to the global provider.
func workerTracer(enabled bool) (trace.Tracer, func(), error) {
	if !enabled {
		return nil, func() {}, nil
	}
	tp, err := telemetry.InitTracer("luggage-worker", os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	shutdown := func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Error().Err(err).Msg("Error shutting down tracer")
		}
	}
	return tp.Tracer("worker"), shutdown, nil
}

func init() {
	root.GetRoot().AddCommand(newWorkCmd())
}
