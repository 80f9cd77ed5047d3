// Command redisq-bench measures push and pull throughput of string and
// JSON queues against a live Redis server.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/aura-studio/redisq"
)

type config struct {
	Addr     string
	Ops      int
	Interval time.Duration
	Verbose  bool
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func newRootCmd() *cobra.Command {
	cfg := config{}
	cmd := &cobra.Command{
		Use:           "redisq-bench",
		Short:         "Benchmark redisq push/pull against a Redis server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Ops <= 0 {
				return fmt.Errorf("--ops must be positive, got %d", cfg.Ops)
			}
			level := slog.LevelInfo
			if cfg.Verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			return run(cmd.Context(), cmd.OutOrStdout(), cfg, logger)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.Addr, "addr", getEnv("REDIS_ADDR", redisq.DefaultAddr), "Redis address (env REDIS_ADDR)")
	f.IntVarP(&cfg.Ops, "ops", "n", getEnvInt("REDISQ_OPS", 1000), "operations per benchmark (env REDISQ_OPS)")
	f.DurationVar(&cfg.Interval, "interval", time.Second, "blocking read timeout per pull")
	f.BoolVarP(&cfg.Verbose, "verbose", "v", false, "debug logging")
	return cmd
}

func run(ctx context.Context, out io.Writer, cfg config, logger *slog.Logger) error {
	strQ, err := redisq.New(uuid.NewString(), redisq.String(),
		redisq.WithAddr(cfg.Addr), redisq.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() { _ = strQ.Stop() }()

	jsonQ, err := redisq.New(uuid.NewString(), redisq.JSON[map[string]any](),
		redisq.WithAddr(cfg.Addr), redisq.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() { _ = jsonQ.Stop() }()

	benches := []struct {
		name string
		fn   func() error
	}{
		{"benchStringQPush", func() error { return strQ.Push(ctx, "hello world 42") }},
		{"benchStringQPull", func() error { return pullOne(ctx, strQ, cfg.Interval) }},
		{"benchJsonQPush", func() error { return jsonQ.Push(ctx, map[string]any{"hello": "world", "answer": 42}) }},
		{"benchJsonQPull", func() error { return pullOne(ctx, jsonQ, cfg.Interval) }},
	}
	for _, b := range benches {
		start := time.Now()
		for i := 0; i < cfg.Ops; i++ {
			if err := b.fn(); err != nil {
				return fmt.Errorf("%s: %w", b.name, err)
			}
		}
		elapsed := time.Since(start)
		fmt.Fprintf(out, "%s*%d: %s (%.0f ops/s)\n", b.name, cfg.Ops, elapsed, float64(cfg.Ops)/elapsed.Seconds())
	}

	if err := strQ.Flush(ctx); err != nil {
		return err
	}
	return jsonQ.Flush(ctx)
}

func pullOne[T any](ctx context.Context, q *redisq.Queue[T], interval time.Duration) error {
	return q.Pull(ctx, func(ctx context.Context, m *redisq.Message[T]) error {
		return nil
	}, redisq.WithPollingInterval(interval))
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
