package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/congo-pay/txengine/internal/config"
	"github.com/congo-pay/txengine/internal/csvio"
	"github.com/congo-pay/txengine/internal/infra"
	"github.com/congo-pay/txengine/internal/logging"
	"github.com/congo-pay/txengine/internal/report"
	"github.com/congo-pay/txengine/internal/runner"
)

func main() {
	os.Exit(int(run(os.Args[1:])))
}

func run(args []string) runner.ExitCode {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: txengine <transactions.csv>")
		return runner.ExitAborted
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return runner.ExitAborted
	}

	logger := logging.New(cfg.LogLevel).With("app", cfg.AppName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var opts []runner.Option
	if cfg.DatabaseURL != "" {
		db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("connect postgres", "error", err)
			return runner.ExitAborted
		}
		defer db.Close()

		sink := report.NewPostgresSink(db, csvio.Precision)
		if err := sink.EnsureSchema(ctx); err != nil {
			logger.Error("prepare balances table", "error", err)
			return runner.ExitAborted
		}
		opts = append(opts, runner.WithSink(sink))
	}

	out := bufio.NewWriter(os.Stdout)
	_, code := runner.New(cfg, logger, opts...).Run(ctx, csvio.FileSource{Path: args[0]}, out)
	if err := out.Flush(); err != nil {
		logger.Error("flush report", "error", err)
		return runner.ExitAborted
	}
	return code
}
