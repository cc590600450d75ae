package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"resumerag/app/agent"
	"resumerag/app/container"
	"resumerag/cli"
	"resumerag/config"
	"resumerag/loader/service"
)

type services struct {
	*service.Indexer
	*agent.Assistant
}

func open(ctx context.Context) (cli.Services, func() error, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	cfg.Log.SetupLogger()

	c, err := container.New(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return services{Indexer: c.Indexer, Assistant: c.Assistant}, func() error {
		return c.Close(context.Background())
	}, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCmd(open).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
