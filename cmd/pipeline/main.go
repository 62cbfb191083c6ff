package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/coinflow-io/coinflow/app/pipeline"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	defer cancel()

	app, err := pipeline.Initialize(ctx)
	if err != nil {
		if app != nil && app.Logger != nil {
			app.Logger.Fatal("Unable to initialize application", zap.Error(err))
		}
		panic(err)
	}

	app.SetupServer()

	app.Start(ctx)
}
