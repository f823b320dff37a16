package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"safeworks.org/ptw/internal/obs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		obs.Logger().WithError(err).Error("migrate failed")
		stop()
		os.Exit(1)
	}
}
