package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/maildock/gmailkit/cmd/gmailkit/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := cmd.ExecuteContext(ctx)
	cancel()
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		// 128 + SIGINT, the shell convention for interrupted commands.
		os.Exit(130)
	}
	os.Exit(1)
}
