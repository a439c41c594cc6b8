// Command workqueue runs and operates a durable work queue.
//
//	workqueue worker --schedules schedules.yaml
//	workqueue add SEND_EMAIL '{"send_to":"a@example.com","subject":"Hi","body_text":"Hello"}'
//	workqueue list --status failed --limit 20
//	workqueue report --since 24h
//	workqueue recover --worker-id host-1
//
// Configuration comes from the environment (and .env files); see settings.go.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(newRuntime()).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
