package main

import (
	"context"
	"log/slog"
	"time"

	"scrapekit/cmd/scrapekit-cli/commands"
	"scrapekit/internal/components/telemetry"
)

func main() {
	ctx := commands.SignalContext()

	tel, err := telemetry.SetupFromEnv(ctx, "scrapekit-cli")
	if err != nil {
		slog.Debug("telemetry exporters disabled", "err", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()
		tel.Shutdown(shutdownCtx)
	}()

	commands.ExecuteContext(ctx)
}
