package main

import (
	"os"

	"resultfetch/cmd/resultfetch-cli/commands"
	"resultfetch/lib/serviceutil"
	"resultfetch/lib/telemetry"
)

func main() {
	telemetry.InitSlog(true)

	ctx := serviceutil.SignalContext()
	tel, err := telemetry.SetupFromEnv(ctx, "resultfetch-cli")
	if err != nil && !os.IsNotExist(err) {
		serviceutil.Fatal("failed to setup telemetry", err)
	}
	if err == nil {
		telemetry.InstrumentPerfStats(ctx)
		defer tel.Shutdown(ctx)
	}

	commands.ExecuteContext(ctx)
}
