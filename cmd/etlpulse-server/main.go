// Command etlpulse-server serves the ETL pipeline over HTTP. Configuration
// comes from ETL_* environment variables and an optional config.yaml.
package main

import (
	"log/slog"
	"os"

	"etlpulse/internal/app"
)

func main() {
	application, err := app.NewApplication()
	if err != nil {
		slog.Error("Failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		slog.Error("Application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
