package telemetry

import (
	"log/slog"
	"os"
)

// InitSlog replaces the default slog handler. pretty selects a
// human-readable text handler for interactive use, otherwise logs are
// emitted as json for collection.
func InitSlog(pretty bool) {
	var handler slog.Handler
	if pretty {
		handler = slog.NewTextHandler(os.Stderr, nil)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, nil)
	}
	slog.SetDefault(slog.New(handler))
}
