package clob

import (
	"fmt"
	"log/slog"
	"os"
)

// logger is shared by every shard worker. The default writes JSON to
// stdout; hosts embedding the engine swap it out before Start.
var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger redirects the engine's log output, e.g. into the host
// process's logger.
func SetLogger(l *slog.Logger) {
	logger = l
}

// fatalInvariant reports a broken engine invariant. The shard that hit it
// cannot continue safely, so the worker is aborted; a supervisor is expected
// to restart the process.
func fatalInvariant(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	logger.Error("invariant violation", "detail", msg)
	panic("invariant violation: " + msg)
}
