package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LoggerOptions controls console output of InitLogger.
type LoggerOptions struct {
	Timestamp bool
	NoColor   bool
	// Extra writers receive every event in zerolog's JSON form.
	Extra []io.Writer
}

// InitLogger installs a console logger tagged with app as the global logger.
func InitLogger(app string, opts LoggerOptions) zerolog.Logger {
	logger := NewLogger(app, opts)
	log.Logger = logger
	return logger
}

// NewLogger builds the console logger InitLogger installs without touching
// the global one.
func NewLogger(app string, opts LoggerOptions) zerolog.Logger {
	var output io.Writer = zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
		NoColor:    opts.NoColor,
	}
	if len(opts.Extra) > 0 {
		output = zerolog.MultiLevelWriter(append([]io.Writer{output}, opts.Extra...)...)
	}
	ctx := zerolog.New(output).With()
	if opts.Timestamp {
		ctx = ctx.Timestamp()
	}
	return ctx.Str("app", app).Logger()
}
