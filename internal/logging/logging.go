package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the process logger. Pretty output is meant for terminals;
// otherwise one JSON object is written per line.
func New(level string, pretty bool) zerolog.Logger {
	var out io.Writer = os.Stderr
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// IMAPDebugWriter logs raw IMAP protocol traffic at trace level. Lines
// carrying credentials are replaced by a placeholder.
type IMAPDebugWriter struct {
	Logger    zerolog.Logger
	Direction string
}

func (w *IMAPDebugWriter) Write(p []byte) (int, error) {
	data := strings.TrimRight(string(p), "\r\n")
	upper := strings.ToUpper(data)
	if strings.Contains(upper, " LOGIN ") || strings.Contains(upper, " AUTHENTICATE ") {
		data = "[credentials redacted]"
	}
	w.Logger.Trace().Str("dir", w.Direction).Str("imap_data", data).Msg("imap")
	return len(p), nil
}
