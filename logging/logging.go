// Package logging wires the process-wide zerolog logger, replacing the
// teacher's hand-rolled level-filtered *log.Logger wrapper
// (lingzhi-server/log) with the ecosystem structured logger the rest of
// the example pack reaches for (tanpawarit-Chative-core-poc-v1/pkg/logger).
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Config mirrors the teacher's LogConfig shape (log/logger.go) so the YAML
// schema in config.Config does not change: level, file, console, and a new
// JSON-vs-console toggle.
type Config struct {
	LogLevel      string `yaml:"log_level"`
	LogFile       string `yaml:"log_file"`
	EnableConsole bool   `yaml:"enable_console"`
	EnableJSON    bool   `yaml:"enable_json"`
}

// L is the process-wide logger. Init replaces it; until Init runs it is a
// disabled logger so packages can log unconditionally at import time.
var L zerolog.Logger = zerolog.Nop()

// Init configures the global logger from cfg and returns it. Safe to call
// once at startup; not safe to call concurrently with logging.
func Init(cfg Config) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return zerolog.Logger{}, err
		}
		writers = append(writers, f)
	}
	if cfg.EnableConsole || len(writers) == 0 {
		if cfg.EnableJSON {
			writers = append(writers, os.Stdout)
		} else {
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout})
		}
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = io.Discard
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	L = zerolog.New(out).Level(level).With().Timestamp().Logger()
	return L, nil
}

// ForSession returns a child of base stamped with session_id, mirroring the
// teacher's practice of tagging every connection log line with connection
// state (websocket.go's log.Debugf("wsConn.connectionState: %+v", ...)).
func ForSession(base zerolog.Logger, sessionID string) zerolog.Logger {
	return base.With().Str("session_id", sessionID).Logger()
}
