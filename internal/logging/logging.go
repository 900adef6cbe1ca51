// Package logging configures the process wide zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/zhouzirui/gemini-chat/internal/config"
)

// Setup installs the global logger described by cfg and returns a closer for the log file, if any.
func Setup(cfg config.LogConfig, stderr io.Writer) (io.Closer, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", cfg.Level)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var out io.Writer
	switch cfg.Format {
	case "json":
		out = stderr
	case "console", "":
		out = zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.Kitchen, NoColor: os.Getenv("NO_COLOR") != ""}
	default:
		return nil, errors.Errorf("invalid log format %q", cfg.Format)
	}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     14,
		}
		out = zerolog.MultiLevelWriter(out, rotating)
		closer = rotating
	}

	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return closer, nil
}

// FileOnly routes logs to the rotating file alone; used by the terminal UI which owns stdout.
func FileOnly(cfg config.LogConfig) (io.Closer, error) {
	if cfg.File == "" {
		zerolog.SetGlobalLevel(zerolog.Disabled)
		return nopCloser{}, nil
	}
	cfg.Format = "json"
	return Setup(cfg, io.Discard)
}

// Component returns a child logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
