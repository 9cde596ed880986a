package cli

import (
	"io"
	"log/slog"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/roach88/rowmodel/internal/config"
)

// Rotation limits for --log-file.
const (
	logMaxSizeMB  = 10
	logMaxBackups = 3
	logMaxAgeDays = 28
)

// newLogger builds the process logger from cfg, installs it as the slog
// default and returns it. The closer is non-nil when logs go to a file.
func newLogger(cfg *config.Config, verbose bool, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		level = slog.LevelDebug
	}

	w := stderr
	var closer io.Closer
	if cfg.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    logMaxSizeMB,
			MaxBackups: logMaxBackups,
			MaxAge:     logMaxAgeDays,
		}
		w, closer = lj, lj
	}

	hopts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.LogFormat, "json") {
		handler = slog.NewJSONHandler(w, hopts)
	} else {
		handler = slog.NewTextHandler(w, hopts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, closer, nil
}
