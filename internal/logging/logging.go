// Package logging sets up the daemon's own log output: logrus writing to
// both stdout and a size-rotated file under the state dir. This is the
// process log, unrelated to the operational ops-log memory document.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls logger construction.
type Options struct {
	Level      string // logrus level name; default "info"
	Path       string // rotated file path; empty = stdout only
	MaxSizeMB  int
	MaxBackups int
}

// New builds the process logger. The STEWARD_LOG_LEVEL environment variable
// overrides the configured level.
func New(opts Options) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	level := opts.Level
	if env := os.Getenv("STEWARD_LOG_LEVEL"); env != "" {
		level = env
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)

	if opts.Path != "" {
		rotated := &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    max(opts.MaxSizeMB, 1),
			MaxBackups: opts.MaxBackups,
			Compress:   true,
		}
		log.SetOutput(io.MultiWriter(os.Stdout, rotated))
	}

	return log
}
