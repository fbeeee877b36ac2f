package main

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type Logger interface {
	Debugf(string, ...interface{})
	Infof(string, ...interface{})
	Warnf(string, ...interface{})
	Errorf(string, ...interface{})

	ChildLogger(fields map[string]interface{}) Logger
}

type defaultLogger struct {
	*logrus.Entry
}

func (d *defaultLogger) ChildLogger(ff map[string]interface{}) Logger {
	return &defaultLogger{d.Entry.WithFields(ff)}
}

// newLogger builds a logger from cfg. The returned closer releases a log file
// if one was opened.
func newLogger(cfg LoggerConfig) (Logger, func() error, error) {
	out, closer, err := openLogOutput(cfg.Output)
	if err != nil {
		return nil, nil, err
	}

	l := &logrus.Logger{
		Out:       out,
		Formatter: &logrus.TextFormatter{FullTimestamp: true},
		Level:     parseLevel(cfg.Level),
		Hooks:     make(logrus.LevelHooks),
	}
	if strings.EqualFold(cfg.Format, "json") {
		l.Formatter = &logrus.JSONFormatter{}
	}
	return &defaultLogger{Entry: logrus.NewEntry(l)}, closer, nil
}

func discardLogger() Logger {
	l := logrus.New()
	l.Out = io.Discard
	return &defaultLogger{Entry: logrus.NewEntry(l)}
}

func parseLevel(s string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.ToLower(s))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

func openLogOutput(output string) (io.Writer, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(output) {
	case "stdout":
		return os.Stdout, noop, nil
	case "stderr", "":
		return os.Stderr, noop, nil
	}
	f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
