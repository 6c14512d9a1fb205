// Copyright (c) 2018, Postgres Professional

package hplog

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	*zap.SugaredLogger
	level zap.AtomicLevel
}

func GetLogger() *Logger {
	level := zap.NewAtomicLevelAt(zapcore.DebugLevel)
	config := zap.Config{
		Level: level,
		// well, don't panic in DPanic and something else
		Development: false,
		// print file name and line always
		DisableCaller: false,
		// never print stacktrace for expected control-flow errors
		DisableStacktrace: true,
		// plain text logging
		Encoding:      "console",
		EncoderConfig: zap.NewDevelopmentEncoderConfig(),
		OutputPaths:   []string{"stderr"},
		// for logger errors itself
		ErrorOutputPaths: []string{"stderr"},
	}

	zlogger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	zslogger := zlogger.Sugar()
	return &Logger{SugaredLogger: zslogger, level: level}
}

// SetLevel changes the minimum level this logger emits. Unlike the
// one-shot CLI tools in this repo, logicalrepld is a long-running daemon:
// a bad --log-level flag must fail startup, not reach Fatalf from request
// handling code later.
func (l *Logger) SetLevel(level string) error {
	switch level {
	case "error":
		l.level.SetLevel(zap.ErrorLevel)
	case "warn":
		l.level.SetLevel(zap.WarnLevel)
	case "info":
		l.level.SetLevel(zap.InfoLevel)
	case "debug":
		l.level.SetLevel(zap.DebugLevel)
	default:
		return fmt.Errorf("invalid log level: %v", level)
	}
	return nil
}

func GetLoggerWithLevel(level string) (*Logger, error) {
	l := GetLogger()
	if err := l.SetLevel(level); err != nil {
		return nil, err
	}
	return l, nil
}

// Named returns a child logger carrying the given component name, the
// same constructor-injected-logger pattern the teacher uses but with an
// explicit name tag so multi-component log output can be filtered.
func (l *Logger) Named(name string) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.Named(name), level: l.level}
}
