package logger

import (
	"io"
	"log"
	"os"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"
)

// Logger is the logging contract shared by the board core and the server.
// expected args: error, map[string]interface{} or any printable value
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

type Options struct {
	Token       string
	Environment string
	Host        string
	Debug       bool
}

// RollbarLogger prints to a std logger and reports to rollbar when a token is set.
type RollbarLogger struct {
	std     *log.Logger
	debug   bool
	enabled bool
}

var _ Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *log.Logger, opts Options) *RollbarLogger {
	enabled := opts.Token != ""
	if enabled {
		rollbar.SetToken(opts.Token)
		rollbar.SetEnvironment(opts.Environment)
		rollbar.SetServerHost(opts.Host)
		rollbar.SetStackTracer(errors.StackTracer)
	}
	rollbar.SetEnabled(enabled)
	return &RollbarLogger{std: std, debug: opts.Debug, enabled: enabled}
}

// Std returns a stdout-only logger with the given prefix.
func Std(prefix string) *RollbarLogger {
	std := log.New(os.Stdout, prefix, log.LstdFlags|log.Lmicroseconds)
	return &RollbarLogger{std: std, debug: true}
}

// Nop discards everything.
func Nop() *RollbarLogger {
	return &RollbarLogger{std: log.New(io.Discard, "", 0)}
}

func (l *RollbarLogger) prepare(msg string, args []interface{}) []interface{} {
	out := make([]interface{}, 0, len(args)+1)
	out = append(out, msg)
	return append(out, args...)
}

func (l *RollbarLogger) print(level, msg string, args []interface{}) {
	l.std.Printf("[%s] %s", level, msg)
	for _, arg := range args {
		l.std.Printf("  %+v", arg)
	}
}

func (l *RollbarLogger) Debug(msg string, args ...interface{}) {
	if !l.debug {
		return
	}
	l.print("debug", msg, args)
}

func (l *RollbarLogger) Info(msg string, args ...interface{}) {
	if l.enabled {
		rollbar.Info(l.prepare(msg, args)...)
	}
	l.print("info", msg, args)
}

func (l *RollbarLogger) Warn(msg string, args ...interface{}) {
	if l.enabled {
		rollbar.Warning(l.prepare(msg, args)...)
	}
	l.print("warn", msg, args)
}

func (l *RollbarLogger) Error(msg string, args ...interface{}) {
	if l.enabled {
		rollbar.Error(l.prepare(msg, args)...)
	}
	l.print("error", msg, args)
}

// Close flushes pending rollbar reports.
func (l *RollbarLogger) Close() {
	if l.enabled {
		rollbar.Wait()
	}
}
