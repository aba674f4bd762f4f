package orchestrator

import (
	"fmt"
	"io"
	"os"

	"github.com/goliatone/go-logger/glog"
)

// Logger is the logging interface this engine consumes. The shape mirrors
// the teacher's backend.Logger so the two are drop-in compatible.
type Logger interface {
	Debug(v ...any)
	Debugf(format string, v ...any)
	Info(v ...any)
	Infof(format string, v ...any)
	Warn(v ...any)
	Warnf(format string, v ...any)
	Error(v ...any)
	Errorf(format string, v ...any)
}

// glogAdapter backs the default Logger with github.com/goliatone/go-logger,
// translating this package's Print/Printf-style calls into glog's
// structured (msg, args...) calls.
type glogAdapter struct {
	g glog.Logger
}

// NewLogger returns a JSON-structured Logger writing to w, backed by
// github.com/goliatone/go-logger/glog.
func NewLogger(w io.Writer) Logger {
	if w == nil {
		w = os.Stderr
	}
	return &glogAdapter{
		g: glog.NewLogger(
			glog.WithWriter(w),
			glog.WithLoggerTypeJSON(),
			glog.WithLevel("debug"),
		),
	}
}

var defaultLogger = NewLogger(os.Stderr)

// DefaultLogger returns the package default Logger.
func DefaultLogger() Logger { return defaultLogger }

func (l *glogAdapter) Debug(v ...any)                 { l.g.Debug(fmt.Sprint(v...)) }
func (l *glogAdapter) Debugf(format string, v ...any) { l.g.Debug(fmt.Sprintf(format, v...)) }
func (l *glogAdapter) Info(v ...any)                  { l.g.Info(fmt.Sprint(v...)) }
func (l *glogAdapter) Infof(format string, v ...any)  { l.g.Info(fmt.Sprintf(format, v...)) }
func (l *glogAdapter) Warn(v ...any)                  { l.g.Warn(fmt.Sprint(v...)) }
func (l *glogAdapter) Warnf(format string, v ...any)  { l.g.Warn(fmt.Sprintf(format, v...)) }
func (l *glogAdapter) Error(v ...any)                 { l.g.Error(fmt.Sprint(v...)) }
func (l *glogAdapter) Errorf(format string, v ...any) { l.g.Error(fmt.Sprintf(format, v...)) }
