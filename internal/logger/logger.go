// Package logger wraps log/slog with the severity levels and
// text/JSON handler switch used throughout this tree: package-level
// Tracef/Debugf/Infof/Warnf/Errorf functions backed by a single
// configurable default logger, rather than threading a logger through
// every call site.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Severity distinguishes diagnostics from errors: TRACE
// and DEBUG are development noise, INFO/WARNING record expected
// lifecycle events (mount, evict, flush), ERROR records a recoverable
// failure returned to a caller, and OFF disables logging entirely.
type Severity int

const (
	OFF Severity = iota
	ERROR
	WARNING
	INFO
	DEBUG
	TRACE
)

func ParseSeverity(s string) (Severity, error) {
	switch strings.ToUpper(s) {
	case "OFF":
		return OFF, nil
	case "ERROR":
		return ERROR, nil
	case "WARNING":
		return WARNING, nil
	case "INFO":
		return INFO, nil
	case "DEBUG":
		return DEBUG, nil
	case "TRACE":
		return TRACE, nil
	default:
		return OFF, fmt.Errorf("logger: unknown severity %q", s)
	}
}

// slog doesn't have TRACE/WARNING built in; map them onto custom
// levels positioned around the standard ones.
const (
	levelTrace   = slog.Level(-8)
	levelWarning = slog.LevelWarn
)

var severityToLevel = map[Severity]slog.Level{
	ERROR:   slog.LevelError,
	WARNING: levelWarning,
	INFO:    slog.LevelInfo,
	DEBUG:   slog.LevelDebug,
	TRACE:   levelTrace,
}

type factory struct {
	format string // "text" or "json"
	level  *slog.LevelVar
}

func (f *factory) createHandler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: f.level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				a.Key = "severity"
				a.Value = slog.StringValue(levelName(a.Value.Any().(slog.Level)))
			}
			return a
		},
	}
	if f.format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func levelName(l slog.Level) string {
	switch l {
	case levelTrace:
		return "TRACE"
	case slog.LevelDebug:
		return "DEBUG"
	case slog.LevelInfo:
		return "INFO"
	case levelWarning:
		return "WARNING"
	case slog.LevelError:
		return "ERROR"
	default:
		return l.String()
	}
}

var (
	defaultFactory = &factory{format: "text", level: &slog.LevelVar{}}
	defaultLogger  = slog.New(defaultFactory.createHandler(os.Stderr))
)

// Init reconfigures the package-level logger. Called once at startup
// from cmd/sectorfs after flags/config are parsed.
func Init(severity Severity, format string, w io.Writer) {
	defaultFactory.format = format
	if w == nil {
		w = os.Stderr
	}
	if level, ok := severityToLevel[severity]; ok {
		defaultFactory.level.Set(level)
	} else {
		defaultFactory.level.Set(slog.LevelError + 100) // OFF: above any real level
	}
	defaultLogger = slog.New(defaultFactory.createHandler(w))
}

func Tracef(format string, args ...any) {
	defaultLogger.Log(context.Background(), levelTrace, fmt.Sprintf(format, args...))
}

func Debugf(format string, args ...any) {
	defaultLogger.Debug(fmt.Sprintf(format, args...))
}

func Infof(format string, args ...any) {
	defaultLogger.Info(fmt.Sprintf(format, args...))
}

func Warnf(format string, args ...any) {
	defaultLogger.Log(context.Background(), levelWarning, fmt.Sprintf(format, args...))
}

func Errorf(format string, args ...any) {
	defaultLogger.Error(fmt.Sprintf(format, args...))
}
