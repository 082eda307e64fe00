package slog

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format selects the line layout produced by NewLogger.
type Format string

const (
	// FormatCompact is slog's text layout with a short timestamp:
	//
	//	time="2026-01-02 15:04:05" level=DEBUG msg="span event" event=turn.state turn.state=SEND
	FormatCompact Format = "compact"

	// FormatJSON delegates to slog.NewJSONHandler.
	FormatJSON Format = "json"
)

const compactTimeLayout = "2006-01-02 15:04:05"

// ParseFormat maps "json" to FormatJSON and everything else to FormatCompact.
func ParseFormat(s string) Format {
	if strings.EqualFold(strings.TrimSpace(s), string(FormatJSON)) {
		return FormatJSON
	}
	return FormatCompact
}

// NewLogger builds a *slog.Logger writing to w in the given format. Both
// formats name LevelTrace "TRACE".
func NewLogger(w io.Writer, format Format, level slog.Level) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if format == FormatJSON {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: replaceLevel,
		}))
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: compactAttr,
	}))
}

func replaceLevel(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) == 0 && attr.Key == slog.LevelKey {
		if level, ok := attr.Value.Any().(slog.Level); ok {
			attr.Value = slog.StringValue(levelString(level))
		}
	}
	return attr
}

func compactAttr(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) == 0 && attr.Key == slog.TimeKey && attr.Value.Kind() == slog.KindTime {
		attr.Value = slog.StringValue(attr.Value.Time().Format(compactTimeLayout))
		return attr
	}
	return replaceLevel(groups, attr)
}

func levelString(level slog.Level) string {
	switch {
	case level < slog.LevelDebug:
		return "TRACE"
	case level < slog.LevelInfo:
		return "DEBUG"
	case level < slog.LevelWarn:
		return "INFO"
	case level < slog.LevelError:
		return "WARN"
	default:
		return "ERROR"
	}
}
