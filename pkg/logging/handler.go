package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/fatih/color"
)

var (
	debugColor     = color.New(color.FgHiBlack)
	infoColor      = color.New(color.FgHiCyan)
	warnColor      = color.New(color.FgHiYellow)
	errorColor     = color.New(color.FgHiRed)
	fatalColor     = color.New(color.FgHiRed, color.Bold)
	componentColor = color.New(color.FgHiMagenta)
	fieldColor     = color.New(color.FgHiBlack)
)

// ColorTextHandler renders records as "15:04:05.000 [LEVEL] [COMPONENT] message key=value"
type ColorTextHandler struct {
	w      io.Writer
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
	mu     *sync.Mutex
}

// NewColorTextHandler creates a colored text handler
func NewColorTextHandler(w io.Writer, level slog.Leveler) *ColorTextHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &ColorTextHandler{w: w, level: level, mu: &sync.Mutex{}}
}

func (h *ColorTextHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *ColorTextHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	b.WriteString(r.Time.Format("15:04:05.000"))
	b.WriteByte(' ')
	b.WriteString(levelTag(r.Level))

	component := ""
	fields := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	collect := func(a slog.Attr) bool {
		if a.Key == "component" {
			component = strings.ToUpper(a.Value.String())
			return true
		}
		fields = append(fields, a)
		return true
	}
	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(collect)

	if component != "" {
		b.WriteByte(' ')
		b.WriteString(componentColor.Sprintf("[%s]", component))
	}
	b.WriteByte(' ')
	b.WriteString(r.Message)

	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	for _, a := range fields {
		b.WriteByte(' ')
		b.WriteString(fieldColor.Sprintf("%s%s=", prefix, a.Key))
		b.WriteString(fmt.Sprintf("%v", a.Value.Any()))
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *ColorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

func (h *ColorTextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.groups = append(append([]string{}, h.groups...), name)
	return &next
}

func levelTag(level slog.Level) string {
	switch {
	case level >= LevelFatal:
		return fatalColor.Sprint("[FATAL]")
	case level >= slog.LevelError:
		return errorColor.Sprint("[ERROR]")
	case level >= slog.LevelWarn:
		return warnColor.Sprint("[WARN]")
	case level >= slog.LevelInfo:
		return infoColor.Sprint("[INFO]")
	default:
		return debugColor.Sprint("[DEBUG]")
	}
}
