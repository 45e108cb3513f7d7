package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/fatih/color"
)

const stepKey = "step"

var (
	stepColor  = color.New(color.FgBlue, color.Bold)
	errorColor = color.New(color.FgRed)
	timeColor  = color.New(color.FgMagenta)
	sizeColor  = color.New(color.FgGreen)
	attrColor  = color.New(color.FgHiBlack)
)

// PrettyHandler writes one line per record for a person watching a run:
//
//	[WARN]  build   | continuing without build cache error=...
//
// The pipeline step, when present, is pulled out of the attributes into its
// own column so the lines of one step line up.
type PrettyHandler struct {
	opts   slog.HandlerOptions
	mu     *sync.Mutex
	w      io.Writer
	step   string
	attrs  []string
	prefix string
}

func NewPrettyHandler(w io.Writer, opts *slog.HandlerOptions) *PrettyHandler {
	h := &PrettyHandler{w: w, mu: &sync.Mutex{}}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelWarn
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	step := h.step
	attrs := append([]string(nil), h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		if s, ok := h.stepOf(a); ok {
			step = s
			return true
		}
		if text := h.render(a); text != "" {
			attrs = append(attrs, text)
		}
		return true
	})

	var b strings.Builder
	b.WriteString(badge(r.Level))
	b.WriteByte(' ')
	if step != "" {
		b.WriteString(stepColor.Sprintf("%-9s", step))
		b.WriteString("| ")
	}
	b.WriteString(r.Message)
	for _, a := range attrs {
		b.WriteByte(' ')
		b.WriteString(a)
	}
	if h.opts.AddSource && r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		if frame.File != "" {
			b.WriteByte(' ')
			b.WriteString(attrColor.Sprintf("(%s:%d)", filepath.Base(frame.File), frame.Line))
		}
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := h.clone()
	for _, a := range attrs {
		if s, ok := h.stepOf(a); ok {
			next.step = s
			continue
		}
		if text := h.render(a); text != "" {
			next.attrs = append(next.attrs, text)
		}
	}
	return next
}

func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := h.clone()
	next.prefix = h.prefix + name + "."
	return next
}

func (h *PrettyHandler) clone() *PrettyHandler {
	c := *h
	c.attrs = append([]string(nil), h.attrs...)
	return &c
}

// stepOf reports whether a is the top-level step attribute.
func (h *PrettyHandler) stepOf(a slog.Attr) (string, bool) {
	if h.prefix != "" || a.Key != stepKey {
		return "", false
	}
	return a.Value.String(), true
}

func (h *PrettyHandler) render(a slog.Attr) string {
	if h.opts.ReplaceAttr != nil {
		var groups []string
		if h.prefix != "" {
			groups = strings.Split(strings.TrimSuffix(h.prefix, "."), ".")
		}
		a = h.opts.ReplaceAttr(groups, a)
	}
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return ""
	}

	key := h.prefix + a.Key
	val := a.Value.String()
	switch a.Key {
	case "error", "err":
		return errorColor.Sprintf("%s=%s", key, val)
	case "duration", "timeout":
		return timeColor.Sprintf("%s=%s", key, val)
	case "size", "bytes", "count", "total":
		return sizeColor.Sprintf("%s=%s", key, val)
	default:
		return attrColor.Sprintf("%s=%s", key, val)
	}
}

func badge(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return color.RedString("[ERROR]")
	case level >= slog.LevelWarn:
		return color.YellowString("[WARN] ")
	case level >= slog.LevelInfo:
		return color.CyanString("[INFO] ")
	case level >= slog.LevelDebug:
		return color.HiBlackString("[DEBUG]")
	default:
		return fmt.Sprintf("[%s]", level)
	}
}
