package logger

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiDim    = "\033[2m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiPurple = "\033[35m"
	ansiCyan   = "\033[36m"
	ansiGray   = "\033[37m"
)

type levelStyle struct {
	label string
	color string
}

var levelStyles = map[slog.Level]levelStyle{
	slog.LevelDebug: {"DBG", ansiPurple},
	slog.LevelInfo:  {"INF", ansiGreen},
	slog.LevelWarn:  {"WRN", ansiYellow},
	slog.LevelError: {"ERR", ansiRed},
}

// PrettyHandler writes one colored line per record for local development:
//
//	15:04:05 INF server started addr=:8080 store=badger
//
// Attributes under a group are written as group.key=value.
type PrettyHandler struct {
	out    io.Writer
	level  slog.Leveler
	source bool

	mu     *sync.Mutex // shared by every handler derived from the same root
	preset []slog.Attr
	group  string
}

func NewPrettyHandler(w io.Writer, opts *slog.HandlerOptions) *PrettyHandler {
	h := &PrettyHandler{out: w, level: slog.LevelInfo, mu: new(sync.Mutex)}
	if opts != nil {
		if opts.Level != nil {
			h.level = opts.Level
		}
		h.source = opts.AddSource
	}
	return h
}

func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	var b bytes.Buffer

	paint(&b, ansiDim, r.Time.Format(time.TimeOnly))
	b.WriteByte(' ')

	style, ok := levelStyles[r.Level]
	if !ok {
		style = levelStyle{r.Level.String(), ansiGray}
	}
	paint(&b, style.color, style.label)
	b.WriteByte(' ')

	if h.source && r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		paint(&b, ansiDim, filepath.Base(frame.File)+":"+strconv.Itoa(frame.Line))
		b.WriteByte(' ')
	}

	paint(&b, ansiBold, r.Message)

	fields := append([]slog.Attr(nil), h.preset...)
	r.Attrs(func(a slog.Attr) bool {
		fields = append(fields, qualify(h.group, a))
		return true
	})
	if len(fields) > 0 {
		b.WriteString(" " + ansiCyan)
		for i, f := range fields {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(f.Key)
			b.WriteByte('=')
			b.WriteString(renderValue(f.Value))
		}
		b.WriteString(ansiReset)
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.out.Write(b.Bytes())
	return err
}

func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	derived := h.derive()
	for _, a := range attrs {
		derived.preset = append(derived.preset, qualify(h.group, a))
	}
	return derived
}

func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	derived := h.derive()
	derived.group += name + "."
	return derived
}

func (h *PrettyHandler) derive() *PrettyHandler {
	d := *h
	d.preset = append([]slog.Attr(nil), h.preset...)
	return &d
}

func paint(b *bytes.Buffer, color, text string) {
	b.WriteString(color)
	b.WriteString(text)
	b.WriteString(ansiReset)
}

func qualify(group string, a slog.Attr) slog.Attr {
	if group != "" {
		a.Key = group + a.Key
	}
	return a
}

func renderValue(v slog.Value) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindString:
		if s := v.String(); strings.ContainsAny(s, " \t\n") {
			return strconv.Quote(s)
		}
	}
	return v.String()
}
