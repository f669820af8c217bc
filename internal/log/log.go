// Package log implements a small leveled, structured logger in the style
// used throughout the teacher's node: call sites pass a message plus a flat
// list of key/value pairs rather than a format string.
//
//	log.Info("compiled function", "name", fn.Name, "instructions", len(fn.Code))
//
// Output is colorized when writing to a terminal and caller frames are
// attached to Warn/Error/Crit records to make post-mortem debugging of a
// failed VM run easier.
package log

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Lvl is a logging severity level, ordered from least to most verbose.
type Lvl int

const (
	LvlCrit Lvl = iota
	LvlError
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

func (l Lvl) String() string {
	switch l {
	case LvlCrit:
		return "CRIT"
	case LvlError:
		return "ERROR"
	case LvlWarn:
		return "WARN"
	case LvlInfo:
		return "INFO"
	case LvlDebug:
		return "DEBUG"
	case LvlTrace:
		return "TRACE"
	default:
		return "???"
	}
}

var levelColor = map[Lvl]*color.Color{
	LvlCrit:  color.New(color.FgWhite, color.BgRed, color.Bold),
	LvlError: color.New(color.FgRed, color.Bold),
	LvlWarn:  color.New(color.FgYellow),
	LvlInfo:  color.New(color.FgGreen),
	LvlDebug: color.New(color.FgCyan),
	LvlTrace: color.New(color.FgWhite),
}

// Logger is the interface every component in this repo logs through.
type Logger interface {
	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Crit(msg string, ctx ...interface{})
	// New returns a child logger with the given context merged in ahead of
	// every future record's own context.
	New(ctx ...interface{}) Logger
}

type logger struct {
	w        io.Writer
	colorize bool
	lvl      Lvl
	ctx      []interface{}
	mu       *sync.Mutex
}

// Root is the process-wide default logger, writing to stderr.
var Root Logger = newLogger(colorable.NewColorableStderr(), LvlInfo, nil)

func newLogger(w io.Writer, lvl Lvl, ctx []interface{}) *logger {
	colorize := false
	if f, ok := w.(interface{ Fd() uintptr }); ok {
		colorize = isatty.IsTerminal(f.Fd())
	}
	return &logger{w: w, colorize: colorize, lvl: lvl, ctx: ctx, mu: &sync.Mutex{}}
}

// SetOutput redirects Root's output (tests use this to capture log lines).
func SetOutput(w io.Writer) {
	l := Root.(*logger)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w = w
	l.colorize = false
}

// SetLevel bounds which records Root actually emits.
func SetLevel(lvl Lvl) {
	Root.(*logger).lvl = lvl
}

func (l *logger) New(ctx ...interface{}) Logger {
	merged := make([]interface{}, 0, len(l.ctx)+len(ctx))
	merged = append(merged, l.ctx...)
	merged = append(merged, ctx...)
	return &logger{w: l.w, colorize: l.colorize, lvl: l.lvl, ctx: merged, mu: l.mu}
}

func (l *logger) log(lvl Lvl, msg string, ctx []interface{}) {
	if lvl > l.lvl {
		return
	}
	var call stack.Call
	if lvl <= LvlWarn {
		// Skip log() and the level method; cs[2] is the level method's caller.
		cs := stack.Trace().TrimRuntime()
		if len(cs) > 2 {
			call = cs[2]
		}
	}
	line := formatRecord(lvl, msg, append(append([]interface{}{}, l.ctx...), ctx...), call, l.colorize)
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprint(l.w, line)
}

func formatRecord(lvl Lvl, msg string, ctx []interface{}, call stack.Call, colorize bool) string {
	var b strings.Builder
	ts := time.Now().Format("2006-01-02T15:04:05.000")
	levelStr := fmt.Sprintf("%-5s", lvl.String())
	if colorize {
		if c, ok := levelColor[lvl]; ok {
			levelStr = c.Sprintf("%-5s", lvl.String())
		}
	}
	fmt.Fprintf(&b, "%s %s %s", ts, levelStr, msg)
	for i := 0; i+1 < len(ctx); i += 2 {
		fmt.Fprintf(&b, " %v=%v", ctx[i], ctx[i+1])
	}
	if len(ctx)%2 == 1 {
		fmt.Fprintf(&b, " %v=%s", ctx[len(ctx)-1], "MISSING")
	}
	if call.Frame().Function != "" {
		fmt.Fprintf(&b, " caller=%s:%d", call.Frame().File, call.Frame().Line)
	}
	b.WriteByte('\n')
	return b.String()
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.log(LvlTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.log(LvlDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.log(LvlInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.log(LvlWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.log(LvlError, msg, ctx) }
func (l *logger) Crit(msg string, ctx ...interface{})  { l.log(LvlCrit, msg, ctx) }

// New returns a child of the Root logger pre-seeded with ctx, shadowing the
// package-level function name of the same operation on Logger.
func New(ctx ...interface{}) Logger { return Root.New(ctx...) }

func Trace(msg string, ctx ...interface{}) { Root.Trace(msg, ctx...) }
func Debug(msg string, ctx ...interface{}) { Root.Debug(msg, ctx...) }
func Info(msg string, ctx ...interface{})  { Root.Info(msg, ctx...) }
func Warn(msg string, ctx ...interface{})  { Root.Warn(msg, ctx...) }
func Error(msg string, ctx ...interface{}) { Root.Error(msg, ctx...) }
func Crit(msg string, ctx ...interface{})  { Root.Crit(msg, ctx...) }
