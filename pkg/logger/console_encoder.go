package logger

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

var _bufferPool = buffer.NewPool()

// contextKeys are rendered as a bracketed prefix instead of key=value pairs,
// in this order.
var contextKeys = []struct {
	key   string
	short string
}{
	{"connection", "conn"},
	{"host", "host"},
	{"command", "cmd"},
	{"stream", "stream"},
}

var levelColors = map[Level]*color.Color{
	DebugLevel:   color.New(color.FgMagenta),
	SuccessLevel: color.New(color.FgGreen),
	WarnLevel:    color.New(color.FgYellow),
	ErrorLevel:   color.New(color.FgRed),
	FailLevel:    color.New(color.FgRed, color.Bold),
	PanicLevel:   color.New(color.FgCyan),
	FatalLevel:   color.New(color.FgRed, color.Bold),
}

func init() {
	// The console encoder decides about color itself via Options.ColorConsole.
	for _, c := range levelColors {
		c.EnableColor()
	}
}

// consoleEncoder renders one human readable line per entry:
//
//	<time> [conn:x][host:y] [LEVEL] caller: message key=value ...
//
// Accumulated With() fields live in the embedded map encoder.
type consoleEncoder struct {
	*zapcore.MapObjectEncoder
	cfg    zapcore.EncoderConfig
	opts   Options
	colors bool
}

// NewColorConsoleEncoder creates a console encoder that colors level tags.
func NewColorConsoleEncoder(cfg zapcore.EncoderConfig, opts Options) zapcore.Encoder {
	return &consoleEncoder{MapObjectEncoder: zapcore.NewMapObjectEncoder(), cfg: cfg, opts: opts, colors: true}
}

// NewPlainTextConsoleEncoder creates a console encoder without ANSI codes.
func NewPlainTextConsoleEncoder(cfg zapcore.EncoderConfig, opts Options) zapcore.Encoder {
	return &consoleEncoder{MapObjectEncoder: zapcore.NewMapObjectEncoder(), cfg: cfg, opts: opts}
}

func (enc *consoleEncoder) Clone() zapcore.Encoder {
	clone := zapcore.NewMapObjectEncoder()
	for k, v := range enc.Fields {
		clone.Fields[k] = v
	}
	return &consoleEncoder{MapObjectEncoder: clone, cfg: enc.cfg, opts: enc.opts, colors: enc.colors}
}

func (enc *consoleEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	all := zapcore.NewMapObjectEncoder()
	for k, v := range enc.Fields {
		all.Fields[k] = v
	}
	for _, f := range fields {
		f.AddTo(all)
	}
	values := all.Fields

	line := _bufferPool.Get()

	if enc.cfg.TimeKey != "" {
		line.AppendString(ent.Time.Format(enc.opts.TimestampFormat))
		line.AppendByte(' ')
	}

	prefixed := false
	for _, ck := range contextKeys {
		v, ok := values[ck.key]
		if !ok {
			continue
		}
		delete(values, ck.key)
		s := fmt.Sprint(v)
		if s == "" {
			continue
		}
		fmt.Fprintf(line, "[%s:%s]", ck.short, s)
		prefixed = true
	}
	if prefixed {
		line.AppendByte(' ')
	}

	line.AppendString(enc.levelTag(ent.Level, values[customLevelKey]))
	line.AppendByte(' ')
	delete(values, customLevelKey)
	delete(values, customLevelNumKey)

	if ent.Caller.Defined && enc.cfg.CallerKey != "" {
		line.AppendString(ent.Caller.TrimmedPath())
		line.AppendString(": ")
	}
	line.AppendString(ent.Message)

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		line.AppendByte(' ')
		line.AppendString(k)
		line.AppendByte('=')
		appendValue(line, values[k])
	}

	if ent.Stack != "" && enc.cfg.StacktraceKey != "" {
		line.AppendByte('\n')
		line.AppendString(ent.Stack)
	}
	if enc.cfg.LineEnding != "" {
		line.AppendString(enc.cfg.LineEnding)
	} else {
		line.AppendString(zapcore.DefaultLineEnding)
	}
	return line, nil
}

func (enc *consoleEncoder) levelTag(zl zapcore.Level, custom interface{}) string {
	level := fromZapLevel(zl)
	if s, ok := custom.(string); ok {
		if parsed, err := ParseLevel(s); err == nil {
			level = parsed
		}
	}
	tag := "[" + level.CapitalString() + "]"
	if !enc.colors {
		return tag
	}
	return levelToColor(level, tag)
}

func fromZapLevel(zl zapcore.Level) Level {
	switch zl {
	case zapcore.DebugLevel:
		return DebugLevel
	case zapcore.WarnLevel:
		return WarnLevel
	case zapcore.ErrorLevel:
		return ErrorLevel
	case zapcore.DPanicLevel, zapcore.PanicLevel:
		return PanicLevel
	case zapcore.FatalLevel:
		return FatalLevel
	default:
		return InfoLevel
	}
}

func levelToColor(level Level, message string) string {
	c, ok := levelColors[level]
	if !ok {
		return message
	}
	return c.Sprint(message)
}

func appendValue(line *buffer.Buffer, v interface{}) {
	switch val := v.(type) {
	case string:
		if val == "" || strings.ContainsAny(val, " \t\n\"") {
			fmt.Fprintf(line, "%q", val)
		} else {
			line.AppendString(val)
		}
	case bool:
		line.AppendBool(val)
	case int64:
		line.AppendInt(val)
	case int:
		line.AppendInt(int64(val))
	case uint64:
		line.AppendUint(val)
	case float64:
		line.AppendFloat(val, 64)
	default:
		fmt.Fprintf(line, "%v", val)
	}
}
