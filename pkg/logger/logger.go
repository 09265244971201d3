// Package logger wraps zap with the levels used across remotexec, including
// SUCCESS and FAIL, a colored console encoder and rotating JSON file output.
//
// Basic usage:
//
//	opts := logger.DefaultOptions()
//	opts.ConsoleLevel = logger.DebugLevel
//	logger.Init(opts)
//	defer logger.SyncGlobal()
//
//	logger.Info("delivering %s", name)
//	logger.Get().With("connection", "build-host").Warnf("temp file left behind")
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level defines the log level. SuccessLevel and FailLevel are rendered
// distinctively by the console encoder and map onto zap's Info and Fatal.
type Level int8

const (
	DebugLevel Level = iota - 1
	InfoLevel
	SuccessLevel
	WarnLevel
	ErrorLevel
	FailLevel
	PanicLevel
	FatalLevel
)

const (
	customLevelKey    = "customlevel"
	customLevelNumKey = "customlevel_num"
)

func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case SuccessLevel:
		return "success"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	case FailLevel:
		return "fail"
	case PanicLevel:
		return "panic"
	case FatalLevel:
		return "fatal"
	default:
		return fmt.Sprintf("level(%d)", l)
	}
}

// CapitalString returns the upper-case name used in console prefixes.
func (l Level) CapitalString() string {
	switch l {
	case DebugLevel, InfoLevel, SuccessLevel, WarnLevel, ErrorLevel, FailLevel, PanicLevel, FatalLevel:
		return strings.ToUpper(l.String())
	default:
		return fmt.Sprintf("LEVEL(%d)", l)
	}
}

// ToZapLevel converts l to the zapcore level it is emitted at.
func (l Level) ToZapLevel() zapcore.Level {
	switch l {
	case DebugLevel:
		return zapcore.DebugLevel
	case InfoLevel, SuccessLevel:
		return zapcore.InfoLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	case PanicLevel:
		return zapcore.PanicLevel
	case FailLevel, FatalLevel:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel parses a level name as written in configuration files.
func ParseLevel(s string) (Level, error) {
	for _, l := range []Level{DebugLevel, InfoLevel, SuccessLevel, WarnLevel, ErrorLevel, FailLevel, PanicLevel, FatalLevel} {
		if strings.EqualFold(s, l.String()) {
			return l, nil
		}
	}
	return InfoLevel, fmt.Errorf("unknown log level %q", s)
}

// Options holds configuration for the logger.
type Options struct {
	ConsoleLevel    Level
	FileLevel       Level
	LogFilePath     string
	ConsoleOutput   bool
	FileOutput      bool
	ColorConsole    bool
	TimestampFormat string

	// Rotation settings for the file output, passed to lumberjack.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Logger is a zap.SugaredLogger with remotexec's custom levels.
type Logger struct {
	*zap.SugaredLogger
	opts        Options
	atomicLevel zap.AtomicLevel
}

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
	once         sync.Once
)

// Init initializes the global logger. Only the first call has an effect. When
// the options cannot be applied it falls back to a zap development logger on
// stderr.
func Init(opts Options) {
	once.Do(func() {
		l, err := NewLogger(opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize global logger: %v. Falling back to basic console logging.\n", err)
			cfg := zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
			zl, _ := cfg.Build(zap.AddCallerSkip(1))
			l = &Logger{SugaredLogger: zl.Sugar(), opts: opts, atomicLevel: cfg.Level}
		}
		globalMu.Lock()
		globalLogger = l
		globalMu.Unlock()
	})
}

// Get returns the global logger, initializing it with DefaultOptions if Init
// was never called.
func Get() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}
	Init(DefaultOptions())
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// DefaultOptions logs INFO and above to a colored console. File output is
// disabled until a path is configured.
func DefaultOptions() Options {
	return Options{
		ConsoleLevel:    InfoLevel,
		FileLevel:       DebugLevel,
		LogFilePath:     "remotexec.log",
		ConsoleOutput:   true,
		FileOutput:      false,
		ColorConsole:    true,
		TimestampFormat: time.RFC3339,
		MaxSizeMB:       100,
		MaxBackups:      3,
		MaxAgeDays:      28,
	}
}

// NewLogger creates a logger writing to stdout and, when enabled, to a
// rotating JSON log file.
func NewLogger(opts Options) (*Logger, error) {
	return newLogger(opts, zapcore.Lock(os.Stdout))
}

// NewLoggerWithCustomSink is NewLogger with console output redirected to w.
func NewLoggerWithCustomSink(opts Options, w io.Writer) (*Logger, error) {
	return newLogger(opts, zapcore.AddSync(w))
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar(), atomicLevel: zap.NewAtomicLevelAt(zapcore.InfoLevel)}
}

func newLogger(opts Options, console zapcore.WriteSyncer) (*Logger, error) {
	if opts.TimestampFormat == "" {
		opts.TimestampFormat = time.RFC3339
	}

	var cores []zapcore.Core
	lowest := zapcore.FatalLevel

	if opts.ConsoleOutput {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout(opts.TimestampFormat)
		cfg.TimeKey = "time"
		cfg.LevelKey = ""
		cfg.CallerKey = "caller"
		cfg.MessageKey = "msg"
		cfg.EncodeCaller = zapcore.ShortCallerEncoder

		var enc zapcore.Encoder
		if opts.ColorConsole {
			enc = NewColorConsoleEncoder(cfg, opts)
		} else {
			enc = NewPlainTextConsoleEncoder(cfg, opts)
		}
		threshold := opts.ConsoleLevel.ToZapLevel()
		if threshold < lowest {
			lowest = threshold
		}
		cores = append(cores, zapcore.NewCore(enc, console, threshold))
	}

	if opts.FileOutput {
		if opts.LogFilePath == "" {
			return nil, fmt.Errorf("log file path cannot be empty when file output is enabled")
		}
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout(opts.TimestampFormat)
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder

		rotator := &lumberjack.Logger{
			Filename:   opts.LogFilePath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		}
		threshold := opts.FileLevel.ToZapLevel()
		if threshold < lowest {
			lowest = threshold
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.AddSync(rotator), threshold))
	}

	if len(cores) == 0 {
		return &Logger{SugaredLogger: zap.NewNop().Sugar(), opts: opts, atomicLevel: zap.NewAtomicLevelAt(zapcore.InfoLevel)}, nil
	}

	atomicLevel := zap.NewAtomicLevelAt(lowest)
	zl := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1), zap.IncreaseLevel(atomicLevel))
	return &Logger{SugaredLogger: zl.Sugar(), opts: opts, atomicLevel: atomicLevel}, nil
}

// SetLevel raises the minimum level for every output of l. Lowering it below
// the per-output thresholds set at construction has no effect.
func (l *Logger) SetLevel(level Level) {
	l.atomicLevel.SetLevel(level.ToZapLevel())
}

func (l *Logger) log(level Level, template string, args ...interface{}) {
	if l == nil || l.SugaredLogger == nil {
		fmt.Fprintf(os.Stderr, "[%s] %s\n", level.CapitalString(), fmt.Sprintf(template, args...))
		return
	}
	msg := fmt.Sprintf(template, args...)
	fields := []interface{}{
		zap.String(customLevelKey, level.CapitalString()),
		zap.Int8(customLevelNumKey, int8(level)),
	}
	s := l.SugaredLogger.WithOptions(zap.AddCallerSkip(1))
	switch level {
	case DebugLevel:
		s.Debugw(msg, fields...)
	case InfoLevel, SuccessLevel:
		s.Infow(msg, fields...)
	case WarnLevel:
		s.Warnw(msg, fields...)
	case ErrorLevel:
		s.Errorw(msg, fields...)
	case PanicLevel:
		s.Panicw(msg, fields...)
	case FailLevel, FatalLevel:
		s.Fatalw(msg, fields...)
	default:
		s.Infow(msg, fields...)
	}
}

func (l *Logger) Debugf(template string, args ...interface{}) { l.log(DebugLevel, template, args...) }
func (l *Logger) Infof(template string, args ...interface{})  { l.log(InfoLevel, template, args...) }

// Successf logs at SuccessLevel.
func (l *Logger) Successf(template string, args ...interface{}) {
	l.log(SuccessLevel, template, args...)
}

func (l *Logger) Warnf(template string, args ...interface{})  { l.log(WarnLevel, template, args...) }
func (l *Logger) Errorf(template string, args ...interface{}) { l.log(ErrorLevel, template, args...) }

// Failf logs at FailLevel and exits the process.
func (l *Logger) Failf(template string, args ...interface{}) { l.log(FailLevel, template, args...) }

func (l *Logger) Panicf(template string, args ...interface{}) { l.log(PanicLevel, template, args...) }
func (l *Logger) Fatalf(template string, args ...interface{}) { l.log(FatalLevel, template, args...) }

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	if l == nil || l.SugaredLogger == nil {
		return nil
	}
	return l.SugaredLogger.Sync()
}

// With returns a child logger carrying the given key/value pairs. Keys such as
// "command", "connection" and "host" are shown as console prefixes.
func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{
		SugaredLogger: l.SugaredLogger.With(args...),
		opts:          l.opts,
		atomicLevel:   l.atomicLevel,
	}
}

func Debug(template string, args ...interface{})   { Get().log(DebugLevel, template, args...) }
func Info(template string, args ...interface{})    { Get().log(InfoLevel, template, args...) }
func Success(template string, args ...interface{}) { Get().log(SuccessLevel, template, args...) }
func Warn(template string, args ...interface{})    { Get().log(WarnLevel, template, args...) }
func Error(template string, args ...interface{})   { Get().log(ErrorLevel, template, args...) }
func Fail(template string, args ...interface{})    { Get().log(FailLevel, template, args...) }
func Panic(template string, args ...interface{})   { Get().log(PanicLevel, template, args...) }
func Fatal(template string, args ...interface{})   { Get().log(FatalLevel, template, args...) }

// SyncGlobal flushes the global logger.
func SyncGlobal() error {
	return Get().Sync()
}
