// Package logging builds the zap loggers used across legion.
package logging

import (
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects the log level and an optional rotating log file.
type Config struct {
	Level      string `json:"level,omitempty"` // debug, info, warn or error
	File       string `json:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
}

// DefaultConfig logs info and above to stdout only.
func DefaultConfig() Config {
	return Config{Level: "info", MaxSizeMB: 10, MaxBackups: 3}
}

// NewLoggerConfig returns a console configuration without stacktraces and
// with colored levels.
func NewLoggerConfig() zap.Config {
	return zap.Config{
		Level:    zap.NewAtomicLevelAt(zap.InfoLevel),
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		DisableStacktrace: true,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
	}
}

type options struct {
	quiet bool
	hooks []func(zapcore.Entry) error
}

// Option modifies New.
type Option func(*options)

// Quiet drops the console output, for full screen terminal UIs.
func Quiet() Option {
	return func(o *options) { o.quiet = true }
}

// WithHook calls fn for every entry that is logged.
func WithHook(fn func(zapcore.Entry) error) Option {
	return func(o *options) { o.hooks = append(o.hooks, fn) }
}

// New builds a logger from cfg. The returned function flushes and closes
// the log file.
func New(cfg Config, opts ...Option) (*zap.SugaredLogger, func() error, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	level := zapcore.InfoLevel
	if cfg.Level != "" {
		l, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "log level %q", cfg.Level)
		}
		level = l
	}

	encCfg := NewLoggerConfig().EncoderConfig
	var cores []zapcore.Core
	if !o.quiet {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg),
			zapcore.Lock(os.Stdout),
			level,
		))
	}

	var file *lumberjack.Logger
	if cfg.File != "" {
		file = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		fileEnc := encCfg
		fileEnc.EncodeLevel = zapcore.LowercaseLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileEnc), zapcore.AddSync(file), level))
	}

	core := zapcore.NewTee(cores...)
	if len(o.hooks) > 0 {
		core = zapcore.RegisterHooks(levelCore{core, level}, o.hooks...)
	}
	logger := zap.New(core, zap.AddCaller())

	closeFn := func() error {
		// Sync on stdout fails on some terminals; ignore it.
		_ = logger.Sync()
		if file != nil {
			return file.Close()
		}
		return nil
	}
	return logger.Sugar(), closeFn, nil
}

// levelCore enables level even when the tee has no cores, so hooks still
// see entries in quiet mode.
type levelCore struct {
	zapcore.Core
	level zapcore.Level
}

func (c levelCore) Enabled(l zapcore.Level) bool {
	return c.level.Enabled(l)
}

func (c levelCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(e.Level) {
		return ce.AddCore(e, c)
	}
	return ce
}

func (c levelCore) With(fields []zapcore.Field) zapcore.Core {
	return levelCore{c.Core.With(fields), c.level}
}
