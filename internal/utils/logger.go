package utils

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 全局日志器, 未初始化时不输出
var Logger zerolog.Logger

const (
	mainLogName  = "bbarchive.log"
	errorLogName = "bbarchive_error.log"
)

// LogConfig 日志配置
type LogConfig struct {
	Level      string // trace, debug, info, warn, error
	LogDir     string
	MaxSize    int // 单个日志文件最大大小(MB)
	MaxBackups int
	MaxAge     int // 保留天数
	Compress   bool
	NoColor    bool // 强制关闭控制台颜色, 输出不是终端时自动关闭
}

// DefaultLogConfig 默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		LogDir:     "logs",
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
}

// InitLogger 初始化日志系统
// 控制台输出全部级别, bbarchive.log 记录全部级别, bbarchive_error.log 只记录错误
func InitLogger(config LogConfig) error {
	if err := os.MkdirAll(config.LogDir, 0755); err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(config.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	console := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
		NoColor:    config.NoColor || !isatty.IsTerminal(os.Stdout.Fd()),
	}

	Logger = zerolog.New(zerolog.MultiLevelWriter(
		console,
		rotatingFile(config, mainLogName),
		&FilteredWriter{Writer: rotatingFile(config, errorLogName), MinLevel: zerolog.ErrorLevel},
	)).With().Timestamp().Logger()
	log.Logger = Logger

	Logger.Debug().
		Str("level", level.String()).
		Str("log_dir", config.LogDir).
		Msg("日志系统初始化完成")
	return nil
}

func rotatingFile(config LogConfig, name string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   filepath.Join(config.LogDir, name),
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}
}

// RepoLogger 带仓库字段的日志器
func RepoLogger(fullName string) zerolog.Logger {
	return Logger.With().Str("repo", fullName).Logger()
}

// FilteredWriter 只写入 MinLevel 及以上级别的日志
type FilteredWriter struct {
	Writer   io.Writer
	MinLevel zerolog.Level
}

// Write 无级别的写入直接丢弃
func (w *FilteredWriter) Write(p []byte) (int, error) {
	return len(p), nil
}

// WriteLevel 实现 zerolog.LevelWriter
func (w *FilteredWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < w.MinLevel {
		return len(p), nil
	}
	return w.Writer.Write(p)
}

// Info 信息日志
func Info(msg string) { Logger.Info().Msg(msg) }

// Infof 格式化信息日志
func Infof(format string, args ...interface{}) { Logger.Info().Msgf(format, args...) }

// Warn 警告日志
func Warn(msg string) { Logger.Warn().Msg(msg) }

// Warnf 格式化警告日志
func Warnf(format string, args ...interface{}) { Logger.Warn().Msgf(format, args...) }

// Debug 调试日志
func Debug(msg string) { Logger.Debug().Msg(msg) }

// Debugf 格式化调试日志
func Debugf(format string, args ...interface{}) { Logger.Debug().Msgf(format, args...) }

// Errorf 格式化错误日志
func Errorf(format string, args ...interface{}) { Logger.Error().Msgf(format, args...) }

// Error 带错误字段的错误日志
func Error(err error, msg string) {
	Logger.Error().Err(err).Msg(msg)
}

// Fatal 记录后退出进程
func Fatal(err error, msg string) {
	Logger.Fatal().Err(err).Msg(msg)
}
