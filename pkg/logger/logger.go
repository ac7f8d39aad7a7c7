// 文件: pkg/logger/logger.go
// 全局日志 (zerolog)

package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger 全局实例
var Logger = zerolog.Nop()

// Initialize 控制台输出，level: debug / info / warn / error
func Initialize(level string) {
	InitializeWith(os.Stdout, level)
}

// InitializeWith 指定输出
func InitializeWith(out io.Writer, level string) {
	zerolog.TimeFieldFormat = time.RFC3339

	consoleWriter := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "2006-01-02 15:04:05",
	}

	Logger = zerolog.New(consoleWriter).
		With().
		Timestamp().
		Logger()

	zerolog.SetGlobalLevel(ParseLevel(level))
	log.Logger = Logger
}

// ParseLevel 无法识别时为 info
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// For 带 module 字段的子 logger
func For(module string) zerolog.Logger {
	return Logger.With().Str("module", module).Logger()
}
