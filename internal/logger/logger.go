// Package logger 基于 zap 构建进程日志。
package logger

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// 生产模式的轮转文件参数
const (
	logFile       = "./logs/mailrelay.log"
	logMaxSizeMB  = 100
	logMaxBackups = 3
	logMaxAgeDays = 28
)

// New 按日志级别和运行模式创建日志记录器。
// 开发模式输出彩色控制台日志；生产模式输出 JSON，
// 同时写控制台和轮转文件。任何一步失败都回退到 Nop，
// 日志系统的问题不阻止进程启动。
func New(level string, development bool) *zap.Logger {
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		parsed = zapcore.InfoLevel
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	if development {
		core := zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderConfig),
			zapcore.AddSync(os.Stdout),
			parsed,
		)
		return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	}

	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
		return zap.NewNop()
	}
	writeSyncer := zapcore.NewMultiWriteSyncer(
		zapcore.AddSync(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    logMaxSizeMB,
			MaxBackups: logMaxBackups,
			MaxAge:     logMaxAgeDays,
			Compress:   true,
		}),
		zapcore.AddSync(os.Stdout),
	)
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), writeSyncer, parsed)
	return zap.New(core, zap.AddCaller())
}
