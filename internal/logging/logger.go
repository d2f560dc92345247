package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/any-hub/offline-cache/internal/config"
)

// ServiceName 写入每条日志的 service 字段。
const ServiceName = "offline-cache"

// InitLogger 根据全局配置初始化 JSON 结构化日志。每条日志都带上 service 与 data_dir，
// 便于在宿主的日志目录中区分多个实例。
func InitLogger(cfg config.GlobalConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("无法解析日志级别: %w", err)
	}

	logPath := ResolveLogPath(cfg)
	output, outErr := buildOutput(cfg, logPath)
	if outErr != nil {
		fmt.Fprintf(os.Stderr, "logger_fallback: %v\n", outErr)
	}

	logger := newLogger(level, output)
	logger.AddHook(staticFieldsHook{fields: logrus.Fields{
		"service":  ServiceName,
		"data_dir": cfg.DataDir,
	}})

	logrus.SetFormatter(logger.Formatter)
	logrus.SetOutput(logger.Out)
	logrus.SetLevel(logger.GetLevel())

	if outErr != nil {
		logger.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   logPath,
		}).Warn(outErr.Error())
	}

	return logger, nil
}

// ResolveLogPath 返回最终日志文件路径：相对路径挂在 DataDir 下，空值表示输出到 stdout。
func ResolveLogPath(cfg config.GlobalConfig) string {
	if cfg.LogFilePath == "" {
		return ""
	}
	if filepath.IsAbs(cfg.LogFilePath) || cfg.DataDir == "" {
		return cfg.LogFilePath
	}
	return filepath.Join(cfg.DataDir, cfg.LogFilePath)
}

// NewDiscardLogger 返回丢弃所有输出的 logger，供测试与嵌入场景使用。
func NewDiscardLogger() *logrus.Logger {
	return newLogger(logrus.InfoLevel, io.Discard)
}

func newLogger(level logrus.Level, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	return logger
}

// buildOutput 创建日志输出 Writer；目录不可用时降级到 stdout 并返回错误。
func buildOutput(cfg config.GlobalConfig, logPath string) (io.Writer, error) {
	if logPath == "" {
		return os.Stdout, nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return os.Stdout, fmt.Errorf("创建日志目录失败: %w", err)
	}

	return &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   cfg.LogCompress,
		LocalTime:  true,
	}, nil
}

// staticFieldsHook 为每条日志补充固定字段，调用方显式设置的同名字段优先。
type staticFieldsHook struct {
	fields logrus.Fields
}

func (h staticFieldsHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h staticFieldsHook) Fire(entry *logrus.Entry) error {
	for key, value := range h.fields {
		if _, ok := entry.Data[key]; !ok {
			entry.Data[key] = value
		}
	}
	return nil
}
