package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// Settings 用于配置日志的设置
type Settings struct {
	Path       string
	Name       string
	Ext        string
	TimeFormat string
	Level      string // debug/info/warning/error，为空时使用 info
}

// Setup 把标准 logrus 输出重定向到按日期命名的日志文件
func Setup(settings *Settings) error {
	if err := os.MkdirAll(settings.Path, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create log directory: %v", err)
	}

	currentDate := time.Now().Format(settings.TimeFormat)
	logFileName := fmt.Sprintf("%s_%s.%s", settings.Name, currentDate, settings.Ext)
	logFilePath := filepath.Join(settings.Path, logFileName)

	logFile, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %v", err)
	}

	logrus.SetOutput(logFile)
	// TimeFormat 只决定文件名中的日期，日志行使用完整时间戳
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if err := SetLevel(settings.Level); err != nil {
		return err
	}

	logrus.WithField("file", logFilePath).Info("logging to file")
	return nil
}

// SetLevel 设置日志级别
func SetLevel(level string) error {
	if level == "" {
		logrus.SetLevel(logrus.InfoLevel)
		return nil
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %v", level, err)
	}
	logrus.SetLevel(lvl)
	return nil
}

// WithNode 带上节点地址字段
func WithNode(addr string) *logrus.Entry {
	return logrus.WithField("node", addr)
}
