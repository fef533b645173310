package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New 按配置创建 logger，同时设置为全局标准 logger，
// 这样包内直接调用 logrus.WithField 的地方也使用同样的格式。
func New(level, format string) *logrus.Logger {
	return newWithOutput(level, format, os.Stderr)
}

func newWithOutput(level, format string, out io.Writer) *logrus.Logger {
	l := logrus.StandardLogger()
	l.SetOutput(out)
	l.SetLevel(parseLevel(level))

	if strings.EqualFold(format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	}
	return l
}

// parseLevel 无法识别的级别按 info 处理
func parseLevel(s string) logrus.Level {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(s))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
