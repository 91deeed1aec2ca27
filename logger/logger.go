package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	// Logger 引擎日志实例，调试与警告输出
	Logger *logrus.Logger
	// InfoLogger 信息日志实例
	InfoLogger *logrus.Logger
	// ErrorLogger 错误日志实例
	ErrorLogger *logrus.Logger

	initOnce sync.Once
)

// LogConfig 日志配置
type LogConfig struct {
	ErrorLogPath string
	InfoLogPath  string
	LogLevel     string
}

// CustomFormatter 输出格式: [时间] [级别] (调用者) 消息 key=value...
type CustomFormatter struct {
	TimestampFormat string
}

// Format 实现 logrus.Formatter 接口
func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	format := f.TimestampFormat
	if format == "" {
		format = "15:04:05 MST 2006/01/02"
	}
	level := strings.ToUpper(entry.Level.String())
	if len(level) > 4 {
		level = level[:4]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] (%s) %s", entry.Time.Format(format), level, getCaller(), entry.Message)
	if len(entry.Data) > 0 {
		keys := make([]string, 0, len(entry.Data))
		for k := range entry.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, entry.Data[k])
		}
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

// getCaller 跳过日志框架的调用栈，找到实际的调用者
func getCaller() string {
	for i := 2; i < 20; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if strings.Contains(file, "sirupsen") ||
			strings.Contains(file, "/logger/logger.go") ||
			strings.Contains(file, "/entry.go") {
			continue
		}
		funcName := runtime.FuncForPC(pc).Name()
		if idx := strings.LastIndex(funcName, "/"); idx >= 0 {
			funcName = funcName[idx+1:]
		}
		return fmt.Sprintf("%s:%s:%d", filepath.Base(file), funcName, line)
	}
	return "unknown:unknown:0"
}

// ParseLogLevel 解析日志级别字符串，无法识别时返回 info
func ParseLogLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.InfoLevel
	}
}

// InitLogger 初始化日志
func InitLogger(config LogConfig) error {
	formatter := &CustomFormatter{TimestampFormat: "15:04:05 MST 2006/01/02"}
	level := ParseLogLevel(config.LogLevel)

	Logger = logrus.New()
	Logger.SetFormatter(formatter)
	Logger.SetLevel(level)

	InfoLogger = logrus.New()
	InfoLogger.SetFormatter(formatter)
	InfoLogger.SetLevel(level)

	ErrorLogger = logrus.New()
	ErrorLogger.SetFormatter(formatter)
	ErrorLogger.SetLevel(level)

	var firstErr error
	if config.InfoLogPath != "" {
		f, err := openLogFile(config.InfoLogPath)
		if err != nil {
			InfoLogger.SetOutput(os.Stdout)
			firstErr = err
		} else {
			InfoLogger.SetOutput(io.MultiWriter(os.Stdout, f))
		}
	} else {
		InfoLogger.SetOutput(os.Stdout)
	}

	if config.ErrorLogPath != "" {
		f, err := openLogFile(config.ErrorLogPath)
		if err != nil {
			ErrorLogger.SetOutput(os.Stderr)
			if firstErr == nil {
				firstErr = err
			}
		} else {
			ErrorLogger.SetOutput(io.MultiWriter(os.Stderr, f))
		}
	} else {
		ErrorLogger.SetOutput(os.Stderr)
	}

	Logger.SetOutput(InfoLogger.Out)
	initOnce.Do(func() {})
	return firstErr
}

// ensure 引擎作为库使用时没有调用 InitLogger，默认输出到 stderr，级别 warn
func ensure() {
	initOnce.Do(func() {
		formatter := &CustomFormatter{}
		for _, l := range []**logrus.Logger{&Logger, &InfoLogger, &ErrorLogger} {
			if *l == nil {
				*l = logrus.New()
				(*l).SetFormatter(formatter)
				(*l).SetLevel(logrus.WarnLevel)
				(*l).SetOutput(os.Stderr)
			}
		}
	})
}

// SetOutput 将所有日志重定向到 w，测试中使用
func SetOutput(w io.Writer) {
	ensure()
	Logger.SetOutput(w)
	InfoLogger.SetOutput(w)
	ErrorLogger.SetOutput(w)
}

// SetLevel 调整所有日志实例的级别
func SetLevel(level string) {
	ensure()
	l := ParseLogLevel(level)
	Logger.SetLevel(l)
	InfoLogger.SetLevel(l)
	ErrorLogger.SetLevel(l)
}

func openLogFile(logPath string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
}

// WithFields 返回携带字段的调试日志条目
func WithFields(fields logrus.Fields) *logrus.Entry {
	ensure()
	return Logger.WithFields(fields)
}

// Info 记录信息日志
func Info(args ...interface{}) {
	ensure()
	InfoLogger.Info(args...)
}

// Infof 记录格式化信息日志
func Infof(format string, args ...interface{}) {
	ensure()
	InfoLogger.Infof(format, args...)
}

// Debug 记录调试日志
func Debug(args ...interface{}) {
	ensure()
	Logger.Debug(args...)
}

// Debugf 记录格式化调试日志
func Debugf(format string, args ...interface{}) {
	ensure()
	Logger.Debugf(format, args...)
}

// Warn 记录警告日志
func Warn(args ...interface{}) {
	ensure()
	Logger.Warn(args...)
}

// Warnf 记录格式化警告日志
func Warnf(format string, args ...interface{}) {
	ensure()
	Logger.Warnf(format, args...)
}

// Error 记录错误日志
func Error(args ...interface{}) {
	ensure()
	ErrorLogger.Error(args...)
}

// Errorf 记录格式化错误日志
func Errorf(format string, args ...interface{}) {
	ensure()
	ErrorLogger.Errorf(format, args...)
}

// Fatalf 记录格式化致命错误日志并退出
func Fatalf(format string, args ...interface{}) {
	ensure()
	ErrorLogger.Fatalf(format, args...)
}
