package conf

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pelletier/go-toml"
	"gopkg.in/ini.v1"

	"github.com/zhukovaskychina/xpagestore/logger"
	"github.com/zhukovaskychina/xpagestore/server/common"
)

type CommandLineArgs struct {
	ConfigPath string
}

/*
[storage]
data_file    = data/pages.db
minimum_size = 1MiB
maximum_size = 0
wal_size     = 256KiB
compression  = lz4

[logs]
log_error = logs/error.log
log_infos = logs/info.log
log_level = info
*/
type Cfg struct {
	Raw *ini.File

	// storage
	DataFile    string `default:"data/pages.db" yaml:"data_file" json:"data_file,omitempty"`
	MinimumSize uint64 `default:"131072" yaml:"minimum_size" json:"minimum_size,omitempty"`
	MaximumSize uint64 `default:"0" yaml:"maximum_size" json:"maximum_size,omitempty"`
	WalSize     uint64 `default:"262144" yaml:"wal_size" json:"wal_size,omitempty"`
	Compression string `default:"lz4" yaml:"compression" json:"compression,omitempty"`

	// logs
	LogError string `default:"" yaml:"log_error" json:"log_error,omitempty"`
	LogInfos string `default:"" yaml:"log_infos" json:"log_infos,omitempty"`
	LogLevel string `default:"info" yaml:"log_level" json:"log_level,omitempty"`
}

func NewCfg() *Cfg {
	return &Cfg{
		Raw:         ini.Empty(),
		DataFile:    "data/pages.db",
		MinimumSize: common.MINIMUM_FILE_SIZE,
		WalSize:     common.DEFAULT_WAL_SIZE,
		Compression: CompressionLZ4,
		LogLevel:    "info",
	}
}

// Load 读取配置文件，.toml 后缀按 toml 解析，其余按 ini 解析。文件不存在时使用默认配置。
func (cfg *Cfg) Load(args *CommandLineArgs) *Cfg {
	if args == nil || args.ConfigPath == "" {
		return cfg
	}
	if _, err := os.Stat(args.ConfigPath); os.IsNotExist(err) {
		logger.Debugf("配置文件不存在: %s，使用默认配置", args.ConfigPath)
		return cfg
	}
	if strings.EqualFold(filepath.Ext(args.ConfigPath), ".toml") {
		return cfg.loadToml(args.ConfigPath)
	}

	parsed, err := ini.Load(args.ConfigPath)
	if err != nil {
		logger.Warnf("解析配置文件失败: %v，使用默认配置", err)
		return cfg
	}
	cfg.Raw = parsed
	cfg.parseStorageCfg(parsed.Section("storage"))
	cfg.parseLogsCfg(parsed.Section("logs"))
	logger.Debugf("成功加载配置文件: %s", args.ConfigPath)
	return cfg
}

// Options 转换为数据库打开选项
func (cfg *Cfg) Options() Options {
	return Options{
		MinimumSize: cfg.MinimumSize,
		MaximumSize: cfg.MaximumSize,
		WalSize:     cfg.WalSize,
		Compression: cfg.Compression,
	}
}

// LogConfig 转换为日志配置
func (cfg *Cfg) LogConfig() logger.LogConfig {
	return logger.LogConfig{
		ErrorLogPath: cfg.LogError,
		InfoLogPath:  cfg.LogInfos,
		LogLevel:     cfg.LogLevel,
	}
}

func valueAsString(section *ini.Section, keyName string, defaultValue string) string {
	if section == nil {
		return defaultValue
	}
	value := section.Key(keyName).MustString(defaultValue)
	if value == "" {
		value = defaultValue
	}
	return value
}

// valueAsSize 支持 "256KiB"、"4MB" 或纯数字
func valueAsSize(raw string, defaultValue uint64) uint64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultValue
	}
	size, err := humanize.ParseBytes(raw)
	if err != nil {
		logger.Warnf("无效的大小配置 '%s'，使用默认值 %d", raw, defaultValue)
		return defaultValue
	}
	return size
}

func (cfg *Cfg) parseStorageCfg(section *ini.Section) *Cfg {
	if section == nil {
		return cfg
	}
	cfg.DataFile = valueAsString(section, "data_file", cfg.DataFile)
	cfg.MinimumSize = valueAsSize(section.Key("minimum_size").String(), cfg.MinimumSize)
	cfg.MaximumSize = valueAsSize(section.Key("maximum_size").String(), cfg.MaximumSize)
	cfg.WalSize = valueAsSize(section.Key("wal_size").String(), cfg.WalSize)
	cfg.Compression = strings.ToLower(valueAsString(section, "compression", cfg.Compression))
	return cfg
}

func (cfg *Cfg) parseLogsCfg(section *ini.Section) *Cfg {
	if section == nil {
		return cfg
	}
	cfg.LogError = valueAsString(section, "log_error", cfg.LogError)
	cfg.LogInfos = valueAsString(section, "log_infos", cfg.LogInfos)
	cfg.setLogLevel(valueAsString(section, "log_level", cfg.LogLevel))
	return cfg
}

func (cfg *Cfg) setLogLevel(level string) {
	level = strings.ToLower(level)
	switch level {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic":
		cfg.LogLevel = level
	default:
		logger.Debugf("警告: 无效的日志级别 '%s', 使用默认级别 'info'", level)
		cfg.LogLevel = "info"
	}
}

func (cfg *Cfg) loadToml(path string) *Cfg {
	tree, err := toml.LoadFile(path)
	if err != nil {
		logger.Warnf("解析配置文件失败: %v，使用默认配置", err)
		return cfg
	}
	str := func(key, def string) string {
		if !tree.Has(key) {
			return def
		}
		if v, ok := tree.Get(key).(string); ok && v != "" {
			return v
		}
		return def
	}
	size := func(key string, def uint64) uint64 {
		if !tree.Has(key) {
			return def
		}
		switch v := tree.Get(key).(type) {
		case int64:
			if v >= 0 {
				return uint64(v)
			}
		case string:
			return valueAsSize(v, def)
		}
		return def
	}
	cfg.DataFile = str("storage.data_file", cfg.DataFile)
	cfg.MinimumSize = size("storage.minimum_size", cfg.MinimumSize)
	cfg.MaximumSize = size("storage.maximum_size", cfg.MaximumSize)
	cfg.WalSize = size("storage.wal_size", cfg.WalSize)
	cfg.Compression = strings.ToLower(str("storage.compression", cfg.Compression))
	cfg.LogError = str("logs.log_error", cfg.LogError)
	cfg.LogInfos = str("logs.log_infos", cfg.LogInfos)
	cfg.setLogLevel(str("logs.log_level", cfg.LogLevel))
	logger.Debugf("成功加载配置文件: %s", path)
	return cfg
}
