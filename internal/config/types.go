package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/any-hub/groupstore/internal/group"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述服务运行参数与工作区布局。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort" validate:"min=1,max=65535"`
	LogLevel      string `mapstructure:"LogLevel" validate:"required,oneof=trace debug info warn warning error fatal panic"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize" validate:"min=0"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups" validate:"min=0"`
	LogCompress   bool   `mapstructure:"LogCompress"`

	// Backend 对应 resource 注册表中的后端键，例如 disk/memory/badger。
	Backend       string `mapstructure:"Backend" validate:"required"`
	WorkspacePath string `mapstructure:"WorkspacePath"`
	APIDir        string `mapstructure:"APIDir" validate:"required,excludesall=/\\"`
	FunctionDir   string `mapstructure:"FunctionDir" validate:"required,excludesall=/\\"`
	MetadataFile  string `mapstructure:"MetadataFile" validate:"required,excludesall=/\\"`

	// InstanceID 写入变更通知的 From 字段，留空时启动期自动生成。
	InstanceID    string   `mapstructure:"InstanceID"`
	WarmupOnStart bool     `mapstructure:"WarmupOnStart"`
	ReadTimeout   Duration `mapstructure:"ReadTimeout"`
	WriteTimeout  Duration `mapstructure:"WriteTimeout"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
}

// Layout 将目录相关配置转换为分组存储使用的布局。
func (g GlobalConfig) Layout() group.Layout {
	return group.Layout{
		APIDir:       g.APIDir,
		FunctionDir:  g.FunctionDir,
		MetadataFile: g.MetadataFile,
	}
}
