// Package config 读取 ilengine.toml
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/tangzhangming/ilengine/internal/engine"
	"github.com/tangzhangming/ilengine/internal/logging"
)

// 常量定义
const (
	FileName = "ilengine.toml" // 配置文件名
)

// ErrInvalid 配置值不合法
var ErrInvalid = errors.New("invalid configuration")

// Config 引擎配置
type Config struct {
	Engine  EngineConfig  `toml:"engine"`
	Log     LogConfig     `toml:"log"`
	PInvoke PInvokeConfig `toml:"pinvoke"`
}

// EngineConfig 校验与代码生成
type EngineConfig struct {
	// UnsafeAllowed 允许指针运算等不可验证的代码
	UnsafeAllowed bool `toml:"unsafe_allowed"`

	// DebugEnabled 生成代码中保留 IL 偏移标记
	DebugEnabled bool `toml:"debug_enabled"`

	// OptimizationLevel 0..2，只影响生成代码的质量
	OptimizationLevel int `toml:"optimization_level"`

	// TrustSystemCode 核心库方法按可信代码处理
	TrustSystemCode bool `toml:"trust_system_code"`

	// VerifyOnly 只校验，不执行
	VerifyOnly bool `toml:"verify_only"`

	// HeapLimit 托管堆上限（字节），0 表示不限
	HeapLimit int64 `toml:"heap_limit"`
}

// LogConfig 日志
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // console 或 json
}

// PInvokeConfig 本地库查找
type PInvokeConfig struct {
	SearchPaths []string          `toml:"search_paths"`
	Aliases     map[string]string `toml:"aliases"` // 库名别名，例如 libc -> c
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			OptimizationLevel: 1,
			TrustSystemCode:   true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load 从文件加载配置，文件中没有的项使用默认值
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse 解析 TOML 文本
func Parse(data []byte) (*Config, error) {
	c := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate 检查取值范围
func (c *Config) Validate() error {
	if c.Engine.OptimizationLevel < 0 || c.Engine.OptimizationLevel > 2 {
		return fmt.Errorf("%w: optimization_level %d not in 0..2", ErrInvalid, c.Engine.OptimizationLevel)
	}
	if c.Engine.HeapLimit < 0 {
		return fmt.Errorf("%w: heap_limit must not be negative", ErrInvalid)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalid, c.Log.Format)
	}
	return nil
}

// LoggingOptions 日志选项
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{Level: c.Log.Level, JSON: c.Log.Format == "json"}
}

// EngineOptions 引擎选项，日志和输出由调用方填写
func (c *Config) EngineOptions() engine.Options {
	return engine.Options{
		Unsafe:      c.Engine.UnsafeAllowed,
		Debug:       c.Engine.DebugEnabled,
		TrustSystem: c.Engine.TrustSystemCode,
		OptLevel:    c.Engine.OptimizationLevel,
		HeapLimit:   c.Engine.HeapLimit,
		SearchPaths: c.PInvoke.SearchPaths,
		Aliases:     c.PInvoke.Aliases,
	}
}

// Save 保存配置到文件
func (c *Config) Save(path string) error {
	if err := os.WriteFile(path, []byte(c.String()), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// String 生成带注释的配置文件内容
func (c *Config) String() string {
	var sb strings.Builder

	sb.WriteString("[engine]\n")
	sb.WriteString("# 允许不可验证的代码（指针运算等）\n")
	sb.WriteString(fmt.Sprintf("unsafe_allowed = %t\n", c.Engine.UnsafeAllowed))
	sb.WriteString("# 生成代码中保留 IL 偏移\n")
	sb.WriteString(fmt.Sprintf("debug_enabled = %t\n", c.Engine.DebugEnabled))
	sb.WriteString(fmt.Sprintf("optimization_level = %d\n", c.Engine.OptimizationLevel))
	sb.WriteString("# 核心库方法按可信代码处理\n")
	sb.WriteString(fmt.Sprintf("trust_system_code = %t\n", c.Engine.TrustSystemCode))
	sb.WriteString(fmt.Sprintf("verify_only = %t\n", c.Engine.VerifyOnly))
	sb.WriteString(fmt.Sprintf("heap_limit = %d\n\n", c.Engine.HeapLimit))

	sb.WriteString("[log]\n")
	sb.WriteString(fmt.Sprintf("level = %q\n", c.Log.Level))
	sb.WriteString("# console 或 json\n")
	sb.WriteString(fmt.Sprintf("format = %q\n\n", c.Log.Format))

	sb.WriteString("[pinvoke]\n")
	quoted := make([]string, len(c.PInvoke.SearchPaths))
	for i, p := range c.PInvoke.SearchPaths {
		quoted[i] = fmt.Sprintf("%q", p)
	}
	sb.WriteString(fmt.Sprintf("search_paths = [%s]\n", strings.Join(quoted, ", ")))
	if len(c.PInvoke.Aliases) > 0 {
		sb.WriteString("\n[pinvoke.aliases]\n")
		names := make([]string, 0, len(c.PInvoke.Aliases))
		for k := range c.PInvoke.Aliases {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			sb.WriteString(fmt.Sprintf("%s = %q\n", k, c.PInvoke.Aliases[k]))
		}
	}
	return sb.String()
}
