// Package loader 加载 IL 文本模块和映像文件，并解析模块之间的引用
package loader

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/tangzhangming/ilengine/internal/cil"
	"github.com/tangzhangming/ilengine/internal/meta"
)

// 常量定义
const (
	SourceFileExtension = ".il"               // IL 文本后缀
	ImageFileExtension  = meta.ImageExtension // 映像文件后缀
	ModulePathEnv       = "ILENGINE_PATH"     // 模块搜索路径环境变量，多个目录用路径分隔符分开
	ModuleDirName       = ".ilengine/modules" // 默认模块目录（用户主目录下）
)

// ErrCycle 模块之间循环引用
var ErrCycle = errors.New("circular module reference")

// getModuleDirs 获取模块搜索目录
// 优先级：环境变量 > 默认目录
func getModuleDirs() []string {
	if env := os.Getenv(ModulePathEnv); env != "" {
		return filepath.SplitList(env)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return []string{filepath.Join(".", ModuleDirName)}
	}
	return []string{filepath.Join(homeDir, ModuleDirName)}
}

// Loader 模块加载器
type Loader struct {
	rootDir string // 入口模块所在目录
	dirs    []string
	corlib  *meta.Module
	log     *zap.Logger

	modules map[string]*meta.Module // 规范化路径 -> 已加载模块
	loading map[string]bool         // 正在加载，用于发现循环引用
}

// New 创建加载器
func New(entryFile string, corlib *meta.Corlib, log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{
		rootDir: filepath.Dir(entryFile),
		dirs:    getModuleDirs(),
		corlib:  corlib.Module,
		log:     log,
		modules: make(map[string]*meta.Module),
		loading: make(map[string]bool),
	}
}

// Load 按文件后缀加载模块；同一个文件只加载一次
func (l *Loader) Load(path string) (*meta.Module, error) {
	key := normalizePath(path)
	if m, ok := l.modules[key]; ok {
		return m, nil
	}
	if l.loading[key] {
		return nil, fmt.Errorf("%w: %s", ErrCycle, path)
	}
	l.loading[key] = true
	defer delete(l.loading, key)

	var (
		m   *meta.Module
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ImageFileExtension:
		m, err = l.loadImage(path)
	case SourceFileExtension:
		m, err = l.loadSource(path)
	default:
		return nil, fmt.Errorf("unknown module file type: %s", path)
	}
	if err != nil {
		return nil, err
	}
	l.modules[key] = m
	l.log.Debug("module loaded",
		zap.String("path", path),
		zap.String("module", m.Name),
		zap.Int("classes", len(m.Classes)))
	return m, nil
}

func (l *Loader) loadSource(path string) (*meta.Module, error) {
	src, err := l.LoadFile(path)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	m, err := cil.AssembleModule(src, cil.ModuleOptions{
		Name:   name,
		Corlib: l.corlib,
		Import: func(ref string) (*meta.Module, error) {
			p, err := l.ResolveReference(ref)
			if err != nil {
				return nil, err
			}
			return l.Load(p)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func (l *Loader) loadImage(path string) (*meta.Module, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := meta.Decode(bufio.NewReader(f), l.corlib)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Save 把模块写为映像文件
func Save(path string, m *meta.Module) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create image: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := meta.Encode(w, m); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ResolveReference 解析被引用的模块名，返回文件路径
// 查找顺序：1.入口模块所在目录 2.模块搜索目录；同一目录中映像优先于文本
func (l *Loader) ResolveReference(name string) (string, error) {
	if ext := filepath.Ext(name); ext == SourceFileExtension || ext == ImageFileExtension {
		p := name
		if !filepath.IsAbs(p) {
			p = filepath.Join(l.rootDir, p)
		}
		if _, err := os.Stat(p); err == nil {
			return filepath.Abs(p)
		}
		return "", fmt.Errorf("module not found: %s", name)
	}

	dirs := append([]string{l.rootDir}, l.dirs...)
	for _, dir := range dirs {
		for _, ext := range []string{ImageFileExtension, SourceFileExtension} {
			p := filepath.Join(dir, name+ext)
			if _, err := os.Stat(p); err == nil {
				return filepath.Abs(p)
			}
		}
	}
	return "", fmt.Errorf("module not found: %s (searched %s)", name, strings.Join(dirs, ", "))
}

// LoadFile 加载源文件内容
func (l *Loader) LoadFile(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// IsLoaded 检查文件是否已加载
func (l *Loader) IsLoaded(path string) bool {
	_, ok := l.modules[normalizePath(path)]
	return ok
}

// normalizePath 规范化路径
func normalizePath(path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return filepath.Clean(absPath)
}

// RootDir 获取入口模块所在目录
func (l *Loader) RootDir() string {
	return l.rootDir
}
