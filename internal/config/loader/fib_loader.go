package loader

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"chartdraw/internal/drawing"
	"chartdraw/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const fibLevelSchema = `{
  "type": "object",
  "required": ["levels"],
  "additionalProperties": false,
  "properties": {
    "levels": {
      "type": "array",
      "minItems": 1,
      "maxItems": 32,
      "items": {
        "type": "object",
        "required": ["ratio"],
        "additionalProperties": false,
        "properties": {
          "ratio":   {"type": "number", "minimum": -1, "maximum": 5},
          "label":   {"type": "string", "maxLength": 32},
          "visible": {"type": "boolean"},
          "color":   {"type": "string", "pattern": "^(#[0-9a-fA-F]{3,8})?$"},
          "is_key":  {"type": "boolean"}
        }
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	schemaCompiled *jsonschema.Schema
	schemaErr      error
)

func levelSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("fib_levels.json", strings.NewReader(fibLevelSchema)); err != nil {
			schemaErr = err
			return
		}
		schemaCompiled, schemaErr = compiler.Compile("fib_levels.json")
	})
	return schemaCompiled, schemaErr
}

// FibLevelFile 映射 fib_levels.yaml。
type FibLevelFile struct {
	Levels []LevelEntry `yaml:"levels" json:"levels"`
}

// LevelEntry 单条回撤水平；visible 省略时视为可见。
type LevelEntry struct {
	Ratio   float64 `yaml:"ratio" json:"ratio"`
	Label   string  `yaml:"label,omitempty" json:"label,omitempty"`
	Visible *bool   `yaml:"visible,omitempty" json:"visible,omitempty"`
	Color   string  `yaml:"color,omitempty" json:"color,omitempty"`
	IsKey   bool    `yaml:"is_key,omitempty" json:"is_key,omitempty"`
}

func (f FibLevelFile) toLevels() []drawing.FibLevel {
	out := make([]drawing.FibLevel, 0, len(f.Levels))
	for _, e := range f.Levels {
		visible := true
		if e.Visible != nil {
			visible = *e.Visible
		}
		out = append(out, drawing.FibLevel{
			Ratio:   e.Ratio,
			Label:   e.Label,
			Visible: visible,
			Color:   e.Color,
			IsKey:   e.IsKey,
		})
	}
	return out
}

func fileFromLevels(levels []drawing.FibLevel) FibLevelFile {
	out := FibLevelFile{Levels: make([]LevelEntry, 0, len(levels))}
	for _, l := range levels {
		visible := l.Visible
		out.Levels = append(out.Levels, LevelEntry{
			Ratio:   l.Ratio,
			Label:   l.Label,
			Visible: &visible,
			Color:   l.Color,
			IsKey:   l.IsKey,
		})
	}
	return out
}

// DecodeLevels 解析 YAML 或 JSON 形式的水平列表，先做 schema 校验再严格解码。
func DecodeLevels(raw []byte) ([]drawing.FibLevel, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, invalidLevels("empty level document", nil)
	}
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, invalidLevels("parse level document failed", err)
	}
	// 统一转成 JSON 值类型再交给 schema 校验
	asJSON, err := json.Marshal(generic)
	if err != nil {
		return nil, invalidLevels("level document is not JSON compatible", err)
	}
	var doc any
	if err := json.Unmarshal(asJSON, &doc); err != nil {
		return nil, invalidLevels("level document is not JSON compatible", err)
	}
	schema, err := levelSchema()
	if err != nil {
		return nil, fmt.Errorf("compile fib level schema failed: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, invalidLevels("level document violates schema", err)
	}

	var file FibLevelFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, invalidLevels("decode levels failed", err)
	}
	levels, err := drawing.NormalizeFibLevels(file.toLevels())
	if err != nil {
		return nil, err
	}
	return levels, nil
}

func invalidLevels(msg string, cause error) error {
	return &drawing.CodedError{Code: drawing.CodeInvalidLevels, Message: msg, Cause: cause}
}

// FibLoader 把 fib_levels.yaml 与进程内的 FibLevelConfig 双向同步：
// 文件变更推送到配置，设置面板的修改写回文件。
type FibLoader struct {
	path   string
	target *drawing.FibLevelConfig
	v      *viper.Viper

	// applyMu 串行化 应用→写回，文件内容与最后一次应用一致
	applyMu sync.Mutex

	mu       sync.Mutex
	version  int64
	loadedAt time.Time
	saveErr  error
	watching bool
	closed   bool
}

// NewFibLoader 读取 path 并应用到 target；文件不存在时用 target 当前配置生成。
func NewFibLoader(path string, target *drawing.FibLevelConfig) (*FibLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("fib loader requires path")
	}
	if target == nil {
		return nil, fmt.Errorf("fib loader requires level config")
	}
	l := &FibLoader{path: path, target: target}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := l.Save(target.Levels()); err != nil {
			return nil, err
		}
		logger.Infof("Fib levels file %s not found, seeded with %d levels", path, len(target.Levels()))
	}
	if err := l.Reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Watch 开始监听文件变化；重复调用无副作用。
func (l *FibLoader) Watch() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watching || l.closed {
		return nil
	}
	v := viper.New()
	v.SetConfigFile(l.path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read fib level config failed: %w", err)
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := l.Reload(); err != nil {
			logger.Errorf("fib levels reload failed (%s): %v", evt.Name, err)
		}
	})
	v.WatchConfig()
	l.v = v
	l.watching = true
	return nil
}

// Reload 重新读取文件；内容与当前配置相同时不触发重建。
func (l *FibLoader) Reload() error {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("read fib level config failed: %w", err)
	}
	levels, err := DecodeLevels(raw)
	if err != nil {
		return err
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.version++
	l.loadedAt = time.Now()
	l.mu.Unlock()

	if reflect.DeepEqual(levels, l.target.Levels()) {
		return nil
	}
	if err := l.target.Update(levels); err != nil {
		return err
	}
	logger.Infof("Fib levels reloaded %d levels from %s", len(levels), filepath.Base(l.path))
	return nil
}

func (l *FibLoader) Levels() []drawing.FibLevel {
	return l.target.Levels()
}

// Update 应用新配置并写回文件。写回失败不回滚，只记录在 SaveError。
func (l *FibLoader) Update(levels []drawing.FibLevel) error {
	l.applyMu.Lock()
	defer l.applyMu.Unlock()
	if err := l.target.Update(levels); err != nil {
		return err
	}
	l.persist()
	return nil
}

func (l *FibLoader) SetVisible(ratio float64, visible bool) error {
	l.applyMu.Lock()
	defer l.applyMu.Unlock()
	if err := l.target.SetVisible(ratio, visible); err != nil {
		return err
	}
	l.persist()
	return nil
}

func (l *FibLoader) persist() {
	err := l.Save(l.target.Levels())
	l.mu.Lock()
	l.saveErr = err
	l.mu.Unlock()
	if err != nil {
		logger.Warnf("Fib levels applied but not saved to %s: %v", l.path, err)
	}
}

// SaveError 返回最近一次面板修改写回文件的错误，成功时为 nil。
func (l *FibLoader) SaveError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.saveErr
}

// Save 以临时文件+rename 的方式写回，避免监听方读到半个文件。
func (l *FibLoader) Save(levels []drawing.FibLevel) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(fileFromLevels(levels)); err != nil {
		return fmt.Errorf("encode fib levels failed: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode fib levels failed: %w", err)
	}
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create fib level dir failed: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".fib_levels-*.yaml")
	if err != nil {
		return fmt.Errorf("write fib levels failed: %w", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write fib levels failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write fib levels failed: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace fib levels failed: %w", err)
	}
	return nil
}

// Version 返回成功读取文件的次数。
func (l *FibLoader) Version() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.version
}

// LoadedAt 返回最近一次成功读取文件的时间。
func (l *FibLoader) LoadedAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loadedAt
}

func (l *FibLoader) Path() string { return l.path }

// Close 之后的文件事件与写回都会被忽略。viper 不提供停止监听的接口。
func (l *FibLoader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}
