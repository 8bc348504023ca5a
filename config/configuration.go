package config

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Configuration 合并后的只读配置树，键用 ':' 或 '.' 分层且大小写不敏感
type Configuration interface {
	// Get 返回字符串形式的值，不存在时为空串
	Get(key string) string
	GetWithDefault(key, defaultValue string) string
	GetInt(key string) (int, error)
	GetBool(key string) (bool, error)
	// GetDuration 支持 "30s" 形式的字符串和纳秒整数
	GetDuration(key string) (time.Duration, error)
	// GetSection 以 key 为根的子配置，不存在时为空配置
	GetSection(key string) Configuration
	// Bind 把 key 下的子树解码到 target
	Bind(key string, target any) error
	// GetAll 返回整棵树的副本
	GetAll() map[string]any
}

// ReloadableConfiguration 可以重新加载所有配置源的配置
type ReloadableConfiguration interface {
	Configuration
	// Reload 重新按顺序加载全部配置源，成功后通知回调
	Reload() error
	// OnReload 注册重载回调
	OnReload(fn func())
	// Version 当前快照的版本，每次成功重载加一
	Version() uint64
}

// ConfigurationSource 一个配置来源，后添加的源覆盖先添加的
type ConfigurationSource interface {
	Load() (map[string]any, error)
	Name() string
}

// ConfigurationBuilder 按添加顺序收集配置源
type ConfigurationBuilder struct {
	mu      sync.Mutex
	sources []ConfigurationSource
}

func NewConfigurationBuilder() *ConfigurationBuilder {
	return &ConfigurationBuilder{}
}

// Add 添加配置源
func (b *ConfigurationBuilder) Add(source ConfigurationSource) *ConfigurationBuilder {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sources = append(b.sources, source)
	return b
}

// AddJsonFile optional 为 true 时文件不存在不报错
func (b *ConfigurationBuilder) AddJsonFile(path string, optional ...bool) *ConfigurationBuilder {
	return b.Add(&FileSource{Path: path, Format: "json", Optional: len(optional) > 0 && optional[0]})
}

// AddYamlFile optional 为 true 时文件不存在不报错
func (b *ConfigurationBuilder) AddYamlFile(path string, optional ...bool) *ConfigurationBuilder {
	return b.Add(&FileSource{Path: path, Format: "yaml", Optional: len(optional) > 0 && optional[0]})
}

// AddDotEnv 添加 .env 文件配置源，只读取带 prefix 的键
func (b *ConfigurationBuilder) AddDotEnv(prefix string, paths ...string) *ConfigurationBuilder {
	return b.Add(&DotEnvSource{Prefix: prefix, Paths: paths, Optional: true})
}

// AddEnvironmentVariables 添加环境变量配置源
func (b *ConfigurationBuilder) AddEnvironmentVariables(prefix string) *ConfigurationBuilder {
	return b.Add(&EnvironmentVariableSource{Prefix: prefix})
}

// AddInMemory 添加内存配置源
func (b *ConfigurationBuilder) AddInMemory(data map[string]any) *ConfigurationBuilder {
	return b.Add(&InMemorySource{Data: data})
}

// AddEtcd 添加 etcd 配置源
func (b *ConfigurationBuilder) AddEtcd(opts EtcdOptions) *ConfigurationBuilder {
	return b.Add(&EtcdSource{Options: opts})
}

// Build 构建配置
func (b *ConfigurationBuilder) Build() (Configuration, error) {
	return b.BuildReloadable()
}

// BuildReloadable 构建可重载的配置
func (b *ConfigurationBuilder) BuildReloadable() (ReloadableConfiguration, error) {
	b.mu.Lock()
	sources := slices.Clone(b.sources)
	b.mu.Unlock()

	data, err := loadSources(sources)
	if err != nil {
		return nil, err
	}
	return &configuration{store: newStore(data), sources: sources}, nil
}

// loadSources 按顺序加载并合并，后面的源覆盖前面的
func loadSources(sources []ConfigurationSource) (map[string]any, error) {
	data := make(map[string]any)
	for _, source := range sources {
		loaded, err := source.Load()
		if err != nil {
			return nil, fmt.Errorf("config: failed to load source %s: %w", source.Name(), err)
		}
		mergeMaps(data, loaded)
	}
	return data, nil
}

// configuration 配置实现，读取走当前快照，不加锁
type configuration struct {
	store   *store
	sources []ConfigurationSource

	mu        sync.Mutex
	callbacks []func()
}

func newStaticConfiguration(data map[string]any) *configuration {
	return &configuration{store: newStore(data)}
}

// Reload 重新加载全部配置源；失败时保留当前快照
func (c *configuration) Reload() error {
	data, err := loadSources(c.sources)
	if err != nil {
		return err
	}
	c.store.replace(data)

	c.mu.Lock()
	callbacks := slices.Clone(c.callbacks)
	c.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
	return nil
}

// OnReload 注册重载回调
func (c *configuration) OnReload(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, fn)
}

func (c *configuration) Version() uint64 {
	return c.store.load().version
}

func (c *configuration) value(key string) any {
	return lookup(c.store.load().data, key)
}

func (c *configuration) require(key string) (any, error) {
	v := c.value(key)
	if v == nil {
		return nil, fmt.Errorf("config: key %s not found", key)
	}
	return v, nil
}

// Get 获取配置值，不存在时返回空串
func (c *configuration) Get(key string) string {
	switch v := c.value(key).(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// GetWithDefault 获取配置值，如果不存在则返回默认值
func (c *configuration) GetWithDefault(key, defaultValue string) string {
	if value := c.Get(key); value != "" {
		return value
	}
	return defaultValue
}

func (c *configuration) GetInt(key string) (int, error) {
	v, err := c.require(key)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("config: %s: %w", key, err)
		}
		return i, nil
	}
	return 0, fmt.Errorf("config: cannot convert %s (%T) to int", key, v)
}

func (c *configuration) GetBool(key string) (bool, error) {
	v, err := c.require(key)
	if err != nil {
		return false, err
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, fmt.Errorf("config: %s: %w", key, err)
		}
		return parsed, nil
	}
	return false, fmt.Errorf("config: cannot convert %s (%T) to bool", key, v)
}

func (c *configuration) GetDuration(key string) (time.Duration, error) {
	v, err := c.require(key)
	if err != nil {
		return 0, err
	}
	switch d := v.(type) {
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, fmt.Errorf("config: %s: %w", key, err)
		}
		return parsed, nil
	case int:
		return time.Duration(d), nil
	case int64:
		return time.Duration(d), nil
	case float64:
		return time.Duration(d), nil
	}
	return 0, fmt.Errorf("config: cannot convert %s (%T) to duration", key, v)
}

// GetSection 获取配置节，不存在时返回空配置
func (c *configuration) GetSection(key string) Configuration {
	m, _ := c.value(key).(map[string]any)
	if m == nil {
		m = make(map[string]any)
	}
	return newStaticConfiguration(m)
}

// Bind 经 JSON 绑定到 target，字段名大小写不敏感
func (c *configuration) Bind(key string, target any) error {
	v, err := c.require(key)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("config: failed to marshal %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("config: failed to bind %s: %w", key, err)
	}
	return nil
}

// GetAll 返回当前配置的深拷贝
func (c *configuration) GetAll() map[string]any {
	result := make(map[string]any)
	mergeMaps(result, c.store.load().data)
	return result
}

// mergeMaps 把 src 合并进 dst。键名忽略大小写匹配，保留 dst 中已有的写法；
// src 中的嵌套 map 会被复制，不与 dst 共享
func mergeMaps(dst, src map[string]any) {
	for k, v := range src {
		key := k
		if _, exact := dst[k]; !exact {
			for existing := range dst {
				if strings.EqualFold(existing, k) {
					key = existing
					break
				}
			}
		}

		srcMap, srcIsMap := v.(map[string]any)
		if dstMap, ok := dst[key].(map[string]any); ok && srcIsMap {
			mergeMaps(dstMap, srcMap)
			continue
		}
		if srcIsMap {
			copied := make(map[string]any, len(srcMap))
			mergeMaps(copied, srcMap)
			dst[key] = copied
			continue
		}
		dst[key] = v
	}
}
