package config

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
)

// Load 将 section 绑定到新的 T，section 为空时绑定整个配置
func Load[T any](cfg Configuration, section string) (T, error) {
	var t T
	err := cfg.Bind(section, &t)
	return t, err
}

// OptionMonitor 总是返回最新的配置值
type OptionMonitor[T any] interface {
	Value() T
}

// OptionsCache 绑定一个配置节并在配置重载后刷新
type OptionsCache[T any] struct {
	config  Configuration
	section string
	current atomic.Pointer[T]

	mu        sync.Mutex
	listeners []func(T)
}

var _ OptionMonitor[struct{}] = (*OptionsCache[struct{}])(nil)

// NewOptionsCache 创建配置缓存
// 配置节不存在时使用 defaults；重载时绑定失败会保留旧值
func NewOptionsCache[T any](config Configuration, section string, defaults T) *OptionsCache[T] {
	cache := &OptionsCache[T]{config: config, section: section}
	cache.current.Store(&defaults)
	_ = cache.refresh()

	if rc, ok := config.(interface{ OnReload(func()) }); ok {
		rc.OnReload(func() {
			if cache.refresh() == nil {
				cache.notify()
			}
		})
	}
	return cache
}

// refresh 在当前值的副本上重新绑定，配置中未出现的字段保留原值
func (c *OptionsCache[T]) refresh() error {
	next := c.Snapshot()
	if err := c.config.Bind(c.section, &next); err != nil {
		return fmt.Errorf("config: failed to bind section %s: %w", c.section, err)
	}
	c.current.Store(&next)
	return nil
}

func (c *OptionsCache[T]) notify() {
	c.mu.Lock()
	listeners := append([]func(T){}, c.listeners...)
	c.mu.Unlock()
	value := c.Get()
	for _, fn := range listeners {
		fn(value)
	}
}

// OnChange 注册刷新回调，每次重载成功后以新值调用
func (c *OptionsCache[T]) OnChange(fn func(T)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Get 获取当前配置值
func (c *OptionsCache[T]) Get() T {
	return *c.current.Load()
}

// Value 实现 OptionMonitor
func (c *OptionsCache[T]) Value() T {
	return c.Get()
}

// Snapshot 返回当前值的深拷贝
func (c *OptionsCache[T]) Snapshot() T {
	current := c.Get()
	var copied T
	data, err := json.Marshal(current)
	if err != nil {
		return current
	}
	if err := json.Unmarshal(data, &copied); err != nil {
		return current
	}
	return copied
}
