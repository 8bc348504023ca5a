package manifest

import (
	"context"
	"reflect"
	"sync"

	"github.com/gocrud/beans/di"
)

// Catalog 应用提供的工厂函数表，清单通过名称引用
type Catalog struct {
	mu           sync.RWMutex
	constructors map[string]di.ConstructorFunc
	methods      map[string]di.FactoryMethodFunc
	types        map[string]reflect.Type
}

// NewCatalog 创建空的工厂函数表
func NewCatalog() *Catalog {
	return &Catalog{
		constructors: make(map[string]di.ConstructorFunc),
		methods:      make(map[string]di.FactoryMethodFunc),
		types:        make(map[string]reflect.Type),
	}
}

// Constructor 登记构造函数
func (c *Catalog) Constructor(name string, fn di.ConstructorFunc) *Catalog {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.constructors[name] = fn
	return c
}

// Method 登记工厂方法，配合 factoryBean 使用
func (c *Catalog) Method(name string, fn di.FactoryMethodFunc) *Catalog {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.methods[name] = fn
	return c
}

// Typed 登记返回具体类型的构造函数，生成的定义带有声明类型，可按类型注入
func Typed[T any](c *Catalog, name string, fn func(ctx context.Context, args ...any) (T, error)) *Catalog {
	c.Constructor(name, func(ctx context.Context, args ...any) (any, error) {
		return fn(ctx, args...)
	})
	c.mu.Lock()
	defer c.mu.Unlock()
	c.types[name] = reflect.TypeOf((*T)(nil)).Elem()
	return c
}

func (c *Catalog) constructor(name string) (di.ConstructorFunc, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn, ok := c.constructors[name]
	return fn, ok
}

func (c *Catalog) method(name string) (di.FactoryMethodFunc, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn, ok := c.methods[name]
	return fn, ok
}

func (c *Catalog) typeOf(name string) (reflect.Type, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.types[name]
	return t, ok
}

// Has 判断 name 是否已登记为构造函数或工厂方法
func (c *Catalog) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ctor := c.constructors[name]
	_, method := c.methods[name]
	return ctor || method
}
