package di

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync"
)

// 内置作用域名称。
const (
	ScopeSingleton = "singleton"
	ScopePrototype = "prototype"
	ScopeRequest   = "request"
	ScopeSession   = "session"
)

// ConstructorFunc 构造函数，args 按 DependsOn 的顺序注入。
type ConstructorFunc func(ctx context.Context, args ...any) (any, error)

// FactoryMethodFunc 工厂方法，factory 为 FactoryBean 指向的实例。
type FactoryMethodFunc func(ctx context.Context, factory any, args ...any) (any, error)

// DestroyFunc 销毁动作。
type DestroyFunc func() error

// StrategyKind 构造方式。
type StrategyKind int

const (
	// StrategyConstructor 调用构造函数
	StrategyConstructor StrategyKind = iota
	// StrategyFactoryMethod 调用另一个 bean 上的工厂方法
	StrategyFactoryMethod
	// StrategyInstance 直接使用已构建的实例
	StrategyInstance
)

func (k StrategyKind) String() string {
	switch k {
	case StrategyConstructor:
		return "constructor"
	case StrategyFactoryMethod:
		return "factory-method"
	case StrategyInstance:
		return "instance"
	default:
		return "unknown"
	}
}

// Strategy 是带标签的构造方式，只有与 Kind 对应的字段有效。
type Strategy struct {
	Kind          StrategyKind
	Constructor   ConstructorFunc
	FactoryBean   string
	FactoryMethod FactoryMethodFunc
	Instance      any
}

// Dependency 按名称或按类型引用另一个定义。
type Dependency struct {
	Name     string
	Type     reflect.Type
	Optional bool
}

func (d Dependency) String() string {
	if d.Name != "" {
		return d.Name
	}
	if d.Type != nil {
		return "type:" + d.Type.String()
	}
	return "<empty>"
}

// Ref 按名称引用。
func Ref(name string) Dependency {
	return Dependency{Name: name}
}

// TypeRef 按类型引用，要求容器中恰好有一个可赋值给 T 的定义。
func TypeRef[T any]() Dependency {
	return Dependency{Type: reflect.TypeOf((*T)(nil)).Elem()}
}

// Optional 将依赖标记为可选，缺失时注入 nil。
func Optional(dep Dependency) Dependency {
	dep.Optional = true
	return dep
}

// AttributeBag 是定义上的扩展属性袋，扩展可以在这里存放元数据。
type AttributeBag struct {
	mu     sync.RWMutex
	values map[string]any
}

// Get 读取属性。
func (a *AttributeBag) Get(key string) (any, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.values[key]
	return v, ok
}

// Set 写入属性。
func (a *AttributeBag) Set(key string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.values == nil {
		a.values = make(map[string]any)
	}
	a.values[key] = value
}

// Keys 返回排序后的键。
func (a *AttributeBag) Keys() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	keys := make([]string, 0, len(a.values))
	for k := range a.values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (a *AttributeBag) clone() *AttributeBag {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c := &AttributeBag{values: make(map[string]any, len(a.values))}
	for k, v := range a.values {
		c.values[k] = v
	}
	return c
}

// Definition 描述如何构建一个受管对象。
// 注册后除 Attributes 外不可修改。
type Definition struct {
	Name      string
	Aliases   []string
	Type      reflect.Type // 声明类型，可为空
	Scope     string
	Lazy      bool
	DependsOn []Dependency
	Strategy  Strategy

	// InitMethod/DestroyMethod 为实例上的方法名，签名为 func() 或 func() error。
	InitMethod    string
	DestroyMethod string

	InitFunc    func(ctx context.Context, instance any) error
	DestroyFunc func(instance any) error

	Attributes *AttributeBag
}

// Option 配置定义。
type Option func(*Definition)

// NewDefinition 创建定义，默认单例作用域。
func NewDefinition(name string, strategy Strategy, opts ...Option) *Definition {
	def := &Definition{
		Name:       name,
		Scope:      ScopeSingleton,
		Strategy:   strategy,
		Attributes: &AttributeBag{},
	}
	for _, opt := range opts {
		opt(def)
	}
	return def
}

// Constructor 以构造函数注册。
func Constructor(fn ConstructorFunc) Strategy {
	return Strategy{Kind: StrategyConstructor, Constructor: fn}
}

// FactoryMethod 以工厂 bean 上的方法注册。
func FactoryMethod(factoryBean string, fn FactoryMethodFunc) Strategy {
	return Strategy{Kind: StrategyFactoryMethod, FactoryBean: factoryBean, FactoryMethod: fn}
}

// Instance 以已有实例注册。
func Instance(v any) Strategy {
	return Strategy{Kind: StrategyInstance, Instance: v}
}

// WithScope 设置作用域名称。
func WithScope(scope string) Option {
	return func(d *Definition) {
		d.Scope = scope
	}
}

// WithPrototype 每次获取都创建新实例。
func WithPrototype() Option {
	return WithScope(ScopePrototype)
}

// WithAliases 添加别名。
func WithAliases(aliases ...string) Option {
	return func(d *Definition) {
		d.Aliases = append(d.Aliases, aliases...)
	}
}

// WithLazy 启动时不急切创建。
func WithLazy() Option {
	return func(d *Definition) {
		d.Lazy = true
	}
}

// WithDependsOn 声明构造参数。
func WithDependsOn(deps ...Dependency) Option {
	return func(d *Definition) {
		d.DependsOn = append(d.DependsOn, deps...)
	}
}

// WithRefs 是 WithDependsOn(Ref(...)...) 的简写。
func WithRefs(names ...string) Option {
	return func(d *Definition) {
		for _, n := range names {
			d.DependsOn = append(d.DependsOn, Ref(n))
		}
	}
}

// WithType 声明类型，用于按类型查找。
func WithType(t reflect.Type) Option {
	return func(d *Definition) {
		d.Type = t
	}
}

// WithInitMethod 指定初始化方法名。
func WithInitMethod(method string) Option {
	return func(d *Definition) {
		d.InitMethod = method
	}
}

// WithDestroyMethod 指定销毁方法名。
func WithDestroyMethod(method string) Option {
	return func(d *Definition) {
		d.DestroyMethod = method
	}
}

// WithInitFunc 指定初始化回调。
func WithInitFunc(fn func(ctx context.Context, instance any) error) Option {
	return func(d *Definition) {
		d.InitFunc = fn
	}
}

// WithDestroyFunc 指定销毁回调。
func WithDestroyFunc(fn func(instance any) error) Option {
	return func(d *Definition) {
		d.DestroyFunc = fn
	}
}

// WithAttribute 预置属性。
func WithAttribute(key string, value any) Option {
	return func(d *Definition) {
		if d.Attributes == nil {
			d.Attributes = &AttributeBag{}
		}
		d.Attributes.Set(key, value)
	}
}

// Validate 检查定义是否完整。
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("di: 定义名称不能为空")
	}
	if d.Scope == "" {
		return fmt.Errorf("di: 定义 %q 缺少作用域", d.Name)
	}
	switch d.Strategy.Kind {
	case StrategyConstructor:
		if d.Strategy.Constructor == nil {
			return fmt.Errorf("di: 定义 %q 缺少构造函数", d.Name)
		}
	case StrategyFactoryMethod:
		if d.Strategy.FactoryBean == "" || d.Strategy.FactoryMethod == nil {
			return fmt.Errorf("di: 定义 %q 需要同时指定工厂 bean 和工厂方法", d.Name)
		}
	case StrategyInstance:
		if d.Strategy.Instance == nil {
			return fmt.Errorf("di: 定义 %q 的实例为 nil", d.Name)
		}
	default:
		return fmt.Errorf("di: 定义 %q 的构造策略 %d 未知", d.Name, d.Strategy.Kind)
	}
	for i, dep := range d.DependsOn {
		if dep.Name == "" && dep.Type == nil {
			return fmt.Errorf("di: 定义 %q 的第 %d 个依赖既没有名称也没有类型", d.Name, i)
		}
	}
	return nil
}

// HasDestroyBehavior 是否声明了销毁行为（实例实现 Disposable 在运行时另行判断）。
func (d *Definition) HasDestroyBehavior() bool {
	return d.DestroyMethod != "" || d.DestroyFunc != nil
}

// Clone 深拷贝切片与属性袋，函数与实例按引用共享。
func (d *Definition) Clone() *Definition {
	c := *d
	c.Aliases = slices.Clone(d.Aliases)
	c.DependsOn = slices.Clone(d.DependsOn)
	if d.Attributes != nil {
		c.Attributes = d.Attributes.clone()
	} else {
		c.Attributes = &AttributeBag{}
	}
	return &c
}

// WithTypeOf 是 WithType(reflect.TypeFor[T]()) 的简写。
func WithTypeOf[T any]() Option {
	return WithType(reflect.TypeFor[T]())
}
