package di

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocrud/beans/logging"
)

// InstanceEvent 描述一次构造的结果。
type InstanceEvent struct {
	Name     string
	Scope    string
	Duration time.Duration
	Err      error
}

// DisposalEvent 描述一次作用域销毁的结果。
type DisposalEvent struct {
	Scope string
	Err   error
}

// Listener 观察容器事件，回调在构造所在的 goroutine 上同步执行，不要阻塞。
type Listener interface {
	OnInstanceCreated(e InstanceEvent)
	OnInstanceFailed(e InstanceEvent)
	OnScopeDisposed(e DisposalEvent)
}

// Completer 是可以结束的外部作用域上下文，例如 *Attributes。
type Completer interface {
	Scope() string
	Complete() error
}

// ContainerOptions 可从配置绑定的容器选项。
type ContainerOptions struct {
	AllowOverriding       bool `json:"allowOverriding" yaml:"allowOverriding"`
	DisableFieldInjection bool `json:"disableFieldInjection" yaml:"disableFieldInjection"`
}

// ContainerOption 配置容器。
type ContainerOption func(*containerConfig)

type containerConfig struct {
	options   ContainerOptions
	logger    logging.Logger
	listeners []Listener
	scopes    map[string]Scope
}

// WithAllowOverriding 允许同名定义覆盖。
func WithAllowOverriding(allow bool) ContainerOption {
	return func(c *containerConfig) {
		c.options.AllowOverriding = allow
	}
}

// WithOptions 整体设置 ContainerOptions。
func WithOptions(opts ContainerOptions) ContainerOption {
	return func(c *containerConfig) {
		c.options = opts
	}
}

// WithLogger 设置日志记录器。
func WithLogger(logger logging.Logger) ContainerOption {
	return func(c *containerConfig) {
		c.logger = logger
	}
}

// WithListener 添加事件监听器。
func WithListener(l Listener) ContainerOption {
	return func(c *containerConfig) {
		c.listeners = append(c.listeners, l)
	}
}

// WithCustomScope 注册自定义作用域，效果同 Container.RegisterScope。
func WithCustomScope(name string, scope Scope) ContainerOption {
	return func(c *containerConfig) {
		if c.scopes == nil {
			c.scopes = make(map[string]Scope)
		}
		c.scopes[name] = scope
	}
}

// Container 受管对象容器。每个实例持有自己的注册表、作用域、处理器链和销毁跟踪器。
type Container struct {
	registry   *Registry
	pipeline   *Pipeline
	tracker    *DisposalTracker
	singletons *singletonScope
	prototypes *prototypeScope
	logger     logging.Logger

	scopesMu sync.RWMutex
	scopes   map[string]Scope

	listenersMu sync.RWMutex
	listeners   []Listener

	lifecycleMu sync.Mutex
	closed      atomic.Bool
}

// NewContainer 创建容器，内置 singleton、prototype、request、session 四种作用域。
func NewContainer(opts ...ContainerOption) *Container {
	cfg := &containerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logging.NewNopLogger()
	}
	logger := cfg.logger.WithCategory("di")

	tracker := NewDisposalTracker()
	c := &Container{
		registry:   NewRegistry(cfg.options.AllowOverriding),
		pipeline:   NewPipeline(),
		tracker:    tracker,
		singletons: newSingletonScope(tracker),
		prototypes: newPrototypeScope(logger),
		logger:     logger,
		scopes:     make(map[string]Scope),
		listeners:  cfg.listeners,
	}
	c.registry.inUse = c.singletons.inUse

	c.scopes[ScopeSingleton] = c.singletons
	c.scopes[ScopePrototype] = c.prototypes
	c.scopes[ScopeRequest] = NewExternalScope(ScopeRequest)
	c.scopes[ScopeSession] = NewExternalScope(ScopeSession)
	for name, scope := range cfg.scopes {
		if name == ScopeSingleton || name == ScopePrototype {
			continue
		}
		c.scopes[name] = scope
	}

	_ = c.pipeline.Add(NameAwareProcessor{})
	if !cfg.options.DisableFieldInjection {
		_ = c.pipeline.Add(NewFieldInjector(c))
	}
	return c
}

// Registry 返回底层注册表。
func (c *Container) Registry() *Registry {
	return c.registry
}

// Register 注册定义。
func (c *Container) Register(def *Definition) error {
	if err := c.registry.Register(def); err != nil {
		return err
	}
	c.logger.Debug("definition registered",
		logging.Field{Key: "name", Value: def.Name},
		logging.Field{Key: "scope", Value: def.Scope},
		logging.Field{Key: "strategy", Value: def.Strategy.Kind.String()})
	return nil
}

// Provide 是 Register(NewDefinition(name, Constructor(fn), opts...)) 的简写。
func (c *Container) Provide(name string, fn ConstructorFunc, opts ...Option) error {
	return c.Register(NewDefinition(name, Constructor(fn), opts...))
}

// RegisterAlias 为 name 注册别名。
func (c *Container) RegisterAlias(alias, name string) error {
	return c.registry.RegisterAlias(alias, name)
}

// RegisterSingleton 注册一个已经构建好的单例，不经过处理器链。
// 实例实现 Disposable 时在容器停止时销毁。
func (c *Container) RegisterSingleton(name string, instance any, opts ...Option) error {
	if c.closed.Load() {
		return &ScopeAlreadyDisposedError{Scope: ScopeSingleton}
	}
	def := NewDefinition(name, Instance(instance), opts...)
	def.Scope = ScopeSingleton
	if err := c.Register(def); err != nil {
		return err
	}
	if err := c.singletons.put(name, instance); err != nil {
		return err
	}
	if action := destroyAction(def, instance); action != nil {
		return c.singletons.RegisterDestructionCallback(context.Background(), name, action)
	}
	return nil
}

// Remove 删除定义；对应单例仍然存在时返回 DefinitionInUseError。
func (c *Container) Remove(name string) error {
	return c.registry.Remove(name)
}

// Names 按注册顺序遍历规范名称。
func (c *Container) Names() iter.Seq[string] {
	return c.registry.Names()
}

// AddPostProcessor 添加后置处理器，对之后开始的构造生效。
func (c *Container) AddPostProcessor(processor any) error {
	return c.pipeline.Add(processor)
}

// RegisterScope 注册自定义作用域，singleton 和 prototype 不可替换。
func (c *Container) RegisterScope(name string, scope Scope) error {
	if name == ScopeSingleton || name == ScopePrototype {
		return fmt.Errorf("di: 不能替换内置作用域 %q", name)
	}
	if scope == nil {
		return fmt.Errorf("di: 作用域 %q 为空", name)
	}
	c.scopesMu.Lock()
	defer c.scopesMu.Unlock()
	c.scopes[name] = scope
	return nil
}

func (c *Container) scope(name string) (Scope, error) {
	c.scopesMu.RLock()
	defer c.scopesMu.RUnlock()
	s, ok := c.scopes[name]
	if !ok {
		return nil, fmt.Errorf("di: 未注册作用域 %q", name)
	}
	return s, nil
}

// AddListener 添加事件监听器。
func (c *Container) AddListener(l Listener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, l)
}

func (c *Container) eachListener(fn func(Listener)) {
	c.listenersMu.RLock()
	ls := c.listeners
	c.listenersMu.RUnlock()
	for _, l := range ls {
		fn(l)
	}
}

// GetInstance 按名称或别名获取实例。
func (c *Container) GetInstance(ctx context.Context, name string) (any, error) {
	canonical, err := c.registry.ResolveAlias(name)
	if err != nil {
		return nil, err
	}
	def, err := c.registry.Get(canonical)
	if err != nil {
		return nil, &NoSuchDefinitionError{Name: name}
	}
	scope, err := c.scope(def.Scope)
	if err != nil {
		return nil, err
	}
	if def.Scope == ScopeSingleton && c.closed.Load() {
		return nil, &ScopeAlreadyDisposedError{Scope: ScopeSingleton}
	}

	ctx, res := beginResolution(ctx)
	if res.contains(canonical) {
		return nil, &CircularDependencyError{Chain: res.cycle(canonical)}
	}

	return scope.Get(ctx, canonical, func(ctx context.Context) (any, error) {
		return c.createInstance(ctx, def, scope)
	})
}

// GetInstanceByType 获取唯一一个声明类型可赋值给 t 的实例。
func (c *Container) GetInstanceByType(ctx context.Context, t reflect.Type) (any, error) {
	name, err := c.nameForType(t)
	if err != nil {
		return nil, err
	}
	return c.GetInstance(ctx, name)
}

func (c *Container) nameForType(t reflect.Type) (string, error) {
	names := c.registry.NamesForType(t)
	switch len(names) {
	case 0:
		return "", &NoSuchDefinitionError{Name: "type:" + t.String()}
	case 1:
		return names[0], nil
	default:
		return "", &AmbiguousDependencyError{Type: t.String(), Candidates: names}
	}
}

// ResolveDependency 解析一个依赖引用；可选依赖缺失时返回 (nil, nil)。
func (c *Container) ResolveDependency(ctx context.Context, dep Dependency) (any, error) {
	name := dep.Name
	if name == "" {
		n, err := c.nameForType(dep.Type)
		if err != nil {
			var missing *NoSuchDefinitionError
			if dep.Optional && errors.As(err, &missing) {
				return nil, nil
			}
			return nil, err
		}
		name = n
	} else if dep.Optional && !c.registry.Contains(name) {
		return nil, nil
	}
	return c.GetInstance(ctx, name)
}

// IsCurrentlyInCreation 判断 name 是否正在 ctx 的调用链上创建，或作为单例在任意 goroutine 上创建。
func (c *Container) IsCurrentlyInCreation(ctx context.Context, name string) bool {
	canonical, err := c.registry.ResolveAlias(name)
	if err != nil {
		return false
	}
	if res, ok := resolutionFrom(ctx); ok && res.contains(canonical) {
		return true
	}
	return c.singletons.isInCreation(canonical)
}

// ContainsSingleton 判断单例是否已经创建。
func (c *Container) ContainsSingleton(name string) bool {
	canonical, err := c.registry.ResolveAlias(name)
	if err != nil {
		return false
	}
	return c.singletons.contains(canonical)
}

// DestroySingleton 销毁已创建的单例，之后可以替换或删除它的定义。
func (c *Container) DestroySingleton(ctx context.Context, name string) error {
	canonical, err := c.registry.ResolveAlias(name)
	if err != nil {
		return err
	}
	if err := c.singletons.Remove(ctx, canonical); err != nil {
		return err
	}
	c.logger.Debug("singleton destroyed", logging.Field{Key: "name", Value: canonical})
	return nil
}

// Start 按注册顺序急切创建所有非延迟单例，遇到第一个失败即返回。
func (c *Container) Start(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.closed.Load() {
		c.tracker.Reset(ScopeSingleton)
		c.closed.Store(false)
		if err := c.reinstallPrebuilt(); err != nil {
			return err
		}
	}

	count := 0
	for name := range c.registry.Names() {
		def, err := c.registry.Get(name)
		if err != nil {
			// 遍历期间被删除
			continue
		}
		if def.Scope != ScopeSingleton || def.Lazy {
			continue
		}
		if _, err := c.GetInstance(ctx, name); err != nil {
			c.logger.Error("eager singleton initialization failed",
				logging.Field{Key: "name", Value: name},
				logging.Field{Key: "error", Value: err})
			return err
		}
		count++
	}
	c.logger.Debug("container started", logging.Field{Key: "eager", Value: count})
	return nil
}

// Stop 按创建顺序的逆序销毁全部单例并关闭容器。
// 之后获取单例返回 ScopeAlreadyDisposedError，直到再次 Start。
// 带销毁行为的现成实例随之注销，其余现成实例在重启时原样恢复。
func (c *Container) Stop(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.closed.Swap(true) {
		return &ScopeAlreadyDisposedError{Scope: ScopeSingleton}
	}
	err := c.singletons.dispose()
	c.notifyDisposed(ScopeSingleton, err)
	c.retirePrebuilt()
	return err
}

// prebuilt 返回以现成实例注册的单例定义。
func (c *Container) prebuilt() []*Definition {
	var defs []*Definition
	for name := range c.registry.Names() {
		def, err := c.registry.Get(name)
		if err != nil || def.Scope != ScopeSingleton || def.Strategy.Kind != StrategyInstance {
			continue
		}
		defs = append(defs, def)
	}
	return defs
}

// retirePrebuilt 删除已随 Stop 销毁的现成实例定义，重启后不会再拿到被销毁的对象。
func (c *Container) retirePrebuilt() {
	for _, def := range c.prebuilt() {
		if destroyAction(def, def.Strategy.Instance) == nil {
			continue
		}
		if err := c.registry.Remove(def.Name); err != nil {
			c.logger.Warn("failed to retire destroyed singleton",
				logging.Field{Key: "name", Value: def.Name}, logging.Err(err))
			continue
		}
		c.logger.Debug("destroyed singleton retired", logging.Field{Key: "name", Value: def.Name})
	}
}

// reinstallPrebuilt 重启时把没有销毁行为的现成实例原样放回缓存，不再经过处理器链和初始化。
func (c *Container) reinstallPrebuilt() error {
	for _, def := range c.prebuilt() {
		if err := c.singletons.put(def.Name, def.Strategy.Instance); err != nil {
			return err
		}
	}
	return nil
}

// CompleteScope 结束一个外部作用域上下文并通知监听器。
func (c *Container) CompleteScope(sc Completer) error {
	err := sc.Complete()
	c.notifyDisposed(sc.Scope(), err)
	return err
}

func (c *Container) notifyDisposed(scope string, err error) {
	if err != nil {
		c.logger.Error("scope disposal failed",
			logging.Field{Key: "scope", Value: scope},
			logging.Field{Key: "error", Value: err})
	} else {
		c.logger.Debug("scope disposed", logging.Field{Key: "scope", Value: scope})
	}
	c.eachListener(func(l Listener) {
		l.OnScopeDisposed(DisposalEvent{Scope: scope, Err: err})
	})
}

// Resolve 按名称获取实例并断言为 T。
func Resolve[T any](ctx context.Context, c *Container, name string) (T, error) {
	var zero T
	v, err := c.GetInstance(ctx, name)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("di: %q 的类型是 %T，不是 %s", name, v, reflect.TypeFor[T]())
	}
	return t, nil
}

// ResolveType 按类型获取唯一实例。
func ResolveType[T any](ctx context.Context, c *Container) (T, error) {
	var zero T
	v, err := c.GetInstanceByType(ctx, reflect.TypeFor[T]())
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("di: 实例类型是 %T，不是 %s", v, reflect.TypeFor[T]())
	}
	return t, nil
}

// MustResolve 同 Resolve，失败时 panic。
func MustResolve[T any](ctx context.Context, c *Container, name string) T {
	v, err := Resolve[T](ctx, c, name)
	if err != nil {
		panic(err)
	}
	return v
}
