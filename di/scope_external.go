package di

import (
	"context"
	"sync"
)

// ScopeContext 是外部作用域（请求、会话、任务）提供的存储。
type ScopeContext interface {
	GetAttribute(name string) (any, bool)
	SetAttribute(name string, value any)
	RegisterDestructionCallback(name string, callback DestroyFunc) error
}

// attributeSetter 可选接口，支持时用于并发下的先到先得写入。
type attributeSetter interface {
	SetAttributeIfAbsent(name string, value any) (actual any, loaded bool)
}

type scopeContextKey struct {
	scope string
}

// WithScopeContext 把 sc 作为 scope 的当前上下文附加到 ctx 上。
func WithScopeContext(ctx context.Context, scope string, sc ScopeContext) context.Context {
	return context.WithValue(ctx, scopeContextKey{scope: scope}, sc)
}

// ScopeContextFrom 取出 ctx 上 scope 的当前上下文。
func ScopeContextFrom(ctx context.Context, scope string) (ScopeContext, bool) {
	sc, ok := ctx.Value(scopeContextKey{scope: scope}).(ScopeContext)
	return sc, ok && sc != nil
}

// ExternalScope 把缓存和销毁回调委托给 ctx 上的 ScopeContext。
// ctx 上没有对应上下文时返回 ScopeNotActiveError。
type ExternalScope struct {
	name string
}

// NewExternalScope 创建名为 name 的外部作用域。
func NewExternalScope(name string) *ExternalScope {
	return &ExternalScope{name: name}
}

// Name 返回作用域名称。
func (s *ExternalScope) Name() string {
	return s.name
}

func (s *ExternalScope) Get(ctx context.Context, name string, create CreateFunc) (any, error) {
	sc, ok := ScopeContextFrom(ctx, s.name)
	if !ok {
		return nil, &ScopeNotActiveError{Scope: s.name, Name: name}
	}
	if v, ok := sc.GetAttribute(name); ok {
		return v, nil
	}

	v, err := create(ctx)
	if err != nil {
		return nil, err
	}
	if setter, ok := sc.(attributeSetter); ok {
		actual, _ := setter.SetAttributeIfAbsent(name, v)
		return actual, nil
	}
	sc.SetAttribute(name, v)
	return v, nil
}

func (s *ExternalScope) RegisterDestructionCallback(ctx context.Context, name string, callback DestroyFunc) error {
	sc, ok := ScopeContextFrom(ctx, s.name)
	if !ok {
		return &ScopeNotActiveError{Scope: s.name, Name: name}
	}
	return sc.RegisterDestructionCallback(name, callback)
}

// Remove 只清除属性，销毁动作留给上下文完成时执行。
func (s *ExternalScope) Remove(ctx context.Context, name string) error {
	sc, ok := ScopeContextFrom(ctx, s.name)
	if !ok {
		return &ScopeNotActiveError{Scope: s.name, Name: name}
	}
	if r, ok := sc.(interface{ RemoveAttribute(string) }); ok {
		r.RemoveAttribute(name)
	}
	return nil
}

// Attributes 是内存中的 ScopeContext，一个请求/会话/任务对应一个实例。
// Complete 按登记顺序的逆序执行销毁回调。
type Attributes struct {
	scope   string
	mu      sync.RWMutex
	values  map[string]any
	tracker *DisposalTracker
}

// NewAttributes 为 scope 创建空的属性集。
func NewAttributes(scope string) *Attributes {
	return &Attributes{
		scope:   scope,
		values:  make(map[string]any),
		tracker: NewDisposalTracker(),
	}
}

// Scope 返回所属作用域名称。
func (a *Attributes) Scope() string {
	return a.scope
}

func (a *Attributes) GetAttribute(name string) (any, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.values[name]
	return v, ok
}

func (a *Attributes) SetAttribute(name string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.values[name] = value
}

// SetAttributeIfAbsent 仅在 name 不存在时写入，返回最终保存的值。
func (a *Attributes) SetAttributeIfAbsent(name string, value any) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if v, ok := a.values[name]; ok {
		return v, true
	}
	a.values[name] = value
	return value, false
}

func (a *Attributes) RemoveAttribute(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.values, name)
}

// Len 返回属性数量。
func (a *Attributes) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.values)
}

func (a *Attributes) RegisterDestructionCallback(name string, callback DestroyFunc) error {
	return a.tracker.Track(a.scope, name, callback)
}

// Complete 结束该上下文：逆序执行销毁回调并清空属性。
// 重复调用返回 ScopeAlreadyDisposedError。
func (a *Attributes) Complete() error {
	err := a.tracker.DisposeScope(a.scope)
	a.mu.Lock()
	clear(a.values)
	a.mu.Unlock()
	return err
}

// Completed 是否已经结束。
func (a *Attributes) Completed() bool {
	return a.tracker.IsDisposed(a.scope)
}
