package di

import (
	"fmt"
	"iter"
	"reflect"
	"slices"
	"sync"
)

// Registry 保存名称到定义、别名到名称的映射。
//
// 所有写操作持有同一把锁；读操作持有读锁，因此读者不会看到写了一半的定义。
// Names 每次遍历开始时拍一次快照，遍历期间的注册不会影响本次遍历。
type Registry struct {
	mu              sync.RWMutex
	definitions     map[string]*Definition
	order           []string          // 规范名称的注册顺序
	aliases         map[string]string // alias -> target（target 也可能是别名）
	allowOverriding bool

	// inUse 在持锁状态下调用，返回非 nil 时拒绝替换/删除。
	inUse func(name string) error
}

// NewRegistry 创建注册表。
func NewRegistry(allowOverriding bool) *Registry {
	return &Registry{
		definitions:     make(map[string]*Definition),
		aliases:         make(map[string]string),
		allowOverriding: allowOverriding,
	}
}

// AllowOverriding 返回覆盖策略。
func (r *Registry) AllowOverriding() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.allowOverriding
}

// Register 注册定义（保存副本）及其别名。
func (r *Registry) Register(def *Definition) error {
	if def == nil {
		return fmt.Errorf("di: 不能注册 nil 定义")
	}
	if err := def.Validate(); err != nil {
		return err
	}
	stored := def.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()

	name := stored.Name
	if _, isAlias := r.aliases[name]; isAlias {
		if !r.allowOverriding {
			return &DuplicateDefinitionError{Name: name}
		}
	}

	if _, exists := r.definitions[name]; exists {
		if !r.allowOverriding {
			return &DuplicateDefinitionError{Name: name}
		}
		if r.inUse != nil {
			if err := r.inUse(name); err != nil {
				return err
			}
		}
	}

	// 别名先整体校验，避免注册一半
	for _, alias := range stored.Aliases {
		if err := r.checkAliasLocked(alias, name); err != nil {
			return err
		}
	}

	if _, exists := r.definitions[name]; !exists {
		r.order = append(r.order, name)
	}
	// 同名别名被定义取代
	delete(r.aliases, name)
	r.definitions[name] = stored
	for _, alias := range stored.Aliases {
		r.aliases[alias] = name
	}
	return nil
}

// RegisterAlias 为 name 注册别名，name 本身可以是别名。
func (r *Registry) RegisterAlias(alias, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkAliasLocked(alias, name); err != nil {
		return err
	}
	r.aliases[alias] = name
	return nil
}

func (r *Registry) checkAliasLocked(alias, target string) error {
	if alias == target {
		return &AliasCycleError{Chain: []string{alias, target}}
	}
	if _, exists := r.definitions[alias]; exists {
		return &DuplicateDefinitionError{Name: alias}
	}
	if existing, ok := r.aliases[alias]; ok && existing != target && !r.allowOverriding {
		return &DuplicateDefinitionError{Name: alias}
	}

	// target 的解析链若经过 alias 则成环
	chain := []string{alias, target}
	seen := map[string]bool{alias: true}
	cur := target
	for {
		next, ok := r.aliases[cur]
		if !ok {
			return nil
		}
		chain = append(chain, next)
		if seen[next] || next == alias {
			return &AliasCycleError{Chain: chain}
		}
		seen[cur] = true
		cur = next
	}
}

// ResolveAlias 返回规范名称；非别名原样返回。
func (r *Registry) ResolveAlias(name string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolveLocked(name)
}

func (r *Registry) resolveLocked(name string) (string, error) {
	cur := name
	var chain []string
	seen := make(map[string]bool)
	for {
		next, ok := r.aliases[cur]
		if !ok {
			return cur, nil
		}
		if chain == nil {
			chain = []string{cur}
		}
		seen[cur] = true
		chain = append(chain, next)
		if seen[next] {
			return "", &AliasCycleError{Chain: chain}
		}
		cur = next
	}
}

// Get 按名称或别名获取定义。
func (r *Registry) Get(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	canonical, err := r.resolveLocked(name)
	if err != nil {
		return nil, err
	}
	def, ok := r.definitions[canonical]
	if !ok {
		return nil, &NoSuchDefinitionError{Name: name}
	}
	return def, nil
}

// Contains 判断名称（或别名）是否已注册。
func (r *Registry) Contains(name string) bool {
	_, err := r.Get(name)
	return err == nil
}

// Remove 删除定义以及所有（间接）指向它的别名。
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	canonical, err := r.resolveLocked(name)
	if err != nil {
		return err
	}
	if _, ok := r.definitions[canonical]; !ok {
		return &NoSuchDefinitionError{Name: name}
	}
	if r.inUse != nil {
		if err := r.inUse(canonical); err != nil {
			return err
		}
	}

	delete(r.definitions, canonical)
	r.order = slices.DeleteFunc(r.order, func(n string) bool { return n == canonical })

	// 先收集再删除，中间别名先被删掉会让上游别名解析不到 canonical
	var stale []string
	for alias := range r.aliases {
		if target, err := r.resolveLocked(alias); err == nil && target == canonical {
			stale = append(stale, alias)
		}
	}
	for _, alias := range stale {
		delete(r.aliases, alias)
	}
	return nil
}

// Aliases 返回（间接）指向 name 的全部别名，按字典序。
func (r *Registry) Aliases(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	canonical, err := r.resolveLocked(name)
	if err != nil {
		return nil
	}
	var out []string
	for alias := range r.aliases {
		if target, err := r.resolveLocked(alias); err == nil && target == canonical && alias != name {
			out = append(out, alias)
		}
	}
	slices.Sort(out)
	return out
}

// Names 返回规范名称的惰性序列，按注册顺序；可重复遍历。
func (r *Registry) Names() iter.Seq[string] {
	return func(yield func(string) bool) {
		r.mu.RLock()
		snapshot := slices.Clone(r.order)
		r.mu.RUnlock()

		for _, name := range snapshot {
			if !yield(name) {
				return
			}
		}
	}
}

// Len 返回已注册定义数量。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.definitions)
}

// NamesForType 返回声明类型可赋值给 t 的定义名称，按注册顺序。
// 未声明类型的实例定义按实例的动态类型匹配。
func (r *Registry) NamesForType(t reflect.Type) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for _, name := range r.order {
		def := r.definitions[name]
		declared := def.Type
		if declared == nil && def.Strategy.Kind == StrategyInstance {
			declared = reflect.TypeOf(def.Strategy.Instance)
		}
		if declared == nil {
			continue
		}
		if declared == t || declared.AssignableTo(t) {
			out = append(out, name)
		}
	}
	return out
}
