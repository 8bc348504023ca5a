package di

import (
	"cmp"
	"context"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

// InstantiationProcessor 在实例化之前调用。
// 返回非 nil 对象时跳过正常构造（以及属性填充和初始化回调），
// 但仍然会执行 AfterInitialization 阶段。
type InstantiationProcessor interface {
	BeforeInstantiation(ctx context.Context, def *Definition) (any, error)
}

// PropertyProcessor 在实例化之后填充属性，所有处理器依次执行。
type PropertyProcessor interface {
	PopulateProperties(ctx context.Context, instance any, def *Definition) error
}

// InitializationProcessor 在初始化回调之后链式转换实例，
// 最后一个处理器的返回值就是缓存并返回给调用方的对象。
type InitializationProcessor interface {
	AfterInitialization(ctx context.Context, instance any, def *Definition) (any, error)
}

// Ordered 声明处理器优先级，数值越小越先执行，默认 0。
type Ordered interface {
	Order() int
}

type registeredProcessor struct {
	processor any
	order     int
	seq       int
}

// stages 是某一时刻按优先级排好序的处理器快照，创建后不再修改。
type stages struct {
	instantiation  []InstantiationProcessor
	property       []PropertyProcessor
	initialization []InitializationProcessor
}

// Pipeline 保存后置处理器。
// 每次 Add 重新做稳定排序并原子替换快照，
// 之后开始的构造能看到新处理器，进行中的构造继续使用旧快照。
type Pipeline struct {
	mu         sync.Mutex
	seq        int
	processors []registeredProcessor
	snapshot   atomic.Pointer[stages]
}

// NewPipeline 创建空的处理器链。
func NewPipeline() *Pipeline {
	p := &Pipeline{}
	p.snapshot.Store(&stages{})
	return p
}

// Add 添加处理器，至少要实现三个阶段接口之一。
func (p *Pipeline) Add(processor any) error {
	switch processor.(type) {
	case InstantiationProcessor, PropertyProcessor, InitializationProcessor:
	default:
		return fmt.Errorf("di: %T 没有实现任何处理阶段", processor)
	}

	order := 0
	if o, ok := processor.(Ordered); ok {
		order = o.Order()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.seq++
	p.processors = append(p.processors, registeredProcessor{processor: processor, order: order, seq: p.seq})
	slices.SortStableFunc(p.processors, func(a, b registeredProcessor) int {
		if c := cmp.Compare(a.order, b.order); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})

	next := &stages{}
	for _, rp := range p.processors {
		if v, ok := rp.processor.(InstantiationProcessor); ok {
			next.instantiation = append(next.instantiation, v)
		}
		if v, ok := rp.processor.(PropertyProcessor); ok {
			next.property = append(next.property, v)
		}
		if v, ok := rp.processor.(InitializationProcessor); ok {
			next.initialization = append(next.initialization, v)
		}
	}
	p.snapshot.Store(next)
	return nil
}

// Len 返回处理器数量。
func (p *Pipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.processors)
}

func (p *Pipeline) current() *stages {
	return p.snapshot.Load()
}

// beforeInstantiation 第一个返回非 nil 的处理器胜出。
func (s *stages) beforeInstantiation(ctx context.Context, def *Definition) (any, error) {
	for _, proc := range s.instantiation {
		v, err := proc.BeforeInstantiation(ctx, def)
		if err != nil {
			return nil, fmt.Errorf("实例化前处理 (%T): %w", proc, err)
		}
		if v != nil {
			return v, nil
		}
	}
	return nil, nil
}

func (s *stages) populateProperties(ctx context.Context, instance any, def *Definition) error {
	for _, proc := range s.property {
		if err := proc.PopulateProperties(ctx, instance, def); err != nil {
			return fmt.Errorf("属性填充 (%T): %w", proc, err)
		}
	}
	return nil
}

func (s *stages) afterInitialization(ctx context.Context, instance any, def *Definition) (any, error) {
	current := instance
	for _, proc := range s.initialization {
		next, err := proc.AfterInitialization(ctx, current, def)
		if err != nil {
			return nil, fmt.Errorf("初始化后处理 (%T): %w", proc, err)
		}
		if next == nil {
			return nil, fmt.Errorf("初始化后处理 (%T): 返回了 nil", proc)
		}
		current = next
	}
	return current, nil
}

// Resolver 是处理器回调容器时使用的最小接口。
// 可选依赖缺失时 ResolveDependency 返回 (nil, nil)。
type Resolver interface {
	ResolveDependency(ctx context.Context, dep Dependency) (any, error)
}

// FieldInjector 填充带 `di` 标签的导出字段。
//
//	type Service struct {
//		Repo  *Repo  `di:"repo"`          // 按名称
//		Cache Cache  `di:""`              // 按字段类型
//		Audit *Audit `di:"audit,optional"` // 缺失时保持零值
//	}
//
// 已经有值的字段不会被覆盖。
type FieldInjector struct {
	resolver Resolver
}

// NewFieldInjector 创建字段注入处理器。
func NewFieldInjector(resolver Resolver) *FieldInjector {
	return &FieldInjector{resolver: resolver}
}

func (f *FieldInjector) Order() int {
	return 0
}

func (f *FieldInjector) PopulateProperties(ctx context.Context, instance any, def *Definition) error {
	v := reflect.ValueOf(instance)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return nil
	}
	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return nil
	}
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag, ok := field.Tag.Lookup("di")
		if !ok || !field.IsExported() {
			continue
		}
		fv := v.Field(i)
		if !fv.IsZero() {
			continue
		}

		name, optional := parseInjectTag(tag)
		ref := Dependency{Name: name, Optional: optional}
		if name == "" {
			ref.Type = field.Type
		}
		dep, err := f.resolver.ResolveDependency(ctx, ref)
		if err != nil {
			return fmt.Errorf("字段 %s.%s: %w", t.Name(), field.Name, err)
		}
		if dep == nil {
			continue
		}

		dv := reflect.ValueOf(dep)
		if !dv.Type().AssignableTo(field.Type) {
			return fmt.Errorf("字段 %s.%s: %T 不能赋值给 %s", t.Name(), field.Name, dep, field.Type)
		}
		fv.Set(dv)
	}
	return nil
}

// parseInjectTag 解析 "name,optional"；"?" 和 "optional" 单独出现时表示按类型的可选依赖。
func parseInjectTag(tag string) (name string, optional bool) {
	parts := strings.Split(tag, ",")
	name = strings.TrimSpace(parts[0])
	if name == "?" || name == "optional" {
		return "", true
	}
	for _, part := range parts[1:] {
		switch strings.TrimSpace(part) {
		case "optional", "?":
			optional = true
		}
	}
	return name, optional
}

// NameAware 由希望知道自身注册名称的实例实现。
type NameAware interface {
	SetBeanName(name string)
}

// NameAwareProcessor 在属性填充阶段调用 SetBeanName。
type NameAwareProcessor struct{}

func (NameAwareProcessor) Order() int {
	return -100
}

func (NameAwareProcessor) PopulateProperties(ctx context.Context, instance any, def *Definition) error {
	if aware, ok := instance.(NameAware); ok {
		aware.SetBeanName(def.Name)
	}
	return nil
}
