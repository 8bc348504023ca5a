package di

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/gocrud/beans/logging"
)

// Initializer 由需要在属性填充后初始化的实例实现。
type Initializer interface {
	Init(ctx context.Context) error
}

// Disposable 由需要在作用域结束时清理的实例实现。
type Disposable interface {
	Destroy() error
}

// createInstance 执行一次完整构造：
// 实例化前处理 -> 实例化（递归解析依赖）-> 属性填充 -> 初始化回调 -> 初始化后处理 -> 登记销毁动作。
// name 在整个过程中位于 ctx 的创建链上，返回时随 ctx 一起丢弃。
func (c *Container) createInstance(ctx context.Context, def *Definition, scope Scope) (instance any, err error) {
	ctx, res := beginResolution(ctx)
	ctx = res.enter(ctx, def.Name)
	phases := c.pipeline.current()
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			instance, err = nil, &panicError{value: r}
		}
		event := InstanceEvent{Name: def.Name, Scope: def.Scope, Duration: time.Since(start)}
		if err != nil {
			err = wrapConstruction(def.Name, err)
			event.Err = err
			c.logger.Debug("construction failed",
				logging.Field{Key: "name", Value: def.Name},
				logging.Field{Key: "error", Value: err})
			c.eachListener(func(l Listener) { l.OnInstanceFailed(event) })
			return
		}
		c.logger.Debug("instance created",
			logging.Field{Key: "name", Value: def.Name},
			logging.Field{Key: "scope", Value: def.Scope},
			logging.Field{Key: "duration", Value: event.Duration})
		c.eachListener(func(l Listener) { l.OnInstanceCreated(event) })
	}()

	raw, err := phases.beforeInstantiation(ctx, def)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		if raw, err = c.instantiate(ctx, def); err != nil {
			return nil, err
		}
		if err := phases.populateProperties(ctx, raw, def); err != nil {
			return nil, err
		}
		if err := invokeInit(ctx, def, raw); err != nil {
			return nil, err
		}
	}

	final, err := phases.afterInitialization(ctx, raw, def)
	if err != nil {
		return nil, err
	}

	if action := destroyAction(def, raw); action != nil {
		if err := scope.RegisterDestructionCallback(ctx, def.Name, action); err != nil {
			// 实例已经构建但无法登记销毁，立即清理
			if derr := runDestroy(action); derr != nil {
				c.logger.Warn("destroy after failed registration",
					logging.Field{Key: "name", Value: def.Name},
					logging.Field{Key: "error", Value: derr})
			}
			return nil, err
		}
	}
	return final, nil
}

// instantiate 按依赖声明顺序解析参数并调用构造方式。
func (c *Container) instantiate(ctx context.Context, def *Definition) (any, error) {
	args := make([]any, len(def.DependsOn))
	for i, dep := range def.DependsOn {
		v, err := c.ResolveDependency(ctx, dep)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	var (
		v   any
		err error
	)
	switch def.Strategy.Kind {
	case StrategyConstructor:
		v, err = def.Strategy.Constructor(ctx, args...)
	case StrategyFactoryMethod:
		factory, ferr := c.GetInstance(ctx, def.Strategy.FactoryBean)
		if ferr != nil {
			return nil, ferr
		}
		v, err = def.Strategy.FactoryMethod(ctx, factory, args...)
	case StrategyInstance:
		v = def.Strategy.Instance
	default:
		return nil, fmt.Errorf("未知的构造策略 %d", def.Strategy.Kind)
	}
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("%s 返回了 nil", def.Strategy.Kind)
	}
	return v, nil
}

func invokeInit(ctx context.Context, def *Definition, instance any) error {
	if init, ok := instance.(Initializer); ok {
		if err := init.Init(ctx); err != nil {
			return fmt.Errorf("初始化: %w", err)
		}
	}
	if def.InitMethod != "" {
		if _, ok := instance.(Initializer); !ok || def.InitMethod != "Init" {
			if err := callMethod(instance, def.InitMethod); err != nil {
				return fmt.Errorf("初始化方法 %s: %w", def.InitMethod, err)
			}
		}
	}
	if def.InitFunc != nil {
		if err := def.InitFunc(ctx, instance); err != nil {
			return fmt.Errorf("初始化函数: %w", err)
		}
	}
	return nil
}

// destroyAction 组合实例的销毁行为，没有任何销毁行为时返回 nil。
// 动作作用在原始实例上，而不是初始化后处理返回的包装对象。
func destroyAction(def *Definition, instance any) DestroyFunc {
	disposable, isDisposable := instance.(Disposable)
	method := def.DestroyMethod
	if isDisposable && method == "Destroy" {
		method = ""
	}
	fn := def.DestroyFunc
	if !isDisposable && method == "" && fn == nil {
		return nil
	}

	return func() error {
		if isDisposable {
			if err := disposable.Destroy(); err != nil {
				return err
			}
		}
		if method != "" {
			if err := callMethod(instance, method); err != nil {
				return fmt.Errorf("销毁方法 %s: %w", method, err)
			}
		}
		if fn != nil {
			return fn(instance)
		}
		return nil
	}
}

var errorType = reflect.TypeFor[error]()

// callMethod 调用实例上无参的方法，支持 func() 和 func() error。
func callMethod(instance any, name string) error {
	m := reflect.ValueOf(instance).MethodByName(name)
	if !m.IsValid() {
		return fmt.Errorf("%T 没有方法 %s", instance, name)
	}
	mt := m.Type()
	if mt.NumIn() != 0 || mt.NumOut() > 1 || (mt.NumOut() == 1 && mt.Out(0) != errorType) {
		return fmt.Errorf("%T.%s 的签名必须是 func() 或 func() error", instance, name)
	}
	out := m.Call(nil)
	if len(out) == 1 && !out[0].IsNil() {
		return out[0].Interface().(error)
	}
	return nil
}
