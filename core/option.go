package core

import (
	"fmt"

	"github.com/gocrud/beans/config"
	"github.com/gocrud/beans/di"
	"github.com/gocrud/beans/logging"
)

// Option 定义了修改 Runtime 状态的函数签名
// 这是框架唯一的扩展点
type Option func(rt *Runtime) error

// WithListener 添加容器事件监听器
func WithListener(l di.Listener) Option {
	return func(rt *Runtime) error {
		rt.Container.AddListener(l)
		return nil
	}
}

// WithPostProcessor 添加后处理器
func WithPostProcessor(processor any) Option {
	return func(rt *Runtime) error {
		return rt.Container.AddPostProcessor(processor)
	}
}

// WithBeans 依次执行注册函数
func WithBeans(register ...func(c *di.Container) error) Option {
	return func(rt *Runtime) error {
		for _, fn := range register {
			if err := fn(rt.Container); err != nil {
				return err
			}
		}
		return nil
	}
}

// OptionsBeanName 配置节对应的 bean 名称
func OptionsBeanName(section string) string {
	return "options." + section
}

// BindOptions 将配置节绑定为 *config.OptionsCache[T] 单例
// 配置重载后缓存自动刷新，bean 名称为 OptionsBeanName(section)
func BindOptions[T any](section string, defaults T) Option {
	return func(rt *Runtime) error {
		cache := config.NewOptionsCache(rt.Configuration, section, defaults)
		if err := rt.Container.RegisterSingleton(OptionsBeanName(section), cache,
			di.WithTypeOf[*config.OptionsCache[T]]()); err != nil {
			return fmt.Errorf("runtime: 绑定配置节 %q 失败: %w", section, err)
		}
		rt.Logger.Debug("options bound",
			logging.Field{Key: "section", Value: section},
			logging.Field{Key: "type", Value: fmt.Sprintf("%T", defaults)})
		return nil
	}
}
