// Package beans 提供受管对象容器的默认启动方式
package beans

import (
	"fmt"

	"github.com/gocrud/beans/config"
	"github.com/gocrud/beans/core"
)

// EnvPrefix 环境变量与 .env 中参与配置的键前缀
const EnvPrefix = "BEANS_"

// DefaultConfiguration 默认配置源，后面的覆盖前面的：
// beans.yaml、beans.<env>.yaml、.env、BEANS_ 环境变量
func DefaultConfiguration(env string) *config.ConfigurationBuilder {
	b := config.NewConfigurationBuilder().AddYamlFile("beans.yaml", true)
	if env != "" {
		b.AddYamlFile(fmt.Sprintf("beans.%s.yaml", env), true)
	}
	return b.AddDotEnv(EnvPrefix).AddEnvironmentVariables(EnvPrefix)
}

// New 使用给定配置创建运行时并应用选项
func New(builder *config.ConfigurationBuilder, opts ...core.Option) (*core.Runtime, error) {
	cfg, err := builder.BuildReloadable()
	if err != nil {
		return nil, err
	}
	rt, err := core.NewRuntime(cfg)
	if err != nil {
		return nil, err
	}
	if err := rt.Apply(opts...); err != nil {
		return nil, err
	}
	return rt, nil
}
