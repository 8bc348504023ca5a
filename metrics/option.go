package metrics

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/gocrud/beans/config"
	"github.com/gocrud/beans/core"
	"github.com/gocrud/beans/di"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// 容器中的 bean 名称
const (
	RegistryBean   = "metrics.registry"
	ControllerBean = "metrics.controller"
)

// Options metrics 配置节
type Options struct {
	// Path 指标路径，默认 /metrics
	Path string `json:"path" yaml:"path"`
	// Runtime 是否附带 Go 运行时与进程指标
	Runtime bool `json:"runtime" yaml:"runtime"`
}

// controller 在 web 主机上挂载指标路径，实现 web.Controller
type controller struct {
	path     string
	registry *prometheus.Registry
}

func (c *controller) MountRoutes(r gin.IRouter) {
	r.GET(c.path, gin.WrapH(Handler(c.registry)))
}

// New 创建独立的 Prometheus 注册表，把 Collector 作为容器监听器接入
func New() core.Option {
	return func(rt *core.Runtime) error {
		opts := config.NewOptionsCache(rt.Configuration, "metrics", Options{Path: "/metrics", Runtime: true}).Get()

		registry := prometheus.NewRegistry()
		if opts.Runtime {
			registry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
		}
		collector, err := NewCollector(registry)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		rt.Container.AddListener(collector)

		if err := rt.Container.RegisterSingleton(RegistryBean, registry, di.WithTypeOf[*prometheus.Registry]()); err != nil {
			return fmt.Errorf("metrics: register registry: %w", err)
		}
		return rt.Container.RegisterSingleton(ControllerBean, &controller{path: opts.Path, registry: registry})
	}
}
