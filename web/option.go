package web

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gocrud/beans/config"
	"github.com/gocrud/beans/core"
	"github.com/gocrud/beans/di"
	"github.com/gocrud/beans/logging"
)

// 容器中的 bean 名称
const (
	HostBean     = "web.host"
	SessionsBean = "web.sessions"
)

// Builder 收集 Web 主机的配置
type Builder struct {
	options     Options
	middleware  []gin.HandlerFunc
	routes      []func(r gin.IRouter, c *di.Container)
	controllers []string
}

// BuilderOption 用于配置 Web Builder
type BuilderOption func(*Builder)

// WithAddr 覆盖配置中的监听地址
func WithAddr(addr string) BuilderOption {
	return func(b *Builder) {
		b.options.Addr = addr
	}
}

// WithMiddleware 添加全局中间件，位于作用域中间件之后
func WithMiddleware(middleware ...gin.HandlerFunc) BuilderOption {
	return func(b *Builder) {
		b.middleware = append(b.middleware, middleware...)
	}
}

// WithRoutes 直接注册路由
func WithRoutes(fn func(r gin.IRouter, c *di.Container)) BuilderOption {
	return func(b *Builder) {
		b.routes = append(b.routes, fn)
	}
}

// WithControllers 按 bean 名称添加控制器，启动时从容器解析
func WithControllers(names ...string) BuilderOption {
	return func(b *Builder) {
		b.controllers = append(b.controllers, names...)
	}
}

// New 启用 Web 能力：读取 web 配置节，注册会话存储与主机，并作为托管服务运行
func New(opts ...BuilderOption) core.Option {
	return func(rt *core.Runtime) error {
		b := &Builder{
			options: config.NewOptionsCache(rt.Configuration, "web", DefaultOptions()).Get(),
		}
		for _, opt := range opts {
			opt(b)
		}

		gin.SetMode(b.options.Mode)
		logger := rt.Logging.CreateLogger("web")
		store := NewSessionStore(rt.Container)

		engine := gin.New()
		engine.Use(gin.Recovery(),
			RequestScope(rt.Container, logger),
			SessionScope(store, b.options))
		engine.Use(b.middleware...)
		for _, fn := range b.routes {
			fn(engine, rt.Container)
		}

		host := &Host{
			engine:      engine,
			logger:      logger,
			container:   rt.Container,
			controllers: b.controllers,
			server: &http.Server{
				Addr:    b.options.Addr,
				Handler: engine,
			},
		}

		if err := rt.Container.RegisterSingleton(SessionsBean, store,
			di.WithTypeOf[*SessionStore](), di.WithDestroyMethod("Close")); err != nil {
			return fmt.Errorf("web: register session store: %w", err)
		}
		if err := rt.Container.RegisterSingleton(HostBean, host, di.WithTypeOf[*Host]()); err != nil {
			return fmt.Errorf("web: register host: %w", err)
		}
		logger.Debug("web host configured",
			logging.Field{Key: "addr", Value: b.options.Addr},
			logging.Field{Key: "controllers", Value: len(b.controllers)})
		return core.WithHostedService(HostBean)(rt)
	}
}
