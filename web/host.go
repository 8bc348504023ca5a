package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gocrud/beans/di"
	"github.com/gocrud/beans/logging"
)

// Options web 配置节
type Options struct {
	// Addr 监听地址，默认 :8080
	Addr string `json:"addr" yaml:"addr"`
	// SessionCookie 会话 cookie 名称
	SessionCookie string `json:"sessionCookie" yaml:"sessionCookie"`
	// SessionSecure 会话 cookie 只通过 HTTPS 发送
	SessionSecure bool `json:"sessionSecure" yaml:"sessionSecure"`
	// SessionTimeout 会话最大空闲时间，如 "30m"
	SessionTimeout string `json:"sessionTimeout" yaml:"sessionTimeout"`
	// Mode gin 运行模式
	Mode string `json:"mode" yaml:"mode"`
}

// DefaultOptions 默认配置
func DefaultOptions() Options {
	return Options{
		Addr:           ":8080",
		SessionCookie:  "BEANSSESSION",
		SessionTimeout: "30m",
		Mode:           gin.ReleaseMode,
	}
}

// SessionMaxIdle 解析 SessionTimeout，非法值回退为 30 分钟
func (o Options) SessionMaxIdle() time.Duration {
	d, err := time.ParseDuration(o.SessionTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}

// Controller 控制器接口
type Controller interface {
	// MountRoutes 注册路由
	MountRoutes(router gin.IRouter)
}

// Host Web 主机，作为托管服务运行
type Host struct {
	engine      *gin.Engine
	server      *http.Server
	logger      logging.Logger
	container   *di.Container
	controllers []string

	mu   sync.RWMutex
	addr string
}

// Engine 获取 Gin 引擎
func (h *Host) Engine() *gin.Engine {
	return h.engine
}

// Address 实际监听地址，Start 之前为空
func (h *Host) Address() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.addr
}

// Start 挂载控制器并阻塞服务，直到 Stop 被调用
func (h *Host) Start(ctx context.Context) error {
	if err := h.mapControllers(ctx); err != nil {
		return fmt.Errorf("web: failed to map controllers: %w", err)
	}

	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("web: failed to listen on %s: %w", h.server.Addr, err)
	}
	h.mu.Lock()
	h.addr = ln.Addr().String()
	h.mu.Unlock()

	h.logger.Info("web host started", logging.Field{Key: "address", Value: ln.Addr().String()})
	if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		h.logger.Error("web host error", logging.Err(err))
		return err
	}
	return nil
}

// Stop 优雅关闭
func (h *Host) Stop(ctx context.Context) error {
	h.logger.Info("stopping web host")
	if err := h.server.Shutdown(ctx); err != nil {
		h.logger.Error("failed to shutdown web host gracefully", logging.Err(err))
		return err
	}
	h.logger.Info("web host stopped")
	return nil
}

// mapControllers 从容器解析控制器并注册路由
func (h *Host) mapControllers(ctx context.Context) error {
	for _, name := range h.controllers {
		ctrl, err := di.Resolve[Controller](ctx, h.container, name)
		if err != nil {
			return fmt.Errorf("controller %q: %w", name, err)
		}
		ctrl.MountRoutes(h.engine)
		h.logger.Debug("mapped controller routes", logging.Field{Key: "controller", Value: name})
	}
	return nil
}
