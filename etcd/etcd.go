package etcd

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/gocrud/beans/config"
	"github.com/gocrud/beans/core"
	"github.com/gocrud/beans/di"
	"github.com/gocrud/beans/logging"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// DefaultClient 默认客户端名称，同时注册别名 "etcd"
const DefaultClient = "default"

// ClientOptions etcd 客户端配置选项
type ClientOptions struct {
	Endpoints          []string `json:"endpoints" yaml:"endpoints"`
	DialTimeout        string   `json:"dialTimeout" yaml:"dialTimeout"` // 如 "5s"
	Username           string   `json:"username" yaml:"username"`
	Password           string   `json:"password" yaml:"password"`
	AutoSyncInterval   string   `json:"autoSyncInterval" yaml:"autoSyncInterval"`
	MaxCallSendMsgSize int      `json:"maxCallSendMsgSize" yaml:"maxCallSendMsgSize"`
	MaxCallRecvMsgSize int      `json:"maxCallRecvMsgSize" yaml:"maxCallRecvMsgSize"`
	// Eager 启动时立即创建，默认首次使用时创建
	Eager bool `json:"eager" yaml:"eager"`
}

// Options etcd 配置节，键为客户端名称
type Options struct {
	Clients map[string]ClientOptions `json:"clients" yaml:"clients"`
}

// BeanName 客户端在容器中的名称
func BeanName(client string) string {
	return "etcd." + client
}

// clientConfig 校验并转换为 clientv3.Config
func (o ClientOptions) clientConfig() (clientv3.Config, error) {
	if len(o.Endpoints) == 0 {
		return clientv3.Config{}, fmt.Errorf("endpoints are required")
	}
	cfg := clientv3.Config{
		Endpoints:          o.Endpoints,
		DialTimeout:        5 * time.Second,
		Username:           o.Username,
		Password:           o.Password,
		MaxCallSendMsgSize: o.MaxCallSendMsgSize,
		MaxCallRecvMsgSize: o.MaxCallRecvMsgSize,
	}
	if o.DialTimeout != "" {
		d, err := time.ParseDuration(o.DialTimeout)
		if err != nil || d <= 0 {
			return clientv3.Config{}, fmt.Errorf("invalid dialTimeout %q", o.DialTimeout)
		}
		cfg.DialTimeout = d
	}
	if o.AutoSyncInterval != "" {
		d, err := time.ParseDuration(o.AutoSyncInterval)
		if err != nil {
			return clientv3.Config{}, fmt.Errorf("invalid autoSyncInterval %q", o.AutoSyncInterval)
		}
		cfg.AutoSyncInterval = d
	}
	return cfg, nil
}

// BuilderOption 在配置之外追加或修改客户端
type BuilderOption func(clients map[string]ClientOptions)

// WithClient 添加或覆盖一个客户端
func WithClient(name string, endpoints ...string) BuilderOption {
	return func(clients map[string]ClientOptions) {
		opts := clients[name]
		opts.Endpoints = endpoints
		clients[name] = opts
	}
}

// New 把 etcd 配置节中的每个客户端注册为单例 bean，容器停止时关闭
func New(opts ...BuilderOption) core.Option {
	return func(rt *core.Runtime) error {
		clients := config.NewOptionsCache(rt.Configuration, "etcd", Options{}).Get().Clients
		if clients == nil {
			clients = make(map[string]ClientOptions)
		}
		for _, opt := range opts {
			opt(clients)
		}

		logger := rt.Logging.CreateLogger("etcd")
		names := make([]string, 0, len(clients))
		for name := range clients {
			names = append(names, name)
		}
		slices.Sort(names)

		for _, name := range names {
			cfg, err := clients[name].clientConfig()
			if err != nil {
				return fmt.Errorf("etcd: client %q: %w", name, err)
			}
			defOpts := []di.Option{
				di.WithTypeOf[*clientv3.Client](),
				di.WithDestroyMethod("Close"),
			}
			if !clients[name].Eager {
				defOpts = append(defOpts, di.WithLazy())
			}
			if name == DefaultClient {
				defOpts = append(defOpts, di.WithAliases("etcd"))
			}
			if err := rt.Provide(BeanName(name), newClient(cfg, name, logger), defOpts...); err != nil {
				return fmt.Errorf("etcd: register client %q: %w", name, err)
			}
		}
		return nil
	}
}

func newClient(cfg clientv3.Config, name string, logger logging.Logger) di.ConstructorFunc {
	return func(ctx context.Context, args ...any) (any, error) {
		client, err := clientv3.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create etcd client: %w", err)
		}
		logger.Info("etcd client created",
			logging.Field{Key: "name", Value: name},
			logging.Field{Key: "endpoints", Value: fmt.Sprintf("%v", cfg.Endpoints)})
		return client, nil
	}
}
