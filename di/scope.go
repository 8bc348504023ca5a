package di

import (
	"context"

	"github.com/gocrud/beans/logging"
)

// CreateFunc 在缓存未命中时创建实例。
type CreateFunc func(ctx context.Context) (any, error)

// Scope 决定实例如何获取、缓存和销毁。
type Scope interface {
	// Get 返回 name 对应的实例，缓存未命中时调用 create。
	Get(ctx context.Context, name string, create CreateFunc) (any, error)
	// RegisterDestructionCallback 为 name 的实例登记销毁动作。
	RegisterDestructionCallback(ctx context.Context, name string, callback DestroyFunc) error
	// Remove 移除缓存的实例并执行其销毁动作。
	Remove(ctx context.Context, name string) error
}

// prototypeScope 每次都创建新实例，不缓存也不加锁。
//
// 销毁回调不被跟踪：实例的所有权随返回值交给调用方，
// 丢弃的回调会以 debug 级别记录。
type prototypeScope struct {
	logger logging.Logger
}

func newPrototypeScope(logger logging.Logger) *prototypeScope {
	return &prototypeScope{logger: logger}
}

func (s *prototypeScope) Get(ctx context.Context, name string, create CreateFunc) (any, error) {
	return create(ctx)
}

func (s *prototypeScope) RegisterDestructionCallback(ctx context.Context, name string, callback DestroyFunc) error {
	s.logger.Debug("prototype destruction callback not tracked; caller owns the instance",
		logging.Field{Key: "name", Value: name})
	return nil
}

func (s *prototypeScope) Remove(ctx context.Context, name string) error {
	return nil
}
