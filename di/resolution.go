package di

import (
	"context"
	"slices"
)

// flight 标识一次顶层 GetInstance 调用及其全部递归调用。
// waitingOn 由 singletonScope.mu 保护，用于等待图上的死锁检测。
type flight struct {
	waitingOn *singletonEntry
}

// resolution 是沿调用链传递的创建中集合。
// 每层递归都派生新的副本，互不相干的并发构造不会看到彼此的链。
type resolution struct {
	flight *flight
	chain  []string
}

type resolutionKey struct{}

func resolutionFrom(ctx context.Context) (*resolution, bool) {
	r, ok := ctx.Value(resolutionKey{}).(*resolution)
	return r, ok
}

// beginResolution 返回携带 resolution 的 ctx；顶层调用会开启新的 flight。
func beginResolution(ctx context.Context) (context.Context, *resolution) {
	if r, ok := resolutionFrom(ctx); ok {
		return ctx, r
	}
	r := &resolution{flight: &flight{}}
	return context.WithValue(ctx, resolutionKey{}, r), r
}

func (r *resolution) contains(name string) bool {
	return slices.Contains(r.chain, name)
}

// enter 把 name 加入链尾，返回新的 ctx。
func (r *resolution) enter(ctx context.Context, name string) context.Context {
	next := &resolution{
		flight: r.flight,
		chain:  append(slices.Clone(r.chain), name),
	}
	return context.WithValue(ctx, resolutionKey{}, next)
}

// cycle 返回以 name 结尾的环路链，例如 [X Y X]。
func (r *resolution) cycle(name string) []string {
	return append(slices.Clone(r.chain), name)
}

// CreationChain 返回 ctx 上正在创建的名称，外层在前。
// 在构造函数或后置处理器中调用可用于诊断。
func CreationChain(ctx context.Context) []string {
	if r, ok := resolutionFrom(ctx); ok {
		return slices.Clone(r.chain)
	}
	return nil
}
