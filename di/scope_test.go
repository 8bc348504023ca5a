package di_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gocrud/beans/di"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRequestContainer(t *testing.T) (*di.Container, *atomic.Int32) {
	t.Helper()
	c := di.NewContainer()
	var calls atomic.Int32
	require.NoError(t, c.Provide("cart", counting(&calls, func(ctx context.Context, args ...any) (any, error) {
		return &ServiceA{}, nil
	}), di.WithScope(di.ScopeRequest)))
	return c, &calls
}

func TestExternalScope_NotActive(t *testing.T) {
	c, calls := newRequestContainer(t)

	_, err := c.GetInstance(context.Background(), "cart")
	require.Error(t, err)
	assert.True(t, di.IsScopeNotActive(err))
	assert.Zero(t, calls.Load())

	// 其他作用域的上下文不算激活
	ctx := di.WithScopeContext(context.Background(), di.ScopeSession, di.NewAttributes(di.ScopeSession))
	_, err = c.GetInstance(ctx, "cart")
	assert.True(t, di.IsScopeNotActive(err))
}

func TestExternalScope_CachesPerContext(t *testing.T) {
	c, calls := newRequestContainer(t)

	req1 := di.NewAttributes(di.ScopeRequest)
	ctx1 := di.WithScopeContext(context.Background(), di.ScopeRequest, req1)
	a, err := c.GetInstance(ctx1, "cart")
	require.NoError(t, err)
	b, err := c.GetInstance(ctx1, "cart")
	require.NoError(t, err)
	assert.Same(t, a, b)

	ctx2 := di.WithScopeContext(context.Background(), di.ScopeRequest, di.NewAttributes(di.ScopeRequest))
	other, err := c.GetInstance(ctx2, "cart")
	require.NoError(t, err)
	assert.NotSame(t, a, other)
	assert.EqualValues(t, 2, calls.Load())
}

func TestExternalScope_CompleteDestroysInReverseOrder(t *testing.T) {
	c := di.NewContainer()
	var mu sync.Mutex
	var log []string
	for _, spec := range []struct {
		name string
		deps []string
	}{
		{"session", nil},
		{"tx", []string{"session"}},
		{"audit", []string{"tx"}},
	} {
		require.NoError(t, c.Provide(spec.name, func(ctx context.Context, args ...any) (any, error) {
			return &closer{name: spec.name, log: &log, mu: &mu}, nil
		}, di.WithScope(di.ScopeRequest), di.WithRefs(spec.deps...)))
	}

	req := di.NewAttributes(di.ScopeRequest)
	ctx := di.WithScopeContext(context.Background(), di.ScopeRequest, req)
	_, err := c.GetInstance(ctx, "audit")
	require.NoError(t, err)
	assert.Equal(t, 3, req.Len())

	require.NoError(t, c.CompleteScope(req))
	assert.Equal(t, []string{"audit", "tx", "session"}, log)
	assert.True(t, req.Completed())
	assert.Zero(t, req.Len())

	// 已结束的上下文不能再登记销毁动作
	_, err = c.GetInstance(ctx, "audit")
	var disposed *di.ScopeAlreadyDisposedError
	assert.ErrorAs(t, err, &disposed)
	assert.ErrorAs(t, req.Complete(), &disposed)
}

func TestExternalScope_CompleteAggregatesFailures(t *testing.T) {
	req := di.NewAttributes(di.ScopeRequest)
	var ran []string
	require.NoError(t, req.RegisterDestructionCallback("a", func() error { ran = append(ran, "a"); return nil }))
	require.NoError(t, req.RegisterDestructionCallback("b", func() error { ran = append(ran, "b"); return errors.New("b broke") }))
	require.NoError(t, req.RegisterDestructionCallback("c", func() error { ran = append(ran, "c"); return nil }))

	err := req.Complete()
	var disposal *di.DisposalError
	require.ErrorAs(t, err, &disposal)
	assert.Equal(t, di.ScopeRequest, disposal.Scope)
	assert.Contains(t, err.Error(), "b broke")
	assert.Equal(t, []string{"c", "b", "a"}, ran)
}

func TestAttributes_SetIfAbsent(t *testing.T) {
	a := di.NewAttributes("job")
	v, loaded := a.SetAttributeIfAbsent("k", 1)
	assert.False(t, loaded)
	assert.Equal(t, 1, v)

	v, loaded = a.SetAttributeIfAbsent("k", 2)
	assert.True(t, loaded)
	assert.Equal(t, 1, v)

	a.RemoveAttribute("k")
	_, ok := a.GetAttribute("k")
	assert.False(t, ok)
	assert.Equal(t, "job", a.Scope())
}

// mapContext 只实现最小 ScopeContext 接口。
type mapContext struct {
	values    map[string]any
	callbacks []di.DestroyFunc
}

func (m *mapContext) GetAttribute(name string) (any, bool) {
	v, ok := m.values[name]
	return v, ok
}

func (m *mapContext) SetAttribute(name string, value any) { m.values[name] = value }

func (m *mapContext) RegisterDestructionCallback(name string, callback di.DestroyFunc) error {
	m.callbacks = append(m.callbacks, callback)
	return nil
}

func TestExternalScope_CustomScopeContext(t *testing.T) {
	c := di.NewContainer()
	require.NoError(t, c.RegisterScope("tenant", di.NewExternalScope("tenant")))
	require.NoError(t, c.Provide("conn", func(ctx context.Context, args ...any) (any, error) {
		return &lifecycleBean{}, nil
	}, di.WithScope("tenant"), di.WithDestroyMethod("Close")))

	mc := &mapContext{values: map[string]any{}}
	ctx := di.WithScopeContext(context.Background(), "tenant", mc)
	v, err := c.GetInstance(ctx, "conn")
	require.NoError(t, err)
	assert.Same(t, v, mc.values["conn"])
	require.Len(t, mc.callbacks, 1)

	require.NoError(t, mc.callbacks[0]())
	assert.True(t, v.(*lifecycleBean).closed)
}

func TestPrototypeDestructionCallbacksAreNotTracked(t *testing.T) {
	c := di.NewContainer()
	var mu sync.Mutex
	var log []string
	require.NoError(t, c.Provide("tmp", func(ctx context.Context, args ...any) (any, error) {
		return &closer{name: "tmp", log: &log, mu: &mu}, nil
	}, di.WithPrototype()))

	_, err := c.GetInstance(context.Background(), "tmp")
	require.NoError(t, err)
	require.NoError(t, c.Stop(context.Background()))
	assert.Empty(t, log)
}

type disposalRecorder struct {
	mu       sync.Mutex
	created  []string
	failed   []string
	disposed []di.DisposalEvent
}

func (r *disposalRecorder) OnInstanceCreated(e di.InstanceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, e.Name)
}

func (r *disposalRecorder) OnInstanceFailed(e di.InstanceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, e.Name)
}

func (r *disposalRecorder) OnScopeDisposed(e di.DisposalEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disposed = append(r.disposed, e)
}

func TestListenerEvents(t *testing.T) {
	rec := &disposalRecorder{}
	c := di.NewContainer(di.WithListener(rec))
	require.NoError(t, c.Provide("ok", func(ctx context.Context, args ...any) (any, error) {
		return &ServiceA{}, nil
	}))
	require.NoError(t, c.Provide("bad", func(ctx context.Context, args ...any) (any, error) {
		return nil, errors.New("nope")
	}, di.WithScope(di.ScopeRequest)))

	_, err := c.GetInstance(context.Background(), "ok")
	require.NoError(t, err)
	req := di.NewAttributes(di.ScopeRequest)
	_, err = c.GetInstance(di.WithScopeContext(context.Background(), di.ScopeRequest, req), "bad")
	require.Error(t, err)
	require.NoError(t, c.CompleteScope(req))
	require.NoError(t, c.Stop(context.Background()))

	assert.Equal(t, []string{"ok"}, rec.created)
	assert.Equal(t, []string{"bad"}, rec.failed)
	require.Len(t, rec.disposed, 2)
	assert.Equal(t, di.ScopeRequest, rec.disposed[0].Scope)
	assert.Equal(t, di.ScopeSingleton, rec.disposed[1].Scope)
}
