package di_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocrud/beans/di"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type ContainerTestSuite struct {
	suite.Suite
	ctx context.Context
	c   *di.Container
}

func (s *ContainerTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.c = di.NewContainer()
}

func TestContainerTestSuite(t *testing.T) {
	suite.Run(t, new(ContainerTestSuite))
}

type ServiceA struct {
	initialized bool
}

type ServiceB struct {
	A           *ServiceA
	sawAInit    bool
	initialized bool
}

// counting 返回一个记录调用次数的构造函数。
func counting(counter *atomic.Int32, fn di.ConstructorFunc) di.ConstructorFunc {
	return func(ctx context.Context, args ...any) (any, error) {
		counter.Add(1)
		return fn(ctx, args...)
	}
}

func (s *ContainerTestSuite) TestSingletonDependencyScenario() {
	var aCalls, bCalls atomic.Int32
	s.Require().NoError(s.c.Provide("A", counting(&aCalls, func(ctx context.Context, args ...any) (any, error) {
		return &ServiceA{}, nil
	}), di.WithInitFunc(func(ctx context.Context, v any) error {
		v.(*ServiceA).initialized = true
		return nil
	})))
	s.Require().NoError(s.c.Provide("B", counting(&bCalls, func(ctx context.Context, args ...any) (any, error) {
		a := args[0].(*ServiceA)
		return &ServiceB{A: a, sawAInit: a.initialized}, nil
	}), di.WithRefs("A")))

	b, err := di.Resolve[*ServiceB](s.ctx, s.c, "B")
	s.Require().NoError(err)
	a, err := di.Resolve[*ServiceA](s.ctx, s.c, "A")
	s.Require().NoError(err)

	s.Same(a, b.A)
	s.True(b.sawAInit, "dependency must be initialized before the dependent is constructed")
	s.EqualValues(1, aCalls.Load())
	s.EqualValues(1, bCalls.Load())
}

func (s *ContainerTestSuite) TestAtMostOneConstruction() {
	var calls atomic.Int32
	s.Require().NoError(s.c.Provide("slow", counting(&calls, func(ctx context.Context, args ...any) (any, error) {
		time.Sleep(20 * time.Millisecond)
		return &ServiceA{}, nil
	})))

	const workers = 32
	start := make(chan struct{})
	results := make([]any, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			results[i], errs[i] = s.c.GetInstance(s.ctx, "slow")
		}()
	}
	close(start)
	wg.Wait()

	s.EqualValues(1, calls.Load())
	for i := range workers {
		s.Require().NoError(errs[i])
		s.Same(results[0], results[i])
	}
}

func (s *ContainerTestSuite) TestDirectCycle() {
	ctor := func(ctx context.Context, args ...any) (any, error) { return &ServiceA{}, nil }
	s.Require().NoError(s.c.Provide("X", ctor, di.WithRefs("Y")))
	s.Require().NoError(s.c.Provide("Y", ctor, di.WithRefs("X")))

	_, err := s.c.GetInstance(s.ctx, "X")
	s.Require().Error(err)
	s.True(di.IsCircularDependency(err))

	var cycle *di.CircularDependencyError
	s.Require().ErrorAs(err, &cycle)
	s.Equal([]string{"X", "Y", "X"}, cycle.Chain)

	var failed *di.ConstructionFailedError
	s.Require().ErrorAs(err, &failed)
	s.Equal("X", failed.Name)

	// 失败不缓存，也不残留创建中状态
	s.False(s.c.ContainsSingleton("X"))
	s.False(s.c.IsCurrentlyInCreation(s.ctx, "X"))
	s.False(s.c.IsCurrentlyInCreation(s.ctx, "Y"))
}

func (s *ContainerTestSuite) TestTransitiveCycleThroughAliasAndPrototype() {
	ctor := func(ctx context.Context, args ...any) (any, error) { return &ServiceA{}, nil }
	s.Require().NoError(s.c.Provide("A", ctor, di.WithRefs("b")))
	s.Require().NoError(s.c.Provide("B", ctor, di.WithAliases("b"), di.WithRefs("C"), di.WithPrototype()))
	s.Require().NoError(s.c.Provide("C", ctor, di.WithRefs("A")))

	_, err := s.c.GetInstance(s.ctx, "A")
	var cycle *di.CircularDependencyError
	s.Require().ErrorAs(err, &cycle)
	s.Equal([]string{"A", "B", "C", "A"}, cycle.Chain)
}

func (s *ContainerTestSuite) TestSelfReferenceThroughFieldInjection() {
	type node struct {
		Next *node `di:"node"`
	}
	s.Require().NoError(s.c.Provide("node", func(ctx context.Context, args ...any) (any, error) {
		return &node{}, nil
	}))

	_, err := s.c.GetInstance(s.ctx, "node")
	var cycle *di.CircularDependencyError
	s.Require().ErrorAs(err, &cycle)
	s.Equal([]string{"node", "node"}, cycle.Chain)
}

func (s *ContainerTestSuite) TestDeepAcyclicGraph() {
	const depth = 50
	var order []string
	for i := range depth {
		name := fmt.Sprintf("n%d", i)
		opts := []di.Option{di.WithInitFunc(func(ctx context.Context, v any) error {
			order = append(order, name)
			return nil
		})}
		if i+1 < depth {
			opts = append(opts, di.WithRefs(fmt.Sprintf("n%d", i+1)))
		}
		s.Require().NoError(s.c.Provide(name, func(ctx context.Context, args ...any) (any, error) {
			return &ServiceA{}, nil
		}, opts...))
	}

	_, err := s.c.GetInstance(s.ctx, "n0")
	s.Require().NoError(err)
	s.Require().Len(order, depth)
	s.Equal(fmt.Sprintf("n%d", depth-1), order[0])
	s.Equal("n0", order[depth-1])
}

func (s *ContainerTestSuite) TestCrossGoroutineCycleDoesNotDeadlock() {
	ctor := func(ctx context.Context, args ...any) (any, error) { return &ServiceA{}, nil }
	s.Require().NoError(s.c.Provide("X", ctor, di.WithRefs("Y")))
	s.Require().NoError(s.c.Provide("Y", ctor, di.WithRefs("X")))

	// 两个构造都进入创建中状态后才去解析对方
	var barrier sync.WaitGroup
	barrier.Add(2)
	var once sync.Map
	s.Require().NoError(s.c.AddPostProcessor(beforeFunc(func(ctx context.Context, def *di.Definition) (any, error) {
		if _, loaded := once.LoadOrStore(def.Name, true); !loaded {
			barrier.Done()
			barrier.Wait()
		}
		return nil, nil
	})))

	errs := make(chan error, 2)
	for _, name := range []string{"X", "Y"} {
		go func() {
			_, err := s.c.GetInstance(s.ctx, name)
			errs <- err
		}()
	}

	for range 2 {
		select {
		case err := <-errs:
			s.True(di.IsCircularDependency(err), "got %v", err)
		case <-time.After(5 * time.Second):
			s.FailNow("deadlock: construction did not finish")
		}
	}

	_, err := s.c.GetInstance(s.ctx, "X")
	var cycle *di.CircularDependencyError
	s.Require().ErrorAs(err, &cycle)
	s.Equal([]string{"X", "Y", "X"}, cycle.Chain)
}

func (s *ContainerTestSuite) TestFailedSingletonIsRetried() {
	var calls atomic.Int32
	boom := errors.New("database not ready")
	s.Require().NoError(s.c.Provide("db", counting(&calls, func(ctx context.Context, args ...any) (any, error) {
		if calls.Load() == 1 {
			return nil, boom
		}
		return &ServiceA{}, nil
	})))

	_, err := s.c.GetInstance(s.ctx, "db")
	s.ErrorIs(err, boom)
	var failed *di.ConstructionFailedError
	s.Require().ErrorAs(err, &failed)
	s.Equal("db", failed.Name)

	v, err := s.c.GetInstance(s.ctx, "db")
	s.Require().NoError(err)
	s.NotNil(v)
	s.EqualValues(2, calls.Load())
}

func (s *ContainerTestSuite) TestPanicIsConvertedToConstructionFailure() {
	s.Require().NoError(s.c.Provide("p", func(ctx context.Context, args ...any) (any, error) {
		panic("kaboom")
	}))
	_, err := s.c.GetInstance(s.ctx, "p")
	var failed *di.ConstructionFailedError
	s.Require().ErrorAs(err, &failed)
	s.Contains(err.Error(), "kaboom")
	s.False(s.c.IsCurrentlyInCreation(s.ctx, "p"))
}

func (s *ContainerTestSuite) TestPrototypeIndependence() {
	var calls atomic.Int32
	s.Require().NoError(s.c.Provide("proto", counting(&calls, func(ctx context.Context, args ...any) (any, error) {
		if calls.Load() == 2 {
			return nil, errors.New("transient failure")
		}
		return &ServiceA{}, nil
	}), di.WithPrototype()))

	first, err := s.c.GetInstance(s.ctx, "proto")
	s.Require().NoError(err)
	_, err = s.c.GetInstance(s.ctx, "proto")
	s.Require().Error(err)
	third, err := s.c.GetInstance(s.ctx, "proto")
	s.Require().NoError(err)
	s.NotSame(first, third)
}

func (s *ContainerTestSuite) TestConcurrentPrototypesDoNotSeeEachOther() {
	s.Require().NoError(s.c.Provide("leaf", func(ctx context.Context, args ...any) (any, error) {
		time.Sleep(5 * time.Millisecond)
		return &ServiceA{}, nil
	}, di.WithPrototype()))
	s.Require().NoError(s.c.Provide("root", func(ctx context.Context, args ...any) (any, error) {
		return &ServiceB{A: args[0].(*ServiceA)}, nil
	}, di.WithPrototype(), di.WithRefs("leaf")))

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.c.GetInstance(s.ctx, "root")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.NoError(err)
	}
}

type closer struct {
	name string
	log  *[]string
	mu   *sync.Mutex
	err  error
}

func (c *closer) Destroy() error {
	c.mu.Lock()
	*c.log = append(*c.log, c.name)
	c.mu.Unlock()
	return c.err
}

func (s *ContainerTestSuite) TestStartStopDisposalOrder() {
	var mu sync.Mutex
	var log []string
	provide := func(name string, err error, opts ...di.Option) {
		s.Require().NoError(s.c.Provide(name, func(ctx context.Context, args ...any) (any, error) {
			return &closer{name: name, log: &log, mu: &mu, err: err}, nil
		}, opts...))
	}
	provide("C", nil, di.WithRefs("B"))
	provide("A", nil)
	provide("B", errors.New("flush failed"), di.WithRefs("A"))
	provide("lazy", nil, di.WithLazy())

	s.Require().NoError(s.c.Start(s.ctx))
	s.False(s.c.ContainsSingleton("lazy"))

	err := s.c.Stop(s.ctx)
	s.Require().Error(err)
	s.Equal([]string{"C", "B", "A"}, log)
	s.Contains(err.Error(), `"B"`)

	_, err = s.c.GetInstance(s.ctx, "A")
	var disposed *di.ScopeAlreadyDisposedError
	s.ErrorAs(err, &disposed)
	s.ErrorAs(s.c.Stop(s.ctx), &disposed)

	// 重新启动后可以再次创建
	s.Require().NoError(s.c.Start(s.ctx))
	s.True(s.c.ContainsSingleton("A"))
}

type pooledConn struct {
	inits     atomic.Int32
	destroyed atomic.Int32
}

func (p *pooledConn) Init(ctx context.Context) error {
	p.inits.Add(1)
	return nil
}

func (p *pooledConn) Destroy() error {
	p.destroyed.Add(1)
	return nil
}

func (s *ContainerTestSuite) TestRestartDoesNotRebuildRegisteredInstances() {
	conn := &pooledConn{}
	settings := &ServiceA{initialized: true}
	s.Require().NoError(s.c.RegisterSingleton("conn", conn))
	s.Require().NoError(s.c.RegisterSingleton("settings", settings))

	s.Require().NoError(s.c.Start(s.ctx))
	s.Require().NoError(s.c.Stop(s.ctx))
	s.Require().NoError(s.c.Start(s.ctx))

	// 已销毁的实例不会被重新初始化后交出
	_, err := s.c.GetInstance(s.ctx, "conn")
	s.True(di.IsNoSuchDefinition(err))
	s.Equal(int32(1), conn.destroyed.Load())
	s.Zero(conn.inits.Load())

	got, err := s.c.GetInstance(s.ctx, "settings")
	s.Require().NoError(err)
	s.Same(settings, got)

	s.Require().NoError(s.c.Stop(s.ctx))
	s.Equal(int32(1), conn.destroyed.Load())
}

func (s *ContainerTestSuite) TestStartAbortsOnFirstFailure() {
	var later atomic.Int32
	s.Require().NoError(s.c.Provide("bad", func(ctx context.Context, args ...any) (any, error) {
		return nil, errors.New("no config")
	}))
	s.Require().NoError(s.c.Provide("later", counting(&later, func(ctx context.Context, args ...any) (any, error) {
		return &ServiceA{}, nil
	})))

	err := s.c.Start(s.ctx)
	var failed *di.ConstructionFailedError
	s.Require().ErrorAs(err, &failed)
	s.Equal("bad", failed.Name)
	s.Zero(later.Load())
}

func (s *ContainerTestSuite) TestInitAndDestroyMethodsByName() {
	var created *lifecycleBean
	s.Require().NoError(s.c.Provide("conn", func(ctx context.Context, args ...any) (any, error) {
		created = &lifecycleBean{}
		return created, nil
	}, di.WithInitMethod("Open"), di.WithDestroyMethod("Close")))

	_, err := s.c.GetInstance(s.ctx, "conn")
	s.Require().NoError(err)
	s.True(created.opened)
	s.Require().NoError(s.c.Stop(s.ctx))
	s.True(created.closed)
}

type lifecycleBean struct {
	opened bool
	closed bool
}

func (b *lifecycleBean) Open() { b.opened = true }

func (b *lifecycleBean) Close() error {
	b.closed = true
	return nil
}

func (s *ContainerTestSuite) TestMissingInitMethodFails() {
	s.Require().NoError(s.c.Provide("x", func(ctx context.Context, args ...any) (any, error) {
		return &ServiceA{}, nil
	}, di.WithInitMethod("Start")))
	_, err := s.c.GetInstance(s.ctx, "x")
	s.ErrorContains(err, "没有方法 Start")
}

func (s *ContainerTestSuite) TestDestroySingletonThenOverride() {
	c := di.NewContainer(di.WithAllowOverriding(true))
	var mu sync.Mutex
	var log []string
	s.Require().NoError(c.Provide("svc", func(ctx context.Context, args ...any) (any, error) {
		return &closer{name: "v1", log: &log, mu: &mu}, nil
	}))
	first, err := c.GetInstance(s.ctx, "svc")
	s.Require().NoError(err)

	replacement := di.NewDefinition("svc", di.Constructor(func(ctx context.Context, args ...any) (any, error) {
		return &closer{name: "v2", log: &log, mu: &mu}, nil
	}))
	var inUse *di.DefinitionInUseError
	s.Require().ErrorAs(c.Register(replacement), &inUse)
	s.Require().ErrorAs(c.Remove("svc"), &inUse)

	s.Require().NoError(c.DestroySingleton(s.ctx, "svc"))
	s.Equal([]string{"v1"}, log)
	s.Require().NoError(c.Register(replacement))

	second, err := c.GetInstance(s.ctx, "svc")
	s.Require().NoError(err)
	s.NotSame(first, second)
	s.Equal("v2", second.(*closer).name)

	s.Require().NoError(c.Stop(s.ctx))
	s.Equal([]string{"v1", "v2"}, log)
}

func (s *ContainerTestSuite) TestDuplicateWithoutOverriding() {
	s.Require().NoError(s.c.RegisterSingleton("cfg", &ServiceA{}))
	var dup *di.DuplicateDefinitionError
	s.ErrorAs(s.c.RegisterSingleton("cfg", &ServiceA{}), &dup)
}

func (s *ContainerTestSuite) TestRegisterSingletonBypassesPipeline() {
	rec := &recordingProcessor{}
	s.Require().NoError(s.c.AddPostProcessor(rec))
	instance := &ServiceA{}
	s.Require().NoError(s.c.RegisterSingleton("pre", instance, di.WithAliases("prebuilt")))

	got, err := s.c.GetInstance(s.ctx, "prebuilt")
	s.Require().NoError(err)
	s.Same(instance, got)
	s.Empty(rec.names())
}

func (s *ContainerTestSuite) TestNoSuchDefinition() {
	_, err := s.c.GetInstance(s.ctx, "ghost")
	s.True(di.IsNoSuchDefinition(err))

	s.Require().NoError(s.c.Provide("needs-ghost", func(ctx context.Context, args ...any) (any, error) {
		return &ServiceA{}, nil
	}, di.WithRefs("ghost")))
	_, err = s.c.GetInstance(s.ctx, "needs-ghost")
	s.True(di.IsNoSuchDefinition(err))
}

func (s *ContainerTestSuite) TestOptionalDependency() {
	s.Require().NoError(s.c.Provide("svc", func(ctx context.Context, args ...any) (any, error) {
		return &ServiceB{sawAInit: args[0] == nil}, nil
	}, di.WithDependsOn(di.Optional(di.Ref("metrics")))))
	v, err := di.Resolve[*ServiceB](s.ctx, s.c, "svc")
	s.Require().NoError(err)
	s.True(v.sawAInit)
}

func (s *ContainerTestSuite) TestResolveByType() {
	s.Require().NoError(s.c.RegisterSingleton("a", &ServiceA{}))
	s.Require().NoError(s.c.Provide("b", func(ctx context.Context, args ...any) (any, error) {
		return &ServiceB{A: args[0].(*ServiceA)}, nil
	}, di.WithDependsOn(di.TypeRef[*ServiceA]()), di.WithTypeOf[*ServiceB]()))

	b, err := di.ResolveType[*ServiceB](s.ctx, s.c)
	s.Require().NoError(err)
	s.NotNil(b.A)

	s.Require().NoError(s.c.RegisterSingleton("a2", &ServiceA{}))
	_, err = di.ResolveType[*ServiceA](s.ctx, s.c)
	var ambiguous *di.AmbiguousDependencyError
	s.ErrorAs(err, &ambiguous)
	s.Equal([]string{"a", "a2"}, ambiguous.Candidates)

	_, err = di.Resolve[*ServiceB](s.ctx, s.c, "a")
	s.ErrorContains(err, "不是 *di_test.ServiceB")
	s.Panics(func() { di.MustResolve[*ServiceA](s.ctx, s.c, "missing") })
}

func (s *ContainerTestSuite) TestFactoryMethod() {
	type pool struct{ size int }
	s.Require().NoError(s.c.RegisterSingleton("size", 8))
	s.Require().NoError(s.c.Provide("factory", func(ctx context.Context, args ...any) (any, error) {
		return func(n int) *pool { return &pool{size: n} }, nil
	}))
	s.Require().NoError(s.c.Register(di.NewDefinition("pool",
		di.FactoryMethod("factory", func(ctx context.Context, factory any, args ...any) (any, error) {
			return factory.(func(int) *pool)(args[0].(int)), nil
		}),
		di.WithRefs("size"))))

	p, err := di.Resolve[*pool](s.ctx, s.c, "pool")
	s.Require().NoError(err)
	s.Equal(8, p.size)
}

func (s *ContainerTestSuite) TestNamesAndRequestScopeWithoutContext() {
	s.Require().NoError(s.c.Provide("user", func(ctx context.Context, args ...any) (any, error) {
		return &ServiceA{}, nil
	}, di.WithScope(di.ScopeRequest)))
	s.Require().NoError(s.c.RegisterSingleton("cfg", 1))
	s.Equal([]string{"user", "cfg"}, slices.Collect(s.c.Names()))

	_, err := s.c.GetInstance(s.ctx, "user")
	s.Require().Error(err)
	s.True(di.IsScopeNotActive(err))
	var notActive *di.ScopeNotActiveError
	s.Require().ErrorAs(err, &notActive)
	s.Equal(di.ScopeRequest, notActive.Scope)
	s.Equal("user", notActive.Name)
}

func (s *ContainerTestSuite) TestUnknownScope() {
	s.Require().NoError(s.c.Provide("x", func(ctx context.Context, args ...any) (any, error) {
		return &ServiceA{}, nil
	}, di.WithScope("tenant")))
	_, err := s.c.GetInstance(s.ctx, "x")
	s.ErrorContains(err, `未注册作用域 "tenant"`)

	s.Require().NoError(s.c.RegisterScope("tenant", di.NewExternalScope("tenant")))
	tenant := di.NewAttributes("tenant")
	v, err := s.c.GetInstance(di.WithScopeContext(s.ctx, "tenant", tenant), "x")
	s.Require().NoError(err)
	s.NotNil(v)

	s.Error(s.c.RegisterScope(di.ScopeSingleton, di.NewExternalScope("x")))
}

func TestNewContainerWithCustomScope(t *testing.T) {
	c := di.NewContainer(di.WithCustomScope("tenant", di.NewExternalScope("tenant")))
	require.NoError(t, c.Provide("quota", func(ctx context.Context, args ...any) (any, error) {
		return &ServiceA{}, nil
	}, di.WithScope("tenant")))

	_, err := c.GetInstance(context.Background(), "quota")
	assert.True(t, di.IsScopeNotActive(err))

	acme := di.NewAttributes("tenant")
	ctx := di.WithScopeContext(context.Background(), "tenant", acme)
	first, err := c.GetInstance(ctx, "quota")
	require.NoError(t, err)
	second, err := c.GetInstance(ctx, "quota")
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestCreationChainVisibleToConstructors(t *testing.T) {
	c := di.NewContainer()
	var seen []string
	require.NoError(t, c.Provide("leaf", func(ctx context.Context, args ...any) (any, error) {
		seen = di.CreationChain(ctx)
		return &ServiceA{}, nil
	}))
	require.NoError(t, c.Provide("root", func(ctx context.Context, args ...any) (any, error) {
		return &ServiceB{}, nil
	}, di.WithRefs("leaf")))

	_, err := c.GetInstance(context.Background(), "root")
	require.NoError(t, err)
	assert.Equal(t, []string{"root", "leaf"}, seen)
	assert.Nil(t, di.CreationChain(context.Background()))
}

func TestWaiterHonoursContextCancellation(t *testing.T) {
	c := di.NewContainer()
	release := make(chan struct{})
	entered := make(chan struct{})
	require.NoError(t, c.Provide("slow", func(ctx context.Context, args ...any) (any, error) {
		close(entered)
		<-release
		return &ServiceA{}, nil
	}))

	go func() { _, _ = c.GetInstance(context.Background(), "slow") }()
	<-entered
	assert.True(t, c.IsCurrentlyInCreation(context.Background(), "slow"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.GetInstance(ctx, "slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	assert.Eventually(t, func() bool { return c.ContainsSingleton("slow") }, time.Second, 5*time.Millisecond)
}
