package di

import (
	"context"
	"sync"
)

// singletonEntry 是一次进行中的单例构造，done 关闭后 instance/err 可读。
type singletonEntry struct {
	name     string
	owner    *flight
	done     chan struct{}
	instance any
	err      error
}

// singletonScope 进程级缓存，保证同一名称同时最多只有一次构造。
//
// 等待同名构造的调用方阻塞在 entry.done 上并拿到同一个结果。
// 阻塞前沿等待图（owner -> waitingOn -> owner ...）检查是否会绕回自己，
// 两个 goroutine 交叉构造互相依赖的单例时直接返回 CircularDependencyError。
// 失败的构造不缓存，之后的调用会重新尝试。
type singletonScope struct {
	mu        sync.Mutex
	instances map[string]any
	inflight  map[string]*singletonEntry
	tracker   *DisposalTracker
}

func newSingletonScope(tracker *DisposalTracker) *singletonScope {
	return &singletonScope{
		instances: make(map[string]any),
		inflight:  make(map[string]*singletonEntry),
		tracker:   tracker,
	}
}

func (s *singletonScope) Get(ctx context.Context, name string, create CreateFunc) (any, error) {
	ctx, res := beginResolution(ctx)
	me := res.flight

	s.mu.Lock()
	for {
		// 快速路径
		if v, ok := s.instances[name]; ok {
			s.mu.Unlock()
			return v, nil
		}
		e, ok := s.inflight[name]
		if !ok {
			break
		}
		if e.owner != me {
			if chain := s.waitCycleLocked(me, e); chain != nil {
				s.mu.Unlock()
				return nil, &CircularDependencyError{Chain: append(res.cycle(name), chain...)}
			}
		}

		me.waitingOn = e
		s.mu.Unlock()
		select {
		case <-e.done:
		case <-ctx.Done():
			s.mu.Lock()
			me.waitingOn = nil
			s.mu.Unlock()
			return nil, ctx.Err()
		}
		s.mu.Lock()
		me.waitingOn = nil
		if e.err != nil {
			s.mu.Unlock()
			return nil, e.err
		}
		if e.instance != nil {
			v := e.instance
			s.mu.Unlock()
			return v, nil
		}
	}

	e := &singletonEntry{name: name, owner: me, done: make(chan struct{})}
	s.inflight[name] = e
	s.mu.Unlock()

	return s.construct(ctx, e, create)
}

func (s *singletonScope) construct(ctx context.Context, e *singletonEntry, create CreateFunc) (instance any, err error) {
	// 构造 panic 时也要释放 entry，否则等待者永远阻塞
	defer func() {
		if r := recover(); r != nil {
			instance, err = nil, &panicError{value: r}
		}
		s.mu.Lock()
		delete(s.inflight, e.name)
		if err == nil {
			s.instances[e.name] = instance
		}
		e.instance, e.err = instance, err
		close(e.done)
		s.mu.Unlock()
	}()
	return create(ctx)
}

// waitCycleLocked 从 e 的 owner 出发沿等待图前进，绕回 me 时返回经过的名称。
func (s *singletonScope) waitCycleLocked(me *flight, e *singletonEntry) []string {
	var names []string
	seen := make(map[*flight]bool)
	cur := e.owner
	for cur != nil && !seen[cur] {
		seen[cur] = true
		w := cur.waitingOn
		if w == nil {
			return nil
		}
		names = append(names, w.name)
		if w.owner == me {
			return names
		}
		cur = w.owner
	}
	return nil
}

func (s *singletonScope) RegisterDestructionCallback(ctx context.Context, name string, callback DestroyFunc) error {
	return s.tracker.Track(ScopeSingleton, name, callback)
}

// Remove 移除已创建的单例并执行其销毁动作；正在构造时返回 DefinitionInUseError。
func (s *singletonScope) Remove(ctx context.Context, name string) error {
	s.mu.Lock()
	if _, ok := s.inflight[name]; ok {
		s.mu.Unlock()
		return &DefinitionInUseError{Name: name}
	}
	_, ok := s.instances[name]
	delete(s.instances, name)
	s.mu.Unlock()
	if !ok {
		return nil
	}

	if action, tracked := s.tracker.Untrack(ScopeSingleton, name); tracked {
		if err := runDestroy(action); err != nil {
			return &DestroyActionError{Name: name, Cause: err}
		}
	}
	return nil
}

// inUse 供注册表在替换/删除定义前检查。
func (s *singletonScope) inUse(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[name]; ok {
		return &DefinitionInUseError{Name: name}
	}
	if _, ok := s.inflight[name]; ok {
		return &DefinitionInUseError{Name: name}
	}
	return nil
}

func (s *singletonScope) isInCreation(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inflight[name]
	return ok
}

func (s *singletonScope) contains(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.instances[name]
	return ok
}

// put 直接放入已构建的实例。
func (s *singletonScope) put(name string, instance any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[name]; ok {
		return &DefinitionInUseError{Name: name}
	}
	if _, ok := s.inflight[name]; ok {
		return &DefinitionInUseError{Name: name}
	}
	s.instances[name] = instance
	return nil
}

// dispose 逆序销毁全部单例并清空缓存。
func (s *singletonScope) dispose() error {
	err := s.tracker.DisposeScope(ScopeSingleton)
	s.mu.Lock()
	s.instances = make(map[string]any)
	s.mu.Unlock()
	return err
}
