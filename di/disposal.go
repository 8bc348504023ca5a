package di

import (
	"sync"

	"go.uber.org/multierr"
)

type disposalEntry struct {
	name   string
	action DestroyFunc
}

type disposalList struct {
	entries  []disposalEntry
	disposed bool
}

// DisposalTracker 按作用域记录销毁动作，销毁时按创建顺序的逆序执行。
type DisposalTracker struct {
	mu     sync.Mutex
	scopes map[string]*disposalList
}

// NewDisposalTracker 创建销毁跟踪器。
func NewDisposalTracker() *DisposalTracker {
	return &DisposalTracker{
		scopes: make(map[string]*disposalList),
	}
}

func (t *DisposalTracker) listLocked(scope string) *disposalList {
	l, ok := t.scopes[scope]
	if !ok {
		l = &disposalList{}
		t.scopes[scope] = l
	}
	return l
}

// Track 追加销毁动作。作用域已销毁时返回 ScopeAlreadyDisposedError。
func (t *DisposalTracker) Track(scope, name string, action DestroyFunc) error {
	if action == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	l := t.listLocked(scope)
	if l.disposed {
		return &ScopeAlreadyDisposedError{Scope: scope}
	}
	l.entries = append(l.entries, disposalEntry{name: name, action: action})
	return nil
}

// Untrack 移除 name 最近一次登记的销毁动作并返回它，不执行。
func (t *DisposalTracker) Untrack(scope, name string) (DestroyFunc, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.scopes[scope]
	if !ok {
		return nil, false
	}
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].name == name {
			action := l.entries[i].action
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return action, true
		}
	}
	return nil, false
}

// Len 返回作用域内尚未执行的销毁动作数量。
func (t *DisposalTracker) Len(scope string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok := t.scopes[scope]; ok {
		return len(l.entries)
	}
	return 0
}

// IsDisposed 作用域是否已经销毁。
func (t *DisposalTracker) IsDisposed(scope string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.scopes[scope]
	return ok && l.disposed
}

// DisposeScope 逆序执行作用域内的全部销毁动作。
// 单个动作失败（包括 panic）不影响其余动作，最后汇总为 DisposalError。
// 重复调用返回 ScopeAlreadyDisposedError。
func (t *DisposalTracker) DisposeScope(scope string) error {
	t.mu.Lock()
	l := t.listLocked(scope)
	if l.disposed {
		t.mu.Unlock()
		return &ScopeAlreadyDisposedError{Scope: scope}
	}
	l.disposed = true
	entries := l.entries
	l.entries = nil
	t.mu.Unlock()

	var errs error
	for i := len(entries) - 1; i >= 0; i-- {
		if err := runDestroy(entries[i].action); err != nil {
			errs = multierr.Append(errs, &DestroyActionError{Name: entries[i].name, Cause: err})
		}
	}
	if errs != nil {
		return &DisposalError{Scope: scope, Err: errs}
	}
	return nil
}

// Reset 清除作用域的已销毁标记，容器重新启动时使用。
func (t *DisposalTracker) Reset(scope string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.scopes, scope)
}

func runDestroy(action DestroyFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return action()
}
