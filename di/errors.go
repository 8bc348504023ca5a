package di

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

// NoSuchDefinitionError 按名称（别名解析后）找不到定义。
type NoSuchDefinitionError struct {
	Name string
}

func (e *NoSuchDefinitionError) Error() string {
	return fmt.Sprintf("di: 未找到定义 %q", e.Name)
}

// DuplicateDefinitionError 名称已注册且不允许覆盖。
type DuplicateDefinitionError struct {
	Name string
}

func (e *DuplicateDefinitionError) Error() string {
	return fmt.Sprintf("di: 定义 %q 已注册且不允许覆盖", e.Name)
}

// DefinitionInUseError 定义对应的单例已创建（或正在创建），不能替换或删除。
// 需要先调用 Container.DestroySingleton。
type DefinitionInUseError struct {
	Name string
}

func (e *DefinitionInUseError) Error() string {
	return fmt.Sprintf("di: 定义 %q 的单例仍然存在，替换或删除前需先销毁", e.Name)
}

// AliasCycleError 别名解析形成环。
type AliasCycleError struct {
	Chain []string
}

func (e *AliasCycleError) Error() string {
	return fmt.Sprintf("di: 别名形成环: %s", strings.Join(e.Chain, " -> "))
}

// CircularDependencyError 构造过程中再次请求了正在创建的名称。
// Chain 以重复出现的名称结尾，例如 [X Y X]。
type CircularDependencyError struct {
	Chain []string
}

func (e *CircularDependencyError) Error() string {
	if len(e.Chain) == 0 {
		return "di: 检测到循环依赖"
	}
	return fmt.Sprintf("di: 检测到循环依赖: %s", strings.Join(e.Chain, " -> "))
}

// ScopeNotActiveError 外部作用域当前没有可用的上下文（例如不在请求中）。
type ScopeNotActiveError struct {
	Scope string
	Name  string
}

func (e *ScopeNotActiveError) Error() string {
	return fmt.Sprintf("di: 作用域 %q 未激活，无法获取 %q", e.Scope, e.Name)
}

// ConstructionFailedError 包装构造函数、工厂或后置处理器返回的错误。
type ConstructionFailedError struct {
	Name  string
	Cause error
}

func (e *ConstructionFailedError) Error() string {
	return fmt.Sprintf("di: 构造 %q 失败: %v", e.Name, e.Cause)
}

func (e *ConstructionFailedError) Unwrap() error {
	return e.Cause
}

// ScopeAlreadyDisposedError 作用域销毁后再次登记销毁动作。
type ScopeAlreadyDisposedError struct {
	Scope string
}

func (e *ScopeAlreadyDisposedError) Error() string {
	return fmt.Sprintf("di: 作用域 %q 已销毁", e.Scope)
}

// DisposalError 汇总一次作用域销毁中的全部失败。
type DisposalError struct {
	Scope string
	Err   error // multierr 组合
}

func (e *DisposalError) Error() string {
	errs := multierr.Errors(e.Err)
	var b strings.Builder
	fmt.Fprintf(&b, "di: 销毁作用域 %q 时 %d 个销毁动作失败", e.Scope, len(errs))
	for _, err := range errs {
		b.WriteString("; ")
		b.WriteString(err.Error())
	}
	return b.String()
}

func (e *DisposalError) Unwrap() []error {
	return multierr.Errors(e.Err)
}

// DestroyActionError 单个销毁动作失败。
type DestroyActionError struct {
	Name  string
	Cause error
}

func (e *DestroyActionError) Error() string {
	return fmt.Sprintf("销毁 %q: %v", e.Name, e.Cause)
}

func (e *DestroyActionError) Unwrap() error {
	return e.Cause
}

// IsNoSuchDefinition 判断错误链中是否包含 NoSuchDefinitionError。
func IsNoSuchDefinition(err error) bool {
	var target *NoSuchDefinitionError
	return errors.As(err, &target)
}

// IsCircularDependency 判断错误链中是否包含 CircularDependencyError。
func IsCircularDependency(err error) bool {
	var target *CircularDependencyError
	return errors.As(err, &target)
}

// IsScopeNotActive 判断错误链中是否包含 ScopeNotActiveError。
func IsScopeNotActive(err error) bool {
	var target *ScopeNotActiveError
	return errors.As(err, &target)
}

// wrapConstruction 保证返回的错误是 ConstructionFailedError，
// 已经包装过的同名错误不再重复包装。
func wrapConstruction(name string, err error) error {
	if err == nil {
		return nil
	}
	var cf *ConstructionFailedError
	if errors.As(err, &cf) && cf.Name == name {
		return err
	}
	return &ConstructionFailedError{Name: name, Cause: err}
}

// panicError 把构造或销毁过程中的 panic 转成错误。
type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

// AmbiguousDependencyError 按类型查找匹配到多个定义。
type AmbiguousDependencyError struct {
	Type       string
	Candidates []string
}

func (e *AmbiguousDependencyError) Error() string {
	return fmt.Sprintf("di: 类型 %[2]s 匹配到 %[1]d 个定义: %[3]s", len(e.Candidates), e.Type, strings.Join(e.Candidates, ", "))
}
