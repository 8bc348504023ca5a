package manifest

import (
	"fmt"
	"slices"

	"github.com/gocrud/beans/di"
	"go.uber.org/multierr"
)

// UnknownFactoryError 清单引用了 Catalog 中不存在的工厂
type UnknownFactoryError struct {
	Bean    string
	Factory string
}

func (e *UnknownFactoryError) Error() string {
	return fmt.Sprintf("manifest: bean %q references unknown factory %q", e.Bean, e.Factory)
}

// UnknownReferenceError 依赖或工厂 bean 不存在
type UnknownReferenceError struct {
	Bean string
	Ref  string
}

func (e *UnknownReferenceError) Error() string {
	return fmt.Sprintf("manifest: bean %q depends on unknown bean %q", e.Bean, e.Ref)
}

// Report 静态检查结果
type Report struct {
	// Creation 启动时单例的创建顺序（依赖在前）
	Creation []string
	// Teardown 关闭时单例的销毁顺序，即 Creation 的逆序
	Teardown []string
	// Lazy 启动时不创建的单例
	Lazy []string
}

// Validate 检查重复名称、别名冲突、未知引用和静态循环依赖
// catalog 为空时跳过工厂检查。全部问题合并在返回的错误中
func Validate(m *Manifest, catalog *Catalog) (*Report, error) {
	var errs error

	beans := make(map[string]*Bean, len(m.Beans))
	aliases := make(map[string]string)
	for i := range m.Beans {
		b := &m.Beans[i]
		if b.Name == "" {
			errs = multierr.Append(errs, fmt.Errorf("manifest: bean #%d has no name", i+1))
			continue
		}
		if _, dup := beans[b.Name]; dup {
			errs = multierr.Append(errs, &di.DuplicateDefinitionError{Name: b.Name})
			continue
		}
		beans[b.Name] = b
		if catalog != nil && !catalog.Has(b.Factory) {
			errs = multierr.Append(errs, &UnknownFactoryError{Bean: b.Name, Factory: b.Factory})
		}
	}
	for i := range m.Beans {
		b := &m.Beans[i]
		for _, alias := range b.Aliases {
			if _, clash := beans[alias]; clash {
				errs = multierr.Append(errs, fmt.Errorf("manifest: alias %q of %q shadows a bean", alias, b.Name))
				continue
			}
			if other, taken := aliases[alias]; taken && other != b.Name {
				errs = multierr.Append(errs, fmt.Errorf("manifest: alias %q used by %q and %q", alias, other, b.Name))
				continue
			}
			aliases[alias] = b.Name
		}
	}

	canonical := func(name string) (string, bool) {
		if _, ok := beans[name]; ok {
			return name, true
		}
		target, ok := aliases[name]
		return target, ok
	}

	// 依赖边：dependsOn 与 factoryBean
	edges := make(map[string][]string, len(beans))
	for i := range m.Beans {
		b := &m.Beans[i]
		if beans[b.Name] != b {
			continue
		}
		refs := b.dependencies()
		if b.FactoryBean != "" {
			refs = append(refs, di.Ref(b.FactoryBean))
		}
		for _, dep := range refs {
			target, ok := canonical(dep.Name)
			if !ok {
				if !dep.Optional {
					errs = multierr.Append(errs, &UnknownReferenceError{Bean: b.Name, Ref: dep.Name})
				}
				continue
			}
			edges[b.Name] = append(edges[b.Name], target)
		}
	}

	g := &graph{edges: edges, state: make(map[string]visitState)}
	for i := range m.Beans {
		if err := g.visit(m.Beans[i].Name, nil); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	report := &Report{}
	created := make(map[string]bool)
	var create func(name string)
	create = func(name string) {
		if created[name] {
			return
		}
		created[name] = true
		for _, dep := range edges[name] {
			create(dep)
		}
		if b := beans[name]; b != nil && b.scope() == di.ScopeSingleton {
			report.Creation = append(report.Creation, name)
		}
	}
	if errs == nil {
		for i := range m.Beans {
			if b := &m.Beans[i]; b.eager() {
				create(b.Name)
			}
		}
	}
	for i := range m.Beans {
		b := &m.Beans[i]
		if b.scope() == di.ScopeSingleton && !slices.Contains(report.Creation, b.Name) {
			report.Lazy = append(report.Lazy, b.Name)
		}
	}
	report.Teardown = slices.Clone(report.Creation)
	slices.Reverse(report.Teardown)
	return report, errs
}

type visitState int

const (
	unvisited visitState = iota
	visiting
	done
)

// graph 基于 DFS 的循环检测
type graph struct {
	edges map[string][]string
	state map[string]visitState
}

func (g *graph) visit(name string, path []string) error {
	switch g.state[name] {
	case done:
		return nil
	case visiting:
		start := slices.Index(path, name)
		chain := append(slices.Clone(path[start:]), name)
		return &di.CircularDependencyError{Chain: chain}
	}

	g.state[name] = visiting
	path = append(path, name)
	var errs error
	for _, dep := range g.edges[name] {
		errs = multierr.Append(errs, g.visit(dep, path))
	}
	g.state[name] = done
	return errs
}
