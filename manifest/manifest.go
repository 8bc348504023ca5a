package manifest

import (
	"fmt"
	"os"
	"strings"

	"github.com/gocrud/beans/di"
	"gopkg.in/yaml.v3"
)

// Manifest bean 清单文件
//
//	beans:
//	  - name: repo
//	    factory: newRepo
//	    dependsOn: [db, "cache?"]
//	    destroyMethod: Close
type Manifest struct {
	Beans []Bean `yaml:"beans" json:"beans"`
}

// Bean 一条定义。factory 指向 Catalog 中的构造函数；
// 设置 factoryBean 时 factory 指向 Catalog 中的工厂方法
type Bean struct {
	Name          string         `yaml:"name" json:"name"`
	Aliases       []string       `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Scope         string         `yaml:"scope,omitempty" json:"scope,omitempty"`
	Lazy          bool           `yaml:"lazy,omitempty" json:"lazy,omitempty"`
	DependsOn     []string       `yaml:"dependsOn,omitempty" json:"dependsOn,omitempty"` // 以 ? 结尾表示可选
	Factory       string         `yaml:"factory" json:"factory"`
	FactoryBean   string         `yaml:"factoryBean,omitempty" json:"factoryBean,omitempty"`
	InitMethod    string         `yaml:"initMethod,omitempty" json:"initMethod,omitempty"`
	DestroyMethod string         `yaml:"destroyMethod,omitempty" json:"destroyMethod,omitempty"`
	Attributes    map[string]any `yaml:"attributes,omitempty" json:"attributes,omitempty"`
}

// scope 返回作用域，缺省为 singleton
func (b *Bean) scope() string {
	if b.Scope == "" {
		return di.ScopeSingleton
	}
	return b.Scope
}

// eager 非懒加载的单例在启动时创建
func (b *Bean) eager() bool {
	return b.scope() == di.ScopeSingleton && !b.Lazy
}

// dependencies 解析 dependsOn
func (b *Bean) dependencies() []di.Dependency {
	deps := make([]di.Dependency, 0, len(b.DependsOn))
	for _, raw := range b.DependsOn {
		name, optional := strings.CutSuffix(strings.TrimSpace(raw), "?")
		dep := di.Ref(name)
		if optional {
			dep = di.Optional(dep)
		}
		deps = append(deps, dep)
	}
	return deps
}

// Parse 解析 YAML 清单
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: parse: %w", err)
	}
	return &m, nil
}

// LoadFile 读取并解析清单文件
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", err, path)
	}
	return m, nil
}

// Definitions 按清单顺序生成定义
func (m *Manifest) Definitions(catalog *Catalog) ([]*di.Definition, error) {
	defs := make([]*di.Definition, 0, len(m.Beans))
	for i := range m.Beans {
		def, err := m.Beans[i].definition(catalog)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (b *Bean) definition(catalog *Catalog) (*di.Definition, error) {
	var strategy di.Strategy
	if b.FactoryBean != "" {
		fn, ok := catalog.method(b.Factory)
		if !ok {
			return nil, &UnknownFactoryError{Bean: b.Name, Factory: b.Factory}
		}
		strategy = di.FactoryMethod(b.FactoryBean, fn)
	} else {
		fn, ok := catalog.constructor(b.Factory)
		if !ok {
			return nil, &UnknownFactoryError{Bean: b.Name, Factory: b.Factory}
		}
		strategy = di.Constructor(fn)
	}

	opts := []di.Option{
		di.WithScope(b.scope()),
		di.WithAliases(b.Aliases...),
		di.WithDependsOn(b.dependencies()...),
		di.WithInitMethod(b.InitMethod),
		di.WithDestroyMethod(b.DestroyMethod),
		di.WithAttribute("manifest.factory", b.Factory),
	}
	if b.Lazy {
		opts = append(opts, di.WithLazy())
	}
	for k, v := range b.Attributes {
		opts = append(opts, di.WithAttribute(k, v))
	}
	if t, ok := catalog.typeOf(b.Factory); ok {
		opts = append(opts, di.WithType(t))
	}
	return di.NewDefinition(b.Name, strategy, opts...), nil
}

// Apply 注册清单中的全部定义，遇到第一个错误即停止
func Apply(c *di.Container, m *Manifest, catalog *Catalog) error {
	defs, err := m.Definitions(catalog)
	if err != nil {
		return err
	}
	for _, def := range defs {
		if err := c.Register(def); err != nil {
			return fmt.Errorf("manifest: register %q: %w", def.Name, err)
		}
	}
	return nil
}
