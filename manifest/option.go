package manifest

import (
	"fmt"

	"github.com/gocrud/beans/core"
	"github.com/gocrud/beans/logging"
)

// Load 读取清单文件，校验后注册到运行时的容器
func Load(path string, catalog *Catalog) core.Option {
	return func(rt *core.Runtime) error {
		m, err := LoadFile(path)
		if err != nil {
			return err
		}
		report, err := Validate(m, catalog)
		if err != nil {
			return fmt.Errorf("manifest: %s: %w", path, err)
		}
		if err := Apply(rt.Container, m, catalog); err != nil {
			return err
		}
		rt.Logger.Info("manifest loaded",
			logging.Field{Key: "path", Value: path},
			logging.Field{Key: "beans", Value: len(m.Beans)},
			logging.Field{Key: "eager", Value: len(report.Creation)})
		return nil
	}
}
