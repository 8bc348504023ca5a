package config

import (
	"strings"
	"sync"
	"sync/atomic"
)

// snapshot 一次加载后合并得到的配置，发布后不再修改
type snapshot struct {
	data    map[string]any
	version uint64
}

// store 持有当前快照，读取无锁，重载时整体替换
type store struct {
	current atomic.Pointer[snapshot]
}

func newStore(data map[string]any) *store {
	s := &store{}
	s.current.Store(&snapshot{data: data})
	return s
}

func (s *store) load() *snapshot {
	return s.current.Load()
}

// replace 发布新快照并返回其版本号
func (s *store) replace(data map[string]any) uint64 {
	for {
		old := s.current.Load()
		next := &snapshot{data: data, version: old.version + 1}
		if s.current.CompareAndSwap(old, next) {
			return next.version
		}
	}
}

// segmentCache 缓存路径拆分结果
var segmentCache sync.Map

// splitPath 按 ":" 或 "." 拆分路径，忽略空段
func splitPath(path string) []string {
	if v, ok := segmentCache.Load(path); ok {
		return v.([]string)
	}
	parts := strings.FieldsFunc(path, func(r rune) bool { return r == ':' || r == '.' })
	segmentCache.Store(path, parts)
	return parts
}

// lookup 按路径查找值。键名先精确匹配，再忽略大小写匹配，
// 这样小写的环境变量键也能覆盖到驼峰写法的文件配置
func lookup(data map[string]any, path string) any {
	var current any = data
	for _, part := range splitPath(path) {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		if current, ok = childOf(m, part); !ok {
			return nil
		}
	}
	return current
}

func childOf(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}
