package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	clientv3 "go.etcd.io/etcd/client/v3"
	"gopkg.in/yaml.v3"
)

// FileSource 从 JSON 或 YAML 文件读取配置，Format 为空时按扩展名判断
type FileSource struct {
	Path     string
	Format   string // json | yaml
	Optional bool
}

func (s *FileSource) Name() string {
	return fmt.Sprintf("File(%s)", s.Path)
}

func (s *FileSource) Load() (map[string]any, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if s.Optional && errors.Is(err, fs.ErrNotExist) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	result := map[string]any{}
	switch format := s.format(); format {
	case "json":
		err = json.Unmarshal(data, &result)
	case "yaml":
		err = yaml.Unmarshal(data, &result)
	default:
		return nil, fmt.Errorf("config: %s: unsupported format %q", s.Path, format)
	}
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", s.Path, err)
	}
	if result == nil {
		result = map[string]any{}
	}
	return result, nil
}

func (s *FileSource) format() string {
	if s.Format != "" {
		return strings.ToLower(s.Format)
	}
	switch strings.ToLower(filepath.Ext(s.Path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

// DotEnvSource 读取 .env 文件，键的转换规则与 EnvironmentVariableSource 相同
type DotEnvSource struct {
	Prefix   string
	Paths    []string // 为空时读取当前目录下的 .env
	Optional bool
}

func (s *DotEnvSource) Name() string {
	return fmt.Sprintf("DotEnv(%s)", strings.Join(s.Paths, ","))
}

func (s *DotEnvSource) Load() (map[string]any, error) {
	paths := s.Paths
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	vars := map[string]string{}
	for _, path := range paths {
		values, err := godotenv.Read(path)
		if err != nil {
			if s.Optional && errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		maps.Copy(vars, values)
	}
	return fromEnv(s.Prefix, vars), nil
}

// EnvironmentVariableSource 读取带前缀的环境变量
type EnvironmentVariableSource struct {
	Prefix string
}

func (s *EnvironmentVariableSource) Name() string {
	return fmt.Sprintf("EnvironmentVariables(%s)", s.Prefix)
}

func (s *EnvironmentVariableSource) Load() (map[string]any, error) {
	vars := map[string]string{}
	for _, env := range os.Environ() {
		if key, value, ok := strings.Cut(env, "="); ok {
			vars[key] = value
		}
	}
	return fromEnv(s.Prefix, vars), nil
}

// fromEnv 去掉前缀后按 _ 分层：BEANS_CONTAINER_ALLOWOVERRIDING -> container.allowoverriding
// 键在合并时大小写不敏感，所以小写不影响覆盖驼峰键
func fromEnv(prefix string, vars map[string]string) map[string]any {
	result := map[string]any{}
	for key, value := range vars {
		rest, ok := strings.CutPrefix(key, prefix)
		if !ok {
			continue
		}
		rest = strings.Trim(strings.ToLower(rest), "_")
		if rest == "" {
			continue
		}
		putPath(result, strings.Split(rest, "_"), scalar(value))
	}
	return result
}

// InMemorySource 内存配置源，Load 返回副本
type InMemorySource struct {
	Data map[string]any
}

func (s *InMemorySource) Name() string {
	return "InMemory"
}

func (s *InMemorySource) Load() (map[string]any, error) {
	result := map[string]any{}
	mergeMaps(result, s.Data)
	return result, nil
}

// putPath 沿 segments 建立嵌套 map 后写入 value，中途遇到非 map 值时放弃
func putPath(data map[string]any, segments []string, value any) {
	last := len(segments) - 1
	for _, seg := range segments[:last] {
		next, exists := data[seg]
		if !exists {
			next = map[string]any{}
			data[seg] = next
		}
		m, ok := next.(map[string]any)
		if !ok {
			return
		}
		data = m
	}
	data[segments[last]] = value
}

// scalar 把字符串还原为 int、float 或 bool，其余保持原样
func scalar(s string) any {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

// EtcdOptions etcd 配置源选项
type EtcdOptions struct {
	Endpoints   []string
	Username    string
	Password    string
	Prefix      string        // 只读取该前缀下的键
	Timeout     time.Duration // 读取超时，默认 5s
	DialTimeout time.Duration // 默认 5s
}

// EtcdSource 把前缀下的键按 / 分层读成配置树
type EtcdSource struct {
	Options EtcdOptions

	// kv 测试时可替换
	kv clientv3.KV
}

func (s *EtcdSource) Name() string {
	return fmt.Sprintf("Etcd(%v)", s.Options.Endpoints)
}

func (s *EtcdSource) Load() (map[string]any, error) {
	kv := s.kv
	if kv == nil {
		cli, err := clientv3.New(clientv3.Config{
			Endpoints:   s.Options.Endpoints,
			Username:    s.Options.Username,
			Password:    s.Options.Password,
			DialTimeout: orDefault(s.Options.DialTimeout, 5*time.Second),
		})
		if err != nil {
			return nil, fmt.Errorf("config: etcd client: %w", err)
		}
		defer cli.Close()
		kv = cli
	}

	ctx, cancel := context.WithTimeout(context.Background(), orDefault(s.Options.Timeout, 5*time.Second))
	defer cancel()

	prefix := s.Options.Prefix
	if prefix == "" {
		prefix = "/"
	}
	resp, err := kv.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("config: etcd get %s: %w", prefix, err)
	}

	result := map[string]any{}
	for _, item := range resp.Kvs {
		key := strings.Trim(strings.TrimPrefix(string(item.Key), s.Options.Prefix), "/")
		if key == "" {
			continue
		}
		putPath(result, strings.Split(key, "/"), decodeEtcdValue(item.Value))
	}
	return result, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// decodeEtcdValue 依次尝试 JSON、YAML，都失败时按字符串处理
func decodeEtcdValue(raw []byte) any {
	var v any
	if err := json.Unmarshal(raw, &v); err == nil {
		return v
	}
	if err := yaml.Unmarshal(raw, &v); err == nil && v != nil {
		return v
	}
	return string(raw)
}
