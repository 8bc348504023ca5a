package beans

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/gocrud/beans/config"
	"github.com/gocrud/beans/core"
	"github.com/gocrud/beans/di"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pool struct{ closed bool }

func (p *pool) Destroy() error {
	p.closed = true
	return nil
}

func TestServeStopsWhenRuntimeRequestsShutdown(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "beans.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: error\ncontainer:\n  allowOverriding: true\n"), 0o600))

	p := &pool{}
	rt, err := New(DefaultConfiguration("").AddYamlFile(path), core.WithBeans(func(c *di.Container) error {
		return c.Provide("pool", func(ctx context.Context, args ...any) (any, error) { return p, nil })
	}))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- Serve(context.Background(), rt) }()

	// 等待单例创建后请求退出
	require.Eventually(t, func() bool { return rt.Container.ContainsSingleton("pool") }, time.Second, 10*time.Millisecond)
	rt.Shutdown()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	assert.True(t, p.closed)
}

func TestServeReturnsStartError(t *testing.T) {
	rt, err := New(DefaultConfiguration("test"), core.WithBeans(func(c *di.Container) error {
		return c.Provide("broken", func(ctx context.Context, args ...any) (any, error) {
			return nil, assert.AnError
		})
	}))
	require.NoError(t, err)
	assert.ErrorIs(t, Serve(context.Background(), rt), assert.AnError)
}

func TestReloadOnSignal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "beans.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: error\n"), 0o600))

	rt, err := New(config.NewConfigurationBuilder().AddYamlFile(path))
	require.NoError(t, err)
	cfg := rt.Configuration.(config.ReloadableConfiguration)
	before := cfg.Version()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signals := make(chan os.Signal, 1)
	go reloadOn(ctx, rt, signals)

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o600))
	signals <- syscall.SIGHUP
	require.Eventually(t, func() bool { return cfg.Version() > before }, time.Second, 10*time.Millisecond)
	assert.Equal(t, "debug", cfg.Get("logging:level"))
}
