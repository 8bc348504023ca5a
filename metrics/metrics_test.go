package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gocrud/beans/config"
	"github.com/gocrud/beans/core"
	"github.com/gocrud/beans/di"
	"github.com/gocrud/beans/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_CountsContainerEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewCollector(reg)
	require.NoError(t, err)

	c := di.NewContainer(di.WithListener(collector))
	require.NoError(t, c.Provide("ok", func(ctx context.Context, args ...any) (any, error) {
		return &struct{ n int }{}, nil
	}))
	require.NoError(t, c.Provide("proto", func(ctx context.Context, args ...any) (any, error) {
		return &struct{ n int }{}, nil
	}, di.WithPrototype()))
	require.NoError(t, c.Provide("broken", func(ctx context.Context, args ...any) (any, error) {
		return nil, errors.New("no database")
	}))

	ctx := context.Background()
	_, err = c.GetInstance(ctx, "ok")
	require.NoError(t, err)
	for range 3 {
		_, err = c.GetInstance(ctx, "proto")
		require.NoError(t, err)
	}
	_, err = c.GetInstance(ctx, "broken")
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.created.WithLabelValues(di.ScopeSingleton)))
	assert.Equal(t, 3.0, testutil.ToFloat64(collector.created.WithLabelValues(di.ScopePrototype)))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.failed.WithLabelValues(di.ScopeSingleton)))
	assert.Equal(t, 2, testutil.CollectAndCount(collector.duration))

	attrs := di.NewAttributes(di.ScopeRequest)
	require.NoError(t, c.CompleteScope(attrs))
	assert.Error(t, c.CompleteScope(attrs))
	require.NoError(t, c.Stop(ctx))

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.disposals.WithLabelValues(di.ScopeRequest, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.disposals.WithLabelValues(di.ScopeRequest, "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.disposals.WithLabelValues(di.ScopeSingleton, "ok")))

	count, err := testutil.GatherAndCount(reg, "beans_instances_created_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestNewCollector_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewCollector(reg)
	require.NoError(t, err)
	_, err = NewCollector(reg)
	assert.Error(t, err)

	_, err = NewCollector(nil)
	assert.NoError(t, err)
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewCollector(reg)
	require.NoError(t, err)
	collector.OnInstanceCreated(di.InstanceEvent{Name: "x", Scope: "singleton", Duration: time.Millisecond})

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `beans_instances_created_total{scope="singleton"} 1`)
}

func TestNew_ServesMetricsThroughWeb(t *testing.T) {
	cfg, err := config.NewConfigurationBuilder().AddInMemory(map[string]any{
		"logging": map[string]any{"level": "fatal"},
		"web":     map[string]any{"addr": "127.0.0.1:0", "mode": "test"},
		"metrics": map[string]any{"path": "/internal/metrics", "runtime": false},
	}).Build()
	require.NoError(t, err)
	rt, err := core.NewRuntime(cfg)
	require.NoError(t, err)
	require.NoError(t, rt.Apply(New(), web.New(web.WithControllers(ControllerBean))))
	require.NoError(t, rt.Provide("service", func(ctx context.Context, args ...any) (any, error) {
		return &struct{ n int }{}, nil
	}))

	ctx := context.Background()
	require.NoError(t, rt.Start(ctx))
	defer rt.Stop(ctx)

	host, err := di.ResolveType[*web.Host](ctx, rt.Container)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return host.Address() != "" }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + host.Address() + "/internal/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `beans_instances_created_total{scope="singleton"}`)
	assert.NotContains(t, string(body), "go_goroutines")
}
