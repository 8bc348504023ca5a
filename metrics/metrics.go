// Package metrics 将容器事件导出为 Prometheus 指标。
//
// 接入方式：
//
//	beans.Run(
//	    metrics.New(),
//	    web.New(web.WithControllers(metrics.ControllerBean)),
//	)
//
// 然后由 Prometheus 抓取 http://localhost:8080/metrics。
package metrics

import (
	"net/http"

	"github.com/gocrud/beans/di"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "beans"

// Collector 实现 di.Listener，统计构造与作用域销毁
type Collector struct {
	created   *prometheus.CounterVec
	failed    *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	disposals *prometheus.CounterVec
}

var _ di.Listener = (*Collector)(nil)

// NewCollector 创建指标并注册到 reg，reg 为空时只创建不注册
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instances_created_total",
			Help:      "Total number of managed objects constructed.",
		}, []string{"scope"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instances_failed_total",
			Help:      "Total number of failed constructions.",
		}, []string{"scope"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "construction_duration_seconds",
			Help:      "Duration of managed object construction in seconds.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"scope"}),
		disposals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scope_disposals_total",
			Help:      "Total number of scope disposals by result.",
		}, []string{"scope", "result"}),
	}
	if reg != nil {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Describe 实现 prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.created.Describe(ch)
	c.failed.Describe(ch)
	c.duration.Describe(ch)
	c.disposals.Describe(ch)
}

// Collect 实现 prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.created.Collect(ch)
	c.failed.Collect(ch)
	c.duration.Collect(ch)
	c.disposals.Collect(ch)
}

func (c *Collector) OnInstanceCreated(e di.InstanceEvent) {
	c.created.WithLabelValues(e.Scope).Inc()
	c.duration.WithLabelValues(e.Scope).Observe(e.Duration.Seconds())
}

func (c *Collector) OnInstanceFailed(e di.InstanceEvent) {
	c.failed.WithLabelValues(e.Scope).Inc()
	c.duration.WithLabelValues(e.Scope).Observe(e.Duration.Seconds())
}

func (c *Collector) OnScopeDisposed(e di.DisposalEvent) {
	result := "ok"
	if e.Err != nil {
		result = "error"
	}
	c.disposals.WithLabelValues(e.Scope, result).Inc()
}

// Handler 暴露 g 中的指标
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
