// Package metrics 把客户端和对象缓存的运行情况导出为 Prometheus 指标
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhubarbgroup/redis-cache-sub002/lib/errs"
)

// 命令耗时分桶（秒）
var latencyBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// Collector 使用自己的 Registry，可以在同一进程中创建多个而不冲突
// 同时实现 redis.Observer 和 cache.Observer
type Collector struct {
	registry *prometheus.Registry

	commands         *prometheus.CounterVec
	latency          *prometheus.HistogramVec
	lookups          *prometheus.CounterVec
	connectionErrors prometheus.Counter
}

// NewCollector 创建指标，namespace 为空时使用 redis_cache
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "redis_cache"
	}
	c := &Collector{registry: prometheus.NewRegistry()}

	c.commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands sent to redis by command name and result kind",
		},
		[]string{"command", "result"},
	)
	c.registry.MustRegister(c.commands)

	c.latency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Round trip time of redis commands, pipelines are reported as a whole",
			Buckets:   latencyBuckets,
		},
		[]string{"command"},
	)
	c.registry.MustRegister(c.latency)

	c.lookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Object cache lookups by result",
		},
		[]string{"result"},
	)
	c.registry.MustRegister(c.lookups)

	c.connectionErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connection_errors_total",
		Help:      "Commands that failed because no usable connection could be established",
	})
	c.registry.MustRegister(c.connectionErrors)

	for _, result := range []string{"hit", "miss"} {
		c.lookups.WithLabelValues(result).Add(0)
	}
	return c
}

// Registry 指标所在的 Registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveCommand 记录一条命令的结果和耗时
func (c *Collector) ObserveCommand(name string, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		kind := errs.KindOf(err)
		result = kind.String()
		if kind == errs.KindConnection {
			c.connectionErrors.Inc()
		}
	}
	c.commands.WithLabelValues(name, result).Inc()
	c.latency.WithLabelValues(name).Observe(elapsed.Seconds())
}

// ObserveLookup 记录一次缓存读取是否命中
func (c *Collector) ObserveLookup(hit bool) {
	if hit {
		c.lookups.WithLabelValues("hit").Inc()
	} else {
		c.lookups.WithLabelValues("miss").Inc()
	}
}

// Handler 以 Prometheus 文本格式输出指标
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
