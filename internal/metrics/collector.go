package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	limiterTokensDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "limiter", "tokens"),
		"Tokens currently available in the bucket",
		[]string{"limiter"}, nil)
	limiterMaxTokensDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "limiter", "max_tokens"),
		"Bucket capacity",
		[]string{"limiter"}, nil)
	limiterQueueDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "limiter", "queue_length"),
		"Callers waiting for a token",
		[]string{"limiter"}, nil)
	limiterRequestsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "limiter", "requests_total"),
		"Calls submitted to the limiter",
		[]string{"limiter"}, nil)
	limiterHitsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "limiter", "rate_limit_hits_total"),
		"Calls that had to queue",
		[]string{"limiter"}, nil)
	limiterAvgWaitDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "limiter", "average_wait_seconds"),
		"Average queue wait of settled callers",
		[]string{"limiter"}, nil)

	breakerActivationsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "breaker", "activations_since_reset"),
		"Activations recorded since start or last reset",
		nil, nil)
	breakerTradesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "breaker", "trades_today"),
		"Executed trades today per agent",
		[]string{"agent"}, nil)

	lockHeldDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "lock", "held"),
		"1 while a trading round holds the lock",
		nil, nil)
)

// stateCollector reads component snapshots at scrape time.
type stateCollector struct {
	limiters LimiterSource
	breaker  BreakerSource
	lock     LockSource
}

func newStateCollector(limiters LimiterSource, breaker BreakerSource, lock LockSource) *stateCollector {
	return &stateCollector{limiters: limiters, breaker: breaker, lock: lock}
}

func (c *stateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- limiterTokensDesc
	ch <- limiterMaxTokensDesc
	ch <- limiterQueueDesc
	ch <- limiterRequestsDesc
	ch <- limiterHitsDesc
	ch <- limiterAvgWaitDesc
	ch <- breakerActivationsDesc
	ch <- breakerTradesDesc
	ch <- lockHeldDesc
}

func (c *stateCollector) Collect(ch chan<- prometheus.Metric) {
	if c.limiters != nil {
		for _, m := range c.limiters.ListAllMetrics() {
			ch <- prometheus.MustNewConstMetric(limiterTokensDesc, prometheus.GaugeValue, float64(m.CurrentTokens), m.Name)
			ch <- prometheus.MustNewConstMetric(limiterMaxTokensDesc, prometheus.GaugeValue, float64(m.MaxTokens), m.Name)
			ch <- prometheus.MustNewConstMetric(limiterQueueDesc, prometheus.GaugeValue, float64(m.QueueLength), m.Name)
			ch <- prometheus.MustNewConstMetric(limiterRequestsDesc, prometheus.CounterValue, float64(m.TotalRequests), m.Name)
			ch <- prometheus.MustNewConstMetric(limiterHitsDesc, prometheus.CounterValue, float64(m.RateLimitHits), m.Name)
			ch <- prometheus.MustNewConstMetric(limiterAvgWaitDesc, prometheus.GaugeValue, m.AverageWait.Seconds(), m.Name)
		}
	}
	if c.breaker != nil {
		st := c.breaker.Status()
		ch <- prometheus.MustNewConstMetric(breakerActivationsDesc, prometheus.GaugeValue, float64(st.TotalActivations))
		for agent, as := range st.Agents {
			ch <- prometheus.MustNewConstMetric(breakerTradesDesc, prometheus.GaugeValue, float64(as.TradesToday), agent)
		}
	}
	if c.lock != nil {
		held := 0.0
		if c.lock.Status().Locked {
			held = 1
		}
		ch <- prometheus.MustNewConstMetric(lockHeldDesc, prometheus.GaugeValue, held)
	}
}
