/*
Package observability turns engine lifecycle hooks into Prometheus metrics
and structured log lines.

Both are plain domain.LifecycleHooks values and can be combined:

	metrics, err := observability.NewMetrics(prometheus.DefaultRegisterer)
	hooks := metrics.Hooks().Combine(observability.LogHooks(logger))
	eng, err := fantasm.New(g, fantasm.WithLifecycleHooks(hooks))
*/
package observability
