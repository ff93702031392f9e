// Package metrics exports runtime counters in the Prometheus format.
//
// A Metrics value is an Observer for the protocol dispatcher and carries
// request counters fed by the Requests middleware. Collectors such as
// pool.Collector are added with Register.
//
//	m := metrics.New("polyd")
//	d := protocol.NewDispatcher(reg, app, protocol.WithObserver(m))
//	_ = m.Register(pool.NewCollector(p, "polyd", nil))
//	http.Handle("/metrics", m.Handler())
//
// # Metric names
//
//   - polyd_connections_total{protocol}: connections handed to a protocol
//   - polyd_active_connections: connections being served
//   - polyd_connection_errors_total{protocol,kind}: connections ended by an error
//   - polyd_detect_failures_total: connections no protocol recognized
//   - polyd_protocol_switches_total{from,to}: in-place protocol switches
//   - polyd_requests_total{protocol,status}: requests run through a chain
//   - polyd_request_duration_seconds{protocol}: chain run latency
package metrics
