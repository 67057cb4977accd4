package observability

import "github.com/prometheus/client_golang/prometheus"

// Domain counters for the auto-response pipeline. Label sets are bounded:
// platform and reason take values from small fixed sets.
var (
	RulesSeeded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autoresponse_rules_seeded_total",
			Help: "Default rules synthesized from the template catalog.",
		},
	)

	ResponsesFired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoresponse_fired_total",
			Help: "Automated responses sent, by platform.",
		},
		[]string{"platform"},
	)

	ResponsesBlocked = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoresponse_blocked_total",
			Help: "Matched rules suppressed by their conditions, by reason.",
		},
		[]string{"reason"},
	)

	DashboardCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dashboard_cache_requests_total",
			Help: "Dashboard stats cache lookups, by result (hit, miss, error).",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(RulesSeeded, ResponsesFired, ResponsesBlocked, DashboardCache)
}
