package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// blockedRequests counts requests denied per stage.
	blockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_blocked_total",
			Help: "Total number of requests denied by a security stage",
		},
		[]string{"stage"},
	)

	// stageFaults counts unexpected faults recovered at a stage boundary.
	stageFaults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_stage_faults_total",
			Help: "Total number of unexpected stage faults converted to server errors",
		},
		[]string{"stage"},
	)

	// requestOutcomes counts finished requests by audit outcome.
	requestOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total number of requests processed by the security pipeline",
		},
		[]string{"outcome"},
	)
)
