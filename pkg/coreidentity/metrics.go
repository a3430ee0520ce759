package coreidentity

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coreidentity_client",
			Name:      "requests_total",
			Help:      "API requests issued, by operation and response code.",
		},
		[]string{"operation", "code"},
	)

	taskPollsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "coreidentity_client",
			Name:      "task_polls_total",
			Help:      "Status polls performed while waiting for tasks.",
		},
	)

	waitTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "coreidentity_client",
			Name:      "wait_timeouts_total",
			Help:      "Waits that gave up before the task reached a terminal status.",
		},
	)
)
