package models

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	querySessionCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "octree_query_sessions",
		Help: "The number of clients receiving octree data.",
	})

	querySessionCountTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "octree_query_sessions_total",
		Help: "The total number of clients that received octree data.",
	})
)

func instrumentIncreaseSessionGauge() {
	querySessionCount.Inc()
}

func instrumentDecreaseSessionGauge() {
	querySessionCount.Dec()
}

func instrumentCountSession() {
	querySessionCountTotal.Inc()
}
