package persist

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const opLabel = "op"

var persistDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "octree_persist_duration_seconds",
	Help: "The time to save or load a tree snapshot.",
}, []string{opLabel})

func instrumentPersist(op string, start time.Time) {
	persistDuration.
		With(prometheus.Labels{opLabel: op}).
		Observe(time.Since(start).Seconds())
}
