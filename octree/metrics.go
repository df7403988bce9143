package octree

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	reasonLabel = "reason"
	typeLabel   = "type"
	opLabel     = "op"
)

var (
	elementsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "octree_elements",
		Help: "The number of elements in the octree.",
	})

	encodeBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "octree_encode_bytes_total",
		Help: "The number of bitstream bytes encoded.",
	})

	encodeStops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "octree_encode_stops_total",
		Help: "The number of encode passes by last stop reason.",
	}, []string{reasonLabel})

	decodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "octree_decode_errors_total",
		Help: "The number of bitstreams that failed to decode.",
	}, []string{typeLabel})

	edits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "octree_edits_total",
		Help: "The number of voxel edits applied.",
	}, []string{opLabel})
)

func instrumentElements(n int64) {
	elementsGauge.Set(float64(n))
}

func instrumentEncode(bytes int, reason StopReason) {
	encodeBytes.Add(float64(bytes))
	encodeStops.
		With(prometheus.Labels{reasonLabel: reason.String()}).
		Inc()
}

func instrumentDecode(err error) {
	if err == nil {
		return
	}
	decodeErrors.
		With(prometheus.Labels{typeLabel: errors.Type(err)}).
		Inc()
}

func instrumentEdits(op string, n int) {
	edits.
		With(prometheus.Labels{opLabel: op}).
		Add(float64(n))
}
